package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/harun/panbeh/internal/observability"
	"github.com/harun/panbeh/internal/tracing"
	"github.com/harun/panbeh/pkg/panel"
)

const (
	authFailureDetail  = "Could not authenticate with the Marzban service."
	authFailureSummary = "سرویس پنل در حال حاضر در دسترس نیست. لطفاً بعدا تلاش کنید."
	internalSummary    = "یک خطای داخلی در سرور رخ داد."

	maxBodyBytes = 1 << 20
)

// PanelExecutor runs panel operations.
type PanelExecutor interface {
	Execute(ctx context.Context, op panel.Operation) (*panel.Response, error)
}

func (s *Server) registerPanelRoutes(mux *http.ServeMux) {
	routes := []struct {
		pattern  string
		mutating bool
		op       func(r *http.Request, body interface{}) panel.Operation
	}{
		{"GET /api/marzban/user/{username}", false, func(r *http.Request, _ interface{}) panel.Operation {
			return panel.GetUser(r.PathValue("username"))
		}},
		{"GET /api/marzban/sub-info/{token}", false, func(r *http.Request, _ interface{}) panel.Operation {
			return panel.SubscriptionInfo(r.PathValue("token"))
		}},
		{"POST /api/marzban/user", true, func(_ *http.Request, body interface{}) panel.Operation {
			return panel.CreateUser(body)
		}},
		{"PUT /api/marzban/user/{username}", true, func(r *http.Request, body interface{}) panel.Operation {
			return panel.ModifyUser(r.PathValue("username"), body)
		}},
		{"POST /api/marzban/user/{username}/reset", true, func(r *http.Request, _ interface{}) panel.Operation {
			return panel.ResetUserTraffic(r.PathValue("username"))
		}},
		{"POST /api/marzban/user/{username}/revoke_sub", true, func(r *http.Request, _ interface{}) panel.Operation {
			return panel.RevokeSubscription(r.PathValue("username"))
		}},
	}

	for _, route := range routes {
		route := route
		mux.Handle(route.pattern, s.panelAuth(func(w http.ResponseWriter, r *http.Request) {
			body, err := readBody(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error(), "")
				return
			}
			s.proxyPanel(w, r, route.op(r, body), route.mutating)
		}))
	}
}

// panelAuth acquires a panel token before the handler runs and puts it
// on the request context.
func (s *Server) panelAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := s.tokens.Token(r.Context())
		if err != nil {
			logger := tracing.LoggerFromContext(r.Context(), s.logger)
			logger.Error().
				Err(err).
				Str("path", r.URL.Path).
				Msg("Could not acquire panel token")
			writeError(w, http.StatusServiceUnavailable, authFailureDetail, authFailureSummary)
			return
		}
		next(w, r.WithContext(panel.WithToken(r.Context(), token)))
	}
}

// readBody returns the JSON request body, or nil when there is none.
func readBody(r *http.Request) (interface{}, error) {
	if r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("request body is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func (s *Server) proxyPanel(w http.ResponseWriter, r *http.Request, op panel.Operation, mutating bool) {
	ctx := r.Context()
	resp, err := s.panel.Execute(ctx, op)

	if mutating {
		status := "success"
		if err != nil {
			status = "failure"
		}
		actor := r.PathValue("username")
		if actor == "" {
			actor = "dashboard"
		}
		observability.RecordPanelAudit(ctx, op.Name, actor, status, map[string]interface{}{
			"path": r.URL.Path,
		})
	}

	if err == nil {
		writeRaw(w, resp.Status, resp.Body)
		return
	}

	var (
		authErr  *panel.AuthError
		upstream *panel.UpstreamError
	)
	switch {
	case errors.As(err, &authErr):
		writeError(w, http.StatusServiceUnavailable, authFailureDetail, authFailureSummary)
	case errors.As(err, &upstream):
		writeJSON(w, upstream.Status, upstream)
	default:
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Error().
			Err(err).
			Str("operation", op.Name).
			Msg("Panel proxy failed")
		writeError(w, http.StatusInternalServerError, panel.TransportDetail, internalSummary)
	}
}
