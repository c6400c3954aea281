package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/harun/panbeh/internal/tracing"
	"github.com/harun/panbeh/pkg/agent"
	"github.com/harun/panbeh/pkg/session"
)

type openRequest struct {
	ClientID string `json:"client_id"`
	Username string `json:"username,omitempty"`
}

type sendRequest struct {
	Text string `json:"text"`
}

type sessionView struct {
	SessionID string          `json:"session_id"`
	Identity  agent.Identity  `json:"identity"`
	Busy      bool            `json:"busy"`
	Created   bool            `json:"created,omitempty"`
	Messages  []agent.Message `json:"messages"`
}

func viewOf(s *agent.Session, messages []agent.Message) sessionView {
	if messages == nil {
		messages = []agent.Message{}
	}
	return sessionView{
		SessionID: s.ID(),
		Identity:  s.Identity(),
		Busy:      s.IsBusy(),
		Messages:  messages,
	}
}

func (s *Server) registerChatRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/chat/sessions", s.rateLimit(s.handleOpen))
	mux.Handle("GET /api/chat/sessions/{id}/messages", s.rateLimit(s.handleMessages))
	mux.Handle("POST /api/chat/sessions/{id}/messages", s.rateLimit(s.handleSend))
	mux.Handle("DELETE /api/chat/sessions/{id}", s.rateLimit(s.handleClose))
	mux.Handle("GET /api/chat/sessions/{id}/stream", s.rateLimit(s.handleStream))
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "client_id is required", "")
		return
	}

	identity := agent.Identity{Username: strings.TrimSpace(req.Username)}
	sess, created, err := s.sessions.Open(r.Context(), req.ClientID, identity)
	if err != nil {
		logger := tracing.LoggerFromContext(r.Context(), s.logger)
		logger.Error().Err(err).Msg("Failed to open session")
		writeError(w, http.StatusInternalServerError, "failed to open session", internalSummary)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		// the greeting outlives the request so a closed tab still gets it
		if _, err := sess.Greet(context.WithoutCancel(r.Context())); err != nil && !errors.Is(err, agent.ErrBusy) {
			s.logger.Warn().Err(err).Str("session_id", sess.ID()).Msg("Greeting failed")
		}
	}

	view := viewOf(sess, sess.Messages())
	view.Created = created
	writeJSON(w, status, view)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*agent.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, session.ErrSessionNotFound.Error(), "")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess, sess.Messages()))
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	appended, err := sess.Send(context.WithoutCancel(r.Context()), req.Text)
	switch {
	case errors.Is(err, agent.ErrBusy):
		writeError(w, http.StatusConflict, err.Error(), "لطفاً صبر کن تا جواب پیام قبلی آماده بشه.")
		return
	case errors.Is(err, agent.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error(), internalSummary)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(sess, appended))
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
