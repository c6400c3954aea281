package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/harun/panbeh/internal/observability"
	"github.com/harun/panbeh/internal/tracing"
)

// rateLimit applies the per-IP limiter.
func (s *Server) rateLimit(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiter.Allow(ip) {
			retryAfter := s.limiter.RetryAfter(ip)
			s.logger.Warn().
				Str("ip", ip).
				Str("path", r.URL.Path).
				Int("retry_after", retryAfter).
				Msg("Rate limit exceeded")
			observability.RecordRateLimited(r.Pattern)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "")
			return
		}
		next(w, r)
	})
}

// cors answers preflight requests and sets headers for allowed origins.
// "*" in the allow-list admits any origin.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Trace-Id")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// instrument adds a trace id, recovers panics, and records the outcome.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get("X-Trace-Id")
		if traceID == "" {
			traceID = tracing.NewTraceID()
		}
		ctx := tracing.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-Id", traceID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(ctx)
		logger := tracing.LoggerFromContext(ctx, s.logger)

		defer func() {
			if p := recover(); p != nil {
				logger.Error().Interface("panic", p).Str("path", r.URL.Path).Msg("Handler panicked")
				writeError(rec, http.StatusInternalServerError, "An internal server error occurred.", internalSummary)
			}

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			observability.RecordGatewayRequest(route, rec.status)
			logger.Debug().
				Str("method", r.Method).
				Str("route", route).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("Request handled")
		}()

		if s.isShuttingDown() {
			writeError(rec, http.StatusServiceUnavailable, "Server is shutting down", "")
			return
		}

		s.inFlight.Add(1)
		defer s.inFlight.Done()

		next.ServeHTTP(rec, r)
	})
}
