package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/panbeh/internal/config"
	"github.com/harun/panbeh/internal/observability"
	"github.com/harun/panbeh/pkg/agent"
	"github.com/harun/panbeh/pkg/panel"
	"github.com/rs/zerolog"
)

// SessionStore is the part of the session manager the gateway uses.
type SessionStore interface {
	Open(ctx context.Context, clientID string, identity agent.Identity) (*agent.Session, bool, error)
	Get(id string) (*agent.Session, error)
	Close(id string) error
	Count() int
}

// Config wires a Server.
type Config struct {
	Gateway  config.GatewayConfig
	Panel    PanelExecutor
	Tokens   panel.TokenSource
	Sessions SessionStore
	// ContentURL is the upstream of /api/content. Empty disables it.
	ContentURL string
	Logger     zerolog.Logger
}

// Server is the HTTP surface in front of the panel and the assistant.
type Server struct {
	cfg            config.GatewayConfig
	panel          PanelExecutor
	tokens         panel.TokenSource
	sessions       SessionStore
	limiter        *RateLimiter
	allowedOrigins []string
	upgrader       websocket.Upgrader
	handler        http.Handler
	logger         zerolog.Logger
	startTime      time.Time

	server       *http.Server
	shutdownMu   sync.RWMutex
	shuttingDown bool
	inFlight     sync.WaitGroup
}

// NewServer validates cfg and builds the routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Panel == nil {
		return nil, fmt.Errorf("panel client is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}

	observability.EnsureRegistered()

	s := &Server{
		cfg:            cfg.Gateway,
		panel:          cfg.Panel,
		tokens:         cfg.Tokens,
		sessions:       cfg.Sessions,
		limiter:        NewRateLimiter(cfg.Gateway.RateLimitPerMinute),
		allowedOrigins: cfg.Gateway.AllowedOrigins,
		logger:         cfg.Logger.With().Str("component", "gateway").Logger(),
		startTime:      time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	content, err := s.newContentProxy(cfg.ContentURL)
	if err != nil {
		s.limiter.Stop()
		return nil, err
	}

	mux := http.NewServeMux()
	s.registerPanelRoutes(mux)
	s.registerChatRoutes(mux)
	mux.Handle(contentPrefix+"/", content)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.handler = s.instrument(s.cors(mux))
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"uptime":   time.Since(s.startTime).Seconds(),
		"sessions": s.sessions.Count(),
	})
}

func (s *Server) isShuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.shuttingDown
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.shutdownMu.Lock()
	if s.shuttingDown {
		s.shutdownMu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.shutdownMu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Gateway listening")

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ln)
}

// Shutdown refuses new requests, waits for in-flight ones until ctx
// ends, then closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.shuttingDown = true
	srv := s.server
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway")
	s.limiter.Stop()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown gateway: %w", err)
	}

	s.logger.Info().Msg("Gateway stopped")
	return nil
}
