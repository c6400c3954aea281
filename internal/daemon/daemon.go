package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/panbeh/internal/config"
	"github.com/harun/panbeh/internal/logger"
	"github.com/harun/panbeh/internal/observability"
	"github.com/harun/panbeh/internal/tracing"
	"github.com/harun/panbeh/pkg/agent"
	"github.com/harun/panbeh/pkg/gateway"
	"github.com/harun/panbeh/pkg/panel"
	"github.com/harun/panbeh/pkg/session"
	"github.com/harun/panbeh/pkg/tools"
	"github.com/rs/zerolog"
)

// Daemon owns every long-lived component of the assistant process.
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	log    zerolog.Logger

	tokens   *panel.TokenCache
	panel    *panel.Client
	catalog  *tools.Catalog
	registry *tools.Registry
	provider agent.LLMProvider
	sessions *session.Manager
	sweeper  *session.Sweeper
	gateway  *gateway.Server

	lifecycle *LifecycleManager

	listener net.Listener
	serveErr chan error
	wg       sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status is a snapshot of the daemon state.
type Status struct {
	Running   bool
	StartTime time.Time
	Uptime    time.Duration
	Sessions  int
	Addr      string
}

var newProvider = func(ctx context.Context, name, apiKey string) (agent.LLMProvider, error) {
	return agent.NewProvider(ctx, name, apiKey)
}

// New builds the daemon from cfg. Nothing listens until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	d := &Daemon{
		config:   cfg,
		logger:   log,
		log:      log.Component("daemon"),
		serveErr: make(chan error, 1),
	}

	observability.EnsureRegistered()
	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(tracing.Config{
			ServiceName:  cfg.Tracing.ServiceName,
			Endpoint:     cfg.Tracing.Endpoint,
			Insecure:     cfg.Tracing.Insecure,
			SamplingRate: cfg.Tracing.SamplingRate,
		}); err != nil {
			d.log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			d.log.Info().Str("endpoint", cfg.Tracing.Endpoint).Msg("Tracing initialized")
		}
	}

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			d.log.Warn().Err(err).Str("path", cfg.Logging.AuditFile).Msg("Failed to open audit log, auditing to stderr")
		}
	}

	if err := d.initializePanel(); err != nil {
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize panel client: %w", err)
	}
	if err := d.initializeAssistant(); err != nil {
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize assistant: %w", err)
	}
	if err := d.initializeGateway(); err != nil {
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize gateway: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

func (d *Daemon) initializePanel() error {
	cfg := d.config.Panel
	zl := d.logger.Zerolog()

	exchanger := panel.NewPasswordExchanger(cfg.BaseURL, cfg.Username, cfg.Password, nil)
	tokens, err := panel.NewTokenCache(exchanger,
		panel.WithTokenTTL(cfg.TokenTTL()),
		panel.WithSafetyMargin(cfg.SafetyMargin()),
		panel.WithTokenLogger(zl),
	)
	if err != nil {
		return err
	}

	client, err := panel.NewClient(cfg.BaseURL, tokens,
		panel.WithRequestTimeout(cfg.RequestTimeout()),
		panel.WithClientLogger(zl),
	)
	if err != nil {
		return err
	}

	d.tokens = tokens
	d.panel = client
	return nil
}

func (d *Daemon) initializeAssistant() error {
	zl := d.logger.Zerolog()

	catalog, err := tools.NewCatalog(d.config.Catalog, zl)
	if err != nil {
		return err
	}
	registry, err := tools.NewDefaultRegistry(d.panel, catalog, tools.AccountOptions{
		Proxies: d.config.Panel.DefaultProxies,
	}, zl)
	if err != nil {
		return err
	}
	identified, guest, err := tools.Manifests(registry)
	if err != nil {
		return err
	}

	provider, err := newProvider(context.Background(), d.config.AI.Provider, d.config.AI.APIKey)
	if err != nil {
		return err
	}

	factory, err := agent.NewSessionFactory(agent.FactoryConfig{
		Provider:   provider,
		Identified: identified,
		Guest:      guest,
		AI:         d.config.AI,
		Logger:     zl,
	})
	if err != nil {
		return err
	}

	sessions, err := session.NewManager(factory, d.config.Session.IdleTimeout(), zl)
	if err != nil {
		return err
	}
	sweeper, err := session.NewSweeper(sessions, d.config.Session.SweepSchedule, zl)
	if err != nil {
		return err
	}

	d.catalog = catalog
	d.registry = registry
	d.provider = provider
	d.sessions = sessions
	d.sweeper = sweeper

	d.log.Info().
		Str("provider", provider.Provider()).
		Str("model", d.config.AI.Model).
		Strs("identified_tools", identified.Names()).
		Strs("guest_tools", guest.Names()).
		Msg("Assistant initialized")
	return nil
}

func (d *Daemon) initializeGateway() error {
	server, err := gateway.NewServer(gateway.Config{
		Gateway:    d.config.Gateway,
		Panel:      d.panel,
		Tokens:     d.tokens,
		Sessions:   d.sessions,
		ContentURL: d.config.Content.BaseURL,
		Logger:     d.logger.Zerolog(),
	})
	if err != nil {
		return err
	}
	d.gateway = server
	return nil
}

// Start writes the PID file, binds the gateway and starts the idle sweeper.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	log := d.log.With().Str("trace_id", traceID).Logger()
	log.Info().Msg("Starting panbeh daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	ln, err := net.Listen("tcp", d.config.Gateway.Addr())
	if err != nil {
		_ = d.lifecycle.Stop()
		return fmt.Errorf("failed to listen on %s: %w", d.config.Gateway.Addr(), err)
	}

	if err := d.sweeper.Start(); err != nil {
		_ = ln.Close()
		_ = d.lifecycle.Stop()
		return fmt.Errorf("failed to start session sweeper: %w", err)
	}

	d.mu.Lock()
	d.listener = ln
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.gateway.Serve(ln); err != nil {
			log.Error().Err(err).Msg("Gateway stopped unexpectedly")
			d.serveErr <- err
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("Daemon started")
	return nil
}

// Stop drains the gateway, stops the sweeper and releases the PID file.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	log := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Stopping panbeh daemon")

	timeout := time.Duration(d.config.Gateway.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := d.gateway.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to stop gateway")
		errs = append(errs, err)
	}
	if err := d.sweeper.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to stop session sweeper")
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("Timeout waiting for gateway goroutine")
	}

	if err := d.lifecycle.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.shutdownTracing()

	if err := observability.GetAuditLogger().Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close audit logger")
	}

	log.Info().Msg("Daemon stopped")
	return errors.Join(errs...)
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		d.log.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}

// Status returns the daemon status.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running, Sessions: d.sessions.Count()}
	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
		status.Addr = d.listener.Addr().String()
	}
	return status
}

// Wait blocks until SIGINT, SIGTERM or a gateway failure, then stops the daemon.
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case sig := <-sigChan:
		d.log.Info().Str("signal", sig.String()).Msg("Received signal")
	case serveErr = <-d.serveErr:
	}

	if err := d.Stop(); err != nil {
		d.log.Error().Err(err).Msg("Failed to stop daemon")
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

// Addr returns the address the gateway is bound to, or "" before Start.
func (d *Daemon) Addr() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// GetConfig returns the daemon configuration.
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetSessionManager returns the session manager.
func (d *Daemon) GetSessionManager() *session.Manager {
	return d.sessions
}

// GetPanelClient returns the upstream panel client.
func (d *Daemon) GetPanelClient() *panel.Client {
	return d.panel
}

// GetTokenCache returns the upstream token cache.
func (d *Daemon) GetTokenCache() *panel.TokenCache {
	return d.tokens
}

// GetCatalog returns the local server catalog.
func (d *Daemon) GetCatalog() *tools.Catalog {
	return d.catalog
}
