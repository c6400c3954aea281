package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepSchedule runs the idle sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

// Sweeper runs Manager.SweepIdle on a cron schedule.
type Sweeper struct {
	manager  *Manager
	schedule string
	cron     *cron.Cron
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewSweeper validates schedule and prepares a sweeper.
func NewSweeper(manager *Manager, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	if manager == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	s := &Sweeper{
		manager:  manager,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With().Str("component", "session_sweeper").Logger(),
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) run() {
	dropped := s.manager.SweepIdle()
	s.logger.Debug().Int("dropped", dropped).Msg("Sweep finished")
}

// Start begins sweeping.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper is already running")
	}
	s.cron.Start()
	s.running = true
	s.logger.Info().Str("schedule", s.schedule).Msg("Session sweeper started")
	return nil
}

// Stop halts sweeping and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is not running")
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info().Msg("Session sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the sweeper is started.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SweepNow runs one sweep immediately.
func (s *Sweeper) SweepNow() int {
	return s.manager.SweepIdle()
}
