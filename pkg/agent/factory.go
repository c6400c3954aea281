package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harun/panbeh/internal/config"
	"github.com/harun/panbeh/pkg/tools"
	"github.com/rs/zerolog"
)

// Toolbox is a tool manifest a session can declare and dispatch.
type Toolbox interface {
	Dispatcher
	Specs() []tools.Spec
	Audience() tools.Audience
}

// FactoryConfig wires a SessionFactory.
type FactoryConfig struct {
	Provider   LLMProvider
	Identified Toolbox
	Guest      Toolbox
	AI         config.AIConfig
	Logger     zerolog.Logger
	Now        func() time.Time
}

// SessionFactory creates sessions bound to the right instruction and manifest.
type SessionFactory struct {
	provider   LLMProvider
	identified Toolbox
	guest      Toolbox
	ai         config.AIConfig
	logger     zerolog.Logger
	now        func() time.Time
}

// NewSessionFactory validates cfg and returns a factory.
func NewSessionFactory(cfg FactoryConfig) (*SessionFactory, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Identified == nil || cfg.Guest == nil {
		return nil, fmt.Errorf("both tool manifests are required")
	}
	if a := cfg.Identified.Audience(); a != tools.AudienceIdentified {
		return nil, fmt.Errorf("identified manifest was built for the %s audience", a)
	}
	if a := cfg.Guest.Audience(); a != tools.AudienceGuest {
		return nil, fmt.Errorf("guest manifest was built for the %s audience", a)
	}
	return &SessionFactory{
		provider:   cfg.Provider,
		identified: cfg.Identified,
		guest:      cfg.Guest,
		ai:         cfg.AI,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}, nil
}

// NewSession starts a session for identity. Guests get the guest
// instruction and manifest.
func (f *SessionFactory) NewSession(ctx context.Context, identity Identity) (*Session, error) {
	box, system := f.identified, IdentifiedInstruction
	if identity.Guest() {
		box, system = f.guest, GuestInstruction
	}

	conv := NewConversation(f.provider, ConversationConfig{
		Model:       f.ai.Model,
		System:      system,
		Tools:       box.Specs(),
		Temperature: f.ai.Temperature,
		MaxTokens:   f.ai.MaxTokens,
		Timeout:     f.ai.Timeout(),
	}, f.logger)

	session, err := NewSession(SessionConfig{
		ID:            uuid.NewString(),
		Identity:      identity,
		Conversation:  conv,
		Tools:         box,
		Provider:      f.provider.Provider(),
		MaxToolRounds: f.ai.MaxToolRounds,
		Logger:        f.logger,
		Now:           f.now,
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info().
		Str("session_id", session.ID()).
		Str("identity", identity.String()).
		Str("audience", string(box.Audience())).
		Msg("Session created")
	return session, nil
}
