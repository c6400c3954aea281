package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/panbeh/internal/observability"
	"github.com/harun/panbeh/internal/tracing"
	"github.com/harun/panbeh/pkg/tools"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrBusy is returned when a turn is already in flight.
	ErrBusy = errors.New("session is busy")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")
)

// DefaultMaxToolRounds bounds engine round trips within one turn.
const DefaultMaxToolRounds = 8

const subscriberBuffer = 32

// Turn outcomes reported to metrics.
const (
	OutcomeAnswered    = "answered"
	OutcomeToolFailed  = "tool_failed"
	OutcomeEngineError = "engine_error"
)

// Dispatcher runs tool calls for a session.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args map[string]interface{}) tools.Result
}

// SessionConfig wires one session.
type SessionConfig struct {
	ID            string
	Identity      Identity
	Conversation  Conversation
	Tools         Dispatcher
	Provider      string
	MaxToolRounds int
	Logger        zerolog.Logger
	Now           func() time.Time
}

// Session is one chat: a transcript, an engine conversation and the
// tools it may call. At most one turn runs at a time.
type Session struct {
	id        string
	identity  Identity
	conv      Conversation
	tools     Dispatcher
	provider  string
	maxRounds int
	logger    zerolog.Logger
	now       func() time.Time

	busy       atomic.Bool
	greeted    atomic.Bool
	nextID     atomic.Int64
	lastActive atomic.Int64

	mu       sync.RWMutex
	messages []Message

	subMu   sync.Mutex
	subs    map[int]chan Message
	nextSub int
}

// NewSession creates a session from cfg.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Conversation == nil {
		return nil, fmt.Errorf("conversation is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool dispatcher is required")
	}
	if cfg.ID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Session{
		id:        cfg.ID,
		identity:  cfg.Identity,
		conv:      cfg.Conversation,
		tools:     cfg.Tools,
		provider:  cfg.Provider,
		maxRounds: cfg.MaxToolRounds,
		now:       cfg.Now,
		subs:      make(map[int]chan Message),
		logger: cfg.Logger.With().
			Str("component", "session").
			Str("session_id", cfg.ID).
			Str("identity", cfg.Identity.String()).
			Logger(),
	}
	s.touch()
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Identity returns who the session talks to.
func (s *Session) Identity() Identity { return s.identity }

// IsBusy reports whether a turn is in flight.
func (s *Session) IsBusy() bool { return s.busy.Load() }

// LastActive is the time of the last message or turn.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(s.now().UnixNano())
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Subscribe streams every appended message and typing indicator. The
// returned func unsubscribes. Slow subscribers miss messages rather than
// blocking the turn.
func (s *Session) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, subscriberBuffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Session) publish(msg Message) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- msg:
		default:
			s.logger.Warn().Int("subscriber", id).Int64("message_id", msg.ID).Msg("Subscriber is full, dropping message")
		}
	}
}

func (s *Session) appendText(author Author, text string) Message {
	return s.append(Message{Kind: KindText, Author: author, Content: text})
}

func (s *Session) appendCard(res tools.Result) Message {
	return s.append(Message{
		Kind:     KindCard,
		Author:   AuthorAgent,
		Content:  res.Summary,
		CardType: string(res.Type),
		Payload:  res.Payload,
	})
}

func (s *Session) append(msg Message) Message {
	msg.ID = s.nextID.Add(1)
	msg.CreatedAt = s.now()

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.touch()
	s.publish(msg)
	return msg
}

func (s *Session) typing(on bool) {
	s.publish(Message{Kind: KindTyping, Author: AuthorAgent, Typing: on, CreatedAt: s.now()})
}

// Send records a user message and runs one turn. It returns the
// messages the turn appended, the user's own message first.
func (s *Session) Send(ctx context.Context, text string) ([]Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.busy.Store(false)

	out := []Message{s.appendText(AuthorUser, text)}

	outgoing := text
	if !s.identity.Guest() {
		outgoing = identifiedPrefix(s.identity.Username) + text
	}
	return append(out, s.runTurn(ctx, outgoing)...), nil
}

// Greet opens the session. Guests get a fixed welcome; identified users
// get an engine-generated greeting. Only the first call does anything.
func (s *Session) Greet(ctx context.Context) ([]Message, error) {
	if s.greeted.Load() {
		return nil, nil
	}
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.busy.Store(false)

	if !s.greeted.CompareAndSwap(false, true) {
		return nil, nil
	}

	if s.identity.Guest() {
		return []Message{s.appendText(AuthorAgent, GuestWelcome)}, nil
	}
	return s.runTurn(ctx, GreetingTrigger), nil
}

// runTurn drives the engine until it answers in text, a tool fails, or
// the round bound is hit. Tool calls run one at a time in engine order.
func (s *Session) runTurn(ctx context.Context, text string) []Message {
	ctx = tracing.NewTurnContext(ctx, s.id)
	if !s.identity.Guest() {
		ctx = tracing.WithActor(ctx, s.identity.Username)
	}
	ctx, span := tracing.StartSpan(ctx, "panbeh.agent", "session.turn",
		attribute.String("session.id", s.id),
		attribute.Bool("session.guest", s.identity.Guest()),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := time.Now()
	outcome := OutcomeAnswered
	var out []Message

	s.typing(true)
	defer func() {
		s.typing(false)
		span.SetAttributes(attribute.String("turn.outcome", outcome))
		observability.RecordAgentTurn(s.provider, outcome, time.Since(start))
		logger.Debug().Str("outcome", outcome).Int("messages", len(out)).Dur("duration", time.Since(start)).Msg("Turn finished")
	}()

	reply, err := s.conv.SendText(ctx, text)
	for round := 0; err == nil; round++ {
		if len(reply.ToolCalls) == 0 {
			if answer := strings.TrimSpace(reply.Text); answer != "" {
				out = append(out, s.appendText(AuthorAgent, answer))
			}
			return out
		}
		if round >= s.maxRounds {
			err = fmt.Errorf("engine requested more than %d tool rounds", s.maxRounds)
			break
		}

		responses := make([]ToolResponse, 0, len(reply.ToolCalls))
		for _, call := range reply.ToolCalls {
			res := s.tools.Dispatch(ctx, call.Name, call.Parameters)
			if !res.OK {
				summary := res.Summary
				if summary == "" {
					summary = toolFailureFallback(call.Name)
				}
				logger.Warn().Str("tool", call.Name).Str("detail", res.Detail).Msg("Tool failed, ending turn")
				outcome = OutcomeToolFailed
				out = append(out, s.appendText(AuthorAgent, summary))
				return out
			}
			if res.Renderable() {
				out = append(out, s.appendCard(res))
			}
			responses = append(responses, ToolResponse{Call: call, Result: res})
		}

		reply, err = s.conv.SendToolResults(ctx, responses)
	}

	logger.Error().Err(err).Msg("Turn aborted by engine error")
	span.RecordError(err)
	outcome = OutcomeEngineError
	out = append(out, s.appendText(AuthorAgent, apology(err)))
	return out
}
