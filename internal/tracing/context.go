package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TurnIDKey is the context key for one agent turn
	TurnIDKey ContextKey = "turn_id"
	// SessionIDKey is the context key for the assistant session
	SessionIDKey ContextKey = "session_id"
	// ActorKey is the context key for the panel username acting, empty for guests
	ActorKey ContextKey = "actor"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	TurnID    string
	SessionID string
	Actor     string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewTurnID generates a new turn ID
func NewTurnID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTurnID adds a turn ID to the context
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithActor adds the acting username to the context
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetTurnID retrieves the turn ID from the context
func GetTurnID(ctx context.Context) string {
	return stringValue(ctx, TurnIDKey)
}

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string {
	return stringValue(ctx, SessionIDKey)
}

// GetActor retrieves the acting username from the context
func GetActor(ctx context.Context) string {
	return stringValue(ctx, ActorKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		TurnID:    GetTurnID(ctx),
		SessionID: GetSessionID(ctx),
		Actor:     GetActor(ctx),
	}
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewTurnContext starts a turn inside a session, keeping any existing trace ID
func NewTurnContext(ctx context.Context, sessionID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithSessionID(ctx, sessionID)
	return WithTurnID(ctx, NewTurnID())
}

// LoggerFromContext adds the tracing fields found on ctx to baseLogger
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	logCtx := baseLogger.With()

	if tc.TraceID != "" {
		logCtx = logCtx.Str("trace_id", tc.TraceID)
	}
	if tc.SessionID != "" {
		logCtx = logCtx.Str("session_id", tc.SessionID)
	}
	if tc.TurnID != "" {
		logCtx = logCtx.Str("turn_id", tc.TurnID)
	}
	if tc.Actor != "" {
		logCtx = logCtx.Str("actor", tc.Actor)
	}

	return logCtx.Logger()
}
