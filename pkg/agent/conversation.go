package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/harun/panbeh/internal/observability"
	"github.com/harun/panbeh/internal/tracing"
	"github.com/harun/panbeh/pkg/tools"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Reply is one engine answer: either final text or tool calls to run.
type Reply struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolResponse pairs a tool call with its result.
type ToolResponse struct {
	Call   ToolCall
	Result tools.Result
}

// Conversation is an engine chat bound to one system instruction and
// one tool manifest. It owns the history.
type Conversation interface {
	SendText(ctx context.Context, text string) (*Reply, error)
	SendToolResults(ctx context.Context, responses []ToolResponse) (*Reply, error)
}

// ConversationConfig configures a provider-backed conversation.
type ConversationConfig struct {
	Model       string
	System      string
	Tools       []tools.Spec
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// providerConversation keeps the history for an LLMProvider. Tool calls
// left unanswered when a turn ends early are closed with a skipped
// result before the next user message, so the history stays well formed.
type providerConversation struct {
	provider LLMProvider
	cfg      ConversationConfig
	logger   zerolog.Logger

	mu      sync.Mutex
	history []AgentMessage
	pending []ToolCall
}

// NewConversation starts an empty conversation on provider.
func NewConversation(provider LLMProvider, cfg ConversationConfig, logger zerolog.Logger) Conversation {
	return &providerConversation{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With().Str("component", "conversation").Str("provider", provider.Provider()).Logger(),
	}
}

func (c *providerConversation) SendText(ctx context.Context, text string) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mark := len(c.history)
	for _, call := range c.pending {
		c.history = append(c.history, AgentMessage{
			Role:       "tool",
			Content:    `{"ok":false,"detail":"skipped"}`,
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
	}
	c.history = append(c.history, AgentMessage{Role: "user", Content: text})

	reply, err := c.call(ctx)
	if err != nil {
		c.history = c.history[:mark]
		return nil, err
	}
	return reply, nil
}

func (c *providerConversation) SendToolResults(ctx context.Context, responses []ToolResponse) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	answered := make(map[string]bool, len(responses))
	mark := len(c.history)
	for _, r := range responses {
		content, err := json.Marshal(r.Result)
		if err != nil {
			c.history = c.history[:mark]
			return nil, fmt.Errorf("failed to encode result of %s: %w", r.Call.Name, err)
		}
		answered[r.Call.ID] = true
		c.history = append(c.history, AgentMessage{
			Role:       "tool",
			Content:    string(content),
			ToolCallID: r.Call.ID,
			ToolName:   r.Call.Name,
		})
	}
	pending := c.pending
	remaining := c.pending[:0:0]
	for _, call := range pending {
		if !answered[call.ID] {
			remaining = append(remaining, call)
		}
	}
	c.pending = remaining

	reply, err := c.call(ctx)
	if err != nil {
		c.history = c.history[:mark]
		c.pending = pending
		return nil, err
	}
	return reply, nil
}

// call sends the history and records the answer. Callers hold mu.
func (c *providerConversation) call(ctx context.Context) (*Reply, error) {
	ctx, span := tracing.StartSpan(ctx, "panbeh.agent", "engine.call",
		attribute.String("engine.provider", c.provider.Provider()),
		attribute.String("engine.model", c.cfg.Model),
	)
	defer span.End()

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	messages := make([]AgentMessage, len(c.history))
	copy(messages, c.history)

	start := time.Now()
	resp, err := c.provider.Call(ctx, LLMRequest{
		Model:        c.cfg.Model,
		Messages:     messages,
		Tools:        c.cfg.Tools,
		Temperature:  c.cfg.Temperature,
		MaxTokens:    c.cfg.MaxTokens,
		SystemPrompt: c.cfg.System,
	})
	observability.RecordEngineCall(c.provider.Provider(), time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger := tracing.LoggerFromContext(ctx, c.logger)
		logger.Error().Err(err).Msg("Engine call failed")
		return nil, fmt.Errorf("engine call failed: %w", err)
	}

	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("engine.input_tokens", resp.Usage.InputTokens),
			attribute.Int("engine.output_tokens", resp.Usage.OutputTokens),
		)
	}

	c.history = append(c.history, AgentMessage{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	c.pending = append(c.pending[:0:0], resp.ToolCalls...)

	return &Reply{Text: resp.Content, ToolCalls: resp.ToolCalls}, nil
}
