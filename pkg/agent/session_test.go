package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/harun/panbeh/pkg/panel"
	"github.com/harun/panbeh/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step func(req LLMRequest) (*LLMResponse, error)

// scriptedProvider answers each call with the next step.
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []step
	requests []LLMRequest
}

func (p *scriptedProvider) Provider() string { return "scripted" }

func (p *scriptedProvider) Call(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if len(p.steps) == 0 {
		p.mu.Unlock()
		return nil, errors.New("script exhausted")
	}
	next := p.steps[0]
	p.steps = p.steps[1:]
	p.mu.Unlock()
	return next(req)
}

func (p *scriptedProvider) calls() []LLMRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]LLMRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

func text(s string) step {
	return func(LLMRequest) (*LLMResponse, error) { return &LLMResponse{Content: s}, nil }
}

func calls(tc ...ToolCall) step {
	return func(LLMRequest) (*LLMResponse, error) { return &LLMResponse{ToolCalls: tc}, nil }
}

func fail(err error) step {
	return func(LLMRequest) (*LLMResponse, error) { return nil, err }
}

type toolLog struct {
	mu    sync.Mutex
	names []string
}

func (l *toolLog) add(name string) {
	l.mu.Lock()
	l.names = append(l.names, name)
	l.mu.Unlock()
}

func (l *toolLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

// testToolset registers a card tool, a plain tool and a failing tool.
func testToolset(t *testing.T, log *toolLog) *tools.Toolset {
	t.Helper()
	reg := tools.NewRegistry(zerolog.Nop())

	user := []tools.Parameter{{Name: "userName", Type: "string", Description: "user", Required: true}}
	defs := []tools.Definition{
		{
			Name: "get_user_status", Description: "status", Parameters: user,
			Handler: func(ctx context.Context, args tools.Args) tools.Result {
				log.add("get_user_status")
				return tools.Card(tools.CardStatus, map[string]string{"status": "active"}, "status checked")
			},
		},
		{
			Name: "get_system_announcements", Description: "news",
			Handler: func(ctx context.Context, args tools.Args) tools.Result {
				log.add("get_system_announcements")
				return tools.Succeed("no news", []string{})
			},
		},
		{
			Name: "get_server_health", Description: "health",
			Handler: func(ctx context.Context, args tools.Args) tools.Result {
				log.add("get_server_health")
				return tools.Fail("upstream down", "سرور در دسترس نیست.")
			},
		},
	}
	for _, def := range defs {
		require.NoError(t, reg.Register(def))
	}

	ts, err := reg.Toolset(tools.AudienceIdentified, "get_user_status", "get_system_announcements", "get_server_health")
	require.NoError(t, err)
	return ts
}

func newTestSession(t *testing.T, identity Identity, provider *scriptedProvider, rounds int) (*Session, *toolLog) {
	t.Helper()
	log := &toolLog{}
	ts := testToolset(t, log)
	conv := NewConversation(provider, ConversationConfig{Model: "test-model", System: "system", Tools: ts.Specs()}, zerolog.Nop())
	s, err := NewSession(SessionConfig{
		ID:            "s-1",
		Identity:      identity,
		Conversation:  conv,
		Tools:         ts,
		Provider:      provider.Provider(),
		MaxToolRounds: rounds,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	return s, log
}

func lastUserMessage(req LLMRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

func TestSend_TextReply(t *testing.T) {
	p := &scriptedProvider{steps: []step{text("  سلام!  ")}}
	s, _ := newTestSession(t, Identity{Username: "ali"}, p, 0)

	msgs, err := s.Send(context.Background(), "  hi ")
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, AuthorUser, msgs[0].Author)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, AuthorAgent, msgs[1].Author)
	assert.Equal(t, "سلام!", msgs[1].Content)
	assert.Less(t, msgs[0].ID, msgs[1].ID)

	reqs := p.calls()
	require.Len(t, reqs, 1)
	assert.Equal(t, "(My username is ali) hi", lastUserMessage(reqs[0]))
	assert.Equal(t, "system", reqs[0].SystemPrompt)
	assert.Len(t, reqs[0].Tools, 3)
	assert.Equal(t, msgs, s.Messages())
	assert.False(t, s.IsBusy())
}

func TestSend_GuestHasNoPrefix(t *testing.T) {
	p := &scriptedProvider{steps: []step{text("ok")}}
	s, _ := newTestSession(t, Identity{}, p, 0)

	_, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", lastUserMessage(p.calls()[0]))
}

func TestSend_EmptyMessage(t *testing.T) {
	p := &scriptedProvider{}
	s, _ := newTestSession(t, Identity{Username: "ali"}, p, 0)

	_, err := s.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, s.Messages())
	assert.Empty(t, p.calls())
}

func TestSend_ToolRoundTrip(t *testing.T) {
	p := &scriptedProvider{steps: []step{
		calls(ToolCall{ID: "c1", Name: "get_user_status", Parameters: map[string]interface{}{"userName": "ali"}}),
		text("اشتراکت فعاله."),
	}}
	s, log := newTestSession(t, Identity{Username: "ali"}, p, 0)

	msgs, err := s.Send(context.Background(), "وضعیتم؟")
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, KindCard, msgs[1].Kind)
	assert.Equal(t, string(tools.CardStatus), msgs[1].CardType)
	assert.Equal(t, "status checked", msgs[1].Content)
	assert.Equal(t, map[string]string{"status": "active"}, msgs[1].Payload)
	assert.Equal(t, KindText, msgs[2].Kind)
	assert.Equal(t, "اشتراکت فعاله.", msgs[2].Content)
	assert.Equal(t, []string{"get_user_status"}, log.list())

	reqs := p.calls()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Equal(t, "get_user_status", last.ToolName)
	assert.Contains(t, last.Content, `"ok":true`)

	card, err := json.Marshal(msgs[1])
	require.NoError(t, err)
	assert.Contains(t, string(card), `"kind":"structured-card"`)
	reply, err := json.Marshal(msgs[2])
	require.NoError(t, err)
	assert.Contains(t, string(reply), `"kind":"text"`)
}

func TestSend_PlainResultIsNotShown(t *testing.T) {
	p := &scriptedProvider{steps: []step{
		calls(ToolCall{ID: "c1", Name: "get_system_announcements"}),
		text("خبری نیست."),
	}}
	s, _ := newTestSession(t, Identity{Username: "ali"}, p, 0)

	msgs, err := s.Send(context.Background(), "news?")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "خبری نیست.", msgs[1].Content)
}

func TestSend_ToolFailureEndsTurn(t *testing.T) {
	p := &scriptedProvider{steps: []step{
		calls(
			ToolCall{ID: "c1", Name: "get_user_status", Parameters: map[string]interface{}{"userName": "ali"}},
			ToolCall{ID: "c2", Name: "get_server_health"},
			ToolCall{ID: "c3", Name: "get_system_announcements"},
		),
		text("never sent"),
	}}
	s, log := newTestSession(t, Identity{Username: "ali"}, p, 0)

	msgs, err := s.Send(context.Background(), "سرعتم کمه")
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, KindCard, msgs[1].Kind)
	assert.Equal(t, "سرور در دسترس نیست.", msgs[2].Content)
	assert.Equal(t, []string{"get_user_status", "get_server_health"}, log.list())
	assert.Len(t, p.calls(), 1, "failed tool results are not sent back")
}

func TestSend_PanelLoginFailureShowsFallback(t *testing.T) {
	const fallback = "متاسفانه نتونستم اطلاعات این کاربر رو پیدا کنم. 😔"

	reg := tools.NewRegistry(zerolog.Nop())
	require.NoError(t, reg.Register(tools.Definition{
		Name:        "get_user_status",
		Description: "status",
		Parameters:  []tools.Parameter{{Name: "userName", Type: "string", Description: "user", Required: true}},
		Handler: func(ctx context.Context, args tools.Args) tools.Result {
			rejected := fmt.Errorf("token endpoint rejected credentials: %w",
				&panel.UpstreamError{Status: http.StatusUnauthorized, Detail: "Incorrect username or password"})
			return tools.FailFromError(&panel.AuthError{Err: rejected}, fallback)
		},
	}))
	ts, err := reg.Toolset(tools.AudienceIdentified, "get_user_status")
	require.NoError(t, err)

	p := &scriptedProvider{steps: []step{
		calls(ToolCall{ID: "c1", Name: "get_user_status", Parameters: map[string]interface{}{"userName": "ali"}}),
		text("never sent"),
	}}
	conv := NewConversation(p, ConversationConfig{Model: "test-model", System: "system", Tools: ts.Specs()}, zerolog.Nop())
	s, err := NewSession(SessionConfig{
		ID:           "s-1",
		Identity:     Identity{Username: "ali"},
		Conversation: conv,
		Tools:        ts,
		Provider:     p.Provider(),
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	msgs, err := s.Send(context.Background(), "وضعیتم چطوره؟")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, KindText, msgs[1].Kind)
	assert.Equal(t, fallback, msgs[1].Content)
	assert.NotContains(t, msgs[1].Content, "Incorrect username or password")
	assert.Len(t, p.calls(), 1)
}

func TestSend_UnknownTool(t *testing.T) {
	p := &scriptedProvider{steps: []step{
		calls(ToolCall{ID: "c1", Name: "create_subscription", Parameters: map[string]interface{}{"userName": "ali"}}),
	}}
	s, log := newTestSession(t, Identity{Username: "ali"}, p, 0)

	msgs, err := s.Send(context.Background(), "buy")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, toolFailureFallback("create_subscription"), msgs[1].Content)
	assert.Empty(t, log.list())
}

func TestSend_SkippedCallsAreClosedNextTurn(t *testing.T) {
	p := &scriptedProvider{steps: []step{
		calls(ToolCall{ID: "c1", Name: "get_server_health"}),
		text("done"),
	}}
	s, _ := newTestSession(t, Identity{Username: "ali"}, p, 0)

	_, err := s.Send(context.Background(), "first")
	require.NoError(t, err)
	_, err = s.Send(context.Background(), "second")
	require.NoError(t, err)

	reqs := p.calls()
	require.Len(t, reqs, 2)
	history := reqs[1].Messages
	require.Len(t, history, 4)
	assert.Equal(t, "assistant", history[1].Role)
	assert.Equal(t, "tool", history[2].Role)
	assert.Equal(t, "c1", history[2].ToolCallID)
	assert.Contains(t, history[2].Content, "skipped")
	assert.Equal(t, "user", history[3].Role)
}

func TestSend_EngineErrorApologises(t *testing.T) {
	p := &scriptedProvider{steps: []step{fail(errors.New("quota exceeded"))}}
	s, _ := newTestSession(t, Identity{Username: "ali"}, p, 0)

	msgs, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "😔")
	assert.Contains(t, msgs[1].Content, "quota exceeded")
	assert.False(t, s.IsBusy())

	// the failed exchange is not kept in the history
	p.steps = []step{text("ok")}
	_, err = s.Send(context.Background(), "again")
	require.NoError(t, err)
	reqs := p.calls()
	assert.Len(t, reqs[1].Messages, 1)
}

func TestSend_RoundBound(t *testing.T) {
	loop := calls(ToolCall{ID: "c", Name: "get_system_announcements"})
	p := &scriptedProvider{steps: []step{loop, loop, loop, loop, loop}}
	s, log := newTestSession(t, Identity{Username: "ali"}, p, 2)

	msgs, err := s.Send(context.Background(), "loop")
	require.NoError(t, err)

	assert.Len(t, p.calls(), 3)
	assert.Len(t, log.list(), 2)
	assert.Contains(t, msgs[len(msgs)-1].Content, "more than 2 tool rounds")
}

func TestSend_Busy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	p := &scriptedProvider{steps: []step{func(LLMRequest) (*LLMResponse, error) {
		close(entered)
		<-release
		return &LLMResponse{Content: "done"}, nil
	}}}
	s, _ := newTestSession(t, Identity{Username: "ali"}, p, 0)

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "slow")
		done <- err
	}()

	<-entered
	assert.True(t, s.IsBusy())
	_, err := s.Send(context.Background(), "fast")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, s.IsBusy())
	assert.Len(t, s.Messages(), 2)
}

func TestGreet_Guest(t *testing.T) {
	p := &scriptedProvider{}
	s, _ := newTestSession(t, Identity{}, p, 0)

	msgs, err := s.Greet(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, GuestWelcome, msgs[0].Content)
	assert.Empty(t, p.calls())

	msgs, err = s.Greet(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestGreet_Identified(t *testing.T) {
	p := &scriptedProvider{steps: []step{
		calls(
			ToolCall{ID: "c1", Name: "get_user_status", Parameters: map[string]interface{}{"userName": "ali"}},
			ToolCall{ID: "c2", Name: "get_system_announcements"},
		),
		text("سلام ali، خوش برگشتی!"),
	}}
	s, log := newTestSession(t, Identity{Username: "ali"}, p, 0)

	msgs, err := s.Greet(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, KindCard, msgs[0].Kind)
	assert.Equal(t, "سلام ali، خوش برگشتی!", msgs[1].Content)
	assert.Equal(t, GreetingTrigger, lastUserMessage(p.calls()[0]))
	assert.Equal(t, []string{"get_user_status", "get_system_announcements"}, log.list())
}

func TestSubscribe(t *testing.T) {
	p := &scriptedProvider{steps: []step{text("hello")}}
	s, _ := newTestSession(t, Identity{Username: "ali"}, p, 0)

	ch, cancel := s.Subscribe()
	defer cancel()

	_, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)

	var got []Message
	timeout := time.After(time.Second)
	for len(got) < 4 {
		select {
		case m := <-ch:
			got = append(got, m)
		case <-timeout:
			t.Fatalf("received %d events", len(got))
		}
	}

	assert.Equal(t, KindText, got[0].Kind)
	assert.Equal(t, AuthorUser, got[0].Author)
	assert.Equal(t, KindTyping, got[1].Kind)
	assert.True(t, got[1].Typing)
	assert.Equal(t, "hello", got[2].Content)
	assert.Equal(t, KindTyping, got[3].Kind)
	assert.False(t, got[3].Typing)

	assert.Len(t, s.Messages(), 2, "typing indicators are not stored")

	typing, err := json.Marshal(got[1])
	require.NoError(t, err)
	assert.Contains(t, string(typing), `"kind":"typing-indicator"`)

	cancel()
	cancel()
}

func TestLastActive(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	p := &scriptedProvider{steps: []step{text("ok")}}
	conv := NewConversation(p, ConversationConfig{}, zerolog.Nop())
	s, err := NewSession(SessionConfig{ID: "s", Conversation: conv, Tools: testToolset(t, &toolLog{}), Now: clock, Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, now, s.LastActive().UTC())

	now = now.Add(time.Minute)
	_, err = s.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, now, s.LastActive().UTC())
}

func TestNewSession_Validation(t *testing.T) {
	_, err := NewSession(SessionConfig{ID: "s"})
	assert.Error(t, err)
}
