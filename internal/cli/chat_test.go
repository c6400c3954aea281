package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/harun/panbeh/pkg/agent"
	"github.com/harun/panbeh/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoConversation struct {
	seen []string
}

func (c *echoConversation) SendText(_ context.Context, text string) (*agent.Reply, error) {
	c.seen = append(c.seen, text)
	return &agent.Reply{Text: "echo: " + text}, nil
}

func (c *echoConversation) SendToolResults(context.Context, []agent.ToolResponse) (*agent.Reply, error) {
	return &agent.Reply{Text: "done"}, nil
}

type noTools struct{}

func (noTools) Dispatch(context.Context, string, map[string]interface{}) tools.Result {
	return tools.Fail("no tools", "no tools")
}

func newChatSession(t *testing.T, identity agent.Identity) (*agent.Session, *echoConversation) {
	t.Helper()
	conv := &echoConversation{}
	sess, err := agent.NewSession(agent.SessionConfig{
		ID:           "terminal-test",
		Identity:     identity,
		Conversation: conv,
		Tools:        noTools{},
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return sess, conv
}

func TestChatLoop_Guest(t *testing.T) {
	sess, conv := newChatSession(t, agent.Identity{})
	in := strings.NewReader("salam\n\n  \nchetori?\n/exit\nignored\n")
	out := &bytes.Buffer{}

	require.NoError(t, chatLoop(context.Background(), sess, in, out))

	text := out.String()
	assert.Contains(t, text, "panbeh: "+agent.GuestWelcome)
	assert.Contains(t, text, "panbeh: echo: salam")
	assert.Contains(t, text, "panbeh: echo: chetori?")
	assert.NotContains(t, text, "ignored")
	assert.Equal(t, []string{"salam", "chetori?"}, conv.seen)
}

func TestChatLoop_EOF(t *testing.T) {
	sess, _ := newChatSession(t, agent.Identity{})
	out := &bytes.Buffer{}

	require.NoError(t, chatLoop(context.Background(), sess, strings.NewReader("hi"), out))
	assert.Contains(t, out.String(), "panbeh: echo: hi")
}

func TestChatLoop_IdentifiedGreeting(t *testing.T) {
	sess, conv := newChatSession(t, agent.Identity{Username: "ali"})
	out := &bytes.Buffer{}

	require.NoError(t, chatLoop(context.Background(), sess, strings.NewReader("/quit\n"), out))
	require.Len(t, conv.seen, 1)
	assert.Equal(t, agent.GreetingTrigger, conv.seen[0])
	assert.Contains(t, out.String(), "panbeh: echo: "+agent.GreetingTrigger)
}

func TestPrintMessages_Card(t *testing.T) {
	out := &bytes.Buffer{}
	printMessages(out, []agent.Message{
		{Kind: agent.KindTyping, Typing: true},
		{Kind: agent.KindCard, CardType: "connection", Content: "Connection link is ready.",
			Payload: map[string]string{"subscription_url": "https://sub.example/sub/abc"}},
	})

	text := out.String()
	assert.Contains(t, text, "panbeh [connection] Connection link is ready.")
	assert.Contains(t, text, "https://sub.example/sub/abc")
	assert.NotContains(t, text, "typing")
}
