package agent

import (
	"time"
)

// ToolCall is a tool invocation requested by the engine.
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AgentMessage is one entry of the provider-agnostic engine history.
type AgentMessage struct {
	Role       string     `json:"role"` // user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// MessageKind classifies a displayed message.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindTyping MessageKind = "typing-indicator"
	KindCard   MessageKind = "structured-card"
)

// Author is who a message is attributed to.
type Author string

const (
	AuthorUser  Author = "user"
	AuthorAgent Author = "agent"
)

// Message is one entry of a session transcript. Messages are never
// mutated after they are appended.
type Message struct {
	ID        int64       `json:"id"`
	Kind      MessageKind `json:"kind"`
	Author    Author      `json:"author"`
	Content   string      `json:"content"`
	CardType  string      `json:"card_type,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Typing    bool        `json:"typing,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Identity is who a session talks to. An empty Username is a guest.
type Identity struct {
	Username string `json:"username,omitempty"`
}

// Guest reports whether the identity is anonymous.
func (i Identity) Guest() bool {
	return i.Username == ""
}

// String returns the username, or "guest".
func (i Identity) String() string {
	if i.Guest() {
		return "guest"
	}
	return i.Username
}
