package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/panbeh/pkg/tools"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	Messages     []AgentMessage
	Tools        []tools.Spec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from LLM
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// NewProvider creates the engine named by provider.
func NewProvider(ctx context.Context, provider, apiKey string) (LLMProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s API key is required", provider)
	}

	switch provider {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	case "gemini":
		return NewGeminiProvider(ctx, apiKey)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func requiredFields(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// callArguments never returns nil, so engines always see an object.
func callArguments(tc ToolCall) map[string]interface{} {
	if tc.Parameters == nil {
		return map[string]interface{}{}
	}
	return tc.Parameters
}

// toolResultFailed reports whether a serialized tool result carries ok=false.
func toolResultFailed(content string) bool {
	var res struct {
		OK *bool `json:"ok"`
	}
	if err := json.Unmarshal([]byte(content), &res); err != nil || res.OK == nil {
		return false
	}
	return !*res.OK
}
