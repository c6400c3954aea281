package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/panbeh/pkg/tools"
)

// AnthropicProvider implements LLMProvider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Provider returns the provider name
func (p *AnthropicProvider) Provider() string {
	return "anthropic"
}

// Call makes an API call to Anthropic Claude
func (p *AnthropicProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	messages, err := anthropicMessages(request.Messages)
	if err != nil {
		return nil, err
	}

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  messages,
		MaxTokens: int64(request.MaxTokens),
	}
	if request.SystemPrompt != "" {
		reqParams.System = []anthropic.TextBlockParam{{Text: request.SystemPrompt}}
	}
	if request.Temperature > 0 {
		reqParams.Temperature = anthropic.Float(request.Temperature)
	}
	if len(request.Tools) > 0 {
		reqParams.Tools = anthropicTools(request.Tools)
	}

	response, err := p.client.Messages.New(ctx, reqParams)
	if err != nil {
		return nil, err
	}

	content, toolCalls, err := anthropicReply(response.Content)
	if err != nil {
		return nil, err
	}

	return &LLMResponse{
		Content:   content,
		ToolCalls: toolCalls,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}

// anthropicMessages maps the history onto Claude turns. Consecutive tool
// results share one user turn, and a failed result is flagged as an error.
func anthropicMessages(messages []AgentMessage) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	pendingResults := false

	for _, msg := range messages {
		if msg.Role != "tool" {
			pendingResults = false
		}

		switch msg.Role {
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case "assistant":
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" || len(msg.ToolCalls) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, callArguments(tc), tc.Name))
			}
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case "tool":
			block := anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, toolResultFailed(msg.Content))
			if n := len(out); n > 0 && pendingResults {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, anthropic.NewUserMessage(block))
			pendingResults = true
		default:
			return nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	return out, nil
}

func anthropicTools(specs []tools.Spec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		tool := anthropic.ToolParam{
			Name:        spec.Name,
			Description: anthropic.String(spec.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: spec.InputSchema["properties"],
				Required:   requiredFields(spec.InputSchema),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

// anthropicReply collects the text and tool calls of a Claude answer.
func anthropicReply(blocks []anthropic.ContentBlockUnion) (string, []ToolCall, error) {
	var text strings.Builder
	toolCalls := []ToolCall{}

	for _, block := range blocks {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			params := map[string]interface{}{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &params); err != nil {
					return "", nil, fmt.Errorf("failed to parse tool input: %w", err)
				}
			}
			if params == nil {
				params = map[string]interface{}{}
			}
			toolCalls = append(toolCalls, ToolCall{ID: block.ID, Name: block.Name, Parameters: params})
		}
	}

	return text.String(), toolCalls, nil
}
