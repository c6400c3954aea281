package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/panbeh/pkg/tools"
	"google.golang.org/genai"
)

// GeminiProvider implements LLMProvider for Google Gemini
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Provider returns the provider name
func (p *GeminiProvider) Provider() string {
	return "gemini"
}

// Call makes an API call to Google Gemini
func (p *GeminiProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	contents, err := geminiContents(request.Messages)
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{}
	if request.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(request.SystemPrompt, genai.RoleUser)
	}
	if request.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(request.Temperature))
	}
	if request.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(request.MaxTokens)
	}
	if len(request.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: geminiDeclarations(request.Tools)}}
	}

	res, err := p.client.Models.GenerateContent(ctx, request.Model, contents, cfg)
	if err != nil {
		return nil, err
	}
	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no response candidates returned")
	}

	var text strings.Builder
	toolCalls := []ToolCall{}
	for i, part := range res.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("%s-%d", part.FunctionCall.Name, i)
			}
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]interface{}{}
			}
			toolCalls = append(toolCalls, ToolCall{ID: id, Name: part.FunctionCall.Name, Parameters: args})
			continue
		}
		text.WriteString(part.Text)
	}

	resp := &LLMResponse{Content: text.String(), ToolCalls: toolCalls}
	if res.UsageMetadata != nil {
		resp.Usage = &TokenUsage{
			InputTokens:  int(res.UsageMetadata.PromptTokenCount),
			OutputTokens: int(res.UsageMetadata.CandidatesTokenCount),
		}
	}
	return resp, nil
}

// geminiContents maps the history onto Gemini turns. Consecutive tool
// results become one user turn of function responses.
func geminiContents(messages []AgentMessage) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(messages))
	var results *genai.Content

	for _, msg := range messages {
		if msg.Role != "tool" {
			results = nil
		}

		switch msg.Role {
		case "user":
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case "assistant":
			turn := &genai.Content{Role: genai.RoleModel}
			if msg.Content != "" {
				turn.Parts = append(turn.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				turn.Parts = append(turn.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					Name: tc.Name,
					Args: tc.Parameters,
				}})
			}
			contents = append(contents, turn)
		case "tool":
			response := map[string]interface{}{}
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]interface{}{"output": msg.Content}
			}
			part := genai.NewPartFromFunctionResponse(msg.ToolName, response)
			if results == nil {
				results = &genai.Content{Role: genai.RoleUser}
				contents = append(contents, results)
			}
			results.Parts = append(results.Parts, part)
		default:
			return nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	return contents, nil
}

func geminiDeclarations(specs []tools.Spec) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  geminiSchema(spec.InputSchema),
		})
	}
	return decls
}

func geminiSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	out := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		out.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if prop, ok := raw.(map[string]interface{}); ok {
				out.Properties[name] = geminiSchema(prop)
			}
		}
	}
	out.Required = requiredFields(schema)

	switch enum := schema["enum"].(type) {
	case []string:
		out.Enum = enum
	case []interface{}:
		for _, v := range enum {
			if s, ok := v.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}

	return out
}
