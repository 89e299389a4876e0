package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/nstogner/agentx/pkg/domain"
	"github.com/nstogner/agentx/pkg/model"
	"google.golang.org/genai"
)

// Provider implements model.Provider using the Google Gen AI SDK.
type Provider struct {
	client *genai.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a new Gemini provider.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// List returns available Gemini models.
func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	var models []domain.Model
	for m, err := range p.client.Models.All(ctx) {
		if err != nil {
			return nil, err
		}
		if !supportsGenerate(m) {
			continue
		}
		models = append(models, domain.Model{
			ID:        m.Name,
			Name:      m.DisplayName,
			Provider:  "gemini",
			MaxTokens: int(m.InputTokenLimit),
		})
	}
	return models, nil
}

func supportsGenerate(m *genai.Model) bool {
	if strings.Contains(strings.ToLower(m.Name), "gemma") {
		return false
	}
	for _, action := range m.SupportedActions {
		if action == "generateContent" {
			return true
		}
	}
	return false
}

// Stream sends a conversation context to the LLM and returns a stream.
func (p *Provider) Stream(ctx context.Context, modelName, instructions string, messages []model.Message, tools []model.ToolSpec) (model.ModelStream, error) {
	slog.Debug("Gemini.Stream", "model", modelName, "messageCount", len(messages), "toolCount", len(tools))

	config := &genai.GenerateContentConfig{
		Tools: buildToolDeclarations(tools),
	}
	if instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: instructions}},
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	iter := p.client.Models.GenerateContentStream(streamCtx, modelName, toContents(messages), config)

	return &geminiStream{
		iter:   iter,
		cancel: cancel,
	}, nil
}

func toContents(messages []model.Message) []*genai.Content {
	var contents []*genai.Content
	toolNameMap := make(map[string]string) // tool call ID -> name

	for _, msg := range messages {
		var parts []*genai.Part
		for _, c := range msg.Content {
			switch c.Type {
			case model.ContentTypeText:
				if c.Text == "" {
					continue
				}
				parts = append(parts, &genai.Part{
					Text:             c.Text,
					ThoughtSignature: c.ThoughtSignature,
				})
			case model.ContentTypeToolCall:
				if c.ToolCall != nil {
					toolNameMap[c.ToolCall.ID] = c.ToolCall.Name
					parts = append(parts, &genai.Part{
						FunctionCall: &genai.FunctionCall{
							Name: c.ToolCall.Name,
							Args: c.ToolCall.Input,
							ID:   c.ToolCall.ID,
						},
						ThoughtSignature: c.ThoughtSignature,
					})
				}
			case model.ContentTypeToolResult:
				if c.ToolResult != nil {
					name := c.ToolResult.Name
					if name == "" {
						name = toolNameMap[c.ToolResult.ToolCallID]
					}
					key := "result"
					if c.ToolResult.IsError {
						key = "error"
					}
					parts = append(parts, &genai.Part{
						FunctionResponse: &genai.FunctionResponse{
							Name:     name,
							ID:       c.ToolResult.ToolCallID,
							Response: map[string]any{key: c.ToolResult.Content},
						},
					})
				}
			}
		}

		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		if len(parts) > 0 {
			contents = append(contents, &genai.Content{
				Role:  role,
				Parts: parts,
			})
		}
	}
	return contents
}

func buildToolDeclarations(tools []model.ToolSpec) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toSchema(t.Schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toSchema converts a JSON-schema style map into a genai schema.
func toSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if pm, ok := raw.(map[string]any); ok {
				s.Properties[name] = toSchema(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	s.Required = stringSlice(m["required"])
	s.Enum = stringSlice(m["enum"])
	return s
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// geminiStream wraps the Gemini streaming iterator.
type geminiStream struct {
	iter   func(yield func(*genai.GenerateContentResponse, error) bool)
	cancel context.CancelFunc
}

func (s *geminiStream) FullMessage() (model.Message, error) {
	var fullText strings.Builder
	var toolCalls []model.Content
	var textSignature []byte

	for resp, err := range s.iter {
		if err != nil {
			return model.Message{}, err
		}
		if resp == nil {
			continue
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" && !part.Thought {
					if len(part.ThoughtSignature) > 0 {
						textSignature = part.ThoughtSignature
					}
					fullText.WriteString(part.Text)
				}
				if part.FunctionCall != nil {
					fc := part.FunctionCall
					id := fc.ID
					if id == "" {
						id = "call-" + uuid.New().String()
					}
					toolCalls = append(toolCalls, model.Content{
						Type: model.ContentTypeToolCall,
						ToolCall: &model.ToolCall{
							ID:    id,
							Name:  fc.Name,
							Input: fc.Args,
						},
						ThoughtSignature: part.ThoughtSignature,
					})
				}
			}
		}
	}

	var content []model.Content
	if fullText.Len() > 0 {
		content = append(content, model.Content{
			Type:             model.ContentTypeText,
			Text:             fullText.String(),
			ThoughtSignature: textSignature,
		})
	}
	content = append(content, toolCalls...)

	return model.Message{
		Role:    model.RoleAssistant,
		Content: content,
	}, nil
}

func (s *geminiStream) Close() error {
	s.cancel()
	return nil
}
