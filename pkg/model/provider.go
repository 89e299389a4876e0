package model

import (
	"context"

	"github.com/nstogner/agentx/pkg/domain"
)

// Role identifies the sender of a message in the model's context.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Content types.
const (
	ContentTypeText       = "text"
	ContentTypeToolCall   = "tool_call"
	ContentTypeToolResult = "tool_result"
)

// ToolCall represents a tool invocation by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult represents the outcome of a tool call execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message represents a message in the model's conversation context.
type Message struct {
	// Role indicates the sender (user, assistant, tool).
	Role Role
	// Content holds the message parts.
	Content []Content
}

// Content represents a single component of a message.
type Content struct {
	Type string // "text", "tool_call", "tool_result"

	// Text content (when Type == "text").
	Text string `json:"text,omitempty"`

	// Tool call (when Type == "tool_call").
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// Tool result (when Type == "tool_result").
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	// ThoughtSignature is an opaque signature for the model's internal state.
	// Must be round-tripped back to the model on the next request.
	ThoughtSignature []byte `json:"thought_signature,omitempty"`
}

// Text returns a user or assistant message holding plain text.
func Text(role Role, text string) Message {
	return Message{Role: role, Content: []Content{{Type: ContentTypeText, Text: text}}}
}

// ToolCalls returns the tool calls in m, in order.
func (m Message) ToolCalls() []*ToolCall {
	var calls []*ToolCall
	for _, c := range m.Content {
		if c.Type == ContentTypeToolCall && c.ToolCall != nil {
			calls = append(calls, c.ToolCall)
		}
	}
	return calls
}

// Text concatenates the text parts of m.
func (m Message) Text() string {
	var s string
	for _, c := range m.Content {
		if c.Type == ContentTypeText {
			s += c.Text
		}
	}
	return s
}

// ToolSpec declares a tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	// Schema is a JSON schema for the tool input.
	Schema map[string]any
}

// Provider represents a service that provides LLMs (e.g. Gemini).
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini").
	Name() string

	// List returns the available models from this provider.
	List(ctx context.Context) ([]domain.Model, error)

	// Stream sends a conversation context to the LLM and returns a stream of responses.
	// modelName identifies which model to use (e.g. "gemini-2.5-flash").
	// instructions is the system prompt.
	// messages is the conversation history.
	// tools are the functions the model may call.
	Stream(ctx context.Context, modelName, instructions string, messages []Message, tools []ToolSpec) (ModelStream, error)
}

// ModelStream abstracts the stream of responses from the model.
type ModelStream interface {
	// FullMessage blocks until the complete response is available and returns it.
	FullMessage() (Message, error)

	// Close releases resources associated with this stream.
	Close() error
}
