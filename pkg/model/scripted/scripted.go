// Package scripted provides a deterministic model provider that answers from
// a function of the conversation instead of calling an LLM. It backs offline
// demos and tests.
package scripted

import (
	"context"
	"fmt"

	"github.com/nstogner/agentx/pkg/domain"
	"github.com/nstogner/agentx/pkg/model"
)

// RespondFunc produces the next assistant message for a conversation.
type RespondFunc func(ctx context.Context, instructions string, messages []model.Message, tools []model.ToolSpec) (model.Message, error)

// Provider implements model.Provider with a RespondFunc.
type Provider struct {
	Respond RespondFunc
}

var _ model.Provider = (*Provider)(nil)

// New creates a Provider.
func New(fn RespondFunc) *Provider {
	return &Provider{Respond: fn}
}

func (p *Provider) Name() string { return "scripted" }

func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	return []domain.Model{{ID: "scripted", Name: "Scripted", Provider: "scripted"}}, nil
}

func (p *Provider) Stream(ctx context.Context, modelName, instructions string, messages []model.Message, tools []model.ToolSpec) (model.ModelStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := p.Respond(ctx, instructions, messages, tools)
	return &stream{msg: msg, err: err}, nil
}

type stream struct {
	msg model.Message
	err error
}

func (s *stream) FullMessage() (model.Message, error) { return s.msg, s.err }
func (s *stream) Close() error                        { return nil }

// ToolResults counts the tool results already present in messages.
func ToolResults(messages []model.Message) int {
	n := 0
	for _, m := range messages {
		for _, c := range m.Content {
			if c.Type == model.ContentTypeToolResult {
				n++
			}
		}
	}
	return n
}

// Call returns an assistant message holding a single tool call.
func Call(id, name string, input map[string]any) model.Message {
	return model.Message{Role: model.RoleAssistant, Content: []model.Content{{
		Type:     model.ContentTypeToolCall,
		ToolCall: &model.ToolCall{ID: id, Name: name, Input: input},
	}}}
}

// Sequence answers with steps[i] once i tool results are in the conversation,
// and with final afterwards. Stages offered no tools get title.
func Sequence(title, final string, steps ...model.Message) RespondFunc {
	return func(ctx context.Context, _ string, messages []model.Message, tools []model.ToolSpec) (model.Message, error) {
		if len(tools) == 0 {
			return model.Text(model.RoleAssistant, title), nil
		}
		n := ToolResults(messages)
		if n < len(steps) {
			return steps[n], nil
		}
		return model.Text(model.RoleAssistant, final), nil
	}
}

// LandingPage scripts a small static landing page build.
func LandingPage() RespondFunc {
	html := `<!doctype html>
<html>
  <head><title>Welcome</title></head>
  <body>
    <main>
      <h1>Welcome</h1>
      <p>A simple landing page.</p>
    </main>
  </body>
</html>
`
	return Sequence(
		"Simple Landing Page",
		"<task_summary>Created a simple landing page served on port 3000.</task_summary>",
		Call("call-1", "_create_or_update_files", map[string]any{"files": []any{
			map[string]any{"path": "/index.html", "content": html},
		}}),
		Call("call-2", "_run_terminal", map[string]any{"command": "ls"}),
		Call("call-3", "_check_health", map[string]any{}),
	)
}

// Failing returns a RespondFunc that always errors.
func Failing(msg string) RespondFunc {
	return func(context.Context, string, []model.Message, []model.ToolSpec) (model.Message, error) {
		return model.Message{}, fmt.Errorf("%s", msg)
	}
}
