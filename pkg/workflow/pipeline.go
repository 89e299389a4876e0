package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nstogner/agentx/pkg/domain"
	"github.com/nstogner/agentx/pkg/events"
	"github.com/nstogner/agentx/pkg/model"
	"github.com/nstogner/agentx/pkg/store"
	"github.com/nstogner/agentx/pkg/tools"
)

// DefaultMaxSteps bounds the model calls of a single stage.
const DefaultMaxSteps = 30

var escalateSpec = model.ToolSpec{
	Name:        tools.EscalateName,
	Description: "Abort the task because it cannot be completed. Arguments: reason (string).",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{"type": "string", "description": "Why the task cannot be completed."},
		},
		"required": []string{"reason"},
	},
}

type compiledStage struct {
	Stage
	tools map[string]tools.Tool
	specs []model.ToolSpec
}

// Pipeline is a validated, fixed sequence of stages.
type Pipeline struct {
	stages     []compiledStage
	provider   model.Provider
	sessions   store.SessionStore
	translator *events.Translator
	maxSteps   int
	observer   Observer
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithMaxSteps sets the per-stage model call budget.
func WithMaxSteps(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxSteps = n
		}
	}
}

// WithObserver reports stage timings.
func WithObserver(o Observer) PipelineOption {
	return func(p *Pipeline) { p.observer = o }
}

// NewPipeline resolves every stage's tools against registry. A stage naming a
// tool the registry does not know is an error here, not at run time.
func NewPipeline(registry *tools.Registry, provider model.Provider, sessions store.SessionStore, stages []Stage, opts ...PipelineOption) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, errors.New("pipeline has no stages")
	}
	p := &Pipeline{
		provider:   provider,
		sessions:   sessions,
		translator: events.NewTranslator(registry),
		maxSteps:   DefaultMaxSteps,
		observer:   nopObserver{},
	}
	for _, o := range opts {
		o(p)
	}

	seenSlots := map[domain.Slot]string{}
	for _, st := range stages {
		if st.Name == "" {
			return nil, errors.New("stage has no name")
		}
		if st.Slot != domain.SlotSummary && st.Slot != domain.SlotTitle {
			return nil, fmt.Errorf("stage %s: slot %q cannot hold a final response", st.Name, st.Slot)
		}
		if prev, ok := seenSlots[st.Slot]; ok {
			return nil, fmt.Errorf("stage %s: slot %q already filled by stage %s", st.Name, st.Slot, prev)
		}
		seenSlots[st.Slot] = st.Name

		resolved, err := registry.Resolve(st.Tools...)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", st.Name, err)
		}
		cs := compiledStage{Stage: st, tools: make(map[string]tools.Tool, len(resolved))}
		for _, t := range resolved {
			cs.tools[t.Name()] = t
			cs.specs = append(cs.specs, model.ToolSpec{Name: t.Name(), Description: t.Description(), Schema: t.InputSchema()})
		}
		if len(cs.specs) > 0 {
			cs.specs = append(cs.specs, escalateSpec)
		}
		p.stages = append(p.stages, cs)
	}
	return p, nil
}

// Stages returns the names of the stages in order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Run executes every stage in order against rc, emitting one frame per tool
// call. It returns a *domain.EscalationError when a stage aborts.
func (p *Pipeline) Run(ctx context.Context, rc *RunContext, emitter *events.Emitter) error {
	if err := rc.Run.Start(); err != nil {
		return err
	}
	for i := range p.stages {
		st := &p.stages[i]
		start := time.Now()
		text, runErr := p.runStage(ctx, rc, st, emitter)
		p.observer.StageFinished(st.Name, runErr == nil, time.Since(start))

		if err := p.persist(ctx, rc, st, text, runErr == nil); err != nil {
			rc.Run.Fail()
			return fmt.Errorf("persisting session after stage %s: %w", st.Name, err)
		}
		if runErr != nil {
			var esc *domain.EscalationError
			if errors.As(runErr, &esc) {
				_ = rc.Run.Escalate()
			} else {
				rc.Run.Fail()
			}
			return runErr
		}
		rc.Outputs = append(rc.Outputs, StageOutput{Stage: st.Name, Slot: st.Slot, Text: text})
		if err := rc.Run.StageDone(); err != nil {
			return err
		}
	}
	return nil
}

// persist writes the stage's slot and the files it wrote. Files are kept
// even when the stage failed, since they already exist in the sandbox.
func (p *Pipeline) persist(ctx context.Context, rc *RunContext, st *compiledStage, text string, filled bool) error {
	files := rc.takePending()
	if !filled && len(files) == 0 {
		return nil
	}
	state, err := p.sessions.UpdateSession(ctx, rc.SessionKey, func(s *domain.SessionState) error {
		if filled {
			s.SetText(st.Slot, text)
		}
		s.MergeFiles(files)
		return nil
	})
	if err != nil {
		return err
	}
	rc.State = state
	return nil
}

func (p *Pipeline) prompt(rc *RunContext) string {
	if len(rc.Outputs) == 0 {
		return rc.UserMessage
	}
	var sb strings.Builder
	sb.WriteString("Request:\n")
	sb.WriteString(rc.UserMessage)
	for _, out := range rc.Outputs {
		fmt.Fprintf(&sb, "\n\nResult of the %s stage:\n%s", out.Stage, out.Text)
	}
	return sb.String()
}

func (p *Pipeline) runStage(ctx context.Context, rc *RunContext, st *compiledStage, emitter *events.Emitter) (string, error) {
	env := &tools.Env{Sandbox: rc.Sandbox, RecordFiles: rc.recordFiles}
	messages := []model.Message{model.Text(model.RoleUser, p.prompt(rc))}

	for step := 0; ; step++ {
		if step >= p.maxSteps {
			return "", &domain.EscalationError{Stage: st.Name, Reason: fmt.Sprintf("step budget of %d exhausted", p.maxSteps)}
		}

		msg, err := p.callModel(ctx, st, messages)
		if err != nil {
			return "", &domain.EscalationError{Stage: st.Name, Reason: "model call failed", Err: err}
		}

		calls := msg.ToolCalls()
		if len(calls) == 0 {
			text := msg.Text()
			if st.Postprocess != nil {
				text = st.Postprocess(text)
			}
			slog.Debug("Stage finished", "stage", st.Name, "steps", step+1)
			return text, nil
		}
		messages = append(messages, msg)

		results := make([]model.Content, 0, len(calls))
		for _, call := range calls {
			if call.Name == tools.EscalateName {
				reason, _ := call.Input["reason"].(string)
				if reason == "" {
					reason = "No specific message."
				}
				return "", &domain.EscalationError{Stage: st.Name, Reason: reason}
			}

			if err := emitter.Emit(ctx, p.translator.Translate(call.Name, call.Input)); err != nil {
				return "", fmt.Errorf("emitting tool event: %w", err)
			}
			results = append(results, model.Content{
				Type:       model.ContentTypeToolResult,
				ToolResult: p.execute(ctx, env, st, call),
			})
		}
		messages = append(messages, model.Message{Role: model.RoleTool, Content: results})
	}
}

func (p *Pipeline) callModel(ctx context.Context, st *compiledStage, messages []model.Message) (model.Message, error) {
	stream, err := p.provider.Stream(ctx, st.Model, st.Instructions, messages, st.specs)
	if err != nil {
		return model.Message{}, fmt.Errorf("streaming model: %w", err)
	}
	defer stream.Close()

	msg, err := stream.FullMessage()
	if err != nil {
		return model.Message{}, fmt.Errorf("getting model response: %w", err)
	}
	return msg, nil
}

// execute runs one tool call. Errors become error results the model can read.
func (p *Pipeline) execute(ctx context.Context, env *tools.Env, st *compiledStage, call *model.ToolCall) *model.ToolResult {
	result := &model.ToolResult{ToolCallID: call.ID, Name: call.Name}
	tool, ok := st.tools[call.Name]
	if !ok {
		result.Content = fmt.Sprintf("Error: unknown tool: %s", call.Name)
		result.IsError = true
		return result
	}
	out, err := tool.Execute(ctx, env, call.Input)
	if err != nil {
		result.Content = fmt.Sprintf("Error: %v", err)
		result.IsError = true
		return result
	}
	result.Content = out
	return result
}
