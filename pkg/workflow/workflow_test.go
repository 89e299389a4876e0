package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/nstogner/agentx/pkg/domain"
	"github.com/nstogner/agentx/pkg/events"
	"github.com/nstogner/agentx/pkg/model"
	"github.com/nstogner/agentx/pkg/model/scripted"
	"github.com/nstogner/agentx/pkg/sandbox"
	"github.com/nstogner/agentx/pkg/sandbox/local"
	"github.com/nstogner/agentx/pkg/store/sqlite"
	"github.com/nstogner/agentx/pkg/tools"
	"github.com/nstogner/agentx/pkg/workflow"
)

type recorder struct {
	mu     sync.Mutex
	frames []events.Frame
}

func (r *recorder) Send(_ context.Context, f events.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) last() events.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[len(r.frames)-1]
}

type fixture struct {
	store *sqlite.Store
	orch  *workflow.Orchestrator
	root  string
}

func newFixture(t *testing.T, respond scripted.RespondFunc, opts ...workflow.PipelineOption) *fixture {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "agentx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	root := t.TempDir()
	provider, err := local.New(root)
	require.NoError(t, err)

	pipe, err := workflow.NewPipeline(tools.Builtins(), scripted.New(respond), st, workflow.DefaultStages("code", "title"), opts...)
	require.NoError(t, err)

	return &fixture{
		store: st,
		root:  root,
		orch: &workflow.Orchestrator{
			Projects: st,
			Messages: st,
			Sessions: st,
			Sandbox:  provider,
			SandboxOptions: sandbox.Options{
				PortCommand: "true",
			},
			Pipeline: pipe,
		},
	}
}

func (f *fixture) project(t *testing.T, id, sandboxID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreateProject(ctx, &domain.Project{ID: id, Name: "New Project 0"}))
	if sandboxID != "" {
		require.NoError(t, f.store.UpdateSandboxID(ctx, id, sandboxID))
	}
}

func TestExecuteLandingPage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scripted.LandingPage())
	f.project(t, "p1", "")

	rec := &recorder{}
	out, err := f.orch.Execute(ctx, "p1", "Create a simple landing page", events.NewEmitter(rec))
	require.NoError(t, err)
	require.False(t, out.Failed())
	assert.Equal(t, workflow.PhaseComplete, out.State.Phase)

	// Three tool calls, then exactly one terminal frame.
	require.Len(t, rec.frames, 4)
	assert.Equal(t, events.ActionFileWrite, rec.frames[0].Action)
	assert.Equal(t, []string{"/index.html"}, rec.frames[0].Data["files"])
	assert.Equal(t, events.ActionTerminal, rec.frames[1].Action)
	assert.Equal(t, "ls", rec.frames[1].Data["command"])
	assert.Equal(t, events.ActionMessage, rec.frames[2].Action)
	assert.Equal(t, "Thinking...", rec.frames[2].Message)

	done := rec.last()
	assert.Equal(t, events.ActionComplete, done.Action)
	assert.Equal(t, "Simple Landing Page", done.Data["title"])
	assert.Equal(t, "Created a simple landing page served on port 3000.", done.Data["summary"])
	assert.True(t, strings.HasPrefix(done.Data["url"].(string), "http://"))
	files := done.Data["files"].(map[string]string)
	require.Contains(t, files, "index.html")
	assert.NotEmpty(t, files["index.html"])
	assert.Equal(t, out.SandboxID, done.Data["sandbox_id"])

	p, err := f.store.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, out.SandboxID, p.SandboxID)

	msgs, err := f.store.ListMessages(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "Create a simple landing page", msgs[0].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, domain.MessageTypeResult, msgs[1].Type)
	require.NotNil(t, msgs[1].Fragment)
	assert.Equal(t, "Simple Landing Page", msgs[1].Fragment.Title)
	assert.Contains(t, msgs[1].Fragment.Files, "index.html")

	state, err := f.store.GetSession(ctx, f.orch.SessionKey("p1"))
	require.NoError(t, err)
	assert.Equal(t, "Simple Landing Page", state.Title)
	assert.Contains(t, state.Summary, "<task_summary>")
}

func TestExecuteReusesSandbox(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scripted.LandingPage())
	f.project(t, "p1", "")

	first, err := f.orch.Execute(ctx, "p1", "one", events.NewEmitter())
	require.NoError(t, err)
	second, err := f.orch.Execute(ctx, "p1", "two", events.NewEmitter())
	require.NoError(t, err)
	assert.Equal(t, first.SandboxID, second.SandboxID)
}

func TestExecuteReplacesUnreachableSandbox(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scripted.LandingPage())
	f.project(t, "p1", "local-gone")

	out, err := f.orch.Execute(ctx, "p1", "build it", events.NewEmitter())
	require.NoError(t, err)
	assert.NotEqual(t, "local-gone", out.SandboxID)
	assert.NotEmpty(t, out.SandboxID)

	p, err := f.store.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, out.SandboxID, p.SandboxID)
}

func TestExecuteEscalation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scripted.Sequence("unused", "unused",
		scripted.Call("c1", "_run_terminal", map[string]any{"command": "echo hi"}),
		scripted.Call("c2", tools.EscalateName, map[string]any{"reason": "cannot reach registry"}),
	))
	f.project(t, "p1", "")

	rec := &recorder{}
	out, err := f.orch.Execute(ctx, "p1", "install things", events.NewEmitter(rec))
	require.NoError(t, err)
	require.True(t, out.Failed())
	assert.Equal(t, "code", out.Escalation.Stage)
	assert.Equal(t, workflow.PhaseFailed, out.State.Phase)

	require.Len(t, rec.frames, 2)
	assert.Equal(t, events.ActionTerminal, rec.frames[0].Action)
	assert.Equal(t, events.ActionError, rec.frames[1].Action)
	assert.Equal(t, "Agent escalated: cannot reach registry", rec.frames[1].Message)

	msgs, err := f.store.ListMessages(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.MessageTypeError, msgs[1].Type)
	assert.Nil(t, msgs[1].Fragment)
}

func TestExecuteProviderErrorEscalates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scripted.Failing("quota exceeded"))
	f.project(t, "p1", "")

	rec := &recorder{}
	out, err := f.orch.Execute(ctx, "p1", "anything", events.NewEmitter(rec))
	require.NoError(t, err)
	require.True(t, out.Failed())
	require.Len(t, rec.frames, 1)
	assert.Equal(t, events.ActionError, rec.frames[0].Action)
	assert.ErrorContains(t, out.Escalation, "quota exceeded")
}

func TestExecuteStepBudget(t *testing.T) {
	ctx := context.Background()
	loop := func(ctx context.Context, _ string, msgs []model.Message, specs []model.ToolSpec) (model.Message, error) {
		if len(specs) == 0 {
			return model.Text(model.RoleAssistant, "never"), nil
		}
		return scripted.Call(fmt.Sprintf("c%d", len(msgs)), "_run_terminal", map[string]any{"command": "true"}), nil
	}
	f := newFixture(t, loop, workflow.WithMaxSteps(3))
	f.project(t, "p1", "")

	rec := &recorder{}
	out, err := f.orch.Execute(ctx, "p1", "spin", events.NewEmitter(rec))
	require.NoError(t, err)
	require.True(t, out.Failed())
	assert.Contains(t, out.Escalation.Reason, "step budget")
	require.Len(t, rec.frames, 4)
	assert.Equal(t, events.ActionError, rec.last().Action)
}

func TestExecuteToolErrorIsFedBack(t *testing.T) {
	ctx := context.Background()
	var seen string
	respond := func(ctx context.Context, _ string, msgs []model.Message, specs []model.ToolSpec) (model.Message, error) {
		if len(specs) == 0 {
			return model.Text(model.RoleAssistant, "Title"), nil
		}
		if scripted.ToolResults(msgs) == 0 {
			return scripted.Call("c1", "_read_files", map[string]any{"paths": []any{}}), nil
		}
		for _, c := range msgs[len(msgs)-1].Content {
			if c.ToolResult != nil {
				seen = c.ToolResult.Content
			}
		}
		return model.Text(model.RoleAssistant, "done"), nil
	}
	f := newFixture(t, respond)
	f.project(t, "p1", "")

	out, err := f.orch.Execute(ctx, "p1", "read", events.NewEmitter())
	require.NoError(t, err)
	assert.False(t, out.Failed())
	assert.True(t, strings.HasPrefix(seen, "Error: "), seen)
}

func TestExecuteUnknownProject(t *testing.T) {
	f := newFixture(t, scripted.LandingPage())
	rec := &recorder{}
	_, err := f.orch.Execute(context.Background(), "nope", "hi", events.NewEmitter(rec))
	assert.ErrorIs(t, err, domain.ErrProjectNotFound)
	require.Len(t, rec.frames, 1)
	assert.Equal(t, events.ActionError, rec.frames[0].Action)
}

// forgetfulSessions loses the session between the stages and completion.
type forgetfulSessions struct {
	*sqlite.Store
}

func (forgetfulSessions) GetSession(context.Context, domain.SessionKey) (*domain.SessionState, error) {
	return nil, domain.ErrSessionNotFound
}

func TestExecuteSessionMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scripted.LandingPage())
	f.orch.Sessions = forgetfulSessions{f.store}
	f.project(t, "p1", "")

	rec := &recorder{}
	_, err := f.orch.Execute(ctx, "p1", "build", events.NewEmitter(rec))
	require.ErrorIs(t, err, domain.ErrSessionMissing)
	assert.Equal(t, events.ActionError, rec.last().Action)
}

func TestNewPipelineRejectsUnknownTool(t *testing.T) {
	stages := workflow.DefaultStages("code", "title")
	stages[0].Tools = append(stages[0].Tools, "_deploy")
	_, err := workflow.NewPipeline(tools.Builtins(), scripted.New(scripted.LandingPage()), nil, stages)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tools.ErrUnknownTool))
}

func TestNewPipelineRejectsDuplicateSlot(t *testing.T) {
	stages := workflow.DefaultStages("code", "title")
	stages[1].Slot = domain.SlotSummary
	_, err := workflow.NewPipeline(tools.Builtins(), scripted.New(scripted.LandingPage()), nil, stages)
	assert.Error(t, err)
}

func TestExecuteConcurrentProjects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scripted.LandingPage())
	ids := []string{"p1", "p2", "p3", "p4"}
	for _, id := range ids {
		f.project(t, id, "")
	}

	var g errgroup.Group
	outs := make([]*workflow.Outcome, len(ids))
	for i, id := range ids {
		g.Go(func() error {
			out, err := f.orch.Execute(ctx, id, "page", events.NewEmitter())
			outs[i] = out
			return err
		})
	}
	require.NoError(t, g.Wait())

	seen := map[string]bool{}
	for i, out := range outs {
		require.False(t, out.Failed(), ids[i])
		assert.False(t, seen[out.SandboxID], "sandbox shared across projects")
		seen[out.SandboxID] = true
	}
}
