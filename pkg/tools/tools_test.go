package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/nstogner/agentx/pkg/sandbox"
	"github.com/nstogner/agentx/pkg/sandbox/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnv(t *testing.T) (*Env, map[string]string) {
	t.Helper()
	p, err := local.New(t.TempDir())
	require.NoError(t, err)
	m := sandbox.NewManager(p, sandbox.Options{PortCommand: "true"})
	_, err = m.Connect(context.Background(), "")
	require.NoError(t, err)
	recorded := map[string]string{}
	return &Env{Sandbox: m, RecordFiles: func(f map[string]string) {
		for k, v := range f {
			recorded[k] = v
		}
	}}, recorded
}

func TestRegistryRejectsBadTools(t *testing.T) {
	r := Builtins()
	assert.ErrorIs(t, r.Register(&TerminalTool{}), ErrDuplicateTool)

	_, err := r.Resolve("_run_terminal", "_deploy")
	assert.ErrorIs(t, err, ErrUnknownTool)

	resolved, err := r.Resolve("_read_files", "_run_terminal")
	require.NoError(t, err)
	assert.Equal(t, "_read_files", resolved[0].Name())
	assert.Equal(t, "_run_terminal", resolved[1].Name())
}

type fakeTool struct {
	name string
	kind Kind
}

func (f fakeTool) Name() string                    { return f.name }
func (f fakeTool) Description() string             { return "" }
func (f fakeTool) InputSchema() map[string]any     { return nil }
func (f fakeTool) Kind() Kind                      { return f.kind }
func (f fakeTool) Targets(map[string]any) []string { return nil }
func (f fakeTool) Execute(context.Context, *Env, map[string]any) (string, error) {
	return "", nil
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(fakeTool{name: "", kind: KindMessage}))
	assert.Error(t, r.Register(fakeTool{name: EscalateName, kind: KindMessage}))
	assert.Error(t, r.Register(fakeTool{name: "x", kind: "deploy"}))
	assert.NoError(t, r.Register(fakeTool{name: "x", kind: KindMessage}))
	assert.Equal(t, []string{"x"}, r.Names())
}

func TestWriteAndReadFiles(t *testing.T) {
	ctx := context.Background()
	env, recorded := newEnv(t)

	input := map[string]any{"files": []any{
		map[string]any{"path": "/app/page.tsx", "content": "export default 1"},
	}}
	w := &WriteFilesTool{}
	assert.Equal(t, []string{"/app/page.tsx"}, w.Targets(input))

	out, err := w.Execute(ctx, env, input)
	require.NoError(t, err)
	assert.Equal(t, "Files written: app/page.tsx", out)
	assert.Equal(t, map[string]string{"app/page.tsx": "export default 1"}, recorded)

	out, err = (&ReadFilesTool{}).Execute(ctx, env, map[string]any{"paths": []any{"app/page.tsx"}})
	require.NoError(t, err)
	assert.Contains(t, out, `"content":"export default 1"`)

	out, err = (&ReadFilesTool{}).Execute(ctx, env, map[string]any{"paths": []any{"missing"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "File read failed: "))

	out, err = (&ListFilesTool{}).Execute(ctx, env, map[string]any{"path": "/", "depth": float64(2)})
	require.NoError(t, err)
	assert.Contains(t, out, "app/\n")
	assert.Contains(t, out, "app/page.tsx\n")
}

func TestWriteFilesRejectsBadInput(t *testing.T) {
	env, _ := newEnv(t)
	_, err := (&WriteFilesTool{}).Execute(context.Background(), env, map[string]any{"files": "nope"})
	assert.Error(t, err)
	_, err = (&WriteFilesTool{}).Execute(context.Background(), env, map[string]any{})
	assert.Error(t, err)
}

func TestTerminal(t *testing.T) {
	ctx := context.Background()
	env, _ := newEnv(t)
	term := &TerminalTool{}

	assert.Equal(t, []string{"ls -la"}, term.Targets(map[string]any{"command": "ls -la"}))

	out, err := term.Execute(ctx, env, map[string]any{"command": "echo ok"})
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	out, err = term.Execute(ctx, env, map[string]any{"command": "echo half; exit 1"})
	require.NoError(t, err)
	assert.Contains(t, out, "Command execution failed")
	assert.Contains(t, out, "Stdout: half")

	_, err = term.Execute(ctx, env, map[string]any{})
	assert.Error(t, err)
}

func TestHealthCheckTool(t *testing.T) {
	env, _ := newEnv(t)
	out, err := (&HealthCheckTool{}).Execute(context.Background(), env, nil)
	require.NoError(t, err)
	// Default build and type-check commands are unset in the test manager.
	assert.Equal(t, "All checks passed.", out)
}

func TestBuiltinsNames(t *testing.T) {
	assert.Equal(t, []string{
		"_check_health", "_create_or_update_files", "_list_files", "_read_files", "_run_terminal",
	}, Builtins().Names())
}
