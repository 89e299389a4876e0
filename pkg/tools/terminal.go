package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// --- Terminal Tool ---

type TerminalTool struct{}

func (t *TerminalTool) Name() string { return "_run_terminal" }
func (t *TerminalTool) Kind() Kind   { return KindTerminal }

func (t *TerminalTool) Description() string {
	return "Run a shell command in the sandbox and return its output. Arguments: command (string)."
}

func (t *TerminalTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "The shell command to run."},
		},
		"required": []string{"command"},
	}
}

func (t *TerminalTool) Targets(input map[string]any) []string {
	cmd, _ := input["command"].(string)
	return []string{cmd}
}

func (t *TerminalTool) Execute(ctx context.Context, env *Env, input map[string]any) (string, error) {
	cmd, _ := input["command"].(string)
	if strings.TrimSpace(cmd) == "" {
		return "", fmt.Errorf("argument 'command' is required and must be a string")
	}
	slog.Info("Running command", "command", cmd)
	return env.Sandbox.RunCommand(ctx, cmd), nil
}

// --- Health Check Tool ---

type HealthCheckTool struct{}

func (t *HealthCheckTool) Name() string { return "_check_health" }
func (t *HealthCheckTool) Kind() Kind   { return KindMessage }

func (t *HealthCheckTool) Description() string {
	return "Check that the app is serving, builds and type-checks. Returns the first problem found."
}

func (t *HealthCheckTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *HealthCheckTool) Targets(map[string]any) []string { return nil }

func (t *HealthCheckTool) Execute(ctx context.Context, env *Env, input map[string]any) (string, error) {
	d := env.Sandbox.HealthCheck(ctx)
	if d == nil {
		return "All checks passed.", nil
	}
	return fmt.Sprintf("Health check failed at %s: %s", d.Step, d.Message), nil
}

// Builtins returns a registry holding every built-in sandbox tool.
func Builtins() *Registry {
	r := NewRegistry()
	r.MustRegister(&TerminalTool{})
	r.MustRegister(&WriteFilesTool{})
	r.MustRegister(&ReadFilesTool{})
	r.MustRegister(&ListFilesTool{})
	r.MustRegister(&HealthCheckTool{})
	return r
}
