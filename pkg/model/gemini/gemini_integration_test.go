package gemini_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nstogner/agentx/pkg/model"
	"github.com/nstogner/agentx/pkg/model/gemini"
)

func setupProvider(t *testing.T) *gemini.Provider {
	t.Helper()
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping: GEMINI_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	provider, err := gemini.New(ctx, apiKey)
	if err != nil {
		t.Fatalf("gemini.New: %v", err)
	}
	return provider
}

// TestIntegrationGeminiListModels verifies that List returns available models.
func TestIntegrationGeminiListModels(t *testing.T) {
	p := setupProvider(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	models, err := p.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(models) == 0 {
		t.Fatal("No models found")
	}
	for _, m := range models {
		if m.ID == "" {
			t.Error("Model has empty ID")
		}
	}
}

// TestIntegrationGeminiToolCall verifies the model calls a declared tool.
func TestIntegrationGeminiToolCall(t *testing.T) {
	p := setupProvider(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	tools := []model.ToolSpec{{
		Name:        "_run_terminal",
		Description: "Run a shell command.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"command": map[string]any{"type": "string"}},
			"required":   []string{"command"},
		},
	}}
	stream, err := p.Stream(ctx, "gemini-2.5-flash", "Always use the _run_terminal tool.",
		[]model.Message{model.Text(model.RoleUser, "List the files in the current directory.")}, tools)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	msg, err := stream.FullMessage()
	if err != nil {
		t.Fatalf("FullMessage: %v", err)
	}
	calls := msg.ToolCalls()
	if len(calls) == 0 {
		t.Fatalf("expected a tool call, got %q", msg.Text())
	}
	if calls[0].Name != "_run_terminal" {
		t.Errorf("tool = %q", calls[0].Name)
	}
}
