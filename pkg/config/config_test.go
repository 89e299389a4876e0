package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GEMINI_API_KEY", "k")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Session.Backend)
	assert.Equal(t, "agentX-test", cfg.Sandbox.Template)
	assert.Equal(t, 3000, cfg.Sandbox.ServicePort)
	assert.Equal(t, 30, cfg.Pipeline.MaxSteps)
	assert.Equal(t, int64(4), cfg.Pipeline.MaxConcurrentRuns)
	assert.Equal(t, 15*time.Minute, cfg.Pipeline.RunTimeout)
	assert.Equal(t, "k", cfg.Model.APIKey)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  provider: scripted
sandbox:
  provider: local
  servicePort: 8000
  docker:
    images:
      agentX-test: node:22
pipeline:
  maxSteps: 12
`), 0o644))
	t.Setenv("AGENTX_PIPELINE_MAXSTEPS", "7")
	t.Setenv("AGENTX_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "scripted", cfg.Model.Provider)
	assert.Equal(t, "local", cfg.Sandbox.Provider)
	assert.Equal(t, 8000, cfg.Sandbox.ServicePort)
	assert.Equal(t, "node:22", cfg.Sandbox.Docker.Images["agentx-test"])
	assert.Equal(t, 7, cfg.Pipeline.MaxSteps)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadNormalizesEnumCase(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AGENTX_SANDBOX_PROVIDER", "Local")
	t.Setenv("AGENTX_MODEL_PROVIDER", " Scripted")
	t.Setenv("AGENTX_SESSION_BACKEND", "JSONL")
	t.Setenv("AGENTX_LOGGING_FORMAT", "Json")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Sandbox.Provider)
	assert.Equal(t, "scripted", cfg.Model.Provider)
	assert.Equal(t, "jsonl", cfg.Session.Backend)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestValidateIsCaseSensitive(t *testing.T) {
	cfg := Config{
		Session:  SessionConfig{Backend: "sqlite"},
		Sandbox:  SandboxConfig{Provider: "Local", ServicePort: 3000},
		Model:    ModelConfig{Provider: "scripted"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Path: "x.db"},
		Pipeline: PipelineConfig{MaxSteps: 1, MaxConcurrentRuns: 1},
	}
	assert.ErrorContains(t, cfg.Validate(), "sandbox.provider")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Config{
		Session:  SessionConfig{Backend: "redis"},
		Sandbox:  SandboxConfig{Provider: "local", ServicePort: 0},
		Model:    ModelConfig{Provider: "gemini"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Path: "x.db"},
		Pipeline: PipelineConfig{MaxSteps: 1, MaxConcurrentRuns: 1},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "session.backend")
	assert.ErrorContains(t, err, "sandbox.servicePort")
	assert.ErrorContains(t, err, "model.apiKey")
}

func TestLoggingHandler(t *testing.T) {
	var buf bytes.Buffer
	h := LoggingConfig{Level: "warn", Format: "json"}.Handler(&buf)
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	slog.New(h).Warn("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}
