package docker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nstogner/agentx/pkg/sandbox"
)

// setupProvider creates a provider and a sandbox, skipping when docker or
// the sandbox image is unavailable.
func setupProvider(t *testing.T) (*Provider, sandbox.Environment) {
	t.Helper()
	p, err := New(Config{})
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		t.Skipf("Docker daemon not responsive: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	env, err := p.Create(ctx, sandbox.DefaultTemplate)
	if err != nil {
		t.Skipf("Sandbox image not available: %v", err)
	}
	t.Cleanup(func() {
		ctx, c := context.WithTimeout(context.Background(), 30*time.Second)
		defer c()
		p.Remove(ctx, env.ID())
	})
	return p, env
}

func TestIntegrationRunAndFiles(t *testing.T) {
	p, env := setupProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := env.Run(ctx, "echo hello; echo oops >&2; exit 2", nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" || strings.TrimSpace(res.Stderr) != "oops" || res.ExitCode != 2 {
		t.Errorf("unexpected result: %+v", res)
	}

	if err := env.WriteFile(ctx, "app/page.tsx", []byte("export default 1")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	b, err := env.ReadFile(ctx, "app/page.tsx")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(b) != "export default 1" {
		t.Errorf("round trip mismatch: %q", b)
	}

	entries, err := env.List(ctx, "app", 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "app/page.tsx" {
		t.Errorf("unexpected entries: %+v", entries)
	}

	again, err := p.Connect(ctx, env.ID())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if again.ID() != env.ID() {
		t.Errorf("expected %s, got %s", env.ID(), again.ID())
	}
}

func TestIntegrationConnectUnknown(t *testing.T) {
	p, err := New(Config{})
	if err != nil {
		t.Skipf("Docker not available: %v", err)
	}
	defer p.Close()

	ctx, c := context.WithTimeout(context.Background(), 10*time.Second)
	defer c()
	if err := p.Ping(ctx); err != nil {
		t.Skipf("Docker daemon not responsive: %v", err)
	}
	if _, err := p.Connect(ctx, "agentx-sandbox-does-not-exist"); err == nil {
		t.Fatal("expected error for unknown sandbox")
	}
}
