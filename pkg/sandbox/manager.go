package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nstogner/agentx/pkg/domain"
)

// DefaultTemplate is the environment template new sandboxes are created from.
const DefaultTemplate = "agentX-test"

// Options configure a Manager.
type Options struct {
	// Template is passed to Provider.Create when a new environment is needed.
	Template string
	// ServicePort is the in-sandbox port the generated app serves on.
	ServicePort int
	// PortCommand exits zero when something listens on ServicePort. Empty
	// uses a netstat probe.
	PortCommand string
	// BuildCommand and TypeCheckCommand are the diagnostics HealthCheck runs
	// after verifying the service port. Empty skips the step.
	BuildCommand     string
	TypeCheckCommand string
	// OnReplace is called when Connect had to create a new environment in
	// place of a requested one.
	OnReplace func(oldID, newID string)
}

// DefaultOptions returns the options used for the generated web projects.
func DefaultOptions() Options {
	return Options{
		Template:         DefaultTemplate,
		ServicePort:      DefaultServicePort,
		BuildCommand:     "npm run build --if-present",
		TypeCheckCommand: "npx --no-install tsc --noEmit",
	}
}

// Diagnostic is the first failing health check step.
type Diagnostic struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

// Manager owns the lifecycle of one execution's sandbox. Every operation other
// than Connect and Attach degrades failures into descriptive text so the
// result can be handed back to the model as-is.
type Manager struct {
	provider Provider
	opts     Options

	mu  sync.Mutex
	env Environment
}

// NewManager creates a Manager bound to no environment.
func NewManager(provider Provider, opts Options) *Manager {
	if opts.Template == "" {
		opts.Template = DefaultTemplate
	}
	if opts.ServicePort == 0 {
		opts.ServicePort = DefaultServicePort
	}
	return &Manager{provider: provider, opts: opts}
}

// Connect reattaches to id, falling back to a brand-new environment if id is
// empty or unreachable. It returns the identity of the bound environment.
// Calling it again with the returned identity is a no-op.
func (m *Manager) Connect(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.env != nil && id != "" && m.env.ID() == id {
		return id, nil
	}

	if id != "" {
		env, err := m.provider.Connect(ctx, id)
		if err == nil {
			m.env = env
			return env.ID(), nil
		}
		slog.Warn("Reattaching sandbox failed, creating a new one", "sandboxID", id, "error",
			fmt.Errorf("%w: %w", domain.ErrSandboxUnavailable, err))
	}

	env, err := m.provider.Create(ctx, m.opts.Template)
	if err != nil {
		return "", fmt.Errorf("%w: creating sandbox from %q: %w", domain.ErrSandboxUnavailable, m.opts.Template, err)
	}
	m.env = env
	slog.Info("Sandbox created", "sandboxID", env.ID(), "template", m.opts.Template)
	if id != "" && m.opts.OnReplace != nil {
		m.opts.OnReplace(id, env.ID())
	}
	return env.ID(), nil
}

// Attach reattaches to id without falling back to creation.
func (m *Manager) Attach(ctx context.Context, id string) error {
	if id == "" {
		return domain.ErrSandboxUnavailable
	}
	env, err := m.provider.Connect(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSandboxUnavailable, err)
	}
	m.mu.Lock()
	m.env = env
	m.mu.Unlock()
	return nil
}

// ID returns the identity of the bound environment, or "".
func (m *Manager) ID() string {
	env := m.current()
	if env == nil {
		return ""
	}
	return env.ID()
}

func (m *Manager) current() Environment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.env
}

var errNotConnected = errors.New("sandbox not connected")

// RunCommand runs cmd and returns its stdout. Failures are reported as text
// that embeds whatever output was captured.
func (m *Manager) RunCommand(ctx context.Context, cmd string) string {
	var stdout, stderr strings.Builder
	res, err := m.run(ctx, cmd, &stdout, &stderr)
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("exit status %d", res.ExitCode)
	}
	if err != nil {
		slog.Debug("Sandbox command failed", "command", cmd, "error", err)
		return fmt.Sprintf("Command execution failed: %v\nStdout: %s\nStderr: %s", err, stdout.String(), stderr.String())
	}
	return stdout.String()
}

func (m *Manager) run(ctx context.Context, cmd string, stdout, stderr *strings.Builder) (*CommandResult, error) {
	env := m.current()
	if env == nil {
		return nil, errNotConnected
	}
	res, err := env.Run(ctx, cmd,
		func(s string) { stdout.WriteString(s) },
		func(s string) { stderr.WriteString(s) },
	)
	if err != nil {
		return nil, err
	}
	// Providers that do not stream still report the full output.
	if stdout.Len() == 0 && res.Stdout != "" {
		stdout.WriteString(res.Stdout)
	}
	if stderr.Len() == 0 && res.Stderr != "" {
		stderr.WriteString(res.Stderr)
	}
	return res, nil
}

// NormalizePath strips one leading path separator.
func NormalizePath(p string) string {
	return strings.TrimPrefix(p, "/")
}

// WriteFiles writes files in order and returns the normalized list written.
// Files written before a failure stay written.
func (m *Manager) WriteFiles(ctx context.Context, files []File) Result[[]File] {
	env := m.current()
	if env == nil {
		return Err[[]File]("File write failed: " + errNotConnected.Error())
	}
	written := make([]File, 0, len(files))
	for _, f := range files {
		p := NormalizePath(f.Path)
		if err := env.WriteFile(ctx, p, []byte(f.Content)); err != nil {
			return Err[[]File](fmt.Sprintf("File write failed: %v", err))
		}
		written = append(written, File{Path: p, Content: f.Content})
	}
	return Ok(written)
}

// ReadFiles reads the given paths.
func (m *Manager) ReadFiles(ctx context.Context, paths []string) Result[[]File] {
	env := m.current()
	if env == nil {
		return Err[[]File]("File read failed: " + errNotConnected.Error())
	}
	files := make([]File, 0, len(paths))
	for _, p := range paths {
		p = NormalizePath(p)
		b, err := env.ReadFile(ctx, p)
		if err != nil {
			return Err[[]File](fmt.Sprintf("File read failed: %v", err))
		}
		files = append(files, File{Path: p, Content: string(b)})
	}
	return Ok(files)
}

// ListFiles lists entries below path.
func (m *Manager) ListFiles(ctx context.Context, path string, depth int) Result[[]Entry] {
	env := m.current()
	if env == nil {
		return Err[[]Entry]("File list failed: " + errNotConnected.Error())
	}
	if depth <= 0 {
		depth = 1
	}
	entries, err := env.List(ctx, NormalizePath(path), depth)
	if err != nil {
		return Err[[]Entry](fmt.Sprintf("File list failed: %v", err))
	}
	return Ok(entries)
}

// PublicURL returns the address of the service port, or "" when the sandbox
// has no live binding.
func (m *Manager) PublicURL(ctx context.Context) string {
	env := m.current()
	if env == nil {
		return ""
	}
	host, err := env.Host(ctx, m.opts.ServicePort)
	if err != nil || host == "" {
		slog.Debug("No public host for sandbox", "sandboxID", env.ID(), "error", err)
		return ""
	}
	return "http://" + host
}

// HealthCheck runs the port, build and type-check steps in order and returns
// the first failure, or nil when everything passes.
func (m *Manager) HealthCheck(ctx context.Context) *Diagnostic {
	steps := []struct {
		name string
		cmd  string
	}{
		{"port", m.portCheckCommand()},
		{"build", m.opts.BuildCommand},
		{"typecheck", m.opts.TypeCheckCommand},
	}
	for _, s := range steps {
		if s.cmd == "" {
			continue
		}
		var stdout, stderr strings.Builder
		res, err := m.run(ctx, s.cmd, &stdout, &stderr)
		if err == nil && res.ExitCode == 0 {
			continue
		}
		msg := strings.TrimSpace(stderr.String() + "\n" + stdout.String())
		if err != nil {
			msg = err.Error()
		}
		if s.name == "port" && msg == "" {
			msg = fmt.Sprintf("no process is listening on port %d", m.opts.ServicePort)
		}
		return &Diagnostic{Step: s.name, Message: msg}
	}
	return nil
}

func (m *Manager) portCheckCommand() string {
	if m.opts.PortCommand != "" {
		return m.opts.PortCommand
	}
	p := m.opts.ServicePort
	return fmt.Sprintf("(ss -ltn 2>/dev/null || netstat -ltn 2>/dev/null) | grep -q ':%d '", p)
}
