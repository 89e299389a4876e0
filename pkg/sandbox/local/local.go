// Package local implements the sandbox contract with plain directories and
// host processes. It is meant for development and tests; commands run
// unisolated on the host.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/nstogner/agentx/pkg/sandbox"
)

// Provider keeps one directory per sandbox below Root.
type Provider struct {
	Root string
	// HostName is reported by Environment.Host. Defaults to 127.0.0.1.
	HostName string
}

var _ sandbox.Provider = (*Provider)(nil)

// New creates a Provider rooted at dir.
func New(dir string) (*Provider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sandbox root: %w", err)
	}
	return &Provider{Root: dir, HostName: "127.0.0.1"}, nil
}

func (p *Provider) Create(ctx context.Context, template string) (sandbox.Environment, error) {
	id := "local-" + uuid.NewString()
	dir := filepath.Join(p.Root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sandbox dir: %w", err)
	}
	// Keep the template name around for debugging.
	if err := os.WriteFile(filepath.Join(p.Root, id+".template"), []byte(template), 0o644); err != nil {
		return nil, fmt.Errorf("recording template: %w", err)
	}
	return &Environment{id: id, dir: dir, host: p.HostName}, nil
}

func (p *Provider) Connect(ctx context.Context, id string) (sandbox.Environment, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, fmt.Errorf("invalid sandbox id %q", id)
	}
	dir := filepath.Join(p.Root, id)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("sandbox %s: %w", id, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox %s is not a directory", id)
	}
	return &Environment{id: id, dir: dir, host: p.HostName}, nil
}

// Environment is a sandbox directory.
type Environment struct {
	id   string
	dir  string
	host string
}

var _ sandbox.Environment = (*Environment)(nil)

func (e *Environment) ID() string { return e.id }

func (e *Environment) Run(ctx context.Context, cmd string, onStdout, onStderr sandbox.OutputFunc) (*sandbox.CommandResult, error) {
	var stdout, stderr strings.Builder
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.Dir = e.dir
	c.Stdout = &streamWriter{buf: &stdout, fn: onStdout}
	c.Stderr = &streamWriter{buf: &stderr, fn: onStderr}

	err := c.Run()
	res := &sandbox.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("running command: %w", err)
	}
	return res, nil
}

type streamWriter struct {
	buf *strings.Builder
	fn  sandbox.OutputFunc
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if w.fn != nil {
		w.fn(string(p))
	}
	return len(p), nil
}

func (e *Environment) resolve(p string) (string, error) {
	full := filepath.Join(e.dir, filepath.FromSlash(p))
	rel, err := filepath.Rel(e.dir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the sandbox", p)
	}
	return full, nil
}

func (e *Environment) WriteFile(ctx context.Context, p string, content []byte) error {
	full, err := e.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, content, 0o644)
}

func (e *Environment) ReadFile(ctx context.Context, p string) ([]byte, error) {
	full, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (e *Environment) List(ctx context.Context, p string, depth int) ([]sandbox.Entry, error) {
	root, err := e.resolve(p)
	if err != nil {
		return nil, err
	}
	var entries []sandbox.Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if strings.Count(rel, string(filepath.Separator))+1 > depth {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		sandboxPath, _ := filepath.Rel(e.dir, path)
		entry := sandbox.Entry{Name: d.Name(), Path: filepath.ToSlash(sandboxPath), IsDir: d.IsDir()}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				entry.Size = info.Size()
			}
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (e *Environment) Host(ctx context.Context, port int) (string, error) {
	if e.host == "" {
		return "", errors.New("no host configured")
	}
	return fmt.Sprintf("%s:%d", e.host, port), nil
}
