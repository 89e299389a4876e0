package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nstogner/agentx/pkg/sandbox"
)

// Kind classifies what a tool does to the sandbox. The set is closed.
type Kind string

const (
	KindTerminal  Kind = "terminal"
	KindFileWrite Kind = "file_write"
	KindFileRead  Kind = "file_read"
	KindMessage   Kind = "message"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindTerminal, KindFileWrite, KindFileRead, KindMessage:
		return true
	}
	return false
}

// EscalateName is reserved for the signal a stage uses to abort its run.
const EscalateName = "escalate"

// Env is what a tool can act on during a run.
type Env struct {
	Sandbox *sandbox.Manager
	// RecordFiles is called with files the tool wrote, keyed by path.
	RecordFiles func(files map[string]string)
}

// Tool defines the interface that all agent tools must implement.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any // Simple representation of JSON schema
	Kind() Kind
	// Targets returns the paths a file tool touches, or the command text of a
	// terminal tool. It must not have side effects.
	Targets(input map[string]any) []string
	// Execute runs the tool. Sandbox failures are reported in the returned
	// text; the error is for malformed input.
	Execute(ctx context.Context, env *Env, input map[string]any) (string, error)
}

var (
	ErrUnknownTool   = errors.New("unknown tool")
	ErrDuplicateTool = errors.New("duplicate tool")
)

// Registry manages the available tools.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a new, empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	switch {
	case name == "":
		return errors.New("tool has no name")
	case name == EscalateName:
		return fmt.Errorf("tool name %q is reserved", name)
	case !t.Kind().Valid():
		return fmt.Errorf("tool %s: invalid kind %q", name, t.Kind())
	}
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Resolve looks up every name, failing on the first unknown one.
func (r *Registry) Resolve(names ...string) ([]Tool, error) {
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTool, n)
		}
		out = append(out, t)
	}
	return out, nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
