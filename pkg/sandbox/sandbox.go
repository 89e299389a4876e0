package sandbox

import "context"

// DefaultServicePort is the port the generated application listens on inside
// a sandbox. Its public address is what a completed run reports as the URL.
const DefaultServicePort = 3000

// File is one sandbox file with its content.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Entry describes a node returned by a directory listing.
type Entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

// CommandResult is the outcome of a command that ran to completion.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// OutputFunc receives command output as it is produced.
type OutputFunc func(chunk string)

// Provider creates and reattaches remote execution environments.
type Provider interface {
	// Create starts a brand-new environment from the given template.
	Create(ctx context.Context, template string) (Environment, error)

	// Connect reattaches to an existing environment. It fails if the
	// environment is gone or cannot be made reachable.
	Connect(ctx context.Context, id string) (Environment, error)
}

// Environment is a live sandbox.
type Environment interface {
	// ID returns the stable identity of the environment.
	ID() string

	// Run executes a shell command, streaming output to the callbacks (either
	// may be nil). A non-zero exit is reported in the result, not as an error;
	// the error is reserved for failures to run the command at all.
	Run(ctx context.Context, cmd string, onStdout, onStderr OutputFunc) (*CommandResult, error)

	// WriteFile creates or replaces a file, creating parent directories.
	WriteFile(ctx context.Context, path string, content []byte) error

	// ReadFile returns the content of a file.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// List returns the entries below path up to depth levels deep.
	List(ctx context.Context, path string, depth int) ([]Entry, error)

	// Host returns the externally reachable host:port for a port inside the
	// environment.
	Host(ctx context.Context, port int) (string, error)
}
