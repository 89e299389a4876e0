package store

import (
	"context"

	"github.com/nstogner/agentx/pkg/domain"
)

// ProjectStore manages the persistence of projects.
type ProjectStore interface {
	// CreateProject persists a new project. The ID and Name fields must be set
	// by the caller.
	CreateProject(ctx context.Context, p *domain.Project) error

	// GetProject retrieves a project by ID.
	// Returns domain.ErrProjectNotFound if the project does not exist.
	GetProject(ctx context.Context, id string) (*domain.Project, error)

	// ListProjects returns all projects, ordered by creation time descending.
	ListProjects(ctx context.Context) ([]domain.Project, error)

	// CountProjects returns the number of projects.
	CountProjects(ctx context.Context) (int, error)

	// UpdateSandboxID records the sandbox a project's artifacts live in.
	UpdateSandboxID(ctx context.Context, projectID, sandboxID string) error
}

// MessageStore manages the append-only conversation log of a project.
type MessageStore interface {
	// AppendMessage adds a message to the end of the project's log.
	AppendMessage(ctx context.Context, projectID string, role domain.Role, typ domain.MessageType, content string) (*domain.Message, error)

	// ListMessages returns the project's messages in insertion order, each
	// with its fragment if it has one.
	ListMessages(ctx context.Context, projectID string) ([]domain.Message, error)

	// AttachFragment stores the artifact of a message. Attaching to a message
	// that already has a fragment replaces it.
	AttachFragment(ctx context.Context, messageID, title string, files map[string]string, sandboxURL string) (*domain.Fragment, error)
}

// SessionStore keeps the per-project scratch state shared by pipeline stages.
// Writes to the same key are serialized; UpdateSession applies fn to the
// latest persisted state.
type SessionStore interface {
	// CreateOrGetSession returns the state stored under key, creating it from
	// initial if absent.
	CreateOrGetSession(ctx context.Context, key domain.SessionKey, initial *domain.SessionState) (*domain.SessionState, error)

	// GetSession returns the state stored under key.
	// Returns domain.ErrSessionNotFound if there is none.
	GetSession(ctx context.Context, key domain.SessionKey) (*domain.SessionState, error)

	// UpdateSession applies fn to the stored state and persists the result.
	// Returns domain.ErrSessionNotFound if there is no state to update.
	UpdateSession(ctx context.Context, key domain.SessionKey, fn func(*domain.SessionState) error) (*domain.SessionState, error)
}
