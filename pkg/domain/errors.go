package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProjectNotFound is returned when a caller references an unknown project.
	ErrProjectNotFound = errors.New("project not found")

	// ErrSessionNotFound is returned by session stores when no state exists for a key.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionMissing means the session state vanished while a run was in
	// flight. It is a contract violation and is never masked.
	ErrSessionMissing = errors.New("session state missing after run")

	// ErrSandboxUnavailable means a sandbox could neither be reattached nor created.
	ErrSandboxUnavailable = errors.New("sandbox unavailable")
)

// EscalationError aborts a pipeline run. It is recorded as an error message
// and surfaced to the stream as a single error frame.
type EscalationError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *EscalationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s escalated: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("stage %s escalated: %s", e.Stage, e.Reason)
}

func (e *EscalationError) Unwrap() error { return e.Err }
