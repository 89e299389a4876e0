package domain

// Role defines the author of a conversation message.
type Role string

const (
	// RoleUser indicates a message submitted by the user.
	RoleUser Role = "user"
	// RoleAssistant indicates a message produced by a pipeline run.
	RoleAssistant Role = "assistant"
)

// MessageType distinguishes successful run results from recorded failures.
type MessageType string

const (
	// MessageTypeResult is a normal message (user request or completed run).
	MessageTypeResult MessageType = "result"
	// MessageTypeError records a run that aborted.
	MessageTypeError MessageType = "error"
)
