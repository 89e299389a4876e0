package domain

import "time"

// Project is the root aggregate of one conversation. It owns the message log
// and the identity of the sandbox its artifacts live in.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SandboxID string    `json:"sandbox_id,omitempty"` // empty until the first run
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one entry of a project's append-only conversation log.
type Message struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"project_id"`
	Role      Role        `json:"role"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Fragment  *Fragment   `json:"fragment,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Fragment is the artifact produced by one assistant turn. A message has at
// most one fragment.
type Fragment struct {
	ID         string            `json:"id"`
	MessageID  string            `json:"message_id"`
	Title      string            `json:"title"`
	Files      map[string]string `json:"files"`
	SandboxURL string            `json:"sandbox_url"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ProjectDetails is a project together with its ordered message log.
type ProjectDetails struct {
	Project
	Messages []Message `json:"messages"`
}

// Model represents an available LLM model.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}
