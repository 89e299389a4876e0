package domain

import (
	"maps"
	"time"
)

// Slot names a field of the session blackboard that a pipeline stage fills.
type Slot string

const (
	SlotSummary Slot = "summary"
	SlotTitle   Slot = "title"
	SlotFiles   Slot = "files"
)

// SessionKey addresses one session state. SessionID is the project ID.
type SessionKey struct {
	App       string `json:"app"`
	User      string `json:"user"`
	SessionID string `json:"session_id"`
}

// SessionState is the scratch state shared by the stages of a pipeline and
// carried over between runs of the same project. Every slot is last-write-wins.
type SessionState struct {
	Summary   string            `json:"summary"`
	Title     string            `json:"title"`
	Files     map[string]string `json:"files"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewSessionState returns a state with every slot empty.
func NewSessionState() *SessionState {
	return &SessionState{Files: map[string]string{}}
}

// Text returns the value of a text slot. Files is not a text slot.
func (s *SessionState) Text(slot Slot) string {
	switch slot {
	case SlotSummary:
		return s.Summary
	case SlotTitle:
		return s.Title
	}
	return ""
}

// SetText overwrites a text slot. It reports false for slots that do not hold text.
func (s *SessionState) SetText(slot Slot, value string) bool {
	switch slot {
	case SlotSummary:
		s.Summary = value
	case SlotTitle:
		s.Title = value
	default:
		return false
	}
	return true
}

// MergeFiles records written files in the files slot, replacing existing
// content for the same paths.
func (s *SessionState) MergeFiles(files map[string]string) {
	if s.Files == nil {
		s.Files = make(map[string]string, len(files))
	}
	maps.Copy(s.Files, files)
}

// Clone returns a deep copy.
func (s *SessionState) Clone() *SessionState {
	c := *s
	c.Files = maps.Clone(s.Files)
	if c.Files == nil {
		c.Files = map[string]string{}
	}
	return &c
}
