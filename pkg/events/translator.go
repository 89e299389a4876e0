package events

import "github.com/nstogner/agentx/pkg/tools"

// Action is the kind of a frame on the event stream.
type Action string

const (
	ActionFileWrite Action = Action(tools.KindFileWrite)
	ActionFileRead  Action = Action(tools.KindFileRead)
	ActionTerminal  Action = Action(tools.KindTerminal)
	ActionMessage   Action = Action(tools.KindMessage)
	ActionComplete  Action = "complete"
	ActionError     Action = "error"
)

// Terminal reports whether a frame of this action ends the stream.
func (a Action) Terminal() bool {
	return a == ActionComplete || a == ActionError
}

// Event is a classified tool call.
type Event struct {
	Action  Action
	Message string
	Data    map[string]any
}

// Translator classifies tool calls using the kinds declared in a registry.
// Translate has no side effects, so replaying a call yields the same event.
type Translator struct {
	registry *tools.Registry
}

// NewTranslator creates a Translator over the given registry.
func NewTranslator(registry *tools.Registry) *Translator {
	return &Translator{registry: registry}
}

// Translate classifies one tool call. Names the registry does not know and
// tools of the message kind map to a plain progress event.
func (t *Translator) Translate(name string, args map[string]any) Event {
	tool, ok := t.registry.Get(name)
	if !ok {
		return Event{Action: ActionMessage, Message: "Thinking..."}
	}

	switch tool.Kind() {
	case tools.KindFileWrite:
		return Event{
			Action:  ActionFileWrite,
			Message: "Updating files...",
			Data:    map[string]any{"files": nonNil(tool.Targets(args))},
		}
	case tools.KindFileRead:
		return Event{
			Action:  ActionFileRead,
			Message: "Reading files...",
			Data:    map[string]any{"files": nonNil(tool.Targets(args))},
		}
	case tools.KindTerminal:
		cmd := ""
		if targets := tool.Targets(args); len(targets) > 0 {
			cmd = targets[0]
		}
		return Event{
			Action:  ActionTerminal,
			Message: "Executing terminal command...",
			Data:    map[string]any{"command": cmd},
		}
	}
	return Event{Action: ActionMessage, Message: "Thinking..."}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
