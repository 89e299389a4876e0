package events

import (
	"testing"

	"github.com/nstogner/agentx/pkg/tools"
	"github.com/stretchr/testify/assert"
)

func TestTranslate(t *testing.T) {
	tr := NewTranslator(tools.Builtins())

	tests := []struct {
		name string
		tool string
		args map[string]any
		want Event
	}{
		{
			name: "file write",
			tool: "_create_or_update_files",
			args: map[string]any{"files": []any{
				map[string]any{"path": "/app/page.tsx", "content": "x"},
				map[string]any{"path": "README.md", "content": "y"},
			}},
			want: Event{Action: ActionFileWrite, Message: "Updating files...",
				Data: map[string]any{"files": []string{"/app/page.tsx", "README.md"}}},
		},
		{
			name: "file read",
			tool: "_read_files",
			args: map[string]any{"paths": []any{"package.json"}},
			want: Event{Action: ActionFileRead, Message: "Reading files...",
				Data: map[string]any{"files": []string{"package.json"}}},
		},
		{
			name: "list files",
			tool: "_list_files",
			args: map[string]any{"path": "src"},
			want: Event{Action: ActionFileRead, Message: "Reading files...",
				Data: map[string]any{"files": []string{"src"}}},
		},
		{
			name: "terminal",
			tool: "_run_terminal",
			args: map[string]any{"command": "npm install"},
			want: Event{Action: ActionTerminal, Message: "Executing terminal command...",
				Data: map[string]any{"command": "npm install"}},
		},
		{
			name: "message kind",
			tool: "_check_health",
			want: Event{Action: ActionMessage, Message: "Thinking..."},
		},
		{
			name: "unknown tool",
			tool: "_deploy",
			args: map[string]any{"command": "rm -rf /"},
			want: Event{Action: ActionMessage, Message: "Thinking..."},
		},
		{
			name: "malformed file write",
			tool: "_create_or_update_files",
			args: map[string]any{"files": "oops"},
			want: Event{Action: ActionFileWrite, Message: "Updating files...",
				Data: map[string]any{"files": []string{}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.Translate(tt.tool, tt.args))
		})
	}
}

func TestTranslateIsDeterministic(t *testing.T) {
	tr := NewTranslator(tools.Builtins())
	args := map[string]any{"files": []any{map[string]any{"path": "a.txt", "content": "1"}}}
	first := tr.Translate("_create_or_update_files", args)
	second := tr.Translate("_create_or_update_files", args)
	assert.Equal(t, first, second)
}
