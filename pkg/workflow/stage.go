package workflow

import (
	"strings"

	"github.com/nstogner/agentx/pkg/domain"
)

// Stage is one ordered step of the pipeline. It fills exactly one session
// slot with its final response.
type Stage struct {
	Name         string
	Slot         domain.Slot
	Model        string
	Instructions string
	// Tools names the registry tools offered to the model in this stage.
	Tools []string
	// Postprocess, if set, rewrites the final response before it is stored.
	Postprocess func(string) string
}

const codeInstructions = `You are a senior engineer building a web application inside a sandboxed Linux container.

The project lives in the current working directory. The application must serve on port 3000.

## Tools

- _create_or_update_files: write complete files. Paths are relative to the project root.
- _read_files: read existing files before changing them.
- _list_files: look around the project tree.
- _run_terminal: run shell commands (install dependencies, start the dev server, inspect output).
- _check_health: verify the app is listening, builds and type-checks. Fix what it reports.
- escalate: give up when the request cannot be completed. Explain why in "reason".

## Guidelines

- Write whole files, never fragments or diffs.
- Keep commands non-interactive.
- When a command fails, read its output and correct the cause before retrying.
- Finish with a short description of what you built wrapped in <task_summary></task_summary> tags.`

const titleInstructions = `Write a short title (at most five words) for the piece of work described by the conversation.
Reply with the title only: no quotes, no punctuation at the end, no explanation.`

// DefaultStages returns the code-generation stage followed by the
// title-generation stage.
func DefaultStages(codeModel, titleModel string) []Stage {
	return []Stage{
		{
			Name:         "code",
			Slot:         domain.SlotSummary,
			Model:        codeModel,
			Instructions: codeInstructions,
			Tools:        []string{"_create_or_update_files", "_read_files", "_list_files", "_run_terminal", "_check_health"},
		},
		{
			Name:         "title",
			Slot:         domain.SlotTitle,
			Model:        titleModel,
			Instructions: titleInstructions,
			Postprocess:  CleanTitle,
		},
	}
}

// CleanTitle keeps the first non-empty line of s without surrounding quotes
// or markdown decoration.
func CleanTitle(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "#*_ ")
		line = strings.TrimRight(line, "*_ .")
		line = strings.Trim(line, `"'`+"`")
		if line != "" {
			return line
		}
	}
	return ""
}

// StripSummaryTags removes the <task_summary> wrapper from a final response.
func StripSummaryTags(s string) string {
	s = strings.ReplaceAll(s, "<task_summary>", "")
	s = strings.ReplaceAll(s, "</task_summary>", "")
	return strings.TrimSpace(s)
}
