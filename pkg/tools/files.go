package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nstogner/agentx/pkg/sandbox"
)

// --- Create Or Update Files Tool ---

type WriteFilesTool struct{}

func (t *WriteFilesTool) Name() string { return "_create_or_update_files" }
func (t *WriteFilesTool) Kind() Kind   { return KindFileWrite }

func (t *WriteFilesTool) Description() string {
	return "Create or update files in the sandbox. Arguments: files (array of {path, content})."
}

func (t *WriteFilesTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"files": map[string]any{
				"type":        "array",
				"description": "The files to write. Paths are relative to the project root.",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"path":    map[string]any{"type": "string", "description": "The file path."},
						"content": map[string]any{"type": "string", "description": "The full file content."},
					},
					"required": []string{"path", "content"},
				},
			},
		},
		"required": []string{"files"},
	}
}

func (t *WriteFilesTool) Targets(input map[string]any) []string {
	files, _ := decodeFiles(input)
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return paths
}

func (t *WriteFilesTool) Execute(ctx context.Context, env *Env, input map[string]any) (string, error) {
	files, err := decodeFiles(input)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("argument 'files' is required and must be a non-empty array")
	}

	slog.Info("Writing files", "count", len(files))
	res := env.Sandbox.WriteFiles(ctx, files)
	if written, ok := res.Value(); ok && env.RecordFiles != nil {
		m := make(map[string]string, len(written))
		for _, f := range written {
			m[f.Path] = f.Content
		}
		env.RecordFiles(m)
	}
	return res.Text(func(written []sandbox.File) string {
		paths := make([]string, 0, len(written))
		for _, f := range written {
			paths = append(paths, f.Path)
		}
		return "Files written: " + strings.Join(paths, ", ")
	}), nil
}

func decodeFiles(input map[string]any) ([]sandbox.File, error) {
	raw, ok := input["files"]
	if !ok {
		return nil, fmt.Errorf("argument 'files' is required")
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var files []sandbox.File
	if err := json.Unmarshal(b, &files); err != nil {
		return nil, fmt.Errorf("argument 'files' must be an array of {path, content}: %w", err)
	}
	return files, nil
}

// --- Read Files Tool ---

type ReadFilesTool struct{}

func (t *ReadFilesTool) Name() string { return "_read_files" }
func (t *ReadFilesTool) Kind() Kind   { return KindFileRead }

func (t *ReadFilesTool) Description() string {
	return "Read the contents of files in the sandbox. Arguments: paths (array of string)."
}

func (t *ReadFilesTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"paths": map[string]any{
				"type":        "array",
				"description": "The file paths to read.",
				"items":       map[string]any{"type": "string"},
			},
		},
		"required": []string{"paths"},
	}
}

func (t *ReadFilesTool) Targets(input map[string]any) []string {
	return stringList(input["paths"])
}

func (t *ReadFilesTool) Execute(ctx context.Context, env *Env, input map[string]any) (string, error) {
	paths := stringList(input["paths"])
	if len(paths) == 0 {
		return "", fmt.Errorf("argument 'paths' is required and must be a non-empty array")
	}

	slog.Info("Reading files", "paths", paths)
	res := env.Sandbox.ReadFiles(ctx, paths)
	return res.Text(func(files []sandbox.File) string {
		b, _ := json.Marshal(files)
		return string(b)
	}), nil
}

// --- List Files Tool ---

type ListFilesTool struct{}

func (t *ListFilesTool) Name() string { return "_list_files" }
func (t *ListFilesTool) Kind() Kind   { return KindFileRead }

func (t *ListFilesTool) Description() string {
	return "List files in a sandbox directory. Arguments: path (string), depth (integer, default 1)."
}

func (t *ListFilesTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":  map[string]any{"type": "string", "description": "The directory path to list."},
			"depth": map[string]any{"type": "integer", "description": "How many levels to descend."},
		},
		"required": []string{"path"},
	}
}

func (t *ListFilesTool) Targets(input map[string]any) []string {
	p, _ := input["path"].(string)
	return []string{p}
}

func (t *ListFilesTool) Execute(ctx context.Context, env *Env, input map[string]any) (string, error) {
	p, _ := input["path"].(string)
	depth := 1
	switch d := input["depth"].(type) {
	case float64:
		depth = int(d)
	case int:
		depth = d
	case int64:
		depth = int(d)
	}

	res := env.Sandbox.ListFiles(ctx, p, depth)
	return res.Text(func(entries []sandbox.Entry) string {
		var sb strings.Builder
		for _, e := range entries {
			sb.WriteString(e.Path)
			if e.IsDir {
				sb.WriteString("/")
			}
			sb.WriteString("\n")
		}
		return sb.String()
	}), nil
}

func stringList(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{vv}
	}
	return nil
}
