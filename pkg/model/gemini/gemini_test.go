package gemini

import (
	"testing"

	"github.com/nstogner/agentx/pkg/model"
	"github.com/nstogner/agentx/pkg/tools"
	"google.golang.org/genai"
)

func TestToSchemaConvertsBuiltinSchemas(t *testing.T) {
	w := &tools.WriteFilesTool{}
	s := toSchema(w.InputSchema())
	if s.Type != genai.TypeObject {
		t.Fatalf("Type = %q, want OBJECT", s.Type)
	}
	files := s.Properties["files"]
	if files == nil || files.Type != genai.TypeArray {
		t.Fatalf("files = %+v", files)
	}
	if files.Items == nil || files.Items.Properties["path"].Type != genai.TypeString {
		t.Fatalf("items = %+v", files.Items)
	}
	if len(s.Required) != 1 || s.Required[0] != "files" {
		t.Errorf("Required = %v", s.Required)
	}
}

func TestToContentsMapsRolesAndToolResults(t *testing.T) {
	msgs := []model.Message{
		model.Text(model.RoleUser, "build a page"),
		{Role: model.RoleAssistant, Content: []model.Content{{
			Type:     model.ContentTypeToolCall,
			ToolCall: &model.ToolCall{ID: "c1", Name: "_run_terminal", Input: map[string]any{"command": "ls"}},
		}}},
		{Role: model.RoleTool, Content: []model.Content{{
			Type:       model.ContentTypeToolResult,
			ToolResult: &model.ToolResult{ToolCallID: "c1", Content: "index.html"},
		}}},
	}
	got := toContents(msgs)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Role != "user" || got[1].Role != "model" || got[2].Role != "user" {
		t.Errorf("roles = %s %s %s", got[0].Role, got[1].Role, got[2].Role)
	}
	fr := got[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "_run_terminal" || fr.Response["result"] != "index.html" {
		t.Errorf("function response = %+v", fr)
	}
}

func TestBuildToolDeclarationsEmpty(t *testing.T) {
	if buildToolDeclarations(nil) != nil {
		t.Error("expected no tools")
	}
}
