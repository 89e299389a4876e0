package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/agentx/pkg/client"
	"github.com/nstogner/agentx/pkg/domain"
	"github.com/nstogner/agentx/pkg/events"
)

func TestDescribeFrame(t *testing.T) {
	tests := []struct {
		frame events.Frame
		want  string
	}{
		{events.Frame{Action: events.ActionFileWrite, Message: "Updating files...", Data: map[string]any{"files": []any{"a", "b"}}}, "Updating files... a, b"},
		{events.Frame{Action: events.ActionTerminal, Message: "Executing terminal command...", Data: map[string]any{"command": "ls"}}, "Executing terminal command... $ ls"},
		{events.Frame{Action: events.ActionMessage, Message: "Thinking..."}, "Thinking..."},
		{events.Frame{Action: events.ActionError, Message: "boom"}, "Error: boom"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, describeFrame(tt.frame))
	}
}

func TestChatOnceReportsFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := events.Frame{Action: events.ActionError, Message: "Agent escalated: no"}.Encode()
		w.Write(b)
	}))
	defer ts.Close()

	var out bytes.Buffer
	err := chatOnce(context.Background(), client.New(ts.URL, nil), "p1", "hi", &out)
	assert.ErrorContains(t, err, "Agent escalated: no")
}

func TestFragmentMarkdown(t *testing.T) {
	md := fragmentMarkdown(domain.Message{
		Content: "Built a page.",
		Fragment: &domain.Fragment{
			Title:      "Landing",
			SandboxURL: "http://127.0.0.1:3000",
			Files:      map[string]string{"b.css": "", "a.html": ""},
		},
	})
	assert.Contains(t, md, "## Landing")
	assert.Contains(t, md, "Preview: http://127.0.0.1:3000")
	assert.Less(t, bytes.Index([]byte(md), []byte("a.html")), bytes.Index([]byte(md), []byte("b.css")))
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "project", "chat", "watch"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}
