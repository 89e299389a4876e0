package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nstogner/agentx/pkg/client"
	"github.com/nstogner/agentx/pkg/events"
)

func newChatCommand(root *rootOptions) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "chat [project-id]",
		Short: "Chat with the agent about a project",
		Long: `Without --message, chat opens an interactive view: pick or create a project,
then send requests and follow each run live. With --message, the request is
sent once and its frames are printed as they arrive.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := ""
			if len(args) == 1 {
				projectID = args[0]
			}
			c := root.client()
			if message != "" {
				return chatOnce(cmd.Context(), c, projectID, message, cmd.OutOrStdout())
			}
			return runTUI(cmd.Context(), c, projectID)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "send one message and print the run instead of opening the interactive view")
	return cmd
}

func chatOnce(ctx context.Context, c *client.Client, projectID, message string, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if projectID == "" {
		p, err := c.CreateProject(ctx, "")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Created %s (%s)\n", p.Name, p.ID)
		projectID = p.ID
	}

	last, err := c.Chat(ctx, projectID, message, func(f events.Frame) {
		if !f.Action.Terminal() {
			fmt.Fprintln(out, describeFrame(f))
		}
	})
	if err != nil {
		return err
	}
	if last.Action == events.ActionError {
		return fmt.Errorf("run failed: %s", last.Message)
	}
	fmt.Fprintln(out, describeFrame(*last))
	return nil
}

// describeFrame renders a frame as one line of plain text.
func describeFrame(f events.Frame) string {
	switch f.Action {
	case events.ActionFileWrite, events.ActionFileRead:
		return fmt.Sprintf("%s %s", f.Message, joinAny(f.Data["files"]))
	case events.ActionTerminal:
		return fmt.Sprintf("%s $ %v", f.Message, f.Data["command"])
	case events.ActionComplete:
		return fmt.Sprintf("%s %v\n%v\n%v", f.Message, f.Data["title"], f.Data["summary"], f.Data["url"])
	case events.ActionError:
		return "Error: " + f.Message
	}
	return f.Message
}

func joinAny(v any) string {
	items, _ := v.([]any)
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprint(it))
	}
	return strings.Join(parts, ", ")
}

func newWatchCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <project-id>",
		Short: "Follow every run of a project as it happens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			out := cmd.OutOrStdout()
			err := root.client().Watch(ctx, args[0], func(f events.Frame) {
				fmt.Fprintln(out, describeFrame(f))
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

func runTUI(ctx context.Context, c *client.Client, projectID string) error {
	// The terminal belongs to the UI, so logs go to a file.
	f, err := os.OpenFile("agentx.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newChatModel(ctx, c, projectID), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
