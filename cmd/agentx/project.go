package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nstogner/agentx/pkg/domain"
)

func newProjectCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects"},
		Short:   "Manage projects on a running server",
	}
	cmd.AddCommand(
		newProjectNewCommand(root),
		newProjectListCommand(root),
		newProjectShowCommand(root),
		newProjectFilesCommand(root),
		newProjectCatCommand(root),
	)
	return cmd
}

func newProjectNewCommand(root *rootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := root.client().CreateProject(cmd.Context(), name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.ID, p.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name (default \"New Project <n>\")")
	return cmd
}

func newProjectListCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := root.client().ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSANDBOX\tCREATED")
			for _, p := range ps {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.SandboxID, p.CreatedAt.Format(time.RFC822))
			}
			return tw.Flush()
		},
	}
}

func newProjectShowCommand(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project and its conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := root.client().Project(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			}
			fmt.Fprintf(out, "%s (%s)\n", d.Name, d.ID)
			if d.SandboxID != "" {
				fmt.Fprintf(out, "sandbox: %s\n", d.SandboxID)
			}
			for _, m := range d.Messages {
				fmt.Fprintln(out)
				printMessage(cmd, m)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func printMessage(cmd *cobra.Command, m domain.Message) {
	out := cmd.OutOrStdout()
	label := string(m.Role)
	if m.Type == domain.MessageTypeError {
		label += " (error)"
	}
	fmt.Fprintf(out, "[%s] %s\n", label, m.Content)
	if f := m.Fragment; f != nil {
		fmt.Fprintf(out, "  fragment: %s\n", f.Title)
		if f.SandboxURL != "" {
			fmt.Fprintf(out, "  url: %s\n", f.SandboxURL)
		}
		for path := range f.Files {
			fmt.Fprintf(out, "  - %s\n", path)
		}
	}
}

func newProjectFilesCommand(root *rootOptions) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "files <project-id> [path]",
		Short: "List files in the project's sandbox",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 2 {
				path = args[1]
			}
			entries, err := root.client().SandboxFiles(cmd.Context(), args[0], path, depth)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if e.IsDir {
					fmt.Fprintf(cmd.OutOrStdout(), "%s/\n", e.Path)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", e.Path, e.Size)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 1, "how many directory levels to descend")
	return cmd
}

func newProjectCatCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <project-id> <path>",
		Short: "Print a file from the project's sandbox",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := root.client().SandboxFile(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), f.Content)
			return err
		},
	}
}
