// Command agentx serves the agent pipeline over HTTP and talks to a running
// server from the terminal.
//
// Usage:
//
//	export GEMINI_API_KEY="your-api-key"
//	agentx serve
//	agentx project new
//	agentx chat <project-id>
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nstogner/agentx/pkg/client"
	"github.com/nstogner/agentx/pkg/config"
)

type rootOptions struct {
	configPath string
	serverURL  string
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.configPath)
}

func (o *rootOptions) client() *client.Client {
	return client.New(o.serverURL, nil)
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "agentx",
		Short:         "Turn requests into sandboxed web projects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a config file (default ./agentx.yaml)")
	defaultURL := os.Getenv("AGENTX_SERVER_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	cmd.PersistentFlags().StringVar(&opts.serverURL, "server", defaultURL, "agentx server URL for client commands")

	cmd.AddCommand(
		newServeCommand(opts),
		newProjectCommand(opts),
		newChatCommand(opts),
		newWatchCommand(opts),
	)
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
