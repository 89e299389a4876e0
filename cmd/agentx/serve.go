package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nstogner/agentx/pkg/config"
	"github.com/nstogner/agentx/pkg/events"
	"github.com/nstogner/agentx/pkg/metrics"
	"github.com/nstogner/agentx/pkg/model"
	"github.com/nstogner/agentx/pkg/model/gemini"
	"github.com/nstogner/agentx/pkg/model/scripted"
	"github.com/nstogner/agentx/pkg/sandbox"
	"github.com/nstogner/agentx/pkg/sandbox/docker"
	"github.com/nstogner/agentx/pkg/sandbox/local"
	"github.com/nstogner/agentx/pkg/server"
	"github.com/nstogner/agentx/pkg/store"
	"github.com/nstogner/agentx/pkg/store/jsonl"
	"github.com/nstogner/agentx/pkg/store/sqlite"
	"github.com/nstogner/agentx/pkg/tools"
	"github.com/nstogner/agentx/pkg/workflow"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			slog.SetDefault(slog.New(cfg.Logging.Handler(os.Stderr)))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	// Initialize store.
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	db, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer db.Close()

	g, ctx := errgroup.WithContext(ctx)

	var sessions store.SessionStore = db
	if cfg.Session.Backend == "jsonl" {
		js, err := jsonl.New(cfg.Session.Dir)
		if err != nil {
			return fmt.Errorf("initializing session store: %w", err)
		}
		sessions = js
		updates := js.Subscribe()
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case key := <-updates:
					slog.Debug("Session updated", "sessionID", key.SessionID)
				}
			}
		})
	}

	// Initialize model provider.
	var provider model.Provider
	switch cfg.Model.Provider {
	case "scripted":
		slog.Warn("Using the scripted model provider; every request builds the same landing page")
		provider = scripted.New(scripted.LandingPage())
	default:
		provider, err = gemini.New(ctx, cfg.Model.APIKey)
		if err != nil {
			return fmt.Errorf("initializing Gemini provider: %w", err)
		}
	}

	// Initialize sandbox provider.
	var sbProvider sandbox.Provider
	switch cfg.Sandbox.Provider {
	case "local":
		slog.Warn("Using the local sandbox provider; generated commands run unisolated on this host")
		sbProvider, err = local.New(cfg.Sandbox.LocalDir)
		if err != nil {
			return err
		}
	default:
		dp, err := docker.New(docker.Config{
			Images:            cfg.Sandbox.Docker.Images,
			DefaultImage:      cfg.Sandbox.Docker.DefaultImage,
			Ports:             []int{cfg.Sandbox.ServicePort},
			HostIP:            cfg.Sandbox.Docker.HostIP,
			ReconcileInterval: cfg.Sandbox.Docker.ReconcileInterval,
		})
		if err != nil {
			return fmt.Errorf("initializing sandbox provider: %w", err)
		}
		defer dp.Close()
		if err := dp.Ping(ctx); err != nil {
			return fmt.Errorf("docker daemon unreachable: %w", err)
		}
		// Remove containers no project references any more.
		g.Go(func() error {
			if err := dp.Run(ctx, db); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		sbProvider = dp
	}

	sbOpts := sandbox.Options{
		Template:         cfg.Sandbox.Template,
		ServicePort:      cfg.Sandbox.ServicePort,
		PortCommand:      cfg.Sandbox.PortCommand,
		BuildCommand:     cfg.Sandbox.BuildCommand,
		TypeCheckCommand: cfg.Sandbox.TypeCheckCommand,
	}

	m := metrics.New()
	registry := tools.Builtins()
	pipe, err := workflow.NewPipeline(registry, provider, sessions,
		workflow.DefaultStages(cfg.Model.CodeModel, cfg.Model.TitleModel),
		workflow.WithMaxSteps(cfg.Pipeline.MaxSteps),
		workflow.WithObserver(m),
	)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}
	slog.Info("Pipeline ready", "stages", pipe.Stages(), "tools", registry.Names())
	orch := &workflow.Orchestrator{
		Projects:       db,
		Messages:       db,
		Sessions:       sessions,
		Sandbox:        sbProvider,
		SandboxOptions: sbOpts,
		Pipeline:       pipe,
		Observer:       m,
		App:            cfg.Session.App,
		User:           cfg.Session.User,
	}

	srv := server.New(db, db, orch, provider, sbProvider, events.NewHub(), server.Options{
		MaxConcurrentRuns: cfg.Pipeline.MaxConcurrentRuns,
		RunTimeout:        cfg.Pipeline.RunTimeout,
		SandboxOptions:    sbOpts,
		Metrics:           m,
	})

	g.Go(func() error {
		if err := srv.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
