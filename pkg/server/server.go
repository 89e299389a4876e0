package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nstogner/agentx/pkg/events"
	"github.com/nstogner/agentx/pkg/metrics"
	"github.com/nstogner/agentx/pkg/model"
	"github.com/nstogner/agentx/pkg/sandbox"
	"github.com/nstogner/agentx/pkg/store"
	"github.com/nstogner/agentx/pkg/workflow"
)

// Options tune a Server.
type Options struct {
	// MaxConcurrentRuns bounds pipeline runs across all projects.
	MaxConcurrentRuns int64
	// RunTimeout bounds a single run. Zero means no limit.
	RunTimeout time.Duration
	// SandboxOptions are used by the read-only sandbox file routes.
	SandboxOptions sandbox.Options
	Metrics        *metrics.Metrics
}

// Server serves the REST API and event streams.
type Server struct {
	projects     store.ProjectStore
	messages     store.MessageStore
	orchestrator *workflow.Orchestrator
	provider     model.Provider
	sandbox      sandbox.Provider
	hub          *events.Hub
	opts         Options

	runs   *semaphore.Weighted
	active sync.WaitGroup

	mu       sync.Mutex
	srv      *http.Server
	shutdown bool
}

// New creates a new Server.
func New(
	projects store.ProjectStore,
	messages store.MessageStore,
	orchestrator *workflow.Orchestrator,
	provider model.Provider,
	sandboxProvider sandbox.Provider,
	hub *events.Hub,
	opts Options,
) *Server {
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 1
	}
	if hub == nil {
		hub = events.NewHub()
	}
	return &Server{
		projects:     projects,
		messages:     messages,
		orchestrator: orchestrator,
		provider:     provider,
		sandbox:      sandboxProvider,
		hub:          hub,
		opts:         opts,
		runs:         semaphore.NewWeighted(opts.MaxConcurrentRuns),
	}
}

// Handler returns the routed API with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Projects
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/projects/{id}", s.handleGetProject)
	mux.HandleFunc("GET /api/project/new", s.handleCreateProject)
	mux.HandleFunc("GET /api/project/{id}/details", s.handleGetProject)

	// Runs
	mux.HandleFunc("POST /api/projects/{id}/chat", s.handleChat)
	mux.HandleFunc("GET /api/projects/{id}/chat", s.handleChat)
	mux.HandleFunc("POST /api/project/{id}/chat", s.handleChat)
	mux.HandleFunc("/api/projects/{id}/events", s.handleWatch)

	// Sandbox
	mux.HandleFunc("GET /api/projects/{id}/sandbox/files", s.handleListSandboxFiles)
	mux.HandleFunc("GET /api/projects/{id}/sandbox/file", s.handleReadSandboxFile)

	// Models
	mux.HandleFunc("GET /api/models", s.handleListModels)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics.Handler())
	}

	return s.corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.srv = srv
	s.mu.Unlock()

	slog.Info("Starting web server", "addr", addr)
	return srv.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight runs to finish
// or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	srv := s.srv
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Shutdown with runs still in flight")
		return ctx.Err()
	}
	return err
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("API Error", "error", err)
	} else {
		slog.Debug("API Error", "status", status, "error", err)
	}
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
