package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/nstogner/agentx/pkg/events"
)

var errClientGone = errors.New("client disconnected")

// detachableSink forwards to an HTTP stream until the handler returns.
// After detach every Send fails, so the emitter drops it.
type detachableSink struct {
	mu   sync.Mutex
	sink events.Sink
	gone bool
}

func (d *detachableSink) Send(ctx context.Context, f events.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return errClientGone
	}
	return d.sink.Send(ctx, f)
}

func (d *detachableSink) detach() {
	d.mu.Lock()
	d.gone = true
	d.mu.Unlock()
}

func chatMessage(r *http.Request) (string, error) {
	msg := r.URL.Query().Get("message")
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		var req struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", err
		}
		if req.Message != "" {
			msg = req.Message
		}
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", errors.New("message is required")
	}
	return msg, nil
}

// handleChat runs the pipeline for one message and streams its frames as
// server-sent events. The run is detached from the request: a client that
// goes away stops receiving frames but the run still completes and is
// persisted.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	msg, err := chatMessage(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	p, ok := s.lookupProject(w, r)
	if !ok {
		return
	}

	if err := s.runs.Acquire(r.Context(), 1); err != nil {
		if s.opts.Metrics != nil {
			s.opts.Metrics.RunRejected()
		}
		slog.Info("Chat request abandoned while waiting for a run slot", "projectID", p.ID)
		return
	}

	sse, err := events.NewSSESink(w)
	if err != nil {
		s.runs.Release(1)
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	client := &detachableSink{sink: sse}
	emitter := events.NewEmitter(client, s.hub.Sink(p.ID))
	if s.opts.Metrics != nil {
		emitter.Add(s.opts.Metrics.FrameSink())
	}

	runCtx := context.WithoutCancel(r.Context())
	cancel := context.CancelFunc(func() {})
	if s.opts.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, s.opts.RunTimeout)
	}

	done := make(chan struct{})
	s.active.Add(1)
	go func() {
		defer s.active.Done()
		defer s.runs.Release(1)
		defer cancel()
		defer close(done)

		out, err := s.orchestrator.Execute(runCtx, p.ID, msg, emitter)
		switch {
		case err != nil:
			slog.Error("Run failed", "projectID", p.ID, "error", err)
		case out.Failed():
			slog.Info("Run escalated", "projectID", p.ID, "reason", out.Escalation.Reason)
		default:
			slog.Info("Run finished", "projectID", p.ID, "sandboxID", out.SandboxID)
		}
	}()

	select {
	case <-done:
	case <-r.Context().Done():
		client.detach()
		slog.Info("Chat client disconnected, run continues", "projectID", p.ID)
	}
}
