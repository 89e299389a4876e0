package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/nstogner/agentx/pkg/domain"
	"github.com/nstogner/agentx/pkg/events"
	"github.com/nstogner/agentx/pkg/sandbox"
	"github.com/nstogner/agentx/pkg/store"
)

const (
	// DefaultApp namespaces session keys.
	DefaultApp = "agentx"
	// DefaultUser owns every session in a single-user deployment.
	DefaultUser = "default"
)

// Outcome describes how an execution ended.
type Outcome struct {
	State     State
	SandboxID string
	// Message is the assistant message recorded for the run.
	Message  *domain.Message
	Fragment *domain.Fragment
	// Escalation is set when a stage aborted the run.
	Escalation *domain.EscalationError
}

// Failed reports whether the run escalated.
func (o *Outcome) Failed() bool { return o.Escalation != nil }

// Orchestrator runs the pipeline for one user request at a time per call.
// Calls for different projects may proceed concurrently.
type Orchestrator struct {
	Projects store.ProjectStore
	Messages store.MessageStore
	Sessions store.SessionStore
	Sandbox  sandbox.Provider
	// SandboxOptions are applied to the manager of every run.
	SandboxOptions sandbox.Options
	Pipeline       *Pipeline
	Observer       Observer
	App            string
	User           string
}

// SessionKey returns the key of projectID's session.
func (o *Orchestrator) SessionKey(projectID string) domain.SessionKey {
	app, user := o.App, o.User
	if app == "" {
		app = DefaultApp
	}
	if user == "" {
		user = DefaultUser
	}
	return domain.SessionKey{App: app, User: user, SessionID: projectID}
}

func (o *Orchestrator) observer() Observer {
	if o.Observer == nil {
		return nopObserver{}
	}
	return o.Observer
}

// Execute records message on the project, runs every stage and emits one
// frame per tool call followed by exactly one terminal frame. An escalation
// is not an error: it is recorded and reported in the Outcome. Errors are
// returned for infrastructure failures; when the stream was already opened
// they are also terminated with an error frame.
func (o *Orchestrator) Execute(ctx context.Context, projectID, message string, emitter *events.Emitter) (*Outcome, error) {
	start := time.Now()
	o.observer().RunStarted()
	run := NewRun(len(o.Pipeline.stages))
	outcome, err := o.execute(ctx, projectID, message, emitter, run)
	if err != nil {
		run.Fail()
		if !emitter.Closed() {
			_ = emitter.Fail(ctx, err.Error())
		}
	}
	o.observer().RunFinished(run.State().Phase, time.Since(start))
	return outcome, err
}

func (o *Orchestrator) execute(ctx context.Context, projectID, message string, emitter *events.Emitter, run *Run) (*Outcome, error) {
	project, err := o.Projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if _, err := o.Messages.AppendMessage(ctx, project.ID, domain.RoleUser, domain.MessageTypeResult, message); err != nil {
		return nil, fmt.Errorf("recording user message: %w", err)
	}

	key := o.SessionKey(project.ID)
	state, err := o.Sessions.CreateOrGetSession(ctx, key, domain.NewSessionState())
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}

	opts := o.SandboxOptions
	opts.OnReplace = func(oldID, newID string) {
		slog.Warn("Sandbox replaced", "projectID", project.ID, "old", oldID, "new", newID)
		o.observer().SandboxReplaced()
	}
	mgr := sandbox.NewManager(o.Sandbox, opts)
	sandboxID, err := mgr.Connect(ctx, project.SandboxID)
	if err != nil {
		return nil, err
	}
	if sandboxID != project.SandboxID {
		if err := o.Projects.UpdateSandboxID(ctx, project.ID, sandboxID); err != nil {
			return nil, fmt.Errorf("persisting sandbox id: %w", err)
		}
		project.SandboxID = sandboxID
	}

	rc := &RunContext{
		Project:     project,
		SessionKey:  key,
		State:       state,
		Sandbox:     mgr,
		UserMessage: message,
		Run:         run,
	}
	slog.Info("Run started", "projectID", project.ID, "sandboxID", sandboxID, "stages", o.Pipeline.Stages())

	if err := o.Pipeline.Run(ctx, rc, emitter); err != nil {
		var esc *domain.EscalationError
		if !errors.As(err, &esc) {
			return nil, err
		}
		return o.escalate(ctx, rc, esc, emitter)
	}
	return o.complete(ctx, rc, emitter)
}

func (o *Orchestrator) escalate(ctx context.Context, rc *RunContext, esc *domain.EscalationError, emitter *events.Emitter) (*Outcome, error) {
	slog.Warn("Run escalated", "projectID", rc.Project.ID, "stage", esc.Stage, "reason", esc.Reason, "error", esc.Err)
	text := "Agent escalated: " + esc.Reason
	msg, err := o.Messages.AppendMessage(ctx, rc.Project.ID, domain.RoleAssistant, domain.MessageTypeError, text)
	if err != nil {
		return nil, fmt.Errorf("recording escalation: %w", err)
	}
	if err := emitter.Fail(ctx, text); err != nil {
		return nil, fmt.Errorf("emitting error frame: %w", err)
	}
	return &Outcome{
		State:      rc.Run.State(),
		SandboxID:  rc.Sandbox.ID(),
		Message:    msg,
		Escalation: esc,
	}, nil
}

func (o *Orchestrator) complete(ctx context.Context, rc *RunContext, emitter *events.Emitter) (*Outcome, error) {
	final, err := o.Sessions.GetSession(ctx, rc.SessionKey)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, fmt.Errorf("project %s: %w", rc.Project.ID, domain.ErrSessionMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	summary := StripSummaryTags(final.Summary)
	url := rc.Sandbox.PublicURL(ctx)
	sandboxID := rc.Sandbox.ID()
	if sandboxID != rc.Project.SandboxID {
		if err := o.Projects.UpdateSandboxID(ctx, rc.Project.ID, sandboxID); err != nil {
			return nil, fmt.Errorf("persisting sandbox id: %w", err)
		}
	}

	msg, err := o.Messages.AppendMessage(ctx, rc.Project.ID, domain.RoleAssistant, domain.MessageTypeResult, summary)
	if err != nil {
		return nil, fmt.Errorf("recording result: %w", err)
	}
	files := maps.Clone(final.Files)
	if files == nil {
		files = map[string]string{}
	}
	frag, err := o.Messages.AttachFragment(ctx, msg.ID, final.Title, files, url)
	if err != nil {
		return nil, fmt.Errorf("attaching fragment: %w", err)
	}
	msg.Fragment = frag

	if err := emitter.Complete(ctx, map[string]any{
		"title":      final.Title,
		"summary":    summary,
		"files":      files,
		"sandbox_id": sandboxID,
		"url":        url,
	}); err != nil {
		return nil, fmt.Errorf("emitting complete frame: %w", err)
	}
	slog.Info("Run completed", "projectID", rc.Project.ID, "title", final.Title, "files", len(files))

	return &Outcome{
		State:     rc.Run.State(),
		SandboxID: sandboxID,
		Message:   msg,
		Fragment:  frag,
	}, nil
}
