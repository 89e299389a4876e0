package workflow

import (
	"fmt"
	"sync"
)

// Phase is the coarse state of a run.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseRunning    Phase = "running"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
)

// State is a snapshot of a run's position in the pipeline.
type State struct {
	Phase Phase `json:"phase"`
	// Stage is the zero-based index of the running stage.
	Stage int `json:"stage"`
	// Stages is the number of stages in the pipeline.
	Stages int `json:"stages"`
}

func (s State) String() string {
	if s.Phase == PhaseRunning {
		return fmt.Sprintf("running(%d of %d)", s.Stage+1, s.Stages)
	}
	return string(s.Phase)
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s.Phase == PhaseComplete || s.Phase == PhaseFailed
}

// Run tracks the state machine of one pipeline execution:
//
//	not_started -> running(0) -> ... -> running(N-1) -> complete
//	running(i) -> failed
type Run struct {
	mu    sync.Mutex
	state State
}

// NewRun returns a run of a pipeline with n stages.
func NewRun(n int) *Run {
	return &Run{state: State{Phase: PhaseNotStarted, Stages: n}}
}

// State returns the current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start moves from not_started into the first stage.
func (r *Run) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Phase != PhaseNotStarted {
		return fmt.Errorf("cannot start run in state %s", r.state)
	}
	if r.state.Stages == 0 {
		r.state.Phase = PhaseComplete
		return nil
	}
	r.state.Phase = PhaseRunning
	r.state.Stage = 0
	return nil
}

// StageDone records that the running stage filled its slot. It advances to
// the next stage, or to complete after the last one.
func (r *Run) StageDone() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Phase != PhaseRunning {
		return fmt.Errorf("cannot finish stage in state %s", r.state)
	}
	if r.state.Stage+1 >= r.state.Stages {
		r.state.Phase = PhaseComplete
		return nil
	}
	r.state.Stage++
	return nil
}

// Escalate moves a running pipeline into failed.
func (r *Run) Escalate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Phase != PhaseRunning {
		return fmt.Errorf("cannot escalate run in state %s", r.state)
	}
	r.state.Phase = PhaseFailed
	return nil
}

// Fail moves any non-terminal run into failed. It is used for failures
// outside the stages, such as store errors.
func (r *Run) Fail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.Terminal() {
		r.state.Phase = PhaseFailed
	}
}
