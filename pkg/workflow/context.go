package workflow

import (
	"maps"
	"sync"

	"github.com/nstogner/agentx/pkg/domain"
	"github.com/nstogner/agentx/pkg/sandbox"
)

// StageOutput is the final response of a finished stage.
type StageOutput struct {
	Stage string
	Slot  domain.Slot
	Text  string
}

// RunContext is the blackboard of one execution. It is passed by pointer to
// every stage and discarded when the run ends.
type RunContext struct {
	Project     *domain.Project
	SessionKey  domain.SessionKey
	State       *domain.SessionState
	Sandbox     *sandbox.Manager
	UserMessage string
	Outputs     []StageOutput
	Run         *Run

	mu      sync.Mutex
	pending map[string]string
}

// recordFiles buffers files written by tools until the stage persists them.
func (rc *RunContext) recordFiles(files map[string]string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.pending == nil {
		rc.pending = make(map[string]string, len(files))
	}
	maps.Copy(rc.pending, files)
	rc.State.MergeFiles(files)
}

// takePending returns and clears the files written since the last call.
func (rc *RunContext) takePending() map[string]string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	p := rc.pending
	rc.pending = nil
	return p
}
