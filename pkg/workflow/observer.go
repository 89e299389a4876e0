package workflow

import "time"

// Observer is notified about run progress, e.g. for metrics.
type Observer interface {
	RunStarted()
	RunFinished(phase Phase, d time.Duration)
	StageFinished(stage string, ok bool, d time.Duration)
	SandboxReplaced()
}

type nopObserver struct{}

func (nopObserver) RunStarted()                               {}
func (nopObserver) RunFinished(Phase, time.Duration)          {}
func (nopObserver) StageFinished(string, bool, time.Duration) {}
func (nopObserver) SandboxReplaced()                          {}
