package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrStreamClosed is returned by Emit once the terminal frame has been sent.
var ErrStreamClosed = errors.New("event stream closed")

// Sink receives frames. A sink that returns an error is considered gone.
type Sink interface {
	Send(ctx context.Context, f Frame) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, f Frame) error

func (fn SinkFunc) Send(ctx context.Context, f Frame) error { return fn(ctx, f) }

// Emitter delivers frames to its sinks in call order, one frame at a time.
// After exactly one terminal frame, the stream is closed.
type Emitter struct {
	mu     sync.Mutex
	sinks  []Sink
	closed bool
	now    func() time.Time
}

// NewEmitter creates an emitter delivering to sinks.
func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks, now: time.Now}
}

// Add registers another sink. Frames already emitted are not replayed.
func (e *Emitter) Add(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Emit stamps the event and delivers it. Sinks that fail are dropped and
// never retried; the run continues regardless.
func (e *Emitter) Emit(ctx context.Context, ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrStreamClosed
	}
	if ev.Action.Terminal() {
		e.closed = true
	}

	f := Frame{Action: ev.Action, Message: ev.Message, Timestamp: e.now().UTC(), Data: ev.Data}
	live := e.sinks[:0]
	for _, s := range e.sinks {
		if err := s.Send(ctx, f); err != nil {
			slog.Debug("Dropping event sink", "action", f.Action, "error", err)
			continue
		}
		live = append(live, s)
	}
	// Clear the dropped tail so the sinks can be collected.
	for i := len(live); i < len(e.sinks); i++ {
		e.sinks[i] = nil
	}
	e.sinks = live
	return nil
}

// Complete emits the terminal success frame.
func (e *Emitter) Complete(ctx context.Context, data map[string]any) error {
	return e.Emit(ctx, Event{Action: ActionComplete, Message: "Task completed.", Data: data})
}

// Fail emits the terminal error frame.
func (e *Emitter) Fail(ctx context.Context, message string) error {
	return e.Emit(ctx, Event{Action: ActionError, Message: message})
}

// Closed reports whether the terminal frame has been emitted.
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
