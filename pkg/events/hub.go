package events

import (
	"context"
	"sync"
)

// Hub republishes frames of a project's runs to live watchers. A watcher
// that falls behind misses frames instead of slowing the run.
type Hub struct {
	mu       sync.RWMutex
	watchers map[string]map[chan Frame]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{watchers: make(map[string]map[chan Frame]struct{})}
}

// Watch subscribes to frames for projectID. The returned cancel function
// unsubscribes and closes the channel.
func (h *Hub) Watch(projectID string) (<-chan Frame, func()) {
	ch := make(chan Frame, 64)
	h.mu.Lock()
	if h.watchers[projectID] == nil {
		h.watchers[projectID] = make(map[chan Frame]struct{})
	}
	h.watchers[projectID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.watchers[projectID], ch)
			if len(h.watchers[projectID]) == 0 {
				delete(h.watchers, projectID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish sends f to every watcher of projectID without blocking.
func (h *Hub) Publish(projectID string, f Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.watchers[projectID] {
		select {
		case ch <- f:
		default:
			// Drop if watcher is not consuming fast enough.
		}
	}
}

// Sink returns a sink that publishes to projectID's watchers. It never fails.
func (h *Hub) Sink(projectID string) Sink {
	return SinkFunc(func(_ context.Context, f Frame) error {
		h.Publish(projectID, f)
		return nil
	})
}
