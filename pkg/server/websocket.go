package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWatch pushes the frames of every run of a project to a websocket
// client for as long as it stays connected. Frames of runs started before the
// connection are not replayed.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupProject(w, r)
	if !ok {
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	frames, cancel := s.hub.Watch(p.ID)
	defer cancel()

	// Reader loop: only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("WebSocket read error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := ws.WriteJSON(f); err != nil {
				slog.Debug("WebSocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			// Keepalive
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
