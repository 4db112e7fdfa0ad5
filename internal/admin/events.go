package admin

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
)

// eventBuffer is the per-subscriber channel depth. A client that falls this
// far behind starts missing events; the feed is diagnostic.
const eventBuffer = 64

// handleEvents upgrades to WebSocket and streams bridge events as JSON text
// frames until the client disconnects or the feed ends.
func (s *Server) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.Warn("event feed upgrade failed", "error", err)
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusInternalError, "unexpected close")
		}()

		events, cancel := s.events.Subscribe(eventBuffer)
		defer cancel()

		s.logger.Debug("event feed subscriber connected", "remote", r.RemoteAddr)

		ctx := r.Context()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "event feed closed")
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					s.logger.Error("encoding event", "error", err)
					continue
				}
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					s.logger.Debug("event feed subscriber gone", "error", err)
					return
				}
			case <-ctx.Done():
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
		}
	}
}
