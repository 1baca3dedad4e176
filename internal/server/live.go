package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/crowdsight/crowd-density-server/internal/state"
)

// fallbackInterval paces placeholder messages to subscribers of a stream
// that is publishing nothing, so clients can distinguish "quiet" from
// "disconnected".
const fallbackInterval = time.Second

// handleLive upgrades to WebSocket and streams per-frame statistics for one
// stream. On connect the client gets the latest cached snapshot (or a zero
// placeholder) immediately, then one message per publication.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.registry.Get(id); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "stream not found"}, http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Server", "ws upgrade failed for stream %s: %v", id, err)
		return
	}
	defer conn.Close()

	s.mets.TotalSubscribers.Add(1)
	s.mets.ActiveSubscribers.Add(1)
	defer s.mets.ActiveSubscribers.Add(^uint64(0))

	msgs, cancel, err := s.store.Subscribe(r.Context(), id)
	if err != nil {
		s.log.Warn("Server", "subscribe failed for stream %s: %v", id, err)
		return
	}
	defer cancel()

	if err := conn.WriteJSON(s.initialMessage(r, id)); err != nil {
		return
	}

	// Drain the read side so close frames and pings are processed; a read
	// error means the client went away.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(fallbackInterval)
	defer ticker.Stop()

	idle := true
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			idle = false
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if idle {
				if err := conn.WriteJSON(state.Placeholder()); err != nil {
					return
				}
			}
			idle = true
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// initialMessage converts the cached snapshot into a live message, or falls
// back to the zero placeholder for a stream with no stats yet.
func (s *Server) initialMessage(r *http.Request, id string) *state.LiveMessage {
	snap, err := s.store.GetStats(r.Context(), id)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			s.log.Warn("Server", "stats lookup failed for stream %s: %v", id, err)
		}
		return state.Placeholder()
	}
	return &state.LiveMessage{
		Type:      "frame_stats",
		Timestamp: float64(snap.UpdatedAt.UnixNano()) / 1e9,
		Count:     snap.Count,
		Zones:     snap.Zones,
		FPS:       snap.FPS,
		Model:     snap.Model,
	}
}
