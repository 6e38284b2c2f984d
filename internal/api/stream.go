package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/websocket"

	"github.com/fwforge/fwforge/internal/logfields"
)

// heartbeatInterval keeps idle streaming connections from being reaped by
// intermediaries.
const heartbeatInterval = 30 * time.Second

// handleEventStream pushes every unit's log events over Server-Sent Events.
// Consumers filter by unitId; subscription starts at connect time, earlier
// output is available from the unit's transcript.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sub := s.hub.Subscribe()
	if sub == nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event := <-sub.Events():
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: log\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// logSocketHandler serves the same event stream over a websocket for
// consumers that want a duplex channel (the browser terminal view).
func (s *Server) logSocketHandler() http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		defer conn.Close()

		sub := s.hub.Subscribe()
		if sub == nil {
			return
		}
		defer sub.Close()

		// Inbound frames are drained and discarded; closing the read
		// side is how the client disconnects.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			var discard string
			for {
				if err := websocket.Message.Receive(conn, &discard); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case <-sub.Done():
				return
			case event := <-sub.Events():
				if err := websocket.JSON.Send(conn, event); err != nil {
					slog.Debug("websocket send failed", logfields.Error(err))
					return
				}
			}
		}
	})
}
