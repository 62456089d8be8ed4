package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/banshee-data/ultrasonic.monitor/internal/httputil"
	"github.com/banshee-data/ultrasonic.monitor/internal/monitor"
	"github.com/banshee-data/ultrasonic.monitor/internal/monitoring"
)

// handleEvents streams bus notifications as Server-Sent Events, one
// "event: <kind>" frame per notification.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	bus := s.ctrl.Bus()
	id, c := bus.Subscribe(monitor.DefaultSubscriberBuffer)
	defer bus.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case n, ok := <-c:
			if !ok {
				return
			}
			payload, err := json.Marshal(n)
			if err != nil {
				monitoring.Logf("failed to encode notification %d: %v", n.Seq, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", n.Seq, n.Kind, payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
