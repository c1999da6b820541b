package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// handleStreamJob serves GET /api/jobs/{id}/stream as Server-Sent Events.
// Each progress event is one `data: <json>` frame; the stream ends after the
// terminal event.
func (s *Server) handleStreamJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	ch, cancel, err := s.jobs.Subscribe(jobID)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to encode progress event")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			if ev.Terminal {
				return
			}
		}
	}
}
