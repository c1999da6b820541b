package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/sweepd/internal/domain"
	"github.com/aristath/sweepd/internal/jobs"
)

// submitRequest is the POST /api/sweeps body.
type submitRequest struct {
	jobs.Request
	// Sync asks for the blocking mode: the full result is returned inline
	// when the combination count is below the server's threshold.
	Sync bool `json:"sync,omitempty"`
}

// handleSubmitSweep accepts a sweep job. Async mode answers 202 with the
// job's URLs; sync mode blocks and answers 200 with the completed snapshot.
func (s *Server) handleSubmitSweep(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, domain.NewConfigurationError("invalid request body: %v", err))
		return
	}

	if req.Robustness != nil && req.Robustness.BatchTimeout == 0 {
		req.Robustness.BatchTimeout = s.simTimeout
	}

	if req.Sync {
		count := req.Sweep.CombinationCount()
		if count > s.syncThreshold {
			s.writeError(w, domain.NewConfigurationError(
				"sweep of %d combinations exceeds the synchronous limit of %d, submit without sync", count, s.syncThreshold))
			return
		}
		snap, err := s.jobs.RunSync(r.Context(), req.Request)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, snap)
		return
	}

	snap, err := s.jobs.Submit(req.Request)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     snap.ID,
		"status":     snap.Status,
		"status_url": fmt.Sprintf("/api/jobs/%s", snap.ID),
		"stream_url": fmt.Sprintf("/api/jobs/%s/stream", snap.ID),
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": s.jobs.List()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	switch err := s.jobs.Cancel(jobID); {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": jobID,
			"status": "cancellation_requested",
		})
	case errors.Is(err, jobs.ErrJobNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
	case errors.Is(err, jobs.ErrJobFinished):
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": "job already finished"})
	default:
		s.writeError(w, err)
	}
}

// handleSystemStatus reports process and host health alongside job counters.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"goroutines":     runtime.NumGoroutine(),
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		status["cpu_percent"] = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		status["memory_percent"] = memStat.UsedPercent
		status["memory_used_mb"] = memStat.Used / 1024 / 1024
	}

	byStatus := make(map[jobs.Status]int)
	for _, snap := range s.jobs.List() {
		byStatus[snap.Status]++
	}
	status["jobs"] = byStatus

	if s.cache != nil {
		status["cache_entries"] = s.cache.Len()
	}

	s.writeJSON(w, http.StatusOK, status)
}
