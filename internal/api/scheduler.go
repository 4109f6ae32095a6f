package api

import (
	"errors"
	"net/http"

	"github.com/opera-os/opera/internal/scheduler"
)

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"enabled": false,
			"jobs":    []*scheduler.Job{},
		})
		return
	}
	jobs := s.scheduler.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": true,
		"jobs":    jobs,
		"count":   len(jobs),
		"stats":   s.scheduler.Stats(),
	})
}

// handleRunJob triggers a job immediately. A failed run is still a 200; the
// job state in the body carries the error.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not enabled")
		return
	}
	id := r.PathValue("id")
	runErr := s.scheduler.RunJobNow(r.Context(), id)
	if errors.Is(runErr, scheduler.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found: "+id)
		return
	}
	job, err := s.scheduler.GetJob(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found: "+id)
		return
	}
	resp := map[string]any{"job": job, "success": runErr == nil}
	if runErr != nil {
		resp["error"] = runErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
