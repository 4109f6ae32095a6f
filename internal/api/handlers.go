package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/opera-os/opera/internal/models"
	"github.com/opera-os/opera/internal/orchestrator"
	"github.com/opera-os/opera/internal/tools"
	"github.com/opera-os/opera/internal/types"
)

type deriveIntentRequest struct {
	UserInput string         `json:"user_input"`
	Context   map[string]any `json:"context"`
}

type generatePlanRequest struct {
	Intent types.Intent `json:"intent"`
}

type previewActionRequest struct {
	PlanStep types.PlanStep `json:"plan_step"`
}

type executePlanRequest struct {
	Plan               types.Plan `json:"plan"`
	AllowedPermissions []string   `json:"allowed_permissions"`
}

type runRequest struct {
	UserInput          string         `json:"user_input"`
	Context            map[string]any `json:"context"`
	AllowedPermissions []string       `json:"allowed_permissions"`
}

func (s *Server) handleDeriveIntent(w http.ResponseWriter, r *http.Request) {
	var req deriveIntentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserInput == "" {
		writeError(w, http.StatusBadRequest, "user_input is required")
		return
	}
	writeJSON(w, http.StatusOK, s.orch.DeriveIntent(r.Context(), req.UserInput, req.Context))
}

func (s *Server) handleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	var req generatePlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Intent.Category.Valid() {
		writeError(w, http.StatusBadRequest, "unknown intent category: "+string(req.Intent.Category))
		return
	}
	writeJSON(w, http.StatusOK, s.orch.GeneratePlan(r.Context(), req.Intent))
}

func (s *Server) handlePreviewAction(w http.ResponseWriter, r *http.Request) {
	var req previewActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.orch.PreviewAction(req.PlanStep))
}

// handleExecutePlan runs a caller-supplied plan. Step failures are reported
// in the body with a 200; only malformed requests get an error status.
func (s *Server) handleExecutePlan(w http.ResponseWriter, r *http.Request) {
	var req executePlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	perms, status, err := s.resolvePermissions(r, req.AllowedPermissions)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Execute(r.Context(), req.Plan, perms))
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	schemas := s.orch.Describe()
	if schemas == nil {
		schemas = []tools.Schema{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": schemas,
		"count": len(schemas),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	perms, status, err := s.resolvePermissions(r, req.AllowedPermissions)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	res, err := s.orch.Run(r.Context(), orchestrator.RunRequest{
		Input:       req.UserInput,
		Context:     req.Context,
		Permissions: perms,
	})
	if errors.Is(err, orchestrator.ErrEmptyInput) {
		writeError(w, http.StatusBadRequest, "user_input is required")
		return
	}
	if err != nil {
		s.logger.Error("pipeline run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "pipeline run failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// statsProvider is implemented by providers that count their calls, such as
// a fallback chain.
type statsProvider interface {
	Stats() map[string]models.CallStats
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":         "ok",
		"provider":       s.orch.ProviderName(),
		"tools":          s.orch.ToolCount(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"pipeline":       s.orch.Stats(),
	}
	if s.memory != nil {
		if n, err := s.memory.Count(r.Context()); err == nil {
			status["memories"] = n
		} else {
			s.logger.Warn("count memories", "error", err)
		}
	}
	if s.scheduler != nil {
		status["scheduler"] = s.scheduler.Stats()
	}
	if sp, ok := s.provider.(statsProvider); ok {
		status["provider_stats"] = sp.Stats()
	}
	writeJSON(w, http.StatusOK, status)
}
