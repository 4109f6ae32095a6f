package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/opera-os/opera/internal/memory"
)

const defaultSearchLimit = 10

type addMemoryRequest struct {
	Type       string  `json:"memory_type"`
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

type searchRequest struct {
	Query string `json:"query"`
	Type  string `json:"memory_type"`
	Limit int    `json:"limit"`
}

// requireMemory writes a 503 and reports false when no store is attached.
func (s *Server) requireMemory(w http.ResponseWriter) bool {
	if s.memory == nil {
		writeError(w, http.StatusServiceUnavailable, "memory store not configured")
		return false
	}
	return true
}

func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	if !s.requireMemory(w) {
		return
	}
	var req addMemoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := s.memory.Add(r.Context(), memory.Memory{
		Type:       req.Type,
		Content:    req.Content,
		Source:     req.Source,
		Confidence: req.Confidence,
	})
	if errors.Is(err, memory.ErrEmptyContent) {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if err != nil {
		s.logger.Error("add memory", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store memory")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	if !s.requireMemory(w) {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	mems, err := s.memory.List(r.Context(), r.URL.Query().Get("memory_type"), limit)
	if err != nil {
		s.logger.Error("list memories", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list memories")
		return
	}
	if mems == nil {
		mems = []memory.Memory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"memories": mems,
		"count":    len(mems),
	})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	if !s.requireMemory(w) {
		return
	}
	m, err := s.memory.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, memory.ErrNotFound) {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	if err != nil {
		s.logger.Error("get memory", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load memory")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	if !s.requireMemory(w) {
		return
	}
	id := r.PathValue("id")
	err := s.memory.Delete(r.Context(), id)
	if errors.Is(err, memory.ErrNotFound) {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	if err != nil {
		s.logger.Error("delete memory", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete memory")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// handleSemanticSearch runs a hybrid search. A memory_type filter is applied
// after ranking, so the store is asked for extra candidates.
func (s *Server) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	if !s.requireMemory(w) {
		return
	}
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}

	fetch := req.Limit
	if req.Type != "" {
		fetch = req.Limit * 4
	}
	results, err := s.memory.Search(r.Context(), req.Query, fetch)
	if err != nil {
		s.logger.Error("semantic search", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	out := make([]memory.Result, 0, len(results))
	for _, res := range results {
		if req.Type != "" && res.Type != req.Type {
			continue
		}
		out = append(out, res)
		if len(out) == req.Limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   req.Query,
		"results": out,
		"count":   len(out),
	})
}
