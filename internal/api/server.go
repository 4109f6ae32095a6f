// Package api exposes the pipeline over HTTP: one endpoint per pipeline
// stage, the combined run endpoint, memory management, scheduled jobs and a
// WebSocket for streamed completions.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/opera-os/opera/internal/memory"
	"github.com/opera-os/opera/internal/models"
	"github.com/opera-os/opera/internal/orchestrator"
	"github.com/opera-os/opera/internal/scheduler"
	"github.com/opera-os/opera/internal/security"
	"github.com/opera-os/opera/internal/tools"
)

// MemoryStore is what the memory endpoints need. *memory.Store satisfies it.
type MemoryStore interface {
	Add(ctx context.Context, m memory.Memory) (memory.Memory, error)
	Get(ctx context.Context, id string) (memory.Memory, error)
	List(ctx context.Context, memType string, limit int) ([]memory.Memory, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]memory.Result, error)
	Count(ctx context.Context) (int, error)
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Addr      string
	JWTSecret []byte

	// DefaultPermissions is consulted per request when neither the body nor
	// a token names any, so a config reload takes effect immediately. Nil
	// means tools.DefaultPermissions.
	DefaultPermissions func() []tools.Permission

	Memory    MemoryStore
	Provider  models.Provider
	Scheduler *scheduler.Scheduler
}

// Server is the HTTP API server
type Server struct {
	addr         string
	jwtSecret    []byte
	defaultPerms func() []tools.Permission

	orch      *orchestrator.Orchestrator
	memory    MemoryStore
	provider  models.Provider
	scheduler *scheduler.Scheduler

	logger     *slog.Logger
	startedAt  time.Time
	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(orch *orchestrator.Orchestrator, opts Options, logger *slog.Logger) *Server {
	perms := opts.DefaultPermissions
	if perms == nil {
		perms = func() []tools.Permission { return tools.DefaultPermissions }
	}
	addr := opts.Addr
	if addr == "" {
		addr = ":8000"
	}
	return &Server{
		addr:         addr,
		jwtSecret:    opts.JWTSecret,
		defaultPerms: perms,
		orch:         orch,
		memory:       opts.Memory,
		provider:     opts.Provider,
		scheduler:    opts.Scheduler,
		logger:       logger.With("component", "api"),
		startedAt:    time.Now(),
	}
}

// Handler returns the fully wrapped route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/intent/derive", s.handleDeriveIntent)
	mux.HandleFunc("POST /api/plan/generate", s.handleGeneratePlan)
	mux.HandleFunc("POST /api/action/preview", s.handlePreviewAction)
	mux.HandleFunc("POST /api/execute/plan", s.handleExecutePlan)
	mux.HandleFunc("GET /api/execute/tools", s.handleListTools)
	mux.HandleFunc("POST /api/run", s.handleRun)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /api/memory", s.handleListMemories)
	mux.HandleFunc("POST /api/memory", s.handleAddMemory)
	mux.HandleFunc("GET /api/memory/{id}", s.handleGetMemory)
	mux.HandleFunc("DELETE /api/memory/{id}", s.handleDeleteMemory)
	mux.HandleFunc("POST /api/search/semantic", s.handleSemanticSearch)

	mux.HandleFunc("GET /api/scheduler/jobs", s.handleListJobs)
	mux.HandleFunc("POST /api/scheduler/jobs/{id}/run", s.handleRunJob)

	mux.HandleFunc("GET /api/stream", s.handleStream)

	var h http.Handler = mux
	h = security.RBACMiddleware()(h)
	h = security.AuthMiddleware(s.jwtSecret, s.logger)(h)
	h = s.loggingMiddleware(h)
	return s.corsMiddleware(h)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Streams and plans that call a model can run long.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
