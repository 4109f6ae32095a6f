// Package scheduler runs configured pipeline requests on interval, cron
// or daily schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/opera-os/opera/internal/config"
)

// ErrJobNotFound is returned for an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// Scheduler manages all scheduled jobs
type Scheduler struct {
	jobs    map[string]*Job
	runners map[string]*JobRunner
	runner  Runner
	logger  *slog.Logger
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// Stats summarises the scheduler for the status endpoint.
type Stats struct {
	TotalJobs   int   `json:"total_jobs"`
	ActiveJobs  int   `json:"active_jobs"`
	RunningJobs int   `json:"running_jobs"`
	TotalRuns   int64 `json:"total_runs"`
	TotalErrors int64 `json:"total_errors"`
}

// NewScheduler creates a new scheduler
func NewScheduler(runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:    make(map[string]*Job),
		runners: make(map[string]*JobRunner),
		runner:  runner,
		logger:  logger.With("component", "scheduler"),
	}
}

// Start launches a runner for every enabled job. Runners stop when ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("starting scheduler", "jobs", len(s.jobs))

	for id, job := range s.jobs {
		if !job.Enabled {
			s.logger.Debug("skipping disabled job", "job", id)
			continue
		}
		s.launch(job)
	}

	s.logger.Info("scheduler started", "active_jobs", len(s.runners))
	return nil
}

// Stop stops all job runners
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	for id := range s.runners {
		s.halt(id)
	}
	s.ctx, s.cancel = nil, nil
	s.logger.Info("scheduler stopped")
}

// AddJob adds a new job to the scheduler
func (s *Scheduler) AddJob(job *Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job with ID %s already exists", job.ID)
	}
	s.jobs[job.ID] = job

	if s.ctx != nil && job.Enabled {
		s.launch(job)
	}
	s.logger.Info("job added", "job", job.ID, "enabled", job.Enabled)
	return nil
}

// RemoveJob removes a job from the scheduler
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	s.halt(id)
	delete(s.jobs, id)
	s.logger.Info("job removed", "job", id)
	return nil
}

// GetJob retrieves a job by ID
func (s *Scheduler) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.jobs[id]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return s.snapshot(id), nil
}

// ListJobs returns all jobs sorted by id.
func (s *Scheduler) ListJobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for id := range s.jobs {
		jobs = append(jobs, s.snapshot(id))
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	return jobs
}

// RunJobNow runs a job once, outside its schedule, and returns its error.
func (s *Scheduler) RunJobNow(ctx context.Context, id string) error {
	s.mu.Lock()
	job, exists := s.jobs[id]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	r, running := s.runners[id]
	if !running {
		// Idle jobs get a throwaway runner; its state is copied back below.
		r = NewJobRunner(job.Clone(), s.runner, s.logger)
	}
	s.mu.Unlock()

	err := r.execute(ctx)

	if !running {
		s.mu.Lock()
		if cur, ok := s.jobs[id]; ok {
			cur.State = r.Snapshot().State
		}
		s.mu.Unlock()
	}
	return err
}

// LoadJobs adds configured jobs, skipping any that fail validation.
func (s *Scheduler) LoadJobs(cfg config.SchedulerConfig) int {
	loaded := 0
	for _, jc := range cfg.Jobs {
		job, err := FromConfig(jc)
		if err == nil {
			err = s.AddJob(job)
		}
		if err != nil {
			s.logger.Warn("invalid job in config, skipping", "job", jc.ID, "error", err)
			continue
		}
		loaded++
	}
	s.logger.Info("jobs loaded", "count", loaded)
	return loaded
}

// Stats returns scheduler statistics
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{TotalJobs: len(s.jobs), RunningJobs: len(s.runners)}
	for id, job := range s.jobs {
		snap := s.snapshot(id)
		st.TotalRuns += snap.State.RunCount
		st.TotalErrors += snap.State.ErrorCount
		if job.Enabled {
			st.ActiveJobs++
		}
	}
	return st
}

// launch starts a runner for job. Caller holds s.mu.
func (s *Scheduler) launch(job *Job) {
	r := NewJobRunner(job.Clone(), s.runner, s.logger)
	s.runners[job.ID] = r
	go r.Start(s.ctx)
}

// halt stops a job's runner and keeps its state. Caller holds s.mu.
func (s *Scheduler) halt(id string) {
	r, ok := s.runners[id]
	if !ok {
		return
	}
	r.Stop()
	if job, ok := s.jobs[id]; ok {
		job.State = r.Snapshot().State
	}
	delete(s.runners, id)
}

// snapshot prefers the live runner's copy. Caller holds s.mu.
func (s *Scheduler) snapshot(id string) *Job {
	if r, ok := s.runners[id]; ok {
		return r.Snapshot()
	}
	return s.jobs[id].Clone()
}
