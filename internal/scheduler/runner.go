package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opera-os/opera/internal/orchestrator"
)

// Runner executes one pipeline request. *orchestrator.Orchestrator
// satisfies it.
type Runner interface {
	Run(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.RunResult, error)
}

// JobRunner executes a single job on schedule
type JobRunner struct {
	mu     sync.Mutex
	job    *Job
	runner Runner
	logger *slog.Logger
	now    func() time.Time
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewJobRunner takes ownership of job; read it back through Snapshot.
func NewJobRunner(job *Job, runner Runner, log *slog.Logger) *JobRunner {
	if log == nil {
		log = slog.Default()
	}
	return &JobRunner{
		job:    job,
		runner: runner,
		logger: log.With("job", job.ID),
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the job until ctx is cancelled or Stop is called.
func (r *JobRunner) Start(ctx context.Context) {
	defer close(r.doneCh)

	next, err := r.schedule(r.now())
	if err != nil {
		r.logger.Error("failed to calculate next run", "error", err)
		return
	}
	r.logger.Info("job runner started", "next_run", next.Format(time.RFC3339))

	timer := time.NewTimer(next.Sub(r.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("job runner stopped (context cancelled)")
			return
		case <-r.stopCh:
			r.logger.Debug("job runner stopped")
			return
		case <-timer.C:
			r.execute(ctx)

			next, err := r.schedule(r.now())
			if err != nil {
				r.logger.Error("failed to calculate next run", "error", err)
				return
			}
			r.logger.Debug("next run scheduled", "next_run", next.Format(time.RFC3339))
			timer.Reset(next.Sub(r.now()))
		}
	}
}

// Stop stops the job runner and waits for Start to return.
func (r *JobRunner) Stop() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	<-r.doneCh
}

// Snapshot returns a copy of the job with its current state.
func (r *JobRunner) Snapshot() *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Clone()
}

func (r *JobRunner) schedule(from time.Time) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := r.job.NextRun(from)
	if err != nil {
		return time.Time{}, err
	}
	r.job.State.NextRunAt = next
	return next, nil
}

// execute runs the job once and records the outcome.
func (r *JobRunner) execute(ctx context.Context) error {
	r.mu.Lock()
	req := orchestrator.RunRequest{
		Input:       r.job.Input,
		Context:     map[string]any{"source": "scheduler", "job_id": r.job.ID},
		Permissions: r.job.Permissions,
	}
	r.mu.Unlock()

	start := r.now()
	r.logger.Info("executing job")

	planID, err := r.run(ctx, req)
	duration := r.now().Sub(start)

	r.mu.Lock()
	defer r.mu.Unlock()
	state := &r.job.State
	state.LastRunAt = r.now()
	state.LastDuration = duration
	state.LastPlanID = planID
	state.RunCount++

	if err != nil {
		state.ErrorCount++
		state.LastError = err.Error()
		r.logger.Error("job failed",
			"error", err,
			"duration", duration,
			"run_count", state.RunCount,
			"error_count", state.ErrorCount)
		return err
	}
	state.LastError = ""
	r.logger.Info("job completed",
		"plan_id", planID,
		"duration", duration,
		"run_count", state.RunCount)
	return nil
}

func (r *JobRunner) run(ctx context.Context, req orchestrator.RunRequest) (string, error) {
	if r.runner == nil {
		return "", errors.New("no pipeline runner configured")
	}
	res, err := r.runner.Run(ctx, req)
	if err != nil {
		return "", err
	}
	if res.Execution == nil {
		return res.Plan.PlanID, errors.New("plan was not executed")
	}
	if !res.Execution.Success {
		return res.Plan.PlanID, fmt.Errorf("plan failed: %s", failure(res))
	}
	return res.Plan.PlanID, nil
}

func failure(res *orchestrator.RunResult) string {
	for _, step := range res.Execution.Results {
		if !step.Success && step.Error != "" {
			return fmt.Sprintf("step %d: %s", step.StepID, step.Error)
		}
	}
	if res.Execution.Error != "" {
		return res.Execution.Error
	}
	return "unknown error"
}
