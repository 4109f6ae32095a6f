package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opera-os/opera/internal/config"
	"github.com/opera-os/opera/internal/tools"
)

// Job is a pipeline request that runs on a schedule.
type Job struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Schedule    ScheduleConfig     `json:"schedule"`
	Input       string             `json:"input"`
	Permissions []tools.Permission `json:"permissions,omitempty"`
	Enabled     bool               `json:"enabled"`
	State       JobState           `json:"state"`
}

// ScheduleConfig defines when a job runs
type ScheduleConfig struct {
	Kind       string `json:"kind"` // "interval", "cron", "at"
	IntervalMs int64  `json:"intervalMs,omitempty"`
	Expr       string `json:"expr,omitempty"`
	Time       string `json:"time,omitempty"` // "HH:MM", daily
	Timezone   string `json:"timezone,omitempty"`
}

// JobState tracks job execution state
type JobState struct {
	LastRunAt    time.Time     `json:"lastRunAt,omitzero"`
	NextRunAt    time.Time     `json:"nextRunAt,omitzero"`
	RunCount     int64         `json:"runCount"`
	ErrorCount   int64         `json:"errorCount"`
	LastError    string        `json:"lastError,omitempty"`
	LastPlanID   string        `json:"lastPlanId,omitempty"`
	LastDuration time.Duration `json:"lastDuration,omitempty"`
}

// FromConfig converts a configured job. Permissions are parsed here so an
// unknown name fails at load time instead of at the first run.
func FromConfig(c config.SchedulerJobConfig) (*Job, error) {
	perms, err := tools.ParsePermissions(c.Permissions)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", c.ID, err)
	}
	j := &Job{
		ID:   c.ID,
		Name: c.Name,
		Schedule: ScheduleConfig{
			Kind:       c.Schedule.Kind,
			IntervalMs: c.Schedule.IntervalMs,
			Expr:       c.Schedule.Expr,
			Time:       c.Schedule.Time,
			Timezone:   c.Schedule.Timezone,
		},
		Input:       c.Input,
		Permissions: perms,
		Enabled:     c.Enabled,
	}
	if j.Name == "" {
		j.Name = j.ID
	}
	return j, nil
}

// Validate checks if job configuration is valid
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID required")
	}
	if j.Name == "" {
		return fmt.Errorf("job name required")
	}
	if strings.TrimSpace(j.Input) == "" {
		return fmt.Errorf("job input required")
	}

	switch j.Schedule.Kind {
	case "interval":
		if j.Schedule.IntervalMs <= 0 {
			return fmt.Errorf("intervalMs must be positive")
		}
	case "cron":
		if j.Schedule.Expr == "" {
			return fmt.Errorf("cron expression required")
		}
		if _, err := cron.ParseStandard(j.Schedule.Expr); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	case "at":
		if _, err := time.Parse("15:04", j.Schedule.Time); err != nil {
			return fmt.Errorf("invalid time format (use HH:MM): %w", err)
		}
		if j.Schedule.Timezone != "" {
			if _, err := time.LoadLocation(j.Schedule.Timezone); err != nil {
				return fmt.Errorf("invalid timezone: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown schedule kind: %q (use interval, cron, or at)", j.Schedule.Kind)
	}
	return nil
}

// NextRun calculates the next run time after from.
func (j *Job) NextRun(from time.Time) (time.Time, error) {
	switch j.Schedule.Kind {
	case "interval":
		return from.Add(j.interval()), nil

	case "cron":
		schedule, err := cron.ParseStandard(j.Schedule.Expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron: %w", err)
		}
		return schedule.Next(from), nil

	case "at":
		t, err := time.Parse("15:04", j.Schedule.Time)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time: %w", err)
		}
		loc := time.Local
		if j.Schedule.Timezone != "" {
			if loc, err = time.LoadLocation(j.Schedule.Timezone); err != nil {
				return time.Time{}, fmt.Errorf("load timezone: %w", err)
			}
		}
		local := from.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", j.Schedule.Kind)
	}
}

func (j *Job) interval() time.Duration {
	return time.Duration(j.Schedule.IntervalMs) * time.Millisecond
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	c := *j
	c.Permissions = append([]tools.Permission(nil), j.Permissions...)
	if j.Permissions == nil {
		c.Permissions = nil
	}
	return &c
}
