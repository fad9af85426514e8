package scheduler

import (
	"context"
	"time"
)

// ExecutionMode controls how a job firing is scheduled relative to others.
type ExecutionMode string

const (
	// ExecutionModeBackground runs the firing as an independent task.
	ExecutionModeBackground ExecutionMode = "background"
	// ExecutionModeForeground serializes the firing with other foreground jobs.
	ExecutionModeForeground ExecutionMode = "foreground"
)

// ScheduledJob describes one recurring recipe execution.
//
// Invariant: CurrentlyRunning == true implies CurrentSessionID and
// ProcessStartTime are both set and the backend holds a cancel handle for
// the job.
type ScheduledJob struct {
	ID               string        `json:"id"`
	Source           string        `json:"source"`                       // path to the job's private recipe snapshot
	Cron             string        `json:"cron"`                         // normalized cron expression
	LastRun          *time.Time    `json:"last_run,omitempty"`           // last firing time
	CurrentlyRunning bool          `json:"currently_running"`            // true while an execution is in flight
	Paused           bool          `json:"paused"`                       // paused jobs keep their schedule but skip firings
	CurrentSessionID string        `json:"current_session_id,omitempty"` // session id of the in-flight execution
	ProcessStartTime *time.Time    `json:"process_start_time,omitempty"` // start time of the in-flight execution
	ExecutionMode    ExecutionMode `json:"execution_mode,omitempty"`     // foreground or background, default background
}

// SessionRef identifies one persisted session produced by a job firing.
type SessionRef struct {
	ID       string    `json:"id"`
	Path     string    `json:"path"`
	Modified time.Time `json:"modified"`
}

// RunningJobInfo describes an in-flight execution.
type RunningJobInfo struct {
	SessionID string    `json:"session_id"`
	StartTime time.Time `json:"start_time"`
}

// Scheduler is the backend contract. All methods are safe for concurrent use.
type Scheduler interface {
	// AddScheduledJob registers a new job. Fails with ErrJobIDExists if the
	// id is already present. The recipe file is snapshotted at add time.
	AddScheduledJob(ctx context.Context, job ScheduledJob) error

	// ListScheduledJobs returns all jobs.
	ListScheduledJobs(ctx context.Context) ([]ScheduledJob, error)

	// RemoveScheduledJob removes a job, cancelling any running execution and
	// deleting the job's private recipe snapshot.
	RemoveScheduledJob(ctx context.Context, id string) error

	// PauseSchedule stops future firings without removing the job.
	PauseSchedule(ctx context.Context, id string) error

	// UnpauseSchedule resumes firings for a paused job.
	UnpauseSchedule(ctx context.Context, id string) error

	// RunNow triggers an immediate firing and returns its session id.
	RunNow(ctx context.Context, id string) (string, error)

	// Sessions returns up to limit session refs for the job, newest first.
	Sessions(ctx context.Context, id string, limit int) ([]SessionRef, error)

	// UpdateSchedule replaces the job's cron expression, preserving history.
	UpdateSchedule(ctx context.Context, id string, cronExpr string) error

	// KillRunningJob cancels the job's in-flight execution. It returns
	// promptly without waiting for the task to observe cancellation.
	KillRunningJob(ctx context.Context, id string) error

	// GetRunningJobInfo reports the in-flight execution, or nil if idle.
	GetRunningJobInfo(ctx context.Context, id string) (*RunningJobInfo, error)
}

// JobRunner turns one job firing into an agent run. The executor package
// provides the production implementation.
type JobRunner interface {
	RunJob(ctx context.Context, job ScheduledJob, sessionID string) error
}

// JobRunnerFunc adapts a function to the JobRunner interface.
type JobRunnerFunc func(ctx context.Context, job ScheduledJob, sessionID string) error

func (f JobRunnerFunc) RunJob(ctx context.Context, job ScheduledJob, sessionID string) error {
	return f(ctx, job, sessionID)
}
