// Package scheduler provides recipe-driven job scheduling with pluggable
// backends. The legacy backend runs an in-process cron engine backed by a
// JSON job store; the temporal backend delegates scheduling to an external
// workflow service over HTTP. Both satisfy the Scheduler interface.
package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by all backends.
var (
	// ErrJobIDExists is returned when adding a job whose id is already scheduled.
	ErrJobIDExists = errors.New("job id already exists")

	// ErrJobNotFound is returned for operations on an unknown job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotRunning is returned when killing a job that has no execution in flight.
	ErrJobNotRunning = errors.New("job is not running")
)

// CronParseError indicates a malformed cron expression. It carries the
// original input string.
type CronParseError struct {
	Expression string
	Err        error
}

func (e *CronParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid cron expression %q: %v", e.Expression, e.Err)
	}
	return fmt.Sprintf("invalid cron expression %q", e.Expression)
}

func (e *CronParseError) Unwrap() error { return e.Err }

// StorageError indicates a job store I/O failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("job store %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// InternalError wraps a backend-specific failure, e.g. a temporal HTTP call
// that timed out after the backend was successfully constructed.
type InternalError struct {
	Backend string
	Err     error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s scheduler internal error: %v", e.Backend, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// Phase identifies which stage of a job firing failed.
type Phase string

const (
	PhaseLoad      Phase = "load"
	PhaseAgent     Phase = "agent"
	PhaseConfigure Phase = "configure"
	PhaseExecute   Phase = "execute"
	PhasePersist   Phase = "persist"
)

// ExecutionError wraps a failure of one job firing, tagged with the phase
// that failed. A single firing's failure never aborts the scheduler loop.
type ExecutionError struct {
	JobID string
	Phase Phase
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("job %s failed in %s phase: %v", e.JobID, e.Phase, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// RecipeLoadError indicates a missing or malformed recipe. A firing that
// fails here is a no-op: the job stays scheduled.
type RecipeLoadError struct {
	Path string
	Err  error
}

func (e *RecipeLoadError) Error() string {
	return fmt.Sprintf("failed to load recipe %s: %v", e.Path, e.Err)
}

func (e *RecipeLoadError) Unwrap() error { return e.Err }

// AgentSetupError indicates extension or provider configuration failure.
type AgentSetupError struct {
	SessionID string
	Err       error
}

func (e *AgentSetupError) Error() string {
	return fmt.Sprintf("agent setup failed for session %s: %v", e.SessionID, e.Err)
}

func (e *AgentSetupError) Unwrap() error { return e.Err }

// PersistError indicates a session write failure.
type PersistError struct {
	SessionID string
	Err       error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist session %s: %v", e.SessionID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
