package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/aatumaykin/schedbot/internal/logger"
	"github.com/aatumaykin/schedbot/internal/recipe"
)

// LegacyOptions configures the in-process backend.
type LegacyOptions struct {
	WorkspacePath string    // root for the job store and recipe snapshots
	SessionsDir   string    // directory holding session JSONL files
	Runner        JobRunner // turns a firing into an agent run
	Logger        *logger.Logger

	// AllowConcurrentRunNow lets RunNow start an execution while a scheduled
	// firing of the same job is still in flight. Scheduled firings are always
	// serialized with respect to themselves.
	AllowConcurrentRunNow bool
}

// runHandle tracks one in-flight execution.
type runHandle struct {
	sessionID string
	started   time.Time
	cancel    context.CancelFunc
}

// jobEntry pairs a persisted job with its cron engine registration.
type jobEntry struct {
	job     ScheduledJob
	entryID cron.EntryID
}

// LegacyScheduler is the in-process backend: a robfig cron engine, a JSON
// job store, and a registry of cancel handles for running executions.
//
// Lock ordering: mu (job map) is always acquired before runMu (running
// registry), and both are released before any disk or network I/O so the
// cron engine is never blocked on a store write.
type LegacyScheduler struct {
	cron        *cron.Cron
	log         *logger.Logger
	runner      JobRunner
	store       *JobStore
	sessionsDir string
	recipesDir  string

	allowConcurrentRunNow bool

	mu   sync.Mutex
	jobs map[string]*jobEntry

	runMu   sync.Mutex
	running map[string]map[string]*runHandle // job id -> session id -> handle

	fgMu sync.Mutex // serializes foreground executions

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stateMu sync.Mutex
}

// NewLegacyScheduler builds the backend and loads the job store. Store
// corruption or I/O failure is fatal here: there is no job data to operate
// on. Jobs found with a stale running flag (crash before completion) are
// reset to idle.
func NewLegacyScheduler(opts LegacyOptions) (*LegacyScheduler, error) {
	s := &LegacyScheduler{
		cron:                  cron.New(cron.WithSeconds()),
		log:                   opts.Logger,
		runner:                opts.Runner,
		store:                 NewJobStore(opts.WorkspacePath, opts.Logger),
		sessionsDir:           opts.SessionsDir,
		recipesDir:            filepath.Join(opts.WorkspacePath, recipe.SnapshotSubdirectory),
		allowConcurrentRunNow: opts.AllowConcurrentRunNow,
		jobs:                  make(map[string]*jobEntry),
		running:               make(map[string]map[string]*runHandle),
	}

	jobs, err := s.store.Load()
	if err != nil {
		return nil, err
	}

	for _, job := range jobs {
		if job.CurrentlyRunning {
			job.CurrentlyRunning = false
			job.CurrentSessionID = ""
			job.ProcessStartTime = nil
			s.log.Warn("reset stale running flag on load",
				logger.Field{Key: "job_id", Value: job.ID})
		}
		entry := &jobEntry{job: job}
		entryID, err := s.registerCronEntry(job.ID, job.Cron)
		if err != nil {
			return nil, &CronParseError{Expression: job.Cron, Err: err}
		}
		entry.entryID = entryID
		s.jobs[job.ID] = entry
	}

	return s, nil
}

// Start starts the cron engine and ties the scheduler's lifetime to ctx.
func (s *LegacyScheduler) Start(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.cron.Start()
	s.log.Info("legacy scheduler started",
		logger.Field{Key: "jobs", Value: s.jobCount()})

	go func() {
		<-s.ctx.Done()
		s.cron.Stop()
		s.log.Info("legacy scheduler stopped")
	}()

	return nil
}

// Stop stops the scheduler. In-flight executions are cancelled via their
// contexts, which descend from the scheduler context.
func (s *LegacyScheduler) Stop() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if !s.started {
		return fmt.Errorf("scheduler not started")
	}

	s.cancel()
	s.started = false
	return nil
}

// IsStarted reports whether the scheduler is running.
func (s *LegacyScheduler) IsStarted() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.started
}

func (s *LegacyScheduler) jobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// registerCronEntry adds a firing callback to the cron engine. The canonical
// 7-field expression is trimmed to the 6 fields robfig understands.
func (s *LegacyScheduler) registerCronEntry(jobID, cronExpr string) (cron.EntryID, error) {
	return s.cron.AddFunc(engineExpression(cronExpr), func() {
		if _, err := s.fire(jobID, false); err != nil && !errors.Is(err, errSkipFiring) {
			s.log.Error("scheduled firing failed to start", err,
				logger.Field{Key: "job_id", Value: jobID})
		}
	})
}

// errSkipFiring marks a firing that was intentionally not started (paused
// job, or a previous execution still in flight).
var errSkipFiring = errors.New("firing skipped")

// AddScheduledJob registers a new job. The cron expression is normalized and
// the recipe file is snapshotted into the job's private copy, so later edits
// to the original do not affect the schedule.
func (s *LegacyScheduler) AddScheduledJob(ctx context.Context, job ScheduledJob) error {
	normalized, err := NormalizeCron(job.Cron)
	if err != nil {
		return err
	}
	job.Cron = normalized
	if job.ExecutionMode == "" {
		job.ExecutionMode = ExecutionModeBackground
	}

	s.mu.Lock()
	if _, exists := s.jobs[job.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("cannot add job %q: %w", job.ID, ErrJobIDExists)
	}
	// Reserve the id before the snapshot I/O so a concurrent add of the same
	// id fails fast.
	s.jobs[job.ID] = &jobEntry{job: job}
	s.mu.Unlock()

	snapshotPath, err := recipe.Snapshot(job.Source, s.recipesDir, job.ID)
	if err != nil {
		s.mu.Lock()
		delete(s.jobs, job.ID)
		s.mu.Unlock()
		return &RecipeLoadError{Path: job.Source, Err: err}
	}

	entryID, err := s.registerCronEntry(job.ID, job.Cron)
	if err != nil {
		s.mu.Lock()
		delete(s.jobs, job.ID)
		s.mu.Unlock()
		return &CronParseError{Expression: job.Cron, Err: err}
	}

	s.mu.Lock()
	entry := s.jobs[job.ID]
	entry.job.Source = snapshotPath
	entry.entryID = entryID
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return err
	}

	s.log.Info("scheduled job added",
		logger.Field{Key: "job_id", Value: job.ID},
		logger.Field{Key: "cron", Value: job.Cron},
		logger.Field{Key: "recipe", Value: snapshotPath})

	return nil
}

// ListScheduledJobs returns all jobs sorted by id.
func (s *LegacyScheduler) ListScheduledJobs(ctx context.Context) ([]ScheduledJob, error) {
	s.mu.Lock()
	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, e := range s.jobs {
		jobs = append(jobs, e.job)
	}
	s.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

// RemoveScheduledJob cancels any running execution, unregisters the cron
// entry, deletes the job's recipe snapshot, and persists the store.
func (s *LegacyScheduler) RemoveScheduledJob(ctx context.Context, id string) error {
	s.mu.Lock()
	entry, exists := s.jobs[id]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("cannot remove job %q: %w", id, ErrJobNotFound)
	}
	entryID := entry.entryID
	delete(s.jobs, id)
	s.mu.Unlock()

	s.runMu.Lock()
	for _, h := range s.running[id] {
		h.cancel()
	}
	delete(s.running, id)
	s.runMu.Unlock()

	s.cron.Remove(entryID)

	if err := recipe.RemoveSnapshot(s.recipesDir, id); err != nil {
		s.log.Error("failed to remove recipe snapshot", err,
			logger.Field{Key: "job_id", Value: id})
	}

	if err := s.persist(); err != nil {
		return err
	}

	s.log.Info("scheduled job removed", logger.Field{Key: "job_id", Value: id})
	return nil
}

// PauseSchedule stops future firings. The cron entry stays registered; the
// firing callback checks the paused flag.
func (s *LegacyScheduler) PauseSchedule(ctx context.Context, id string) error {
	return s.setPaused(id, true)
}

// UnpauseSchedule resumes firings for a paused job.
func (s *LegacyScheduler) UnpauseSchedule(ctx context.Context, id string) error {
	return s.setPaused(id, false)
}

func (s *LegacyScheduler) setPaused(id string, paused bool) error {
	s.mu.Lock()
	entry, exists := s.jobs[id]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("cannot pause job %q: %w", id, ErrJobNotFound)
	}
	entry.job.Paused = paused
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return err
	}

	s.log.Info("job pause state changed",
		logger.Field{Key: "job_id", Value: id},
		logger.Field{Key: "paused", Value: paused})
	return nil
}

// RunNow starts an immediate user-forced execution and returns its session
// id without waiting for completion.
func (s *LegacyScheduler) RunNow(ctx context.Context, id string) (string, error) {
	sessionID, err := s.fire(id, true)
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// UpdateSchedule re-normalizes the new cron expression and reschedules the
// cron entry without losing last_run or other job history.
func (s *LegacyScheduler) UpdateSchedule(ctx context.Context, id string, cronExpr string) error {
	normalized, err := NormalizeCron(cronExpr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	entry, exists := s.jobs[id]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("cannot update job %q: %w", id, ErrJobNotFound)
	}
	oldEntryID := entry.entryID
	s.mu.Unlock()

	entryID, err := s.registerCronEntry(id, normalized)
	if err != nil {
		return &CronParseError{Expression: cronExpr, Err: err}
	}
	s.cron.Remove(oldEntryID)

	s.mu.Lock()
	if entry, exists := s.jobs[id]; exists {
		entry.job.Cron = normalized
		entry.entryID = entryID
	}
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return err
	}

	s.log.Info("job schedule updated",
		logger.Field{Key: "job_id", Value: id},
		logger.Field{Key: "cron", Value: normalized})
	return nil
}

// KillRunningJob cancels the job's in-flight executions and clears the
// running flags immediately, without waiting for the aborted tasks to
// observe cancellation. The partial session transcript written so far is
// preserved.
func (s *LegacyScheduler) KillRunningJob(ctx context.Context, id string) error {
	s.mu.Lock()
	_, exists := s.jobs[id]
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("cannot kill job %q: %w", id, ErrJobNotFound)
	}

	s.runMu.Lock()
	handles := s.running[id]
	if len(handles) == 0 {
		s.runMu.Unlock()
		return fmt.Errorf("cannot kill job %q: %w", id, ErrJobNotRunning)
	}
	for _, h := range handles {
		h.cancel()
	}
	delete(s.running, id)
	s.runMu.Unlock()

	s.mu.Lock()
	if entry, ok := s.jobs[id]; ok {
		entry.job.CurrentlyRunning = false
		entry.job.CurrentSessionID = ""
		entry.job.ProcessStartTime = nil
	}
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return err
	}

	s.log.Info("running job killed", logger.Field{Key: "job_id", Value: id})
	return nil
}

// GetRunningJobInfo reports the in-flight execution for the job, or nil.
func (s *LegacyScheduler) GetRunningJobInfo(ctx context.Context, id string) (*RunningJobInfo, error) {
	s.mu.Lock()
	entry, exists := s.jobs[id]
	if !exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("cannot inspect job %q: %w", id, ErrJobNotFound)
	}
	job := entry.job
	s.mu.Unlock()

	if !job.CurrentlyRunning || job.ProcessStartTime == nil {
		return nil, nil
	}
	return &RunningJobInfo{
		SessionID: job.CurrentSessionID,
		StartTime: *job.ProcessStartTime,
	}, nil
}

// Sessions lists up to limit persisted sessions for the job, newest first.
func (s *LegacyScheduler) Sessions(ctx context.Context, id string, limit int) ([]SessionRef, error) {
	s.mu.Lock()
	_, exists := s.jobs[id]
	s.mu.Unlock()
	if !exists {
		return nil, fmt.Errorf("cannot list sessions for job %q: %w", id, ErrJobNotFound)
	}

	entries, err := os.ReadDir(s.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionRef{}, nil
		}
		return nil, &StorageError{Op: "list sessions", Err: err}
	}

	prefix := id + "-"
	var refs []SessionRef
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		name := entry.Name()
		if ext := filepath.Ext(name); ext != "" {
			name = name[:len(name)-len(ext)]
		}
		refs = append(refs, SessionRef{
			ID:       name,
			Path:     filepath.Join(s.sessionsDir, entry.Name()),
			Modified: info.ModTime(),
		})
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Modified.After(refs[j].Modified) })
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

// fire starts one execution of the job. Scheduled firings (forced == false)
// are skipped while the job is paused or a previous firing is still in
// flight. A forced firing ignores the paused flag; whether it may overlap a
// running execution depends on AllowConcurrentRunNow.
func (s *LegacyScheduler) fire(jobID string, forced bool) (string, error) {
	s.mu.Lock()
	entry, exists := s.jobs[jobID]
	if !exists {
		s.mu.Unlock()
		return "", fmt.Errorf("cannot run job %q: %w", jobID, ErrJobNotFound)
	}

	if !forced && entry.job.Paused {
		s.mu.Unlock()
		return "", errSkipFiring
	}
	if entry.job.CurrentlyRunning {
		if !forced {
			s.mu.Unlock()
			s.log.Debug("skipping firing, previous execution still running",
				logger.Field{Key: "job_id", Value: jobID})
			return "", errSkipFiring
		}
		if !s.allowConcurrentRunNow {
			s.mu.Unlock()
			return "", fmt.Errorf("job %q already has an execution in flight", jobID)
		}
	}

	sessionID := newSessionID(jobID)
	now := time.Now().UTC()
	entry.job.CurrentlyRunning = true
	entry.job.LastRun = &now
	entry.job.CurrentSessionID = sessionID
	entry.job.ProcessStartTime = &now
	jobCopy := entry.job
	s.mu.Unlock()

	s.stateMu.Lock()
	parent := s.ctx
	s.stateMu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	runCtx, cancel := context.WithCancel(parent)

	s.runMu.Lock()
	if s.running[jobID] == nil {
		s.running[jobID] = make(map[string]*runHandle)
	}
	s.running[jobID][sessionID] = &runHandle{
		sessionID: sessionID,
		started:   now,
		cancel:    cancel,
	}
	s.runMu.Unlock()

	if err := s.persist(); err != nil {
		s.log.Error("failed to persist job state at firing start", err,
			logger.Field{Key: "job_id", Value: jobID})
	}

	go s.runExecution(runCtx, cancel, jobCopy, sessionID)

	s.log.Info("job firing started",
		logger.Field{Key: "job_id", Value: jobID},
		logger.Field{Key: "session_id", Value: sessionID},
		logger.Field{Key: "forced", Value: forced})

	return sessionID, nil
}

// runExecution runs the job in its own goroutine and settles state on
// completion. A panic in the runner is contained to this firing.
func (s *LegacyScheduler) runExecution(ctx context.Context, cancel context.CancelFunc, job ScheduledJob, sessionID string) {
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job execution panic recovered", fmt.Errorf("panic: %v", r),
				logger.Field{Key: "job_id", Value: job.ID},
				logger.Field{Key: "session_id", Value: sessionID})
			s.finishExecution(job.ID, sessionID, nil)
		}
	}()

	if job.ExecutionMode == ExecutionModeForeground {
		s.fgMu.Lock()
		defer s.fgMu.Unlock()
	}

	err := s.runner.RunJob(ctx, job, sessionID)
	s.finishExecution(job.ID, sessionID, err)
}

// finishExecution removes the run handle and resets the job's running flags
// once no executions remain in flight for it. A kill may already have
// removed the handle; in that case the flags are already clear.
func (s *LegacyScheduler) finishExecution(jobID, sessionID string, runErr error) {
	s.runMu.Lock()
	if handles, ok := s.running[jobID]; ok {
		delete(handles, sessionID)
		if len(handles) == 0 {
			delete(s.running, jobID)
		}
	}
	remaining := len(s.running[jobID])
	s.runMu.Unlock()

	s.mu.Lock()
	if entry, ok := s.jobs[jobID]; ok && remaining == 0 {
		entry.job.CurrentlyRunning = false
		entry.job.CurrentSessionID = ""
		entry.job.ProcessStartTime = nil
	}
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		s.log.Error("failed to persist job state at firing end", err,
			logger.Field{Key: "job_id", Value: jobID})
	}

	switch {
	case runErr == nil:
		s.log.Info("job firing completed",
			logger.Field{Key: "job_id", Value: jobID},
			logger.Field{Key: "session_id", Value: sessionID})
	case errors.Is(runErr, context.Canceled):
		s.log.Info("job firing cancelled",
			logger.Field{Key: "job_id", Value: jobID},
			logger.Field{Key: "session_id", Value: sessionID})
	default:
		s.log.Error("job firing failed", runErr,
			logger.Field{Key: "job_id", Value: jobID},
			logger.Field{Key: "session_id", Value: sessionID})
	}
}

// persist snapshots the job map and writes it to the store. The snapshot is
// taken under the job lock; the write happens after release.
func (s *LegacyScheduler) persist() error {
	s.mu.Lock()
	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, e := range s.jobs {
		jobs = append(jobs, e.job)
	}
	s.mu.Unlock()

	return s.store.Save(jobs)
}

// newSessionID derives a fresh session id from the job id and the firing
// timestamp. Every firing gets its own session so jobs never share state
// across runs.
func newSessionID(jobID string) string {
	return fmt.Sprintf("%s-%s-%s",
		jobID,
		time.Now().UTC().Format("20060102-150405"),
		uuid.NewString()[:8])
}
