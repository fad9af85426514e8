// Package executor turns one scheduled job firing into an agent run: it
// loads the job's recipe snapshot, obtains an isolated agent from the
// manager, configures it, streams the execution, and persists the session
// transcript.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aatumaykin/schedbot/internal/agent"
	"github.com/aatumaykin/schedbot/internal/logger"
	"github.com/aatumaykin/schedbot/internal/recipe"
	"github.com/aatumaykin/schedbot/internal/retry"
	"github.com/aatumaykin/schedbot/internal/scheduler"
	"github.com/aatumaykin/schedbot/internal/session"
)

// EnvRecipeTimeout globally overrides the per-run timeout, in seconds.
const EnvRecipeTimeout = "SCHEDBOT_RECIPE_TIMEOUT_SECONDS"

const defaultRunTimeout = 30 * time.Minute

// ProviderResolver returns the model provider for a run, typically from
// global configuration plus the recipe's settings block.
type ProviderResolver func(r *recipe.Recipe) (agent.Provider, error)

// Options configures an Executor.
type Options struct {
	Sessions   *session.Store
	Agents     *agent.Manager
	Logger     *logger.Logger
	WorkingDir string

	// ProviderOverride, when set, is used for every run instead of the
	// resolver. Tests inject mock providers here.
	ProviderOverride agent.Provider
	ResolveProvider  ProviderResolver

	// RunTimeout bounds one execution. Zero means the default, subject to
	// the environment override.
	RunTimeout time.Duration
}

// Executor implements scheduler.JobRunner.
type Executor struct {
	sessions         *session.Store
	agents           *agent.Manager
	log              *logger.Logger
	workingDir       string
	providerOverride agent.Provider
	resolveProvider  ProviderResolver
	runTimeout       time.Duration
}

// New creates an executor.
func New(opts Options) *Executor {
	timeout := opts.RunTimeout
	if raw := os.Getenv(EnvRecipeTimeout); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	return &Executor{
		sessions:         opts.Sessions,
		agents:           opts.Agents,
		log:              opts.Logger,
		workingDir:       opts.WorkingDir,
		providerOverride: opts.ProviderOverride,
		resolveProvider:  opts.ResolveProvider,
		runTimeout:       timeout,
	}
}

// RunJob executes one firing of the job under the given fresh session id.
// Each firing gets its own session, so jobs never share state across runs.
// Failures are wrapped in scheduler.ExecutionError tagged with the phase
// that failed; the caller logs and updates job state but never crashes.
func (e *Executor) RunJob(ctx context.Context, job scheduler.ScheduledJob, sessionID string) error {
	rcp, err := recipe.Load(job.Source)
	if err != nil {
		return &scheduler.ExecutionError{
			JobID: job.ID,
			Phase: scheduler.PhaseLoad,
			Err:   &scheduler.RecipeLoadError{Path: job.Source, Err: err},
		}
	}

	// Configure once per firing, not per attempt, so a retried run does not
	// attach the recipe's extensions a second time.
	sa, err := e.configureAgent(job, sessionID, rcp)
	if err != nil {
		return err
	}

	run := func() error {
		runCtx, cancel := context.WithTimeout(ctx, e.timeoutFor(rcp))
		defer cancel()
		return e.runOnce(runCtx, job, sessionID, rcp, sa)
	}

	if rcp.Retry != nil && rcp.Retry.MaxRetries > 0 {
		return retry.Do(ctx, run, retry.Config{MaxAttempts: rcp.Retry.MaxRetries + 1})
	}
	return run()
}

// configureAgent acquires the firing's isolated agent and applies the
// recipe's extensions and model provider. The session id is fresh per
// firing, so the manager lookup is always a cache miss.
func (e *Executor) configureAgent(job scheduler.ScheduledJob, sessionID string, rcp *recipe.Recipe) (*agent.SessionAgent, error) {
	sa, err := e.agents.GetAgent(sessionID)
	if err != nil {
		return nil, &scheduler.ExecutionError{JobID: job.ID, Phase: scheduler.PhaseAgent, Err: err}
	}
	sa.ExecutionMode = string(job.ExecutionMode)

	setupErr := func(err error) error {
		return &scheduler.ExecutionError{
			JobID: job.ID,
			Phase: scheduler.PhaseConfigure,
			Err:   &scheduler.AgentSetupError{SessionID: sessionID, Err: err},
		}
	}

	for _, ext := range rcp.Extensions {
		if err := sa.Agent.AddExtension(ext); err != nil {
			return nil, setupErr(err)
		}
	}

	provider := e.providerOverride
	if provider == nil {
		if e.resolveProvider == nil {
			return nil, setupErr(fmt.Errorf("no provider resolver configured"))
		}
		provider, err = e.resolveProvider(rcp)
		if err != nil {
			return nil, setupErr(err)
		}
	}
	if err := sa.Agent.UpdateProvider(provider); err != nil {
		return nil, setupErr(err)
	}
	return sa, nil
}

// timeoutFor applies the recipe's own timeout when set, otherwise the
// executor's configured timeout (already subject to the env override).
func (e *Executor) timeoutFor(rcp *recipe.Recipe) time.Duration {
	if rcp.Retry != nil && rcp.Retry.TimeoutSeconds > 0 {
		return time.Duration(rcp.Retry.TimeoutSeconds) * time.Second
	}
	return e.runTimeout
}

func (e *Executor) runOnce(ctx context.Context, job scheduler.ScheduledJob, sessionID string, rcp *recipe.Recipe, sa *agent.SessionAgent) error {
	execErr := func(phase scheduler.Phase, err error) error {
		return &scheduler.ExecutionError{JobID: job.ID, Phase: phase, Err: err}
	}

	// Execute. The agent is marked active for the duration so the idle
	// sweep cannot remove it mid-run.
	e.agents.MarkActive(sessionID)
	defer e.agents.MarkIdle(sessionID)

	meta := session.Metadata{
		WorkingDir: e.workingDir,
		ScheduleID: job.ID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.sessions.Create(sessionID, meta); err != nil {
		return execErr(scheduler.PhasePersist,
			&scheduler.PersistError{SessionID: sessionID, Err: err})
	}

	prompt := agent.Message{
		Role:    "user",
		Content: rcp.RenderPrompt(),
		Created: time.Now().UTC(),
	}
	if err := e.sessions.Append(sessionID, prompt); err != nil {
		return execErr(scheduler.PhasePersist,
			&scheduler.PersistError{SessionID: sessionID, Err: err})
	}

	cfg := agent.SessionConfig{
		SessionID:  sessionID,
		WorkingDir: e.workingDir,
		ScheduleID: job.ID,
	}
	events, err := sa.Agent.Reply(ctx, []agent.Message{prompt}, cfg)
	if err != nil {
		return execErr(scheduler.PhaseExecute, err)
	}

	// Consume the lazy stream, appending messages as they arrive. A kill
	// abandons the task at the next receive; whatever was appended so far
	// stays on disk as a partial transcript.
	var usage agent.TokenUsage
	var streamErr error
	for ev := range events {
		switch ev.Kind {
		case agent.EventMessage:
			if ev.Message == nil {
				continue
			}
			if err := e.sessions.Append(sessionID, *ev.Message); err != nil {
				e.log.Error("failed to append session message", err,
					logger.Field{Key: "session_id", Value: sessionID})
			}
			usage.Add(ev.Usage)
		case agent.EventError:
			streamErr = errors.New(ev.Err)
		case agent.EventToolCall, agent.EventToolResponse:
			e.log.Debug("tool event",
				logger.Field{Key: "session_id", Value: sessionID},
				logger.Field{Key: "tool", Value: ev.ToolName})
		}
	}

	if err := ctx.Err(); err != nil {
		// Cancelled or timed out mid-stream. Finalize best-effort so the
		// partial transcript has accurate counts, then surface the cause.
		meta.InputTokens = usage.InputTokens
		meta.OutputTokens = usage.OutputTokens
		if ferr := e.sessions.Finalize(sessionID, meta); ferr != nil {
			e.log.Error("failed to finalize partial session", ferr,
				logger.Field{Key: "session_id", Value: sessionID})
		}
		return execErr(scheduler.PhaseExecute, err)
	}
	if streamErr != nil {
		return execErr(scheduler.PhaseExecute, streamErr)
	}

	// Persist final metadata.
	meta.InputTokens = usage.InputTokens
	meta.OutputTokens = usage.OutputTokens
	if err := e.sessions.Finalize(sessionID, meta); err != nil {
		return execErr(scheduler.PhasePersist,
			&scheduler.PersistError{SessionID: sessionID, Err: err})
	}

	e.log.Info("job run persisted",
		logger.Field{Key: "job_id", Value: job.ID},
		logger.Field{Key: "session_id", Value: sessionID},
		logger.Field{Key: "tokens", Value: usage.Total()})
	return nil
}
