package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/schedbot/internal/agent"
	"github.com/aatumaykin/schedbot/internal/scheduler"
	"github.com/aatumaykin/schedbot/internal/session"
)

// End-to-end: legacy scheduler wired to the real executor, with the session
// store and the scheduler sharing one sessions directory.
type pipeline struct {
	scheduler *scheduler.LegacyScheduler
	sessions  *session.Store
	workspace string
}

func newPipeline(t *testing.T, provider agent.Provider) *pipeline {
	t.Helper()
	workspace := t.TempDir()
	sessionsDir := filepath.Join(workspace, "sessions")

	sessions, err := session.NewStore(sessionsDir)
	require.NoError(t, err)

	agents := agent.NewManager(func(sessionID string) (agent.Agent, error) {
		return agent.NewLocalAgent(), nil
	}, testLogger())

	exec := New(Options{
		Sessions:         sessions,
		Agents:           agents,
		Logger:           testLogger(),
		WorkingDir:       workspace,
		ProviderOverride: provider,
		RunTimeout:       30 * time.Second,
	})

	sched, err := scheduler.NewLegacyScheduler(scheduler.LegacyOptions{
		WorkspacePath:         workspace,
		SessionsDir:           sessionsDir,
		Runner:                exec,
		Logger:                testLogger(),
		AllowConcurrentRunNow: true,
	})
	require.NoError(t, err)

	return &pipeline{scheduler: sched, sessions: sessions, workspace: workspace}
}

func (p *pipeline) waitIdle(t *testing.T, jobID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		info, err := p.scheduler.GetRunningJobInfo(context.Background(), jobID)
		require.NoError(t, err)
		if info == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", jobID)
}

func TestRunNow_EndToEndTranscript(t *testing.T) {
	p := newPipeline(t, agent.NewEchoProvider())
	ctx := context.Background()

	recipePath := writeRecipe(t, p.workspace, "fact.yaml", `
title: Fact Writer
description: writes a known fact
prompt: "the capital of France is Paris"
`)

	require.NoError(t, p.scheduler.AddScheduledJob(ctx, scheduler.ScheduledJob{
		ID:     "fact",
		Source: recipePath,
		Cron:   "0 9 * * *",
	}))

	sessionID, err := p.scheduler.RunNow(ctx, "fact")
	require.NoError(t, err)
	p.waitIdle(t, "fact")

	meta, messages, err := p.sessions.Read(sessionID)
	require.NoError(t, err)
	assert.Equal(t, "fact", meta.ScheduleID)
	require.Len(t, messages, 2)
	assert.Contains(t, messages[0].Content, "the capital of France is Paris")
	assert.Contains(t, messages[1].Content, "the capital of France is Paris")

	jobs, err := p.scheduler.ListScheduledJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].LastRun)
	assert.False(t, jobs[0].CurrentlyRunning)

	// The scheduler lists the persisted session for the job.
	refs, err := p.scheduler.Sessions(ctx, "fact", 10)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, sessionID, refs[0].ID)
}

func TestRunNow_ConcurrentJobsDoNotCrossContaminate(t *testing.T) {
	p := newPipeline(t, agent.NewEchoProvider())
	ctx := context.Background()

	recipeA := writeRecipe(t, p.workspace, "a.yaml", `
title: Marker A
description: writes marker A
prompt: "marker-alpha"
`)
	recipeB := writeRecipe(t, p.workspace, "b.yaml", `
title: Marker B
description: writes marker B
prompt: "marker-bravo"
`)

	require.NoError(t, p.scheduler.AddScheduledJob(ctx, scheduler.ScheduledJob{ID: "job-a", Source: recipeA, Cron: "0 9 * * *"}))
	require.NoError(t, p.scheduler.AddScheduledJob(ctx, scheduler.ScheduledJob{ID: "job-b", Source: recipeB, Cron: "0 9 * * *"}))

	sessionA, err := p.scheduler.RunNow(ctx, "job-a")
	require.NoError(t, err)
	sessionB, err := p.scheduler.RunNow(ctx, "job-b")
	require.NoError(t, err)

	p.waitIdle(t, "job-a")
	p.waitIdle(t, "job-b")

	_, messagesA, err := p.sessions.Read(sessionA)
	require.NoError(t, err)
	_, messagesB, err := p.sessions.Read(sessionB)
	require.NoError(t, err)

	for _, msg := range messagesA {
		assert.Contains(t, msg.Content, "marker-alpha")
		assert.NotContains(t, msg.Content, "marker-bravo")
	}
	for _, msg := range messagesB {
		assert.Contains(t, msg.Content, "marker-bravo")
		assert.NotContains(t, msg.Content, "marker-alpha")
	}
}

func TestKill_PreservesPartialTranscript(t *testing.T) {
	slow := agent.NewMockProvider(agent.MockConfig{
		Mode:      agent.MockModeFixed,
		Responses: []string{"never delivered"},
		Delay:     time.Hour,
	})
	p := newPipeline(t, slow)
	ctx := context.Background()

	recipePath := writeRecipe(t, p.workspace, "slow.yaml", `
title: Slow Job
description: sleeps forever
prompt: "start the long task"
`)

	require.NoError(t, p.scheduler.AddScheduledJob(ctx, scheduler.ScheduledJob{ID: "slow", Source: recipePath, Cron: "0 9 * * *"}))

	sessionID, err := p.scheduler.RunNow(ctx, "slow")
	require.NoError(t, err)

	// Wait for the run to reach the provider, then kill.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && slow.CallCount() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, slow.CallCount())

	require.NoError(t, p.scheduler.KillRunningJob(ctx, "slow"))
	p.waitIdle(t, "slow")

	// The prompt line written before the kill survives.
	waitExists := time.Now().Add(2 * time.Second)
	for time.Now().Before(waitExists) && !p.sessions.Exists(sessionID) {
		time.Sleep(10 * time.Millisecond)
	}
	_, messages, err := p.sessions.Read(sessionID)
	require.NoError(t, err)
	require.NotEmpty(t, messages)
	assert.Contains(t, messages[0].Content, "start the long task")
}
