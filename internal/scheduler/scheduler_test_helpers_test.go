package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aatumaykin/schedbot/internal/logger"
)

// testLogger creates a test logger instance
func testLogger() *logger.Logger {
	log, err := logger.New(logger.Config{
		Level:  "debug",
		Format: "text",
		Output: "stdout",
	})
	if err != nil {
		panic(err)
	}
	return log
}

// writeRecipe writes a minimal valid recipe file and returns its path.
func writeRecipe(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := "version: \"1.0.0\"\ntitle: Test Recipe\ndescription: recipe used in tests\nprompt: say hello\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write recipe: %v", err)
	}
	return path
}

// recordingRunner records the firings it receives and can be told to block
// until its context is cancelled.
type recordingRunner struct {
	mu        sync.Mutex
	runs      []string // session ids in arrival order
	block     bool
	runErr    error
	cancelled bool
}

func (r *recordingRunner) RunJob(ctx context.Context, job ScheduledJob, sessionID string) error {
	r.mu.Lock()
	r.runs = append(r.runs, sessionID)
	block := r.block
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		r.mu.Lock()
		r.cancelled = true
		r.mu.Unlock()
		return ctx.Err()
	}
	return r.runErr
}

func (r *recordingRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func (r *recordingRunner) wasCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// newTestScheduler builds a legacy scheduler over temp directories together
// with the recipe path used for test jobs.
func newTestScheduler(t *testing.T, runner JobRunner) (*LegacyScheduler, string, string) {
	t.Helper()
	workspace := t.TempDir()
	sessionsDir := filepath.Join(workspace, "sessions")

	s, err := NewLegacyScheduler(LegacyOptions{
		WorkspacePath:         workspace,
		SessionsDir:           sessionsDir,
		Runner:                runner,
		Logger:                testLogger(),
		AllowConcurrentRunNow: true,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	recipePath := writeRecipe(t, workspace, "test.yaml")
	return s, workspace, recipePath
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
