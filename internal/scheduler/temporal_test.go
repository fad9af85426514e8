package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTemporalService is an httptest-backed stand-in for the workflow
// service, implementing the subset of the REST contract the client uses.
type fakeTemporalService struct {
	t    *testing.T
	jobs map[string]ScheduledJob
}

func newFakeTemporalService(t *testing.T) (*fakeTemporalService, *httptest.Server) {
	f := &fakeTemporalService{t: t, jobs: make(map[string]ScheduledJob)}
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeTemporalService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health":
		w.WriteHeader(http.StatusOK)

	case r.URL.Path == "/jobs" && r.Method == http.MethodPost:
		var req temporalJobRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		if _, exists := f.jobs[req.ID]; exists {
			writeServiceError(w, http.StatusConflict, "duplicate id")
			return
		}
		f.jobs[req.ID] = ScheduledJob{ID: req.ID, Source: req.Source, Cron: req.Cron}
		w.WriteHeader(http.StatusCreated)

	case r.URL.Path == "/jobs" && r.Method == http.MethodGet:
		jobs := make([]ScheduledJob, 0, len(f.jobs))
		for _, j := range f.jobs {
			jobs = append(jobs, j)
		}
		json.NewEncoder(w).Encode(jobs)

	case r.Method == http.MethodDelete:
		id := r.URL.Path[len("/jobs/"):]
		if _, exists := f.jobs[id]; !exists {
			writeServiceError(w, http.StatusNotFound, "no such job")
			return
		}
		delete(f.jobs, id)
		w.WriteHeader(http.StatusOK)

	case pathSuffix(r.URL.Path) == "kill":
		writeServiceError(w, http.StatusPreconditionFailed, "not running")

	case pathSuffix(r.URL.Path) == "run":
		json.NewEncoder(w).Encode(map[string]string{"session_id": "job-20260301-120000-abcd1234"})

	case pathSuffix(r.URL.Path) == "status":
		json.NewEncoder(w).Encode(map[string]any{"running": false})

	case pathSuffix(r.URL.Path) == "pause", pathSuffix(r.URL.Path) == "unpause", pathSuffix(r.URL.Path) == "cron":
		w.WriteHeader(http.StatusOK)

	case pathSuffix(r.URL.Path) == "sessions":
		json.NewEncoder(w).Encode([]SessionRef{})

	default:
		writeServiceError(w, http.StatusNotFound, "unknown route")
	}
}

func writeServiceError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func pathSuffix(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// newTemporalClient points a client at the fake service via the port
// override environment variable.
func newTemporalClient(t *testing.T, server *httptest.Server) *TemporalScheduler {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	t.Setenv(EnvTemporalPort, u.Port())

	s, err := NewTemporalScheduler(context.Background(), TemporalOptions{}, testLogger())
	require.NoError(t, err)
	return s
}

func TestTemporalScheduler_DiscoveryViaEnvPort(t *testing.T) {
	_, server := newFakeTemporalService(t)
	s := newTemporalClient(t, server)
	assert.NotNil(t, s)
}

func TestTemporalScheduler_DiscoveryFailsOnDeadPort(t *testing.T) {
	port, err := freePort()
	require.NoError(t, err)
	t.Setenv(EnvTemporalPort, strconv.Itoa(port))

	_, err = NewTemporalScheduler(context.Background(), TemporalOptions{}, testLogger())
	require.Error(t, err)

	var internalErr *InternalError
	assert.True(t, errors.As(err, &internalErr))
	assert.Equal(t, "temporal", internalErr.Backend)
}

func TestTemporalScheduler_DiscoveryRejectsBadEnvPort(t *testing.T) {
	t.Setenv(EnvTemporalPort, "not-a-port")

	_, err := NewTemporalScheduler(context.Background(), TemporalOptions{}, testLogger())
	require.Error(t, err)
}

func TestTemporalScheduler_DiscoveryViaConfiguredPort(t *testing.T) {
	_, server := newFakeTemporalService(t)
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	t.Setenv(EnvTemporalPort, "")

	s, err := NewTemporalScheduler(context.Background(), TemporalOptions{Port: port}, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestTemporalScheduler_EnvPortBeatsConfiguredPort(t *testing.T) {
	_, server := newFakeTemporalService(t)
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	t.Setenv(EnvTemporalPort, u.Port())

	deadPort, err := freePort()
	require.NoError(t, err)

	// The configured port is dead; discovery still succeeds via the env
	// override.
	s, err := NewTemporalScheduler(context.Background(), TemporalOptions{Port: deadPort}, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestTemporalScheduler_DiscoveryFailsOnDeadConfiguredPort(t *testing.T) {
	t.Setenv(EnvTemporalPort, "")
	port, err := freePort()
	require.NoError(t, err)

	_, err = NewTemporalScheduler(context.Background(), TemporalOptions{Port: port}, testLogger())
	require.Error(t, err)

	var internalErr *InternalError
	assert.True(t, errors.As(err, &internalErr))
}

func TestTemporalScheduler_AddNormalizesCron(t *testing.T) {
	fake, server := newFakeTemporalService(t)
	s := newTemporalClient(t, server)
	ctx := context.Background()

	err := s.AddScheduledJob(ctx, ScheduledJob{ID: "j1", Source: "r.yaml", Cron: "*/5 * * * *"})
	require.NoError(t, err)

	assert.Equal(t, "0 */5 * * * * *", fake.jobs["j1"].Cron)
}

func TestTemporalScheduler_AddInvalidCronFailsLocally(t *testing.T) {
	fake, server := newFakeTemporalService(t)
	s := newTemporalClient(t, server)

	err := s.AddScheduledJob(context.Background(), ScheduledJob{ID: "j1", Cron: "garbage"})
	require.Error(t, err)

	var parseErr *CronParseError
	assert.True(t, errors.As(err, &parseErr))
	assert.Empty(t, fake.jobs)
}

func TestTemporalScheduler_DuplicateIDMapsToSentinel(t *testing.T) {
	_, server := newFakeTemporalService(t)
	s := newTemporalClient(t, server)
	ctx := context.Background()

	job := ScheduledJob{ID: "dup", Source: "r.yaml", Cron: "0 9 * * *"}
	require.NoError(t, s.AddScheduledJob(ctx, job))

	err := s.AddScheduledJob(ctx, job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobIDExists))
}

func TestTemporalScheduler_NotFoundMapsToSentinel(t *testing.T) {
	_, server := newFakeTemporalService(t)
	s := newTemporalClient(t, server)

	err := s.RemoveScheduledJob(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestTemporalScheduler_NotRunningMapsToSentinel(t *testing.T) {
	_, server := newFakeTemporalService(t)
	s := newTemporalClient(t, server)

	err := s.KillRunningJob(context.Background(), "idle")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobNotRunning))
}

func TestTemporalScheduler_ListAndLifecycle(t *testing.T) {
	_, server := newFakeTemporalService(t)
	s := newTemporalClient(t, server)
	ctx := context.Background()

	require.NoError(t, s.AddScheduledJob(ctx, ScheduledJob{ID: "a", Source: "a.yaml", Cron: "0 9 * * *"}))
	require.NoError(t, s.AddScheduledJob(ctx, ScheduledJob{ID: "b", Source: "b.yaml", Cron: "0 10 * * *"}))

	jobs, err := s.ListScheduledJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	require.NoError(t, s.PauseSchedule(ctx, "a"))
	require.NoError(t, s.UnpauseSchedule(ctx, "a"))
	require.NoError(t, s.UpdateSchedule(ctx, "a", "0 11 * * *"))

	sessionID, err := s.RunNow(ctx, "a")
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)

	info, err := s.GetRunningJobInfo(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, info)

	refs, err := s.Sessions(ctx, "a", 5)
	require.NoError(t, err)
	assert.Empty(t, refs)

	require.NoError(t, s.RemoveScheduledJob(ctx, "a"))
	require.NoError(t, s.RemoveScheduledJob(ctx, "b"))
}

func TestTemporalScheduler_ServerErrorIsInternal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		writeServiceError(w, http.StatusInternalServerError, "workflow engine down")
	}))
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	t.Setenv(EnvTemporalPort, u.Port())

	s, err := NewTemporalScheduler(context.Background(), TemporalOptions{}, testLogger())
	require.NoError(t, err)

	_, err = s.ListScheduledJobs(context.Background())
	require.Error(t, err)

	var internalErr *InternalError
	require.True(t, errors.As(err, &internalErr))
	assert.False(t, errors.Is(err, ErrJobNotFound))
}

func TestTemporalScheduler_TransportFailureIsInternal(t *testing.T) {
	_, server := newFakeTemporalService(t)
	s := newTemporalClient(t, server)
	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := s.ListScheduledJobs(ctx)
	require.Error(t, err)

	var internalErr *InternalError
	assert.True(t, errors.As(err, &internalErr))
}
