package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/aatumaykin/schedbot/internal/logger"
)

const (
	// EnvTemporalPort overrides service discovery with a fixed port.
	EnvTemporalPort = "SCHEDBOT_TEMPORAL_PORT"
	// EnvTemporalBin overrides the path to the bundled service binary.
	EnvTemporalBin = "SCHEDBOT_TEMPORAL_BIN"

	defaultTemporalBin    = "schedbot-temporald"
	temporalClientTimeout = 30 * time.Second
	healthProbeTimeout    = 2 * time.Second
	readinessAttempts     = 10
	readinessInterval     = 500 * time.Millisecond
)

// defaultTemporalPorts are probed in order during service discovery.
var defaultTemporalPorts = []int{8233, 7233}

// TemporalScheduler delegates every Scheduler operation to an external
// workflow service over HTTP. Construction performs port discovery and
// optionally launches the bundled service binary; construction failure is
// what triggers the factory's fallback to the legacy backend. After
// construction, an individual call that times out or fails surfaces an
// InternalError instead of falling back.
type TemporalScheduler struct {
	baseURL string
	client  *http.Client
	log     *logger.Logger
}

// TemporalOptions configures the workflow service client. The environment
// overrides SCHEDBOT_TEMPORAL_PORT and SCHEDBOT_TEMPORAL_BIN take precedence
// over both fields.
type TemporalOptions struct {
	Port    int    // fixed service port; zero means discover
	BinPath string // binary launched when discovery finds no running service
}

// NewTemporalScheduler discovers (or starts) the workflow service and
// verifies it is healthy.
func NewTemporalScheduler(ctx context.Context, opts TemporalOptions, log *logger.Logger) (*TemporalScheduler, error) {
	client := &http.Client{Timeout: temporalClientTimeout}

	port, err := discoverPort(ctx, client, opts, log)
	if err != nil {
		return nil, &InternalError{Backend: "temporal", Err: err}
	}

	s := &TemporalScheduler{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		client:  client,
		log:     log,
	}

	log.Info("temporal scheduler connected",
		logger.Field{Key: "base_url", Value: s.baseURL})
	return s, nil
}

// discoverPort finds a responding service: env override first, then the
// configured port, then the default ports, then a free port on which the
// bundled binary is launched.
func discoverPort(ctx context.Context, client *http.Client, opts TemporalOptions, log *logger.Logger) (int, error) {
	if raw := os.Getenv(EnvTemporalPort); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", EnvTemporalPort, raw, err)
		}
		if healthy(ctx, client, port) {
			return port, nil
		}
		return 0, fmt.Errorf("no healthy temporal service on override port %d", port)
	}

	if opts.Port != 0 {
		if healthy(ctx, client, opts.Port) {
			return opts.Port, nil
		}
		return 0, fmt.Errorf("no healthy temporal service on configured port %d", opts.Port)
	}

	for _, port := range defaultTemporalPorts {
		if healthy(ctx, client, port) {
			return port, nil
		}
	}

	return launchService(ctx, client, opts, log)
}

// healthy probes the service health endpoint with a short timeout.
func healthy(ctx context.Context, client *http.Client, port int) bool {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// launchService starts the bundled service binary on a free port and polls
// its readiness with bounded retries.
func launchService(ctx context.Context, client *http.Client, opts TemporalOptions, log *logger.Logger) (int, error) {
	port, err := freePort()
	if err != nil {
		return 0, fmt.Errorf("failed to find free port: %w", err)
	}

	bin := os.Getenv(EnvTemporalBin)
	if bin == "" {
		bin = opts.BinPath
	}
	if bin == "" {
		bin = defaultTemporalBin
	}

	cmd := exec.Command(bin, "--port", strconv.Itoa(port))
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start temporal service %q: %w", bin, err)
	}
	// The service outlives this process; we deliberately do not wait on it
	// beyond readiness polling.
	go func() { _ = cmd.Wait() }()

	log.Info("launched temporal service",
		logger.Field{Key: "bin", Value: bin},
		logger.Field{Key: "port", Value: port})

	for attempt := 0; attempt < readinessAttempts; attempt++ {
		if healthy(ctx, client, port) {
			return port, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(readinessInterval):
		}
	}

	return 0, fmt.Errorf("temporal service on port %d not ready after %d attempts", port, readinessAttempts)
}

// freePort asks the kernel for an unused TCP port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// temporalJobRequest is the add/update payload.
type temporalJobRequest struct {
	ID            string `json:"id"`
	Source        string `json:"source"`
	Cron          string `json:"cron"`
	ExecutionMode string `json:"execution_mode,omitempty"`
}

// temporalErrorBody is the shape of service error responses.
type temporalErrorBody struct {
	Error string `json:"error"`
}

func (t *TemporalScheduler) AddScheduledJob(ctx context.Context, job ScheduledJob) error {
	normalized, err := NormalizeCron(job.Cron)
	if err != nil {
		return err
	}
	body := temporalJobRequest{
		ID:            job.ID,
		Source:        job.Source,
		Cron:          normalized,
		ExecutionMode: string(job.ExecutionMode),
	}
	return t.do(ctx, http.MethodPost, "/jobs", body, nil)
}

func (t *TemporalScheduler) ListScheduledJobs(ctx context.Context) ([]ScheduledJob, error) {
	var jobs []ScheduledJob
	if err := t.do(ctx, http.MethodGet, "/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (t *TemporalScheduler) RemoveScheduledJob(ctx context.Context, id string) error {
	return t.do(ctx, http.MethodDelete, "/jobs/"+id, nil, nil)
}

func (t *TemporalScheduler) PauseSchedule(ctx context.Context, id string) error {
	return t.do(ctx, http.MethodPost, "/jobs/"+id+"/pause", nil, nil)
}

func (t *TemporalScheduler) UnpauseSchedule(ctx context.Context, id string) error {
	return t.do(ctx, http.MethodPost, "/jobs/"+id+"/unpause", nil, nil)
}

func (t *TemporalScheduler) RunNow(ctx context.Context, id string) (string, error) {
	var result struct {
		SessionID string `json:"session_id"`
	}
	if err := t.do(ctx, http.MethodPost, "/jobs/"+id+"/run", nil, &result); err != nil {
		return "", err
	}
	return result.SessionID, nil
}

func (t *TemporalScheduler) Sessions(ctx context.Context, id string, limit int) ([]SessionRef, error) {
	var refs []SessionRef
	path := fmt.Sprintf("/jobs/%s/sessions?limit=%d", id, limit)
	if err := t.do(ctx, http.MethodGet, path, nil, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func (t *TemporalScheduler) UpdateSchedule(ctx context.Context, id string, cronExpr string) error {
	normalized, err := NormalizeCron(cronExpr)
	if err != nil {
		return err
	}
	body := struct {
		Cron string `json:"cron"`
	}{Cron: normalized}
	return t.do(ctx, http.MethodPut, "/jobs/"+id+"/cron", body, nil)
}

func (t *TemporalScheduler) KillRunningJob(ctx context.Context, id string) error {
	return t.do(ctx, http.MethodPost, "/jobs/"+id+"/kill", nil, nil)
}

func (t *TemporalScheduler) GetRunningJobInfo(ctx context.Context, id string) (*RunningJobInfo, error) {
	var result struct {
		Running bool            `json:"running"`
		Info    *RunningJobInfo `json:"info,omitempty"`
	}
	if err := t.do(ctx, http.MethodGet, "/jobs/"+id+"/status", nil, &result); err != nil {
		return nil, err
	}
	if !result.Running {
		return nil, nil
	}
	return result.Info, nil
}

// do issues one HTTP call, mapping service errors onto the shared taxonomy.
func (t *TemporalScheduler) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &InternalError{Backend: "temporal", Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return &InternalError{Backend: "temporal", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &InternalError{Backend: "temporal", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody temporalErrorBody
		data, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(data, &errBody)

		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("temporal: %s: %w", errBody.Error, ErrJobNotFound)
		case http.StatusConflict:
			return fmt.Errorf("temporal: %s: %w", errBody.Error, ErrJobIDExists)
		case http.StatusPreconditionFailed:
			return fmt.Errorf("temporal: %s: %w", errBody.Error, ErrJobNotRunning)
		default:
			return &InternalError{
				Backend: "temporal",
				Err:     fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, errBody.Error),
			}
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &InternalError{Backend: "temporal", Err: err}
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return nil
}
