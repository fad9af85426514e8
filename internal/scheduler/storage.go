package scheduler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/aatumaykin/schedbot/internal/logger"
)

// SchedulesFilename is the job store file name inside the workspace.
const SchedulesFilename = "schedules.json"

// JobStore persists scheduled jobs as a JSON array. Every mutation rewrites
// the file atomically: a temp file is written, synced, then renamed over the
// original, so a crash never leaves a partially written store. Saves are
// serialized internally, so Save is safe for concurrent use.
type JobStore struct {
	mu       sync.Mutex
	filePath string
	log      *logger.Logger
}

// NewJobStore creates a store rooted at workspacePath.
func NewJobStore(workspacePath string, log *logger.Logger) *JobStore {
	return &JobStore{
		filePath: filepath.Join(workspacePath, SchedulesFilename),
		log:      log,
	}
}

// Path returns the backing file path.
func (s *JobStore) Path() string {
	return s.filePath
}

// Load reads all jobs from the store. A missing file yields an empty slice;
// a corrupt or unreadable file is a StorageError, fatal for backend startup.
func (s *JobStore) Load() ([]ScheduledJob, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []ScheduledJob{}, nil
		}
		return nil, &StorageError{Op: "read", Err: err}
	}

	var jobs []ScheduledJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, &StorageError{Op: "parse", Err: err}
	}
	return jobs, nil
}

// Save writes all jobs to the store with an atomic temp file + rename.
// Jobs are sorted by id so the file diffs cleanly.
func (s *JobStore) Save(jobs []ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return &StorageError{Op: "mkdir", Err: err}
	}

	sorted := make([]ScheduledJob, len(jobs))
	copy(sorted, jobs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return &StorageError{Op: "marshal", Err: err}
	}

	tmpPath := s.filePath + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return &StorageError{Op: "create temp", Err: err}
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		file.Close()
		return &StorageError{Op: "write", Err: err}
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return &StorageError{Op: "sync", Err: err}
	}
	if err := file.Close(); err != nil {
		return &StorageError{Op: "close", Err: err}
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return &StorageError{Op: "rename", Err: err}
	}

	s.log.Debug("jobs saved to store",
		logger.Field{Key: "count", Value: len(jobs)},
		logger.Field{Key: "file", Value: s.filePath})

	return nil
}
