package recipe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SnapshotSubdirectory is the private recipe copy directory inside the
// workspace. Each scheduled job gets its own copy keyed by job id so edits
// to the original file do not affect an already-scheduled job.
const SnapshotSubdirectory = "recipes"

// Snapshot copies the recipe at source into dir under the job id, keeping
// the original extension. It returns the snapshot path.
func Snapshot(source, dir, jobID string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	ext := filepath.Ext(source)
	if ext == "" {
		ext = ".yaml"
	}
	dest := filepath.Join(dir, jobID+ext)

	in, err := os.Open(source)
	if err != nil {
		return "", fmt.Errorf("failed to open recipe source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create recipe snapshot: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to copy recipe: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close recipe snapshot: %w", err)
	}

	return dest, nil
}

// RemoveSnapshot deletes the job's recipe copy, whatever its extension.
// Missing snapshots are not an error.
func RemoveSnapshot(dir, jobID string) error {
	matches, err := filepath.Glob(filepath.Join(dir, jobID+".*"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove recipe snapshot: %w", err)
		}
	}
	return nil
}
