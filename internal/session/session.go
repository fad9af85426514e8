// Package session persists agent run transcripts as JSONL files: the first
// line is a metadata header, followed by one JSON object per message.
// Messages are appended as they arrive so a cancelled run leaves a partial
// transcript rather than nothing.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aatumaykin/schedbot/internal/agent"
)

// Metadata is the header line of a session file.
type Metadata struct {
	WorkingDir   string    `json:"working_dir,omitempty"`
	ScheduleID   string    `json:"schedule_id,omitempty"`
	MessageCount int       `json:"message_count"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	TotalTokens  int       `json:"total_tokens,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store manages session files under one base directory.
type Store struct {
	baseDir string
	mu      sync.Mutex
}

// NewStore creates a store, ensuring the base directory exists.
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory cannot be empty")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Dir returns the base directory.
func (s *Store) Dir() string {
	return s.baseDir
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID+".jsonl")
}

// Create writes a new session file containing only the metadata header.
func (s *Store) Create(sessionID string, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal session metadata: %w", err)
	}
	if err := os.WriteFile(s.path(sessionID), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	return nil
}

// Append adds one message line to the session file.
func (s *Store) Append(sessionID string, msg agent.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	file, err := os.OpenFile(s.path(sessionID), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Finalize rewrites the header line with final counts, keeping the message
// lines intact. The rewrite is atomic (temp file + rename).
func (s *Store) Finalize(sessionID string, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(sessionID)
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}

	var lines [][]byte
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue // old header
		}
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		file.Close()
		return fmt.Errorf("failed to scan session file: %w", err)
	}
	file.Close()

	meta.MessageCount = len(lines)
	meta.TotalTokens = meta.InputTokens + meta.OutputTokens
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	header, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal session metadata: %w", err)
	}

	tmpPath := path + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	writer := bufio.NewWriter(out)
	writer.Write(append(header, '\n'))
	for _, line := range lines {
		writer.Write(append(line, '\n'))
	}
	if err := writer.Flush(); err != nil {
		out.Close()
		return fmt.Errorf("failed to flush session file: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("failed to sync session file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename session file: %w", err)
	}
	return nil
}

// Read returns the header and all messages of a session.
func (s *Store) Read(sessionID string) (Metadata, []agent.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path(sessionID))
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	var meta Metadata
	var messages []agent.Message

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			if err := json.Unmarshal(line, &meta); err != nil {
				return Metadata{}, nil, fmt.Errorf("failed to parse session metadata: %w", err)
			}
			continue
		}
		var msg agent.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			// Skip malformed lines, keep the readable part of the transcript.
			continue
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return Metadata{}, nil, fmt.Errorf("failed to scan session file: %w", err)
	}

	return meta, messages, nil
}

// Exists reports whether the session file exists.
func (s *Store) Exists(sessionID string) bool {
	_, err := os.Stat(s.path(sessionID))
	return err == nil
}

// Delete removes the session file. Missing files are not an error.
func (s *Store) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}
