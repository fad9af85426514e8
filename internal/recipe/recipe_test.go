package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "daily.yaml", `
version: "1.0.0"
title: Daily Report
description: Summarize yesterday's activity
prompt: "Summarize activity for {{ team }}"
extensions:
  - name: web-search
    type: builtin
  - name: filesystem
    type: stdio
    command: fs-server
    args: ["--root", "/data"]
    timeout: 30
settings:
  provider: mock
  model: small
parameters:
  - key: team
    requirement: optional
    default: platform
retry:
  max_retries: 2
  timeout_seconds: 120
`)

	r, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Daily Report", r.Title)
	assert.Equal(t, "1.0.0", r.Version)
	require.Len(t, r.Extensions, 2)
	assert.Equal(t, "web-search", r.Extensions[0].Name)
	assert.Equal(t, []string{"--root", "/data"}, r.Extensions[1].Args)
	require.NotNil(t, r.Settings)
	assert.Equal(t, "mock", r.Settings.Provider)
	require.NotNil(t, r.Retry)
	assert.Equal(t, 2, r.Retry.MaxRetries)
	assert.Equal(t, 120, r.Retry.TimeoutSeconds)
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "task.json", `{
  "title": "Cleanup",
  "description": "Remove stale artifacts",
  "instructions": "Delete artifacts older than 30 days"
}`)

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Cleanup", r.Title)
	assert.Equal(t, "Delete artifacts older than 30 days", r.Instructions)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "title: [unterminated")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.yaml", "title: Only Title\ndescription: has no body\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instructions or a prompt")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		recipe  Recipe
		wantErr string
	}{
		{
			name:   "valid with prompt",
			recipe: Recipe{Title: "t", Description: "d", Prompt: "p"},
		},
		{
			name:   "valid with instructions",
			recipe: Recipe{Title: "t", Description: "d", Instructions: "i"},
		},
		{
			name:    "missing title",
			recipe:  Recipe{Description: "d", Prompt: "p"},
			wantErr: "title",
		},
		{
			name:    "missing description",
			recipe:  Recipe{Title: "t", Prompt: "p"},
			wantErr: "description",
		},
		{
			name:    "missing body",
			recipe:  Recipe{Title: "t", Description: "d"},
			wantErr: "instructions or a prompt",
		},
		{
			name: "parameter without key",
			recipe: Recipe{Title: "t", Description: "d", Prompt: "p",
				Parameters: []Parameter{{Description: "anonymous"}}},
			wantErr: "missing a key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.recipe.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestRenderPrompt(t *testing.T) {
	r := Recipe{
		Title:       "t",
		Description: "d",
		Prompt:      "Report for {{ team }} covering {{period}}",
		Parameters: []Parameter{
			{Key: "team", Default: "platform"},
			{Key: "period", Default: "last week"},
			{Key: "unused", Default: "nothing"},
		},
	}

	assert.Equal(t, "Report for platform covering last week", r.RenderPrompt())
}

func TestRenderPrompt_FallsBackToInstructions(t *testing.T) {
	r := Recipe{Title: "t", Description: "d", Instructions: "do the thing"}
	assert.Equal(t, "do the thing", r.RenderPrompt())
}

func TestRenderPrompt_KeepsUnboundPlaceholders(t *testing.T) {
	r := Recipe{
		Title: "t", Description: "d",
		Prompt:     "Report for {{ team }}",
		Parameters: []Parameter{{Key: "team", Requirement: "required"}},
	}
	assert.Equal(t, "Report for {{ team }}", r.RenderPrompt())
}

func TestSnapshot(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "orig.yaml", "title: t\ndescription: d\nprompt: p\n")
	snapDir := filepath.Join(dir, "recipes")

	dest, err := Snapshot(source, snapDir, "job-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(snapDir, "job-1.yaml"), dest)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "title: t")

	// Editing the original does not touch the snapshot.
	require.NoError(t, os.WriteFile(source, []byte("title: changed\n"), 0644))
	data, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "title: t")
}

func TestSnapshot_KeepsJSONExtension(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "orig.json", `{"title":"t","description":"d","prompt":"p"}`)

	dest, err := Snapshot(source, filepath.Join(dir, "recipes"), "job-2")
	require.NoError(t, err)
	assert.Equal(t, ".json", filepath.Ext(dest))
}

func TestSnapshot_MissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := Snapshot(filepath.Join(dir, "ghost.yaml"), filepath.Join(dir, "recipes"), "job-3")
	require.Error(t, err)
}

func TestRemoveSnapshot(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "orig.yaml", "title: t\ndescription: d\nprompt: p\n")
	snapDir := filepath.Join(dir, "recipes")

	dest, err := Snapshot(source, snapDir, "job-4")
	require.NoError(t, err)

	require.NoError(t, RemoveSnapshot(snapDir, "job-4"))
	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err))

	// Removing again is not an error.
	assert.NoError(t, RemoveSnapshot(snapDir, "job-4"))
}
