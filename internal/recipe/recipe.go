// Package recipe provides the recipe model for scheduled agent runs.
// Recipes are declarative YAML or JSON files describing what an agent
// should do: a prompt or instructions, extensions to attach, parameters
// with defaults, and an optional retry policy.
package recipe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Recipe is a declarative description of one agent run.
type Recipe struct {
	Version      string            `json:"version,omitempty" yaml:"version,omitempty"`
	Title        string            `json:"title" yaml:"title"`
	Description  string            `json:"description" yaml:"description"`
	Instructions string            `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Prompt       string            `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Extensions   []ExtensionConfig `json:"extensions,omitempty" yaml:"extensions,omitempty"`
	Settings     *Settings         `json:"settings,omitempty" yaml:"settings,omitempty"`
	Parameters   []Parameter       `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	SubRecipes   []SubRecipe       `json:"sub_recipes,omitempty" yaml:"sub_recipes,omitempty"`
	Retry        *RetryConfig      `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// ExtensionConfig describes one extension to attach to the agent.
type ExtensionConfig struct {
	Name    string   `json:"name" yaml:"name"`
	Type    string   `json:"type,omitempty" yaml:"type,omitempty"`
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	Timeout int      `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Settings carries the provider/model override for the run.
type Settings struct {
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
}

// Parameter declares an input with an optional default value.
type Parameter struct {
	Key         string `json:"key" yaml:"key"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Requirement string `json:"requirement,omitempty" yaml:"requirement,omitempty"` // required, optional
	Default     string `json:"default,omitempty" yaml:"default,omitempty"`
}

// SubRecipe references another recipe file invoked by the run.
type SubRecipe struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
}

// RetryConfig bounds re-execution of a failed run.
type RetryConfig struct {
	MaxRetries     int `json:"max_retries" yaml:"max_retries"`
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// Load reads and parses a recipe file. JSON and YAML are detected by file
// extension, defaulting to YAML.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe file: %w", err)
	}

	var r Recipe
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to parse recipe JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to parse recipe YAML: %w", err)
		}
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks structural requirements: title, description, and at least
// one of instructions or prompt.
func (r *Recipe) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("recipe title is required")
	}
	if r.Description == "" {
		return fmt.Errorf("recipe description is required")
	}
	if r.Instructions == "" && r.Prompt == "" {
		return fmt.Errorf("recipe needs instructions or a prompt")
	}
	for _, p := range r.Parameters {
		if p.Key == "" {
			return fmt.Errorf("recipe parameter is missing a key")
		}
	}
	return nil
}

// RenderPrompt returns the text to start the run with, preferring the
// prompt over instructions, with {{ key }} parameter placeholders replaced
// by their default values.
func (r *Recipe) RenderPrompt() string {
	text := r.Prompt
	if text == "" {
		text = r.Instructions
	}
	for _, p := range r.Parameters {
		if p.Default == "" {
			continue
		}
		for _, form := range []string{"{{ " + p.Key + " }}", "{{" + p.Key + "}}"} {
			text = strings.ReplaceAll(text, form, p.Default)
		}
	}
	return text
}
