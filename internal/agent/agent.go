// Package agent defines the agent execution contract consumed by the
// scheduler pipeline and the manager that maps session identifiers to
// isolated, cached agent instances.
package agent

import (
	"context"
	"time"

	"github.com/aatumaykin/schedbot/internal/recipe"
)

// Message is one conversation message.
type Message struct {
	Role    string    `json:"role"` // user, assistant, tool
	Content string    `json:"content"`
	Created time.Time `json:"created,omitempty"`
}

// TokenUsage accumulates token counts across a run.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns the combined token count.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add merges another usage into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// EventKind discriminates agent stream events.
type EventKind string

const (
	EventMessage      EventKind = "message"
	EventToolCall     EventKind = "tool_call"
	EventToolResponse EventKind = "tool_response"
	EventError        EventKind = "error"
)

// Event is one element of the lazy stream produced by a reply.
type Event struct {
	Kind     EventKind  `json:"kind"`
	Message  *Message   `json:"message,omitempty"`
	ToolName string     `json:"tool_name,omitempty"`
	Err      string     `json:"error,omitempty"`
	Usage    TokenUsage `json:"usage,omitempty"`
}

// SessionConfig carries per-run settings into a reply.
type SessionConfig struct {
	SessionID  string
	WorkingDir string
	ScheduleID string
	MaxTurns   int
}

// Agent is the execution engine consumed by the scheduler pipeline. Reply
// streams events until the run finishes or ctx is cancelled; the returned
// channel is closed when the stream is exhausted.
type Agent interface {
	Reply(ctx context.Context, conversation []Message, cfg SessionConfig) (<-chan Event, error)
	AddExtension(cfg recipe.ExtensionConfig) error
	UpdateProvider(p Provider) error
}

// Provider is the minimal LLM abstraction an agent needs. Implementations
// live outside this package; tests use MockProvider.
type Provider interface {
	Name() string
	Complete(ctx context.Context, messages []Message) (Message, TokenUsage, error)
}

// Factory constructs a fresh, isolated agent for a session. Isolation means
// no shared mutable state with any agent of another session.
type Factory func(sessionID string) (Agent, error)
