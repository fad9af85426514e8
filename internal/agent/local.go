package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aatumaykin/schedbot/internal/recipe"
)

// LocalAgent is a self-contained Agent implementation backed by a Provider.
// Each instance owns all of its state, so two agents for different sessions
// share nothing mutable.
type LocalAgent struct {
	mu         sync.Mutex
	provider   Provider
	extensions []string // attached extension names
	approver   *Bubbler
	markers    map[string]string // session-scoped scratch state
}

// NewLocalAgent creates an agent with no provider attached. A provider must
// be set via UpdateProvider before Reply is called.
func NewLocalAgent() *LocalAgent {
	return &LocalAgent{
		markers: make(map[string]string),
	}
}

// SetApprover attaches an approval bubbler consulted before tool execution.
func (a *LocalAgent) SetApprover(b *Bubbler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.approver = b
}

// AddExtension attaches an extension to the agent.
func (a *LocalAgent) AddExtension(cfg recipe.ExtensionConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("extension name is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extensions = append(a.extensions, cfg.Name)
	return nil
}

// Extensions returns the names of the attached extensions.
func (a *LocalAgent) Extensions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.extensions...)
}

// UpdateProvider replaces the agent's model provider.
func (a *LocalAgent) UpdateProvider(p Provider) error {
	if p == nil {
		return fmt.Errorf("provider cannot be nil")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.provider = p
	return nil
}

// SetMarker stores a session-scoped value, used by tests to verify that
// agents of different sessions share no state.
func (a *LocalAgent) SetMarker(key, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markers[key] = value
}

// Marker reads a session-scoped value.
func (a *LocalAgent) Marker(key string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.markers[key]
}

// Reply runs one turn against the provider and streams the result. The
// returned channel is closed when the stream is exhausted or ctx is
// cancelled.
func (a *LocalAgent) Reply(ctx context.Context, conversation []Message, cfg SessionConfig) (<-chan Event, error) {
	a.mu.Lock()
	provider := a.provider
	approver := a.approver
	extensions := append([]string(nil), a.extensions...)
	a.mu.Unlock()

	if provider == nil {
		return nil, fmt.Errorf("no provider configured for session %s", cfg.SessionID)
	}

	events := make(chan Event, 8)
	go func() {
		defer close(events)

		for _, ext := range extensions {
			if approver == nil {
				continue
			}
			decision := approver.Ask(ctx, ext)
			if decision == Denied {
				events <- Event{Kind: EventError, ToolName: ext,
					Err: fmt.Sprintf("extension %s denied by approval policy", ext)}
				return
			}
		}

		msg, usage, err := provider.Complete(ctx, conversation)
		if err != nil {
			// The channel is buffered and this goroutine is its only
			// sender, so the send cannot block.
			events <- Event{Kind: EventError, Err: err.Error()}
			return
		}
		if msg.Created.IsZero() {
			msg.Created = time.Now().UTC()
		}

		events <- Event{Kind: EventMessage, Message: &msg, Usage: usage}
	}()

	return events, nil
}
