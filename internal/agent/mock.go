package agent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockMode defines the operation mode of the mock provider.
type MockMode int

const (
	// MockModeEcho returns the last user message back.
	MockModeEcho MockMode = iota

	// MockModeFixed returns a fixed response.
	MockModeFixed

	// MockModeError always returns an error.
	MockModeError
)

// MockConfig holds configuration for the mock provider.
type MockConfig struct {
	Mode      MockMode
	Model     string        // reported model identifier
	Responses []string      // responses rotated through in fixed mode
	Delay     time.Duration // simulated latency per call
}

// MockProvider is a Provider implementation for tests. It honors context
// cancellation during its simulated delay, which lets tests exercise the
// kill path against a long-sleeping agent.
type MockProvider struct {
	mu            sync.Mutex
	mode          MockMode
	model         string
	responses     []string
	responseIndex int
	delay         time.Duration
	callCount     int
}

// NewMockProvider creates a mock provider.
func NewMockProvider(cfg MockConfig) *MockProvider {
	return &MockProvider{
		mode:      cfg.Mode,
		model:     cfg.Model,
		responses: cfg.Responses,
		delay:     cfg.Delay,
	}
}

// NewEchoProvider creates a mock provider that echoes user messages.
func NewEchoProvider() *MockProvider {
	return NewMockProvider(MockConfig{Mode: MockModeEcho})
}

// NewFixedProvider creates a mock provider with a fixed response.
func NewFixedProvider(response string) *MockProvider {
	return NewMockProvider(MockConfig{Mode: MockModeFixed, Responses: []string{response}})
}

// NewErrorProvider creates a mock provider that always fails.
func NewErrorProvider() *MockProvider {
	return NewMockProvider(MockConfig{Mode: MockModeError})
}

func (m *MockProvider) Name() string { return "mock" }

// Model reports the configured model identifier.
func (m *MockProvider) Model() string { return m.model }

// CallCount returns the number of Complete calls made.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Complete implements the Provider interface.
func (m *MockProvider) Complete(ctx context.Context, messages []Message) (Message, TokenUsage, error) {
	m.mu.Lock()
	m.callCount++
	mode := m.mode
	delay := m.delay
	var response string
	if len(m.responses) > 0 {
		response = m.responses[m.responseIndex%len(m.responses)]
		m.responseIndex++
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return Message{}, TokenUsage{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	switch mode {
	case MockModeError:
		return Message{}, TokenUsage{}, fmt.Errorf("mock provider error")
	case MockModeEcho:
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == "user" {
				response = messages[i].Content
				break
			}
		}
	}

	usage := TokenUsage{InputTokens: approxTokens(messages), OutputTokens: len(response) / 4}
	return Message{
		Role:    "assistant",
		Content: response,
		Created: time.Now().UTC(),
	}, usage, nil
}

// approxTokens estimates token counts at four characters per token.
func approxTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
	}
	return total
}
