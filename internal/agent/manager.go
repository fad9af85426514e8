package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aatumaykin/schedbot/internal/logger"
)

// State tracks whether a session agent has an execution in flight.
type State int

const (
	// StateIdle means no execution is running for the session.
	StateIdle State = iota
	// StateActive means a reply is in flight; the cleanup sweep must not
	// remove the agent.
	StateActive
)

// SessionAgent pairs an agent with its session bookkeeping. At most one
// SessionAgent exists per session id at any time.
type SessionAgent struct {
	Agent     Agent
	SessionID string
	CreatedAt time.Time
	LastUsed  time.Time
	State     State

	// ExecutionMode records how the run that owns this agent is dispatched,
	// background or foreground. Informational; set by the caller that binds
	// the agent to a job.
	ExecutionMode string
}

// MetricsSnapshot is the read-only view of manager counters.
type MetricsSnapshot struct {
	AgentsCreated int64
	AgentsCleaned int64
	CacheHits     int64
	CacheMisses   int64
}

// Manager maps session identifiers to isolated, cached agent instances.
// The session map sits behind a single read/write lock: cache-hit lookups
// take the read lock, creation and cleanup take the write lock.
type Manager struct {
	mu      sync.RWMutex
	agents  map[string]*SessionAgent
	factory Factory
	log     *logger.Logger

	metrics MetricsSnapshot
	prom    *PrometheusMetrics
}

// NewManager creates a manager that builds agents with the given factory.
func NewManager(factory Factory, log *logger.Logger) *Manager {
	return &Manager{
		agents:  make(map[string]*SessionAgent),
		factory: factory,
		log:     log,
	}
}

// WithPrometheus registers Prometheus collectors on the manager.
func (m *Manager) WithPrometheus(prom *PrometheusMetrics) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prom = prom
	return m
}

// GetAgent returns the live agent for the session, creating one on first
// use. A hit refreshes last_used; a miss constructs a new isolated agent
// under the write lock.
func (m *Manager) GetAgent(sessionID string) (*SessionAgent, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}

	m.mu.RLock()
	sa, ok := m.agents[sessionID]
	m.mu.RUnlock()

	if ok {
		m.mu.Lock()
		// Re-check: a cleanup sweep may have removed the entry between locks.
		if sa, ok = m.agents[sessionID]; ok {
			sa.LastUsed = time.Now().UTC()
			m.metrics.CacheHits++
			if m.prom != nil {
				m.prom.cacheHits.Inc()
			}
			m.mu.Unlock()
			return sa, nil
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sa, ok := m.agents[sessionID]; ok {
		sa.LastUsed = time.Now().UTC()
		m.metrics.CacheHits++
		if m.prom != nil {
			m.prom.cacheHits.Inc()
		}
		return sa, nil
	}

	a, err := m.factory(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent for session %s: %w", sessionID, err)
	}

	now := time.Now().UTC()
	sa = &SessionAgent{
		Agent:     a,
		SessionID: sessionID,
		CreatedAt: now,
		LastUsed:  now,
		State:     StateIdle,
	}
	m.agents[sessionID] = sa
	m.metrics.CacheMisses++
	m.metrics.AgentsCreated++
	if m.prom != nil {
		m.prom.cacheMisses.Inc()
		m.prom.agentsCreated.Inc()
		m.prom.sessionsLive.Set(float64(len(m.agents)))
	}

	m.log.Debug("agent created",
		logger.Field{Key: "session_id", Value: sessionID})
	return sa, nil
}

// MarkActive flags the session's agent as having an execution in flight.
func (m *Manager) MarkActive(sessionID string) {
	m.setState(sessionID, StateActive)
}

// MarkIdle clears the in-flight flag and refreshes last_used.
func (m *Manager) MarkIdle(sessionID string) {
	m.setState(sessionID, StateIdle)
}

func (m *Manager) setState(sessionID string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sa, ok := m.agents[sessionID]; ok {
		sa.State = state
		if state == StateIdle {
			sa.LastUsed = time.Now().UTC()
		}
	}
}

// CleanupIdle removes agents idle for longer than maxIdle and returns the
// count removed. Agents whose session has an execution in flight are never
// removed, regardless of their last_used timestamp.
func (m *Manager) CleanupIdle(maxIdle time.Duration) int {
	now := time.Now().UTC()

	m.mu.Lock()
	removed := 0
	for id, sa := range m.agents {
		if sa.State == StateActive {
			continue
		}
		if now.Sub(sa.LastUsed) > maxIdle {
			delete(m.agents, id)
			removed++
		}
	}
	m.metrics.AgentsCleaned += int64(removed)
	live := len(m.agents)
	m.mu.Unlock()

	if m.prom != nil {
		m.prom.agentsCleaned.Add(float64(removed))
		m.prom.sessionsLive.Set(float64(live))
	}

	if removed > 0 {
		m.log.Info("cleaned up idle agents",
			logger.Field{Key: "removed", Value: removed},
			logger.Field{Key: "remaining", Value: live})
	}
	return removed
}

// StartCleanupLoop sweeps idle agents at the given interval until ctx is
// cancelled. It runs independently of any job firing.
func (m *Manager) StartCleanupLoop(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupIdle(maxIdle)
			}
		}
	}()
}

// Count returns the number of live session agents.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}

// Metrics returns a snapshot of the manager counters.
func (m *Manager) Metrics() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}
