package agent

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics exposes manager counters for scraping.
type PrometheusMetrics struct {
	registry      prometheus.Registerer
	sessionsLive  prometheus.Gauge
	agentsCreated prometheus.Counter
	agentsCleaned prometheus.Counter
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
}

// InitPrometheusMetrics registers the manager collectors under the given
// namespace. A nil registerer uses the default registry.
func InitPrometheusMetrics(namespace string, reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &PrometheusMetrics{
		registry: reg,
		sessionsLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "agent_sessions_live",
				Help:      "Number of live session agents",
			},
		),
		agentsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agents_created_total",
				Help:      "Total number of agents created",
			},
		),
		agentsCleaned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agents_cleaned_total",
				Help:      "Total number of agents removed by the idle sweep",
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_cache_hits_total",
				Help:      "Total number of agent cache hits",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_cache_misses_total",
				Help:      "Total number of agent cache misses",
			},
		),
	}

	reg.MustRegister(m.sessionsLive, m.agentsCreated, m.agentsCleaned, m.cacheHits, m.cacheMisses)
	return m
}
