package scheduler

import (
	"context"
	"os"
	"strings"

	"github.com/aatumaykin/schedbot/internal/logger"
)

// EnvSchedulerType selects the backend: "legacy" (default) or "temporal".
const EnvSchedulerType = "SCHEDBOT_SCHEDULER_TYPE"

// Type identifies a scheduler backend.
type Type string

const (
	TypeLegacy   Type = "legacy"
	TypeTemporal Type = "temporal"
)

// TypeFromEnv reads the configured backend type. Unknown values log a
// warning and default to legacy.
func TypeFromEnv(log *logger.Logger) Type {
	raw := os.Getenv(EnvSchedulerType)
	if raw == "" {
		log.Debug("no scheduler type configured, defaulting to legacy")
		return TypeLegacy
	}

	switch strings.ToLower(raw) {
	case "temporal":
		return TypeTemporal
	case "legacy":
		return TypeLegacy
	default:
		log.Warn("unknown scheduler type, defaulting to legacy",
			logger.Field{Key: "value", Value: raw})
		return TypeLegacy
	}
}

// FactoryOptions configures backend construction.
type FactoryOptions struct {
	Type     Type // empty means: read from environment
	Legacy   LegacyOptions
	Temporal TemporalOptions
}

// New builds the configured backend. When temporal is selected but the
// service cannot be reached (or started), the legacy backend is constructed
// instead and the fallback is logged as a warning. The fallback happens once
// here, never per call.
func New(ctx context.Context, opts FactoryOptions) (Scheduler, error) {
	log := opts.Legacy.Logger

	backendType := opts.Type
	if backendType == "" {
		backendType = TypeFromEnv(log)
	}

	if backendType == TypeTemporal {
		temporal, err := NewTemporalScheduler(ctx, opts.Temporal, log)
		if err == nil {
			return temporal, nil
		}
		log.Warn("temporal scheduler unavailable, falling back to legacy",
			logger.Field{Key: "error", Value: err})
	}

	legacy, err := NewLegacyScheduler(opts.Legacy)
	if err != nil {
		return nil, err
	}
	return legacy, nil
}
