package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aatumaykin/schedbot/internal/agent"
	"github.com/aatumaykin/schedbot/internal/config"
	"github.com/aatumaykin/schedbot/internal/executor"
	"github.com/aatumaykin/schedbot/internal/logger"
	"github.com/aatumaykin/schedbot/internal/recipe"
	"github.com/aatumaykin/schedbot/internal/scheduler"
	"github.com/aatumaykin/schedbot/internal/session"
)

// runtime bundles the wired components behind one scheduler backend.
type runtime struct {
	cfg       *config.Config
	log       *logger.Logger
	sessions  *session.Store
	agents    *agent.Manager
	scheduler scheduler.Scheduler
}

// buildRuntime wires the full pipeline from configuration: session store,
// agent manager, executor, and the scheduler backend from the factory.
func buildRuntime(ctx context.Context, cfgPath string) (*runtime, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", errs[0])
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewStore(cfg.Workspace.SessionsDir)
	if err != nil {
		return nil, err
	}

	bubbler := agent.NewBubbler(agent.ApprovalPolicy{
		Mode:  agent.ApprovalMode(cfg.Agents.ApprovalMode),
		Tools: cfg.Agents.ApprovalTools,
		Wait:  time.Duration(cfg.Agents.ApprovalWaitSeconds) * time.Second,
	})

	agents := agent.NewManager(func(sessionID string) (agent.Agent, error) {
		a := agent.NewLocalAgent()
		a.SetApprover(bubbler)
		return a, nil
	}, log)

	exec := executor.New(executor.Options{
		Sessions:        sessions,
		Agents:          agents,
		Logger:          log,
		WorkingDir:      cfg.Workspace.Path,
		ResolveProvider: providerResolver(cfg),
		RunTimeout:      time.Duration(cfg.Scheduler.RunTimeoutSeconds) * time.Second,
	})

	schedType := scheduler.Type(strings.ToLower(cfg.Scheduler.Type))
	if os.Getenv(scheduler.EnvSchedulerType) != "" {
		schedType = scheduler.TypeFromEnv(log)
	}

	sched, err := scheduler.New(ctx, scheduler.FactoryOptions{
		Type: schedType,
		Legacy: scheduler.LegacyOptions{
			WorkspacePath:         cfg.Workspace.Path,
			SessionsDir:           cfg.Workspace.SessionsDir,
			Runner:                exec,
			Logger:                log,
			AllowConcurrentRunNow: cfg.Scheduler.AllowConcurrentRunNow,
		},
		Temporal: scheduler.TemporalOptions{
			Port:    cfg.Temporal.Port,
			BinPath: cfg.Temporal.BinPath,
		},
	})
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:       cfg,
		log:       log,
		sessions:  sessions,
		agents:    agents,
		scheduler: sched,
	}, nil
}

// providerResolver maps the configured provider name to an implementation.
// The recipe's settings block can override both the name and the model.
func providerResolver(cfg *config.Config) executor.ProviderResolver {
	return func(r *recipe.Recipe) (agent.Provider, error) {
		name := cfg.Provider.Name
		model := cfg.Provider.Model
		if r.Settings != nil {
			if r.Settings.Provider != "" {
				name = r.Settings.Provider
			}
			if r.Settings.Model != "" {
				model = r.Settings.Model
			}
		}
		switch strings.ToLower(name) {
		case "mock", "echo":
			return agent.NewMockProvider(agent.MockConfig{Mode: agent.MockModeEcho, Model: model}), nil
		case "":
			return nil, fmt.Errorf("no provider configured")
		default:
			return nil, fmt.Errorf("unknown provider: %s", name)
		}
	}
}
