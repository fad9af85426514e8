package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aatumaykin/schedbot/internal/agent"
	"github.com/aatumaykin/schedbot/internal/logger"
	"github.com/aatumaykin/schedbot/internal/scheduler"
)

var metricsAddr string

// serveCmd runs the scheduler until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler daemon",
	Run:   runServe,
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address for the Prometheus metrics endpoint (empty disables it)")
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if metricsAddr != "" {
		rt.agents.WithPrometheus(agent.InitPrometheusMetrics("schedbot", nil))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				rt.log.Error("metrics endpoint failed", err)
			}
		}()
	}

	rt.agents.StartCleanupLoop(ctx,
		time.Duration(rt.cfg.Agents.CleanupIntervalMinutes)*time.Minute,
		time.Duration(rt.cfg.Agents.MaxIdleMinutes)*time.Minute)

	if legacy, ok := rt.scheduler.(*scheduler.LegacyScheduler); ok {
		if err := legacy.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	rt.log.Info("schedbot serving",
		logger.Field{Key: "workspace", Value: rt.cfg.Workspace.Path})

	<-ctx.Done()
	rt.log.Info("shutting down")
}
