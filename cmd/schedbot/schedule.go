package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/schedbot/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage scheduled jobs",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <job-id> <recipe-path> <cron>",
	Short: "Schedule a recipe on a cron expression",
	Args:  cobra.ExactArgs(3),
	Run:   runScheduleAdd,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all scheduled jobs",
	Run:   runScheduleList,
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove <job-id>",
	Short: "Remove a scheduled job",
	Args:  cobra.ExactArgs(1),
	Run:   runScheduleRemove,
}

var schedulePauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause a scheduled job",
	Args:  cobra.ExactArgs(1),
	Run:   runSchedulePause,
}

var scheduleUnpauseCmd = &cobra.Command{
	Use:   "unpause <job-id>",
	Short: "Resume a paused job",
	Args:  cobra.ExactArgs(1),
	Run:   runScheduleUnpause,
}

var scheduleRunNowCmd = &cobra.Command{
	Use:   "run-now <job-id>",
	Short: "Fire a job immediately and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	Run:   runScheduleRunNow,
}

var scheduleKillCmd = &cobra.Command{
	Use:   "kill <job-id>",
	Short: "Cancel a job's running execution",
	Args:  cobra.ExactArgs(1),
	Run:   runScheduleKill,
}

var scheduleStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show whether a job is currently running",
	Args:  cobra.ExactArgs(1),
	Run:   runScheduleStatus,
}

var scheduleSessionsCmd = &cobra.Command{
	Use:   "sessions <job-id>",
	Short: "List persisted sessions for a job, newest first",
	Args:  cobra.ExactArgs(1),
	Run:   runScheduleSessions,
}

var scheduleUpdateCmd = &cobra.Command{
	Use:   "update <job-id> <cron>",
	Short: "Replace a job's cron expression",
	Args:  cobra.ExactArgs(2),
	Run:   runScheduleUpdate,
}

var sessionsLimit int

func init() {
	scheduleSessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 10, "maximum number of sessions to list")

	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)
	scheduleCmd.AddCommand(schedulePauseCmd)
	scheduleCmd.AddCommand(scheduleUnpauseCmd)
	scheduleCmd.AddCommand(scheduleRunNowCmd)
	scheduleCmd.AddCommand(scheduleKillCmd)
	scheduleCmd.AddCommand(scheduleStatusCmd)
	scheduleCmd.AddCommand(scheduleSessionsCmd)
	scheduleCmd.AddCommand(scheduleUpdateCmd)
}

// mustRuntime builds the wired pipeline or exits.
func mustRuntime(ctx context.Context) *runtime {
	rt, err := buildRuntime(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return rt
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runScheduleAdd(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	rt := mustRuntime(ctx)

	job := scheduler.ScheduledJob{
		ID:     args[0],
		Source: args[1],
		Cron:   args[2],
	}
	if err := rt.scheduler.AddScheduledJob(ctx, job); err != nil {
		fatal(err)
	}
	fmt.Printf("Job %s scheduled with cron %q\n", job.ID, args[2])
}

func runScheduleList(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	rt := mustRuntime(ctx)

	jobs, err := rt.scheduler.ListScheduledJobs(ctx)
	if err != nil {
		fatal(err)
	}
	if len(jobs) == 0 {
		fmt.Println("No scheduled jobs")
		return
	}
	for _, job := range jobs {
		state := "idle"
		if job.CurrentlyRunning {
			state = "running"
		}
		if job.Paused {
			state = "paused"
		}
		lastRun := "never"
		if job.LastRun != nil {
			lastRun = job.LastRun.Format(time.RFC3339)
		}
		fmt.Printf("%s\t%s\t%s\tlast run: %s\n", job.ID, job.Cron, state, lastRun)
	}
}

func runScheduleRemove(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	rt := mustRuntime(ctx)
	if err := rt.scheduler.RemoveScheduledJob(ctx, args[0]); err != nil {
		fatal(err)
	}
	fmt.Printf("Job %s removed\n", args[0])
}

func runSchedulePause(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	rt := mustRuntime(ctx)
	if err := rt.scheduler.PauseSchedule(ctx, args[0]); err != nil {
		fatal(err)
	}
	fmt.Printf("Job %s paused\n", args[0])
}

func runScheduleUnpause(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	rt := mustRuntime(ctx)
	if err := rt.scheduler.UnpauseSchedule(ctx, args[0]); err != nil {
		fatal(err)
	}
	fmt.Printf("Job %s resumed\n", args[0])
}

func runScheduleRunNow(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	rt := mustRuntime(ctx)

	sessionID, err := rt.scheduler.RunNow(ctx, args[0])
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Session: %s\n", sessionID)

	// Wait for the firing to settle so the transcript is complete.
	for {
		info, err := rt.scheduler.GetRunningJobInfo(ctx, args[0])
		if err != nil {
			fatal(err)
		}
		if info == nil {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
	fmt.Println("Done")
}

func runScheduleKill(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	rt := mustRuntime(ctx)
	if err := rt.scheduler.KillRunningJob(ctx, args[0]); err != nil {
		fatal(err)
	}
	fmt.Printf("Job %s killed\n", args[0])
}

func runScheduleStatus(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	rt := mustRuntime(ctx)

	info, err := rt.scheduler.GetRunningJobInfo(ctx, args[0])
	if err != nil {
		fatal(err)
	}
	if info == nil {
		fmt.Printf("Job %s is idle\n", args[0])
		return
	}
	fmt.Printf("Job %s running since %s (session %s)\n",
		args[0], info.StartTime.Format(time.RFC3339), info.SessionID)
}

func runScheduleSessions(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	rt := mustRuntime(ctx)

	refs, err := rt.scheduler.Sessions(ctx, args[0], sessionsLimit)
	if err != nil {
		fatal(err)
	}
	if len(refs) == 0 {
		fmt.Println("No sessions")
		return
	}
	for _, ref := range refs {
		fmt.Printf("%s\t%s\n", ref.ID, ref.Modified.Format(time.RFC3339))
	}
}

func runScheduleUpdate(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	rt := mustRuntime(ctx)
	if err := rt.scheduler.UpdateSchedule(ctx, args[0], args[1]); err != nil {
		fatal(err)
	}
	fmt.Printf("Job %s rescheduled to %q\n", args[0], args[1])
}
