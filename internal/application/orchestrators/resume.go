package orchestrators

import (
	"context"
	"log/slog"
	"time"
)

// ResumeConfig controls the crashed-run resume scheduler.
type ResumeConfig struct {
	Enabled  bool
	Interval time.Duration // How often to look for stuck runs
	MinAge   time.Duration // Leave runs younger than this alone; they may still be live
	MaxRuns  int           // Runs resumed per tick
}

// ExecuteResumePass resumes every stuck dispatch run once. A run still in
// running status that is older than minAge was abandoned by a crashed process;
// re-executing it replays the step log and retries only what never completed.
// PRE: deps are initialized
// POST: Each stuck run was re-executed or its failure logged
func ExecuteResumePass(ctx context.Context, deps DispatchDeps, minAge time.Duration, maxRuns int) error {
	runs, err := deps.Runs.ListUnfinished(ctx, maxRuns)
	if err != nil {
		return err
	}

	now := deps.Now()
	for _, run := range runs {
		if now.Sub(run.StartedAt) < minAge {
			continue
		}
		slog.Info("dispatch_event", "event", "resuming_stuck_run", "run_id", run.ID,
			"issue", run.IssueNumber, "started_at", run.StartedAt)

		report, rerr := ExecuteDispatchIssue(ctx, DispatchInput{ResumeRunID: run.ID}, deps)
		if rerr != nil {
			slog.Error("dispatch_event", "event", "resume_error", "run_id", run.ID, "error", rerr)
			continue
		}
		slog.Info("dispatch_event", "event", "resume_finished", "run_id", run.ID,
			"sent", report.Successful, "skipped", report.Skipped, "failed", report.Failed)
	}
	return nil
}

// StartDispatchResumeScheduler starts a background goroutine that periodically
// resumes dispatch runs left in running status by a crash.
// PRE: Context is valid, deps are initialized
// POST: Goroutine started, returns cancel function
func StartDispatchResumeScheduler(ctx context.Context, deps DispatchDeps, cfg ResumeConfig) func() {
	if !cfg.Enabled {
		return func() {}
	}
	if cfg.MaxRuns < 1 {
		cfg.MaxRuns = 10
	}

	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ExecuteResumePass(ctx, deps, cfg.MinAge, cfg.MaxRuns); err != nil {
					slog.Error("dispatch_resume_scheduler_error", "error", err)
				}
			}
		}
	}()

	return cancel
}
