// workers/sweep_worker.go
package workers

import (
	"context"
	"fmt"
	"game-session-system/services"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Sweeper is the job run on each tick.
type Sweeper interface {
	Run(ctx context.Context) (*services.SweepReport, error)
}

// SweepWorker runs the invalidation sweep on a fixed interval.
type SweepWorker struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger
}

func NewSweepWorker(sweeper Sweeper, interval time.Duration, logger *slog.Logger) *SweepWorker {
	return &SweepWorker{sweeper: sweeper, interval: interval, logger: logger}
}

// Start blocks until ctx is done. The first sweep runs immediately; a sweep
// still running when the next tick arrives makes that tick skip.
func (w *SweepWorker) Start(ctx context.Context) error {
	if w.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", w.interval)
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create sweep scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func(jobCtx context.Context) {
			report, err := w.sweeper.Run(jobCtx)
			if err != nil {
				w.logger.Error("scheduled sweep failed", "error", err)
				return
			}
			w.logger.Info("scheduled sweep done", "matches", report.MatchesInvalidated, "instances", report.InstancesInvalidated)
		}),
		gocron.WithName("invalidate-matches"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("schedule sweep: %w", err)
	}

	w.logger.Info("sweep worker started", "every", w.interval)
	sched.Start()
	<-ctx.Done()

	w.logger.Info("sweep worker stopping")
	if err := sched.Shutdown(); err != nil {
		return fmt.Errorf("stop sweep scheduler: %w", err)
	}
	return nil
}
