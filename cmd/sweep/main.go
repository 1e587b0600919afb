// Command sweep invalidates every match and instance. It runs once by default,
// or on a fixed interval with --every.
package main

import (
	"context"
	"fmt"
	"game-session-system/config"
	"game-session-system/services"
	"game-session-system/utils"
	"game-session-system/workers"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	every := pflag.Duration("every", 0, "repeat the sweep on this interval instead of running once")
	pflag.Parse()

	var cfg config.Sweep
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := utils.OpenDatabase(cfg.Database, logger)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}

	events := services.NewEventPublisher(cfg.Events.Brokers, cfg.Events.Topic, logger)
	defer events.Close()

	var reports services.ReportSink
	if cfg.ReportBucket != "" {
		store, err := utils.NewReportStore(ctx, utils.ReportStoreConfig{
			Bucket:          cfg.ReportBucket,
			Endpoint:        cfg.ReportEndpoint,
			Region:          cfg.ReportRegion,
			AccessKeyID:     cfg.ReportAccessKey,
			SecretAccessKey: cfg.ReportSecretKey,
		})
		if err != nil {
			logger.Error("failed to set up report store", "error", err)
			os.Exit(1)
		}
		reports = store
	}

	sweeper := services.NewSweeper(db, events, reports, logger)

	if *every > 0 {
		if err := workers.NewSweepWorker(sweeper, *every, logger).Start(ctx); err != nil {
			logger.Error("sweep worker failed", "error", err)
			os.Exit(1)
		}
		return
	}

	report, err := sweeper.Run(ctx)
	if err != nil {
		logger.Error("sweep failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("invalidated %d matches and %d instances\n", report.MatchesInvalidated, report.InstancesInvalidated)
}
