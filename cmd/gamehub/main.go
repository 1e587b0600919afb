// Command gamehub serves the real-time sessions players connect to once the
// matchmaker has placed them.
package main

import (
	"context"
	"errors"
	"game-session-system/config"
	"game-session-system/gamehub"
	"game-session-system/services"
	"game-session-system/utils"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	var cfg config.GameHub
	if err := config.Load(&cfg); err != nil {
		config.NewLogger(os.Stderr, "info").Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := utils.OpenDatabase(cfg.Database, logger)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}

	events := services.NewEventPublisher(cfg.Events.Brokers, cfg.Events.Topic, logger)
	defer events.Close()

	hub, err := gamehub.NewHub(gamehub.HubConfig{
		Matches:     services.NewMatchStore(db),
		Events:      events,
		Logger:      logger,
		GracePeriod: cfg.GracePeriod,
		LeaseTTL:    cfg.LeaseTTL,
		Policy: gamehub.MovementPolicy{
			MaxSpeed:            cfg.MaxSpeed,
			MaxTeleportDistance: cfg.MaxTeleportDistance,
		},
	})
	if err != nil {
		logger.Error("failed to start hub", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gamehub.NewHandler(hub, gamehub.HandlerConfig{
		SendQueueSize: cfg.SendQueueSize,
		Logger:        logger,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()
	logger.Info("gamehub listening", "addr", cfg.ListenAddr, "owner", hub.Owner())

	<-ctx.Done()
	logger.Info("shutting down gamehub")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	if err := hub.Close(); err != nil {
		logger.Warn("hub close failed", "error", err)
	}
}
