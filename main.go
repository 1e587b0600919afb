package main

import (
	"context"
	"game-session-system/config"
	"game-session-system/handlers"
	"game-session-system/models"
	"game-session-system/services"
	"game-session-system/utils"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	var cfg config.Matchmaker
	if err := config.Load(&cfg); err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Provisioning.Validate(); err != nil {
		logger.Error("invalid provisioning configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := utils.OpenDatabase(cfg.Database, logger)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}

	configs := services.NewConfigStore(db)
	seed, err := config.ParseMatchConfigs(cfg.MatchConfigs)
	if err != nil {
		logger.Error("invalid MATCH_CONFIGS", "error", err)
		os.Exit(1)
	}
	if err := configs.Seed(ctx, seed); err != nil {
		logger.Error("failed to seed match configs", "error", err)
		os.Exit(1)
	}
	logger.Info("match configs seeded", "count", len(seed))

	provisioner, err := newProvisioner(ctx, cfg.Provisioning, logger)
	if err != nil {
		logger.Error("failed to set up provisioner", "error", err)
		os.Exit(1)
	}

	events := services.NewEventPublisher(cfg.Events.Brokers, cfg.Events.Topic, logger)
	defer events.Close()

	matches := services.NewMatchStore(db)
	players := services.NewPlayerService(db, logger)
	allocator := services.NewInstanceAllocator(
		services.NewInstanceStore(db),
		provisioner,
		cfg.Provisioning.InstanceCapacity(),
		cfg.Provisioning.Timeout,
		logger,
	)
	matchmaker := &services.Matchmaker{
		DB:                       db,
		Matches:                  matches,
		Allocator:                allocator,
		Configs:                  configs,
		Players:                  players,
		Events:                   events,
		RequireRegisteredPlayers: cfg.RequireRegisteredPlayers,
		Logger:                   logger,
	}

	app := fiber.New(fiber.Config{
		AppName:      "matchmaker",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Provisioning.Timeout + 15*time.Second,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	app.Get("/health", handlers.HealthCheck)
	handlers.SetupMatchmakingRoutes(app, &handlers.MatchmakingHandler{
		Matchmaker: matchmaker,
		Matches:    matches,
		Configs:    configs,
		Logger:     logger,
	}, cfg.AdminToken)
	handlers.SetupPlayerRoutes(app, &handlers.PlayersHandler{Players: players})

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			logger.Error("server error", "error", err)
			stop()
		}
	}()
	logger.Info("matchmaker listening", "addr", cfg.ListenAddr, "provisioner", cfg.Provisioning.Kind)

	<-ctx.Done()
	logger.Info("shutting down matchmaker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
}

func newProvisioner(ctx context.Context, cfg config.Provisioning, logger *slog.Logger) (services.Provisioner, error) {
	if cfg.Kind == "static" {
		return services.StaticProvisioner{
			Endpoint: models.Endpoint{Host: cfg.StaticHost, Port: cfg.StaticPort},
		}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, err
	}
	return &services.ECSProvisioner{
		Client:         ecs.NewFromConfig(awsCfg),
		Cluster:        cfg.Project,
		TaskDefinition: cfg.Image,
		Subnets:        cfg.Subnets,
		SecurityGroups: cfg.SecurityGroups,
		Port:           cfg.InstancePort,
		WaitTimeout:    cfg.Timeout,
		Logger:         logger,
	}, nil
}
