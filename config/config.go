// Package config loads process configuration from the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"game-session-system/models"
)

// Database holds the storage connection settings shared by every binary.
type Database struct {
	URL          string `env:"DATABASE_URL,required"`
	MaxOpenConns int    `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	AutoMigrate  bool   `env:"DATABASE_AUTO_MIGRATE" envDefault:"true"`
}

// Provisioning describes how new session-hosting instances are started.
// Kind "ecs" requires the cluster (project), region, task definition (image)
// and capacity; kind "static" hands out StaticHost:StaticPort.
type Provisioning struct {
	Kind           string        `env:"PROVISIONER" envDefault:"ecs"`
	Project        string        `env:"PROVISION_PROJECT"`
	Region         string        `env:"PROVISION_REGION"`
	Image          string        `env:"PROVISION_IMAGE"`
	Subnets        []string      `env:"PROVISION_SUBNETS" envSeparator:","`
	SecurityGroups []string      `env:"PROVISION_SECURITY_GROUPS" envSeparator:","`
	InstancePort   int           `env:"GAMEHUB_PORT" envDefault:"12346"`
	Capacity       int           `env:"INSTANCE_CAPACITY"`
	Timeout        time.Duration `env:"PROVISION_TIMEOUT" envDefault:"5m"`
	StaticHost     string        `env:"STATIC_GAMEHUB_HOST" envDefault:"localhost"`
	StaticPort     int           `env:"STATIC_GAMEHUB_PORT" envDefault:"12346"`
	StaticCapacity int           `env:"STATIC_INSTANCE_CAPACITY" envDefault:"100"`
}

// Validate enforces the fields that are mandatory for the selected provisioner.
func (p Provisioning) Validate() error {
	switch p.Kind {
	case "static":
		if p.StaticCapacity <= 0 {
			return errors.New("STATIC_INSTANCE_CAPACITY must be positive")
		}
		return nil
	case "ecs":
		var missing []string
		if p.Project == "" {
			missing = append(missing, "PROVISION_PROJECT")
		}
		if p.Region == "" {
			missing = append(missing, "PROVISION_REGION")
		}
		if p.Image == "" {
			missing = append(missing, "PROVISION_IMAGE")
		}
		if p.Capacity <= 0 {
			missing = append(missing, "INSTANCE_CAPACITY")
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required provisioning configuration: %s", strings.Join(missing, ", "))
		}
		return nil
	default:
		return fmt.Errorf("unknown PROVISIONER %q", p.Kind)
	}
}

// InstanceCapacity returns the per-instance slot capacity for the selected provisioner.
func (p Provisioning) InstanceCapacity() int {
	if p.Kind == "static" {
		return p.StaticCapacity
	}
	return p.Capacity
}

// Events configures the Kafka match event stream. No brokers disables publishing.
type Events struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_MATCH_TOPIC" envDefault:"match-events"`
}

// Matchmaker is the configuration of the matchmaking API binary.
type Matchmaker struct {
	Database     Database
	Provisioning Provisioning
	Events       Events

	ListenAddr               string `env:"LISTEN_ADDR" envDefault:":5200"`
	AdminToken               string `env:"ADMIN_TOKEN,required"`
	RequireRegisteredPlayers bool   `env:"REQUIRE_REGISTERED_PLAYERS" envDefault:"true"`
	MatchConfigs             string `env:"MATCH_CONFIGS"`
	LogLevel                 string `env:"LOG_LEVEL" envDefault:"info"`
}

// GameHub is the configuration of the session server binary.
type GameHub struct {
	Database Database
	Events   Events

	ListenAddr          string        `env:"LISTEN_ADDR" envDefault:":12346"`
	GracePeriod         time.Duration `env:"GRACE_PERIOD" envDefault:"12s"`
	LeaseTTL            time.Duration `env:"EXPIRY_LEASE_TTL" envDefault:"30s"`
	MaxSpeed            float64       `env:"MOVEMENT_MAX_SPEED" envDefault:"0"`
	MaxTeleportDistance float64       `env:"MOVEMENT_MAX_TELEPORT" envDefault:"0"`
	SendQueueSize       int           `env:"SEND_QUEUE_SIZE" envDefault:"256"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Sweep is the configuration of the invalidation job.
type Sweep struct {
	Database Database
	Events   Events

	ReportBucket    string `env:"SWEEP_REPORT_BUCKET"`
	ReportEndpoint  string `env:"SWEEP_REPORT_ENDPOINT"`
	ReportRegion    string `env:"SWEEP_REPORT_REGION" envDefault:"auto"`
	ReportAccessKey string `env:"SWEEP_REPORT_ACCESS_KEY_ID"`
	ReportSecretKey string `env:"SWEEP_REPORT_SECRET_ACCESS_KEY"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file and parses the environment into target.
func Load(target any) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ParseMatchConfigs decodes the MATCH_CONFIGS JSON array. An empty string yields no configs.
func ParseMatchConfigs(raw string) ([]models.MatchConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var configs []models.MatchConfig
	if err := json.Unmarshal([]byte(raw), &configs); err != nil {
		return nil, fmt.Errorf("decode MATCH_CONFIGS: %w", err)
	}
	for i := range configs {
		if err := configs[i].Validate(); err != nil {
			return nil, fmt.Errorf("MATCH_CONFIGS[%d]: %w", i, err)
		}
	}
	return configs, nil
}

// NewLogger builds the process logger.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
