package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/Badger/internal/scoring"
	"github.com/MikeSquared-Agency/Badger/internal/store"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Hermes    HermesConfig    `yaml:"hermes"`
	Schema    SchemaConfig    `yaml:"schema"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Recompute RecomputeConfig `yaml:"recompute"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
}

type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// RedisConfig enables the leaderboard cache when URL is set.
type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// HermesConfig enables the event bus when URL is set.
type HermesConfig struct {
	URL string `yaml:"url"`
}

type SchemaConfig struct {
	// Mode forces a layout ("legacy" or "normalized"); "auto" or empty detects it.
	Mode string `yaml:"mode"`
	// Bootstrap creates the account tables in an empty database.
	Bootstrap bool `yaml:"bootstrap"`
}

type ScoringConfig struct {
	DefaultWeights scoring.WeightSet `yaml:"default_weights"`
}

type RecomputeConfig struct {
	TimeoutMs int `yaml:"timeout_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NewLogger builds the process logger: JSON unless Format is "text", at Level.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Database.TimeoutMs) * time.Millisecond
}

func (c *Config) RecomputeTimeout() time.Duration {
	return time.Duration(c.Recompute.TimeoutMs) * time.Millisecond
}

// SchemaMode parses Schema.Mode; ModeUnknown means detect.
func (c *Config) SchemaMode() (store.SchemaMode, error) {
	m, err := store.ParseSchemaMode(c.Schema.Mode)
	if err != nil {
		return store.ModeUnknown, fmt.Errorf("schema.mode: %w", err)
	}
	return m, nil
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8700,
			MetricsPort: 8701,
		},
		Database: DatabaseConfig{
			TimeoutMs: 3000,
		},
		Redis: RedisConfig{
			KeyPrefix: "badger:leaderboard:",
		},
		Schema: SchemaConfig{
			Mode: "auto",
		},
		Scoring: ScoringConfig{
			DefaultWeights: scoring.DefaultWeights(),
		},
		Recompute: RecomputeConfig{
			TimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Scoring.DefaultWeights.Validate(); err != nil {
		return nil, fmt.Errorf("scoring.default_weights: %w", err)
	}
	if _, err := cfg.SchemaMode(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BADGER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("BADGER_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("BADGER_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("BADGER_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("BADGER_DATABASE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.TimeoutMs = n
		}
	}
	if v := os.Getenv("BADGER_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("BADGER_HERMES_URL"); v != "" {
		cfg.Hermes.URL = v
	}
	if v := os.Getenv("BADGER_SCHEMA_MODE"); v != "" {
		cfg.Schema.Mode = v
	}
	if v := os.Getenv("BADGER_SCHEMA_BOOTSTRAP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Schema.Bootstrap = b
		}
	}
	if v := os.Getenv("BADGER_RECOMPUTE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Recompute.TimeoutMs = n
		}
	}
	if v := os.Getenv("BADGER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BADGER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
