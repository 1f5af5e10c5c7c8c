package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/elonfeng/demandcast/pkg/model"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingField is returned by Validate when a required setting is absent.
var ErrMissingField = errors.New("missing required config field")

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Paths    PathsConfig    `yaml:"paths"`
	Forecast ForecastConfig `yaml:"forecast"`
	Model    ModelConfig    `yaml:"model"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	ModelDir string `yaml:"model_dir"`
}

// ForecastConfig configures forecast generation.
type ForecastConfig struct {
	Horizon int `yaml:"horizon"` // days, starting today
}

// ModelConfig selects the model family and its tuning knobs.
type ModelConfig struct {
	Type     string       `yaml:"type"`
	Fallback string       `yaml:"fallback"`
	Params   model.Params `yaml:"params"`
}

// ScheduleConfig configures the daemon loop.
type ScheduleConfig struct {
	Interval string `yaml:"interval"`
	Mode     string `yaml:"mode"` // "predict" or "retrain"
}

// ParseInterval returns the interval as time.Duration.
func (s ScheduleConfig) ParseInterval() time.Duration {
	d, err := time.ParseDuration(s.Interval)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// NotifyConfig configures run-completion notifications.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook notifications.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook notifications.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./data/sales.db"},
		Paths:    PathsConfig{ModelDir: "./models"},
		Forecast: ForecastConfig{Horizon: 7},
		Model: ModelConfig{
			Type:     model.TypeGBM,
			Fallback: model.TypeLinear,
		},
		Schedule: ScheduleConfig{Interval: "24h", Mode: "predict"},
		Server:   ServerConfig{Port: 8080},
		Log:      LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile exports the variables of a dotenv file that are not already
// set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	switch {
	case c.Database.Path == "":
		return fmt.Errorf("%w: database.path", ErrMissingField)
	case c.Paths.ModelDir == "":
		return fmt.Errorf("%w: paths.model_dir", ErrMissingField)
	case c.Forecast.Horizon <= 0:
		return fmt.Errorf("%w: forecast.horizon must be positive", ErrMissingField)
	case c.Model.Type == "":
		return fmt.Errorf("%w: model.type", ErrMissingField)
	}
	if c.Schedule.Mode != "" && c.Schedule.Mode != "predict" && c.Schedule.Mode != "retrain" {
		return fmt.Errorf("invalid schedule.mode %q", c.Schedule.Mode)
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DEMANDCAST_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DEMANDCAST_MODEL_DIR"); v != "" {
		cfg.Paths.ModelDir = v
	}
	if v := os.Getenv("DEMANDCAST_HORIZON"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse DEMANDCAST_HORIZON: %w", err)
		}
		cfg.Forecast.Horizon = n
	}
	if v := os.Getenv("DEMANDCAST_MODEL_TYPE"); v != "" {
		cfg.Model.Type = v
	}
	if v := os.Getenv("DEMANDCAST_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notify.Slack.WebhookURL = v
		cfg.Notify.Slack.Enabled = true
	}
	if v := os.Getenv("DEMANDCAST_WEBHOOK_URL"); v != "" {
		cfg.Notify.Webhook.URL = v
		cfg.Notify.Webhook.Enabled = true
	}
	if v := os.Getenv("DEMANDCAST_WEBHOOK_SECRET"); v != "" {
		cfg.Notify.Webhook.Secret = v
	}
	return nil
}
