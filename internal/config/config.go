package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config keeps runtime settings for the chore server.
type Config struct {
	HTTPAddr       string        `envconfig:"HTTP_ADDR" default:":3000"`
	DatabaseURL    string        `envconfig:"DATABASE_URL" default:"chores.db"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string        `envconfig:"LOG_FORMAT" default:"json"`
	TelegramToken  string        `envconfig:"TELEGRAM_TOKEN"`
	ReportInterval time.Duration `envconfig:"REPORT_INTERVAL" default:"5h"`
	WSWriteTimeout time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"5s"`
}

// Load reads CHORES_* environment variables with sane defaults.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("CHORES", &cfg); err != nil {
		return cfg, fmt.Errorf("process env: %w", err)
	}

	cfg.TelegramToken = strings.TrimSpace(cfg.TelegramToken)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "chores.db"
	}

	if cfg.ReportInterval < 0 {
		return cfg, fmt.Errorf("CHORES_REPORT_INTERVAL must not be negative")
	}
	if cfg.WSWriteTimeout <= 0 {
		return cfg, fmt.Errorf("CHORES_WS_WRITE_TIMEOUT must be positive")
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return cfg, fmt.Errorf("unsupported CHORES_LOG_FORMAT %q", cfg.LogFormat)
	}

	return cfg, nil
}

// TelegramEnabled reports whether the Telegram relay should be started.
func (c Config) TelegramEnabled() bool {
	return c.TelegramToken != ""
}

// ClientConfig keeps settings for the chorectl client.
type ClientConfig struct {
	ServerURL      string        `envconfig:"SERVER_URL" default:"http://localhost:3000"`
	Token          string        `envconfig:"TOKEN"`
	UserID         int64         `envconfig:"USER_ID"`
	StateDir       string        `envconfig:"STATE_DIR"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	RetryInterval  time.Duration `envconfig:"RETRY_INTERVAL" default:"30s"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"warn"`
}

// LoadClient reads CHORECTL_* environment variables.
func LoadClient() (ClientConfig, error) {
	var cfg ClientConfig
	if err := envconfig.Process("CHORECTL", &cfg); err != nil {
		return cfg, fmt.Errorf("process env: %w", err)
	}

	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.StateDir = filepath.Join(home, ".chorectl")
	}
	if cfg.RequestTimeout <= 0 {
		return cfg, fmt.Errorf("CHORECTL_REQUEST_TIMEOUT must be positive")
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}

	return cfg, nil
}
