package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crm-sla/internal/keycrm"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// AppConfig holds the complete application configuration.
type AppConfig struct {
	DataPath string `env:"DATA_PATH"`

	CRMBaseURL     string `env:"KEYCRM_BASE_URL"`
	CRMToken       string `env:"KEYCRM_API_TOKEN"`
	RequestDelayMS int    `env:"KEYCRM_REQUEST_DELAY_MS" envDefault:"200"`
	TimeoutSeconds int    `env:"KEYCRM_TIMEOUT_SECONDS" envDefault:"30"`

	RedisURL     string `env:"REDIS_URL"`
	RedisChannel string `env:"REDIS_CHANNEL" envDefault:"orders-stream"`

	MetricsAddr string `env:"METRICS_ADDR"`

	DefaultListLimit    int  `env:"DEFAULT_LIST_LIMIT" envDefault:"50"`
	EnableMermaidCharts bool `env:"ENABLE_MERMAID_CHARTS" envDefault:"false"`

	// Derived from DataPath.
	CacheDir    string
	SnapshotDir string
	SettingsDir string
	ReportDir   string
	LogDir      string
}

// CRMCredentials are the environment fallback credentials.
func (c *AppConfig) CRMCredentials() keycrm.Credentials {
	return keycrm.Credentials{BaseURL: c.CRMBaseURL, Token: c.CRMToken}
}

// CRMClientConfig tunes the CRM client.
func (c *AppConfig) CRMClientConfig() keycrm.Config {
	return keycrm.Config{
		RequestDelay: time.Duration(c.RequestDelayMS) * time.Millisecond,
		Timeout:      time.Duration(c.TimeoutSeconds) * time.Second,
		CacheTTL:     time.Minute,
	}
}

// Load loads the configuration from .env files and environment variables.
func Load() (*AppConfig, error) {
	// The binary directory wins over the working directory; godotenv never overrides.
	exeDir := ""
	if exePath, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exePath)
		envPath := filepath.Join(exeDir, ".env")
		if err := godotenv.Load(envPath); err == nil {
			log.Debug().Str("path", envPath).Msg("Loaded configuration from binary directory")
		}
	}
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found in working directory, relying on environment variables or binary-relative .env")
	}

	return parse(exeDir)
}

func parse(exeDir string) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.DataPath == "" {
		if exeDir != "" {
			cfg.DataPath = exeDir
		} else {
			cfg.DataPath = "."
		}
	}
	if cfg.DefaultListLimit <= 0 {
		cfg.DefaultListLimit = 50
	}
	if cfg.RequestDelayMS < 0 {
		cfg.RequestDelayMS = 0
	}

	cfg.CacheDir = filepath.Join(cfg.DataPath, "cache")
	cfg.SnapshotDir = filepath.Join(cfg.DataPath, "orders")
	cfg.SettingsDir = filepath.Join(cfg.DataPath, "settings")
	cfg.ReportDir = filepath.Join(cfg.DataPath, "reports")
	cfg.LogDir = filepath.Join(cfg.DataPath, "logs")

	for _, dir := range []string{cfg.CacheDir, cfg.SnapshotDir, cfg.SettingsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Warn().Err(err).Str("path", dir).Msg("Failed to create data directory")
		}
	}
	return cfg, nil
}
