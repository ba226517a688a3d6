// Package config defines all configuration for the market-state engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via GOX_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Gox       GoxConfig       `mapstructure:"gox"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// GoxConfig is the configuration contract the core consumes: connection
// parameters plus an already-decrypted credential pair. SecretKey/SecretSecret
// empty means read-only — the engine never decrypts credentials itself.
type GoxConfig struct {
	Host                 string `mapstructure:"host"`
	Currency             string `mapstructure:"currency"`
	UseSSL               bool   `mapstructure:"use_ssl"`
	UsePlainOldWebsocket bool   `mapstructure:"use_plain_old_websocket"`
	LoadFullDepth        bool   `mapstructure:"load_fulldepth"`
	LoadHistory          bool   `mapstructure:"load_history"`
	SecretKey            string `mapstructure:"secret_key"`
	SecretSecret         string `mapstructure:"secret_secret"`

	HistoryTimeframe time.Duration `mapstructure:"history_timeframe"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the optional read-only status dashboard.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: GOX_SECRET_KEY, GOX_SECRET_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("gox.host", "mtgox.com")
	v.SetDefault("gox.currency", "USD")
	v.SetDefault("gox.use_ssl", true)
	v.SetDefault("gox.history_timeframe", 60*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("GOX_SECRET_KEY"); key != "" {
		cfg.Gox.SecretKey = key
	}
	if secret := os.Getenv("GOX_SECRET_SECRET"); secret != "" {
		cfg.Gox.SecretSecret = secret
	}

	return &cfg, nil
}

// Validate checks the required keys named in the configuration contract.
func (c *Config) Validate() error {
	if len(c.Gox.Currency) < 3 || len(c.Gox.Currency) > 4 {
		return fmt.Errorf("gox.currency must be 3-4 letters, got %q", c.Gox.Currency)
	}
	if (c.Gox.SecretKey == "") != (c.Gox.SecretSecret == "") {
		return fmt.Errorf("gox.secret_key and gox.secret_secret must both be set or both be empty")
	}
	if c.Gox.HistoryTimeframe <= 0 {
		return fmt.Errorf("gox.history_timeframe must be > 0")
	}
	if c.Dashboard.Enabled && c.Dashboard.Port == 0 {
		return fmt.Errorf("dashboard.port is required when dashboard.enabled is true")
	}
	return nil
}
