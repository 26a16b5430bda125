// Package config loads service configuration from YAML with environment
// overrides and validates it before anything is wired.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/veridex/screening/internal/redis"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ScreeningConfig holds the engine and scheduler parameters.
type ScreeningConfig struct {
	// MatchThreshold is strict: a declared match needs a score above it.
	MatchThreshold  float64 `mapstructure:"match_threshold" validate:"gte=0,lte=100"`
	ReviewThreshold float64 `mapstructure:"review_threshold" validate:"gte=0,lte=100"`

	CacheTTL        time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
	MaxStaleness    time.Duration `mapstructure:"max_staleness" validate:"gt=0"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" validate:"gt=0"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout" validate:"gt=0"`

	// FailureMode selects fail-open or fail-closed behavior when no
	// watchlist data is available.
	FailureMode string `mapstructure:"failure_mode" validate:"oneof=open closed"`
}

// SourceConfig configures one watchlist feed. A source without an endpoint
// (or with a missing required API key) is registered in the store but never
// auto-refreshed; it serves whatever was last loaded, or nothing.
type SourceConfig struct {
	ID       string `mapstructure:"id" validate:"required"`
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
}

// DatabaseConfig holds the audit journal DSN. An empty DSN disables
// journaling.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     redis.Config    `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Screening ScreeningConfig `mapstructure:"screening"`
	Sources   []SourceConfig  `mapstructure:"sources" validate:"min=1,dive"`
}

// Load reads configuration from an optional YAML file, applies SCREENING_*
// environment overrides, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("SCREENING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.min_idle_conns", 10)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 500*time.Millisecond)
	v.SetDefault("redis.write_timeout", 500*time.Millisecond)
	v.SetDefault("redis.op_timeout", 2*time.Second)

	v.SetDefault("screening.match_threshold", 85.0)
	v.SetDefault("screening.review_threshold", 95.0)
	v.SetDefault("screening.cache_ttl", 24*time.Hour)
	v.SetDefault("screening.max_staleness", 24*time.Hour)
	v.SetDefault("screening.refresh_interval", 24*time.Hour)
	v.SetDefault("screening.fetch_timeout", 30*time.Second)
	v.SetDefault("screening.failure_mode", "open")

	v.SetDefault("sources", []map[string]any{
		{"id": "OFAC", "endpoint": "https://www.treasury.gov/ofac/downloads/sdnlist.txt"},
		{"id": "UN", "endpoint": "https://scsanctions.un.org/resources/xml/en/consolidated.xml"},
		{"id": "EU", "endpoint": "https://webgate.ec.europa.eu/fsd/fsf/public/files/jsonFullSanctionsList/content"},
	})
}
