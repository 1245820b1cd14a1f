package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"frizo/position_engine/pkg/utils"
	"github.com/kelseyhightower/envconfig"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the application configuration.
type Config struct {
	// Server configuration
	Host            string        `envconfig:"HOST" default:"localhost"`
	Port            int           `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Logging configuration
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"` // text or json

	// Application configuration
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	MaxLeverage uint16 `envconfig:"MAX_LEVERAGE"` // 0: ceiling of the tier table
	TierFile    string `envconfig:"TIER_FILE"`

	// Storage configuration
	StoreDriver string        `envconfig:"STORE_DRIVER" default:"memory"`
	DatabaseURL string        `envconfig:"DATABASE_URL"`
	SQLitePath  string        `envconfig:"SQLITE_PATH" default:"data/positions.db"`
	RedisURL    string        `envconfig:"REDIS_URL"`
	CacheTTL    time.Duration `envconfig:"CACHE_TTL" default:"30s"`
}

// Load loads the configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if !utils.Contains([]string{"text", "json"}, c.LogFormat) {
		return fmt.Errorf("invalid LOG_FORMAT %q, want text or json", c.LogFormat)
	}
	if !utils.Contains([]string{DriverMemory, DriverSQLite, DriverPostgres}, c.StoreDriver) {
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}
	if c.StoreDriver == DriverPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres driver")
	}
	if c.StoreDriver == DriverSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
	}
	if c.RedisURL != "" && c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive when REDIS_URL is set")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
