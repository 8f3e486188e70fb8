// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the server settings. Flags in cmd/server override the
// listener, database and catalog fields after Load.
type Config struct {
	Port           int           `env:"REP_PORT" envDefault:"8080"`
	DBPath         string        `env:"REP_DB_PATH" envDefault:"./data/reputation.db"`
	CatalogPath    string        `env:"REP_CATALOG_PATH"`
	StoreTimeout   time.Duration `env:"REP_STORE_TIMEOUT" envDefault:"5s"`
	EventMaxSkew   time.Duration `env:"REP_EVENT_MAX_SKEW" envDefault:"5m"`
	LogLevel       string        `env:"REP_LOG_LEVEL" envDefault:"info"`
	Env            string        `env:"REP_ENV" envDefault:"development"`
	ClickRate      float64       `env:"REP_CLICK_RATE" envDefault:"5"`
	ClickBurst     int           `env:"REP_CLICK_BURST" envDefault:"10"`
	AllowedOrigins []string      `env:"REP_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Port)
	case strings.TrimSpace(c.DBPath) == "":
		return fmt.Errorf("database path is required")
	case c.StoreTimeout <= 0:
		return fmt.Errorf("store timeout must be positive, got %s", c.StoreTimeout)
	case c.EventMaxSkew <= 0:
		return fmt.Errorf("event max skew must be positive, got %s", c.EventMaxSkew)
	case c.ClickRate <= 0:
		return fmt.Errorf("click rate must be positive, got %v", c.ClickRate)
	case c.ClickBurst <= 0:
		return fmt.Errorf("click burst must be positive, got %d", c.ClickBurst)
	}
	return nil
}

// Addr is the listen address for Port.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
