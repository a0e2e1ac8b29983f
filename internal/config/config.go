package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, loaded from environment variables.
// An empty DBSource selects the in-memory store.
type Config struct {
	Port     string `env:"SERVER_PORT" envDefault:"8080"`
	DBSource string `env:"DB_SOURCE"`
	Env      string `env:"ENVIRONMENT" envDefault:"development"`

	// PublicURL is the externally reachable base used to build the
	// websocket gateway URL handed out at session start.
	PublicURL string `env:"PUBLIC_URL" envDefault:"ws://localhost:8080"`

	TokenTTL          time.Duration `env:"TOKEN_TTL" envDefault:"30s"`
	KeepaliveInterval time.Duration `env:"KEEPALIVE_INTERVAL" envDefault:"10s"`

	NameCost     int64  `env:"NAME_COST" envDefault:"500"`
	NameCostSink string `env:"NAME_COST_SINK" envDefault:"name"`

	MOTD string `env:"MOTD" envDefault:"Welcome to tessera"`
	Work int64  `env:"WORK" envDefault:"100000"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
