// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"math"
	"time"

	"github.com/caarlos0/env/v11"

	"dragons-keep/server/logging"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "DRAGONS_KEEP_"

// Config holds the process settings.
type Config struct {
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:":8080"`
	HealthAddr string `env:"HEALTH_ADDR"`
	ClientDir  string `env:"CLIENT_DIR"`

	DefaultSpeed      float64       `env:"DEFAULT_SPEED" envDefault:"30"`
	SightRadius       float64       `env:"SIGHT_RADIUS" envDefault:"40"`
	CodePrefix        string        `env:"CODE_PREFIX" envDefault:"DRGN"`
	RoomIdleTTL       time.Duration `env:"ROOM_IDLE_TTL" envDefault:"10m"`
	JanitorInterval   time.Duration `env:"JANITOR_INTERVAL" envDefault:"1m"`
	SendBuffer        int           `env:"SEND_BUFFER" envDefault:"64"`
	WriteWait         time.Duration `env:"WRITE_WAIT" envDefault:"10s"`
	PongWait          time.Duration `env:"PONG_WAIT" envDefault:"60s"`
	EnforceGameMaster bool          `env:"ENFORCE_GAME_MASTER" envDefault:"false"`

	LogMinSeverity string `env:"LOG_MIN_SEVERITY" envDefault:"info"`
	LogJSONPath    string `env:"LOG_JSON_PATH"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// Load parses the environment and normalises the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if _, err := logging.ParseSeverity(cfg.LogMinSeverity); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.Normalized(), nil
}

// Normalized clamps out-of-range values to their defaults.
func (c Config) Normalized() Config {
	if math.IsNaN(c.DefaultSpeed) || math.IsInf(c.DefaultSpeed, 0) || c.DefaultSpeed < 0 {
		c.DefaultSpeed = 30
	}
	if math.IsNaN(c.SightRadius) || c.SightRadius <= 0 {
		c.SightRadius = 40
	}
	if c.CodePrefix == "" {
		c.CodePrefix = "DRGN"
	}
	if c.RoomIdleTTL < 0 {
		c.RoomIdleTTL = 0
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = time.Minute
	}
	if c.SendBuffer < 1 {
		c.SendBuffer = 64
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	return c
}

// Severity returns the configured event severity floor.
func (c Config) Severity() logging.Severity {
	severity, err := logging.ParseSeverity(c.LogMinSeverity)
	if err != nil {
		return logging.SeverityInfo
	}
	return severity
}
