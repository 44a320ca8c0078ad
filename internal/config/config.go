// Package config provides application configuration.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
)

// Config holds all application configuration.
type Config struct {
	Port        string `env:"PORT,default=8080" validate:"required,numeric"`
	GRPCPort    string `env:"GRPC_PORT,default=9090" validate:"omitempty,numeric|eq=off"`
	FrontendURL string `env:"FRONTEND_URL"`

	StoreDriver string `env:"STORE_DRIVER,default=sqlite" validate:"oneof=sqlite badger"`
	DBPath      string `env:"DB_PATH,default=./data/auryn.db" validate:"required_if=StoreDriver sqlite"`
	BadgerDir   string `env:"BADGER_DIR,default=./data/badger" validate:"required_if=StoreDriver badger"`

	LogFormat string `env:"LOG_FORMAT,default=json" validate:"oneof=json console"`
	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFile   string `env:"LOG_FILE"`

	DefaultConversationTitle string `env:"DEFAULT_CONVERSATION_TITLE,default=New Chat" validate:"required,max=200"`

	TranscriptEnabled   bool   `env:"TRANSCRIPT_ENABLED,default=false"`
	TranscriptDir       string `env:"TRANSCRIPT_DIR,default=./data/transcripts" validate:"required_if=TranscriptEnabled true"`
	TranscriptQueueSize int    `env:"TRANSCRIPT_QUEUE_SIZE,default=1000" validate:"gt=0"`

	HealthCheckTimeout time.Duration `env:"HEALTH_CHECK_TIMEOUT,default=5s" validate:"gt=0"`
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	return LoadEnviron(os.Environ())
}

// LoadEnviron reads configuration from KEY=VALUE pairs.
func LoadEnviron(environ []string) (*Config, error) {
	es, err := env.EnvironToEnvSet(environ)
	if err != nil {
		return nil, oops.In("config").Wrapf(err, "parse environment")
	}

	cfg := &Config{}
	if err := env.Unmarshal(es, cfg); err != nil {
		return nil, oops.In("config").Wrapf(err, "decode environment")
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return oops.In("config").Wrapf(err, "invalid configuration")
	}
	return nil
}

// StorePath returns the path handed to store.Open for the selected driver.
func (c *Config) StorePath() string {
	if c.StoreDriver == "badger" {
		return c.BadgerDir
	}
	return c.DBPath
}

// GRPCEnabled reports whether the gRPC listener should start.
func (c *Config) GRPCEnabled() bool {
	return c.GRPCPort != "" && c.GRPCPort != "off"
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}
