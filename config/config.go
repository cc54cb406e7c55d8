// Package config loads runtime configuration from the environment and builds
// the process logger.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Prefix is prepended to every environment variable, e.g. CYL_DB_PATH.
const Prefix = "CYL"

// Config holds runtime configuration for the server.
type Config struct {
	Addr   string `envconfig:"ADDR" default:":8080"`
	DBPath string `envconfig:"DB_PATH" default:"cylinders.db"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Empty means in-process locks.
	RedisAddr string        `envconfig:"REDIS_ADDR"`
	LockTTL   time.Duration `envconfig:"LOCK_TTL" default:"10s"`

	Timezone      string `envconfig:"TIMEZONE" default:"Asia/Kolkata"`
	TxPrefix      string `envconfig:"TX_PREFIX" default:"TBG"`
	CredentialTag string `envconfig:"CREDENTIAL_TAG" default:"TBGS"`

	// Zero disables the scheduler.
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1h"`
	ReconcileRepair   bool          `envconfig:"RECONCILE_REPAIR" default:"false"`

	// Requests per minute per client on write endpoints.
	RateLimit int `envconfig:"RATE_LIMIT" default:"120"`

	Shop Shop `envconfig:"SHOP"`
}

// Shop is the letterhead printed on receipts.
type Shop struct {
	Name            string `envconfig:"NAME" default:"Gas Agency"`
	Address         string `envconfig:"ADDRESS"`
	Phone           string `envconfig:"PHONE"`
	GST             string `envconfig:"GST"`
	DistributorCode string `envconfig:"DISTRIBUTOR_CODE"`
}

// Load reads configuration from CYL_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if strings.TrimSpace(c.TxPrefix) == "" {
		return errors.New("transaction id prefix must not be empty")
	}
	if strings.TrimSpace(c.CredentialTag) == "" {
		return errors.New("credential tag must not be empty")
	}
	if c.RateLimit < 0 {
		return errors.New("rate limit must not be negative")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Location returns the configured business timezone. Validate has already
// checked it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NewLogger builds a logger writing to stdout.
func NewLogger(cfg *Config) *logrus.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
