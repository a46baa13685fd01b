// Package config holds the session configuration for a GATT client
// connection: logging, MTU preference, discovery limits and the optional
// service UUID allow-list.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds per-session configuration. Zero values are filled from the
// default tags; see DefaultConfig.
type Config struct {
	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level" default:"info"`

	// PreferredMTU is the receive MTU offered during MTU negotiation.
	PreferredMTU int `yaml:"preferred_mtu" default:"247"`

	// DiscoveryTimeout bounds one discovery round in the transport adapter.
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout" default:"30s"`

	// NotificationBuffer is the per-service update stream capacity.
	NotificationBuffer int `yaml:"notification_buffer" default:"128"`

	// ServiceFilter restricts discovery to the listed service UUIDs.
	// Empty means discover everything.
	ServiceFilter []string `yaml:"service_filter"`
}

// DefaultConfig returns a Config populated with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file and overlays it onto the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return cfg, nil
}

// NewLogger creates a logger configured per the config's log level.
// An unknown level name falls back to info.
func (c *Config) NewLogger() *logrus.Logger {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger := logrus.New()
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
