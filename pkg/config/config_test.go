package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 247, cfg.PreferredMTU)
	assert.Equal(t, 30*time.Second, cfg.DiscoveryTimeout)
	assert.Equal(t, 128, cfg.NotificationBuffer)
	assert.Empty(t, cfg.ServiceFilter)
}

func TestLoad(t *testing.T) {
	t.Run("overlays file values onto defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
preferred_mtu: 517
service_filter:
  - "180d"
  - "180f"
`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 517, cfg.PreferredMTU)
		assert.Equal(t, []string{"180d", "180f"}, cfg.ServiceFilter)
		// Unset keys keep their defaults
		assert.Equal(t, 128, cfg.NotificationBuffer)
		assert.Equal(t, 30*time.Second, cfg.DiscoveryTimeout)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log_level: [unclosed"), 0o644))

		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			expected: logrus.DebugLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: "warn",
			expected: logrus.WarnLevel,
		},
		{
			name:     "unknown level falls back to info",
			logLevel: "loud",
			expected: logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}
			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())
		})
	}
}
