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

	require.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendGoBLE, cfg.Backend)
	assert.Equal(t, "AAAA", cfg.ServiceUUID)
	assert.Equal(t, "BBBB", cfg.CharacteristicUUID)
	assert.True(t, cfg.AutoConnect)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.StageTimeout)
	assert.Equal(t, 3, cfg.MaxRediscoveries)
	assert.Equal(t, 16, cfg.StatusBuffer)
	assert.Equal(t, FormatTable, cfg.OutputFormat)
	assert.NoError(t, cfg.Validate(), "defaults MUST be valid")
}

func TestLoad_OverridesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "monitor.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, BackendTinyGo, cfg.Backend)
	assert.Equal(t, "180D", cfg.ServiceUUID)
	assert.Equal(t, "2A37", cfg.CharacteristicUUID)
	assert.False(t, cfg.AutoConnect, "explicit false MUST override the default")
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 2500*time.Millisecond, cfg.StageTimeout)
	assert.Equal(t, 1, cfg.MaxRediscoveries)
	assert.Equal(t, FormatJSON, cfg.OutputFormat)

	// untouched keys keep their defaults
	assert.Equal(t, 500, cfg.EventLogMaxEntries)
	assert.Equal(t, 16, cfg.StatusBuffer)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "missing explicit config file MUST fail")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("stage_timeout: [oops"), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "parsing config file")
}

func TestLoad_DefaultPathMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err, "missing default config file MUST fall back to defaults")
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"logrus-only log level", func(c *Config) { c.LogLevel = "trace" }, "must be one of debug, info, warn, error"},
		{"bad backend", func(c *Config) { c.Backend = "bluez" }, "backend"},
		{"bad service uuid", func(c *Config) { c.ServiceUUID = "xyz" }, "service_uuid"},
		{"empty characteristic", func(c *Config) { c.CharacteristicUUID = "" }, "uuid #1 is empty"},
		{"negative timeout", func(c *Config) { c.StageTimeout = -time.Second }, "timeouts"},
		{"negative rediscoveries", func(c *Config) { c.MaxRediscoveries = -1 }, "max_rediscoveries"},
		{"zero status buffer", func(c *Config) { c.StatusBuffer = 0 }, "status_buffer"},
		{"bad output format", func(c *Config) { c.OutputFormat = "csv" }, "output_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestParseLevel(t *testing.T) {
	for _, level := range LogLevels {
		_, err := ParseLevel(level)
		assert.NoError(t, err, "%s MUST be accepted", level)
	}
	for _, level := range []string{"trace", "warning", "fatal", "panic", "DEBUG"} {
		_, err := ParseLevel(level)
		assert.Error(t, err, "%s MUST be rejected", level)
	}
}

func TestConfig_CentralOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoConnect = false
	cfg.MaxRediscoveries = 2

	opts := cfg.CentralOptions()
	assert.Equal(t, "AAAA", opts.ServiceUUID)
	assert.False(t, opts.AutoConnect)
	assert.Equal(t, 2, opts.MaxRediscoveries)
	assert.Equal(t, cfg.StageTimeout, opts.StageTimeout)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{"creates logger with debug level", "debug", logrus.DebugLevel},
		{"creates logger with warn level", "warn", logrus.WarnLevel},
		{"falls back to info on garbage", "loud", logrus.InfoLevel},
		{"falls back to info on unsupported level", "panic", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
