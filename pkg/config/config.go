package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blimon/internal/central"
	"github.com/srg/blimon/internal/gattuuid"
	"gopkg.in/yaml.v3"
)

// Backends
const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
)

// Output formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" json:"log_level" default:"info"`
	Backend  string `yaml:"backend" json:"backend" default:"goble"`

	ServiceUUID        string `yaml:"service_uuid" json:"service_uuid" default:"AAAA"`
	CharacteristicUUID string `yaml:"characteristic_uuid" json:"characteristic_uuid" default:"BBBB"`
	AutoConnect        bool   `yaml:"auto_connect" json:"auto_connect" default:"true"`

	ConnectTimeout   time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"30s"`
	StageTimeout     time.Duration `yaml:"stage_timeout" json:"stage_timeout" default:"10s"`
	MaxRediscoveries int           `yaml:"max_rediscoveries" json:"max_rediscoveries" default:"3"`

	EventLogMaxEntries int    `yaml:"event_log_max_entries" json:"event_log_max_entries" default:"500"`
	StatusBuffer       int    `yaml:"status_buffer" json:"status_buffer" default:"16"`
	OutputFormat       string `yaml:"output_format" json:"output_format" default:"table"` // table, json
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blimon", "config.yaml")
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file on top of the defaults. A missing file at the
// default path is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	switch c.Backend {
	case BackendGoBLE, BackendTinyGo:
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendGoBLE, BackendTinyGo, c.Backend)
	}

	if _, err := gattuuid.Validate(c.ServiceUUID, c.CharacteristicUUID); err != nil {
		return fmt.Errorf("service_uuid/characteristic_uuid: %w", err)
	}

	if c.ConnectTimeout < 0 || c.StageTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.MaxRediscoveries < 0 {
		return fmt.Errorf("max_rediscoveries must be >= 0, got %d", c.MaxRediscoveries)
	}
	if c.EventLogMaxEntries < 0 {
		return fmt.Errorf("event_log_max_entries must be >= 0, got %d", c.EventLogMaxEntries)
	}
	if c.StatusBuffer <= 0 {
		return fmt.Errorf("status_buffer must be > 0, got %d", c.StatusBuffer)
	}

	switch strings.ToLower(c.OutputFormat) {
	case FormatTable, FormatJSON:
	default:
		return fmt.Errorf("output_format must be %q or %q, got %q", FormatTable, FormatJSON, c.OutputFormat)
	}
	return nil
}

// LogLevels are the accepted log_level values.
var LogLevels = []string{"debug", "info", "warn", "error"}

// ParseLevel parses one of LogLevels. logrus spellings outside that set
// (trace, warning, fatal, panic) are rejected.
func ParseLevel(level string) (logrus.Level, error) {
	if !slices.Contains(LogLevels, level) {
		return logrus.InfoLevel, fmt.Errorf("must be one of %s, got %q", strings.Join(LogLevels, ", "), level)
	}
	return logrus.ParseLevel(level)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// CentralOptions maps the configuration onto central.Options.
func (c *Config) CentralOptions() central.Options {
	return central.Options{
		ServiceUUID:        c.ServiceUUID,
		CharacteristicUUID: c.CharacteristicUUID,
		AutoConnect:        c.AutoConnect,
		ConnectTimeout:     c.ConnectTimeout,
		StageTimeout:       c.StageTimeout,
		MaxRediscoveries:   c.MaxRediscoveries,
		EventLogMaxEntries: c.EventLogMaxEntries,
		StatusBuffer:       c.StatusBuffer,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
