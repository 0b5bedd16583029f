// Package config loads the optional kbkeeper configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable consulted when no --config flag
// is given.
const EnvPath = "KBKEEPER_CONFIG"

// Log formats.
const (
	LogFormatAuto    = "auto"
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Config holds settings shared by all commands. Zero values mean "use the
// built-in default".
type Config struct {
	// Threads is the number of hashing workers; 0 uses one per CPU.
	Threads     int    `yaml:"threads"`
	QueueSize   int    `yaml:"queue_size"`
	MoveWorkers int    `yaml:"move_workers"`
	Ledger      string `yaml:"ledger"`
	MetricsFile string `yaml:"metrics_file"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	// Timezone interprets timestamps in backup filenames. Empty means the
	// host's local zone.
	Timezone string `yaml:"timezone"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Resolve picks the configuration path: the explicit flag value first, then
// $KBKEEPER_CONFIG. An empty result means no file.
func Resolve(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return os.Getenv(EnvPath)
}

// Load reads path, applies defaults and validates the result. An empty
// path yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()
	cfg.Ledger = expandHome(cfg.Ledger)
	cfg.MetricsFile = expandHome(cfg.MetricsFile)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MoveWorkers == 0 {
		c.MoveWorkers = 1
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = LogFormatAuto
	}
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	if c.Threads < 0 {
		return errors.New("threads must not be negative")
	}
	if c.QueueSize < 0 {
		return errors.New("queue_size must not be negative")
	}
	if c.MoveWorkers < 1 {
		return errors.New("move_workers must be at least 1")
	}
	switch c.LogFormat {
	case LogFormatAuto, LogFormatConsole, LogFormatJSON:
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location returns the zone used for filename timestamps.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
