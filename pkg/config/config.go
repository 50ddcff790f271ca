// Package config handles configuration for flowkit.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the workspace configuration (config.yaml).
type Config struct {
	// Execution settings
	MaxRetries int     `yaml:"maxRetries"` // Default retry ceiling for failed steps
	RetryDelay float64 `yaml:"retryDelay"` // Default delay between retries, seconds

	// Browser settings
	BrowserType string  `yaml:"browserType"` // chromium, firefox, webkit
	Headless    bool    `yaml:"headless"`
	FindTimeout float64 `yaml:"findTimeout"` // Default element wait for conditions, seconds

	// Capacities and sampling
	ErrorLogCapacity int     `yaml:"errorLogCapacity"` // Bounded error log size
	DebugLogCapacity int     `yaml:"debugLogCapacity"` // Debug session log size
	SampleInterval   float64 `yaml:"sampleInterval"`   // Performance sampling period, seconds

	// Logging
	LogPath string `yaml:"logPath"` // Log file, empty = <home>/logs/flowkit.log
	Verbose bool   `yaml:"verbose"` // Echo log lines to stderr

	// Variables seeded into the global scope before a run
	Variables map[string]interface{} `yaml:"variables"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		MaxRetries:       3,
		RetryDelay:       1.0,
		BrowserType:      "chromium",
		Headless:         true,
		FindTimeout:      10.0,
		ErrorLogCapacity: 1000,
		DebugLogCapacity: 2000,
		SampleInterval:   1.0,
	}
}

// Load loads configuration from a file. Fields absent from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try config.yaml first
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try config.yml
	configPath = filepath.Join(dir, "config.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, use defaults
	return Default(), nil
}

// ResolveLogPath returns the configured log path, defaulting to
// <home>/logs/flowkit.log.
func (c *Config) ResolveLogPath() string {
	if c.LogPath != "" {
		return c.LogPath
	}
	return filepath.Join(GetLogsDir(), "flowkit.log")
}
