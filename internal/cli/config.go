package cli

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the reduce configuration. It can be loaded from YAML and
// overridden by flags.
type Config struct {
	Inputs          []string  `yaml:"inputs"`
	Output          string    `yaml:"output"`
	MinSupport      int64     `yaml:"min_support"`
	InitialBuckets  int       `yaml:"initial_buckets"`
	Capacity        int64     `yaml:"capacity"` // 0 selects the default bound
	Compress        bool      `yaml:"compress"`
	TempDir         string    `yaml:"temp_dir"`
	Attempt         string    `yaml:"attempt"`
	MetricsTextfile string    `yaml:"metrics_textfile"`
	Log             LogConfig `yaml:"log"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Human bool   `yaml:"human"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		MinSupport:     1,
		InitialBuckets: 1,
		Log:            LogConfig{Level: "info"},
	}
}

// LoadConfig reads a YAML file on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if len(c.Inputs) == 0 {
		errs = append(errs, errors.New("at least one --in is required"))
	}
	if c.Output == "" {
		errs = append(errs, errors.New("--out is required"))
	}
	if c.MinSupport < 1 {
		errs = append(errs, fmt.Errorf("min support must be >= 1, got %d", c.MinSupport))
	}
	if c.InitialBuckets < 1 {
		errs = append(errs, fmt.Errorf("initial buckets must be >= 1, got %d", c.InitialBuckets))
	}
	if c.Capacity < 0 {
		errs = append(errs, fmt.Errorf("capacity must be >= 0, got %d", c.Capacity))
	}
	return errors.Join(errs...)
}
