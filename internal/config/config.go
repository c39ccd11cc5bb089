// Package config manages application configuration.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roboco-io/ocrtrain/internal/label"
	"github.com/roboco-io/ocrtrain/internal/logging"
	"github.com/roboco-io/ocrtrain/internal/parser"
)

// Environment overrides.
const (
	EnvBundles = "OCRTRAIN_BUNDLES"
	EnvOutput  = "OCRTRAIN_OUTPUT"
	EnvDebug   = "OCRTRAIN_DEBUG"
)

// Config represents the application configuration.
type Config struct {
	BundlesDir  string        `yaml:"bundles_dir"`
	OutputDir   string        `yaml:"output_dir"`
	Dataset     DatasetConfig `yaml:"dataset"`
	LabelPath   string        `yaml:"label_path"`
	Namespace   string        `yaml:"namespace"`
	Workers     int           `yaml:"workers"` // 0 uses every CPU
	SkipInvalid bool          `yaml:"skip_invalid"`
	MetricsFile string        `yaml:"metrics_file,omitempty"`
	Log         LogConfig     `yaml:"log"`
}

// DatasetConfig contains split options.
type DatasetConfig struct {
	TestRatio float64 `yaml:"test_ratio"`
	Seed      uint64  `yaml:"seed"`
	Dedupe    bool    `yaml:"dedupe"`
}

// LogConfig contains logging options.
type LogConfig struct {
	Level string `yaml:"level"`
	Style string `yaml:"style"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BundlesDir: "bundles",
		OutputDir:  ".",
		Dataset: DatasetConfig{
			TestRatio: 0.2,
		},
		LabelPath: label.DefaultPath,
		Namespace: parser.DefaultNamespace,
		Log: LogConfig{
			Level: string(logging.LevelInfo),
			Style: string(logging.StyleConsole),
		},
	}
}

// ApplyEnv overrides fields from OCRTRAIN_* environment variables.
func (c *Config) ApplyEnv() {
	c.BundlesDir = GetEnvOrDefault(EnvBundles, c.BundlesDir)
	c.OutputDir = GetEnvOrDefault(EnvOutput, c.OutputDir)
	if GetEnvBool(EnvDebug) {
		c.Log.Level = string(logging.LevelDebug)
	}
}

// Keys lists the keys accepted by Set.
func Keys() []string {
	return []string{
		"bundles_dir",
		"output_dir",
		"dataset.test_ratio",
		"dataset.seed",
		"dataset.dedupe",
		"label_path",
		"namespace",
		"workers",
		"skip_invalid",
		"metrics_file",
		"log.level",
		"log.style",
	}
}

// Set assigns a value by its dotted key.
func (c *Config) Set(key, value string) error {
	switch key {
	case "bundles_dir":
		if value == "" {
			return fmt.Errorf("bundles_dir must not be empty")
		}
		c.BundlesDir = value
	case "output_dir":
		if value == "" {
			return fmt.Errorf("output_dir must not be empty")
		}
		c.OutputDir = value
	case "dataset.test_ratio":
		r, err := strconv.ParseFloat(value, 64)
		if err != nil || !(r > 0 && r < 1) {
			return fmt.Errorf("invalid test ratio: %s (must be between 0 and 1)", value)
		}
		c.Dataset.TestRatio = r
	case "dataset.seed":
		seed, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seed: %s", value)
		}
		c.Dataset.Seed = seed
	case "dataset.dedupe":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %s", value)
		}
		c.Dataset.Dedupe = b
	case "label_path":
		if value == "" {
			return fmt.Errorf("label_path must not be empty")
		}
		c.LabelPath = value
	case "namespace":
		c.Namespace = value
	case "workers":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid worker count: %s", value)
		}
		c.Workers = n
	case "skip_invalid":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %s", value)
		}
		c.SkipInvalid = b
	case "metrics_file":
		c.MetricsFile = value
	case "log.level":
		if _, err := logging.ParseLevel(logging.Level(value)); err != nil {
			return err
		}
		c.Log.Level = strings.ToLower(value)
	case "log.style":
		if !logging.ValidStyle(logging.Style(value)) {
			return fmt.Errorf("unknown log style: %s (available: console, json)", value)
		}
		c.Log.Style = strings.ToLower(value)
	default:
		return fmt.Errorf("unknown config key: %s (available: %s)", key, strings.Join(Keys(), ", "))
	}
	return nil
}
