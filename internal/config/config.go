// Package config loads and validates the on-disk YAML configuration for a
// quidx-inspect deployment: where queue directories live, how the inspect
// HTTP server and metrics are exposed, and how many workers the start-up
// walker gets. Validation accumulates every problem it finds instead of
// stopping at the first one, so an operator fixes a broken config file in
// one pass.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML configuration file.
type Config struct {
	DataDir           string        `yaml:"data-dir"`
	InspectAddr       string        `yaml:"inspect-addr"`
	MetricsNamespace  string        `yaml:"metrics-namespace,omitempty"`
	WalkerWorkers     int           `yaml:"walker-workers"`
	FlushInterval     time.Duration `yaml:"flush-interval"`
	MaxJournalEntries int           `yaml:"queue-index-max-journal-entries"`
}

// Default returns sensible defaults, matching what an empty config file
// would produce once merged with these.
func Default() Config {
	return Config{
		DataDir:           "./data",
		InspectAddr:       ":7780",
		MetricsNamespace:  "quidx",
		WalkerWorkers:     4,
		FlushInterval:     5 * time.Second,
		MaxJournalEntries: 4096,
	}
}

// Load reads and parses the YAML config file at path, merging it onto
// Default() and validating the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidationError holds one or more configuration validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("config: validation failed: %s", e.Errors[0])
	}
	var b strings.Builder
	b.WriteString("config: validation failed:\n")
	for i, msg := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, msg)
	}
	return b.String()
}

// Validate checks cfg for internally-inconsistent or missing required
// fields, collecting every problem before returning.
func Validate(cfg Config) error {
	var errs []string

	if cfg.DataDir == "" {
		errs = append(errs, "data-dir must not be empty")
	}
	if cfg.InspectAddr == "" {
		errs = append(errs, "inspect-addr must not be empty")
	}
	if cfg.WalkerWorkers < 1 {
		errs = append(errs, fmt.Sprintf("walker-workers must be >= 1, got %d", cfg.WalkerWorkers))
	}
	if cfg.FlushInterval <= 0 {
		errs = append(errs, fmt.Sprintf("flush-interval must be positive, got %s", cfg.FlushInterval))
	}
	if cfg.MaxJournalEntries < 1 {
		errs = append(errs, fmt.Sprintf("queue-index-max-journal-entries must be >= 1, got %d", cfg.MaxJournalEntries))
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}
