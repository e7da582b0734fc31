package pipeline

import (
	"errors"
	"runtime"
)

// DefaultPageSeparator joins page texts in an entry's full text.
const DefaultPageSeparator = "\f"

// Config holds the pipeline knobs.
type Config struct {
	DPI           int    `mapstructure:"dpi" yaml:"dpi" json:"dpi"`
	MaxWorkers    int    `mapstructure:"max_workers" yaml:"max_workers" json:"max_workers"`
	Lookahead     int    `mapstructure:"lookahead" yaml:"lookahead" json:"lookahead"`
	RunModel      bool   `mapstructure:"run_model" yaml:"run_model" json:"run_model"`
	PageSeparator string `mapstructure:"page_separator" yaml:"page_separator" json:"page_separator"`
}

// DefaultConfig returns the canonical settings.
func DefaultConfig() Config {
	return Config{
		DPI:           200,
		MaxWorkers:    runtime.NumCPU(),
		Lookahead:     0,
		RunModel:      true,
		PageSeparator: DefaultPageSeparator,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.DPI <= 0 {
		return errors.New("dpi must be positive")
	}
	if c.MaxWorkers < 0 || c.Lookahead < 0 {
		return errors.New("max_workers and lookahead must be non-negative")
	}
	return nil
}

// withDefaults resolves zero values: MaxWorkers falls back to the CPU count
// and Lookahead to MaxWorkers.
func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = runtime.NumCPU()
	}
	if c.Lookahead <= 0 {
		c.Lookahead = c.MaxWorkers
	}
	return c
}
