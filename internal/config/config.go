// Package config loads runtime tunables. Values ship with working defaults;
// a YAML file and OMEN_* environment variables can override them per
// deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every deployment-tunable knob in the runtime.
type Config struct {
	// Freshness windows for live-truth grounding. A packet may override with
	// its own stale_if_older_than_seconds.
	FreshnessRealtimeSeconds    int `yaml:"freshness_realtime_seconds"`
	FreshnessOperationalSeconds int `yaml:"freshness_operational_seconds"`

	// Budget alert thresholds as consumed/allocated ratios.
	BudgetWarnRatio float64 `yaml:"budget_warn_ratio"`
	BudgetHaltRatio float64 `yaml:"budget_halt_ratio"`

	// MaxSteps bounds runner iterations per episode.
	MaxSteps int `yaml:"max_steps"`

	// BusLogLimit bounds each bus's recent-message debug log.
	BusLogLimit int `yaml:"bus_log_limit"`

	// ContradictionCautionThreshold is the number of unresolved
	// contradictions that drops a ledger into CAUTIOUS mode.
	ContradictionCautionThreshold int `yaml:"contradiction_caution_threshold"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		FreshnessRealtimeSeconds:      60,
		FreshnessOperationalSeconds:   3600,
		BudgetWarnRatio:               0.8,
		BudgetHaltRatio:               1.0,
		MaxSteps:                      100,
		BusLogLimit:                   256,
		ContradictionCautionThreshold: 3,
	}
}

// FreshnessRealtime returns the realtime window as a duration.
func (c Config) FreshnessRealtime() time.Duration {
	return time.Duration(c.FreshnessRealtimeSeconds) * time.Second
}

// FreshnessOperational returns the operational window as a duration.
func (c Config) FreshnessOperational() time.Duration {
	return time.Duration(c.FreshnessOperationalSeconds) * time.Second
}

// Load reads path over the defaults. A missing file is not an error; the
// defaults (plus env overrides) apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := envInt("OMEN_FRESHNESS_REALTIME_SECONDS"); ok {
		c.FreshnessRealtimeSeconds = v
	}
	if v, ok := envInt("OMEN_FRESHNESS_OPERATIONAL_SECONDS"); ok {
		c.FreshnessOperationalSeconds = v
	}
	if v, ok := envInt("OMEN_MAX_STEPS"); ok {
		c.MaxSteps = v
	}
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c Config) validate() error {
	if c.FreshnessRealtimeSeconds <= 0 || c.FreshnessOperationalSeconds <= 0 {
		return fmt.Errorf("freshness windows must be positive")
	}
	if c.BudgetWarnRatio <= 0 || c.BudgetWarnRatio > c.BudgetHaltRatio {
		return fmt.Errorf("budget_warn_ratio must be in (0, budget_halt_ratio]")
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive")
	}
	if c.BusLogLimit <= 0 {
		return fmt.Errorf("bus_log_limit must be positive")
	}
	return nil
}
