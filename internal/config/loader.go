// Package config loads runtime parameters for the service from a file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// PoolSettings holds per-capability pool tunables. Zero values mean
// "unspecified" and fall back to package defaults in the pool layer.
// Durations are expressed in seconds for file friendliness.
type PoolSettings struct {
	CostMB                int     `json:"cost_mb" yaml:"cost_mb" toml:"cost_mb"`
	MinWorkers            int     `json:"min_workers" yaml:"min_workers" toml:"min_workers"`
	MaxWorkers            int     `json:"max_workers" yaml:"max_workers" toml:"max_workers"`
	PreWarm               int     `json:"pre_warm" yaml:"pre_warm" toml:"pre_warm"`
	QueueDepth            int     `json:"queue_depth" yaml:"queue_depth" toml:"queue_depth"`
	IdleTimeoutSec        int     `json:"idle_timeout_sec" yaml:"idle_timeout_sec" toml:"idle_timeout_sec"`
	MaintenanceSec        int     `json:"maintenance_sec" yaml:"maintenance_sec" toml:"maintenance_sec"`
	ProbeWindowMS         int     `json:"probe_window_ms" yaml:"probe_window_ms" toml:"probe_window_ms"`
	ProbeStaleSec         int     `json:"probe_stale_sec" yaml:"probe_stale_sec" toml:"probe_stale_sec"`
	WaitTimeoutSec        int     `json:"wait_timeout_sec" yaml:"wait_timeout_sec" toml:"wait_timeout_sec"`
	BreakerFailureRatio   float64 `json:"breaker_failure_ratio" yaml:"breaker_failure_ratio" toml:"breaker_failure_ratio"`
	BreakerWindowSec      int     `json:"breaker_window_sec" yaml:"breaker_window_sec" toml:"breaker_window_sec"`
	BreakerCooldownSec    int     `json:"breaker_cooldown_sec" yaml:"breaker_cooldown_sec" toml:"breaker_cooldown_sec"`
	BreakerMinSamples     int     `json:"breaker_min_samples" yaml:"breaker_min_samples" toml:"breaker_min_samples"`
	BreakerHalfOpenTrials int     `json:"breaker_half_open_trials" yaml:"breaker_half_open_trials" toml:"breaker_half_open_trials"`
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	BudgetMB     int    `json:"budget_mb" yaml:"budget_mb" toml:"budget_mb"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`
	LlamaCtx     int    `json:"llama_ctx" yaml:"llama_ctx" toml:"llama_ctx"`
	LlamaThreads int    `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`

	// Pool is the default settings applied to every capability pool.
	Pool PoolSettings `json:"pool" yaml:"pool" toml:"pool"`
	// Models overrides Pool per model id.
	Models map[string]PoolSettings `json:"models" yaml:"models" toml:"models"`
}

// SettingsFor merges the per-model override (if any) over the defaults.
func (c Config) SettingsFor(model string) PoolSettings {
	s := c.Pool
	o, ok := c.Models[model]
	if !ok {
		return s
	}
	if o.CostMB > 0 {
		s.CostMB = o.CostMB
	}
	if o.MinWorkers > 0 {
		s.MinWorkers = o.MinWorkers
	}
	if o.MaxWorkers > 0 {
		s.MaxWorkers = o.MaxWorkers
	}
	if o.PreWarm > 0 {
		s.PreWarm = o.PreWarm
	}
	if o.QueueDepth > 0 {
		s.QueueDepth = o.QueueDepth
	}
	if o.IdleTimeoutSec > 0 {
		s.IdleTimeoutSec = o.IdleTimeoutSec
	}
	if o.MaintenanceSec > 0 {
		s.MaintenanceSec = o.MaintenanceSec
	}
	if o.ProbeWindowMS > 0 {
		s.ProbeWindowMS = o.ProbeWindowMS
	}
	if o.ProbeStaleSec > 0 {
		s.ProbeStaleSec = o.ProbeStaleSec
	}
	if o.WaitTimeoutSec > 0 {
		s.WaitTimeoutSec = o.WaitTimeoutSec
	}
	if o.BreakerFailureRatio > 0 {
		s.BreakerFailureRatio = o.BreakerFailureRatio
	}
	if o.BreakerWindowSec > 0 {
		s.BreakerWindowSec = o.BreakerWindowSec
	}
	if o.BreakerCooldownSec > 0 {
		s.BreakerCooldownSec = o.BreakerCooldownSec
	}
	if o.BreakerMinSamples > 0 {
		s.BreakerMinSamples = o.BreakerMinSamples
	}
	if o.BreakerHalfOpenTrials > 0 {
		s.BreakerHalfOpenTrials = o.BreakerHalfOpenTrials
	}
	return s
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
