// Package config holds all volition configuration.
// Configuration is loaded from <state-dir>/volition.yaml; every field has
// a default so the engine runs with no config file at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all volition configuration.
type Config struct {
	// StateDir is where the snapshot database and logs live.
	StateDir string `yaml:"state_dir"`

	Wants   WantsConfig   `yaml:"wants"`
	Queue   QueueConfig   `yaml:"queue"`
	Logging LoggingConfig `yaml:"logging"`
}

// WantsConfig configures the want lifecycle engine.
type WantsConfig struct {
	// DecayInterval is how often the decay tick runs in the engine loop.
	DecayInterval string `yaml:"decay_interval"`

	// DefaultDecayRate is subtracted from each active want per decay tick.
	DefaultDecayRate float64 `yaml:"default_decay_rate"`

	// DefaultCeiling is the per-want intensity ceiling when none is given.
	// Clamped to the 0.95 hard ceiling.
	DefaultCeiling float64 `yaml:"default_ceiling"`
}

// QueueConfig configures the spontaneous message queue.
type QueueConfig struct {
	// TickInterval is how often the queue is drained.
	TickInterval string `yaml:"tick_interval"`

	// MaxPerUserPerDay caps deliveries to one user per calendar day.
	MaxPerUserPerDay int `yaml:"max_per_user_per_day"`

	// CooldownMinutes is the minimum gap between deliveries to one user.
	CooldownMinutes int `yaml:"cooldown_minutes"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"` // debug, info, warn, error
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		StateDir: ".volition",
		Wants: WantsConfig{
			DecayInterval:    "1h",
			DefaultDecayRate: 0.02,
			DefaultCeiling:   0.85,
		},
		Queue: QueueConfig{
			TickInterval:     "30m",
			MaxPerUserPerDay: 3,
			CooldownMinutes:  60,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads volition.yaml from the given state dir, falling back to
// defaults when the file does not exist. A malformed file is an error.
func Load(stateDir string) (*Config, error) {
	cfg := Default()
	if stateDir != "" {
		cfg.StateDir = stateDir
	}

	path := filepath.Join(cfg.StateDir, "volition.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// DecayInterval parses the configured decay interval, defaulting to 1h.
func (c *Config) DecayInterval() time.Duration {
	return parseDuration(c.Wants.DecayInterval, time.Hour)
}

// TickInterval parses the configured queue tick interval, defaulting to 30m.
func (c *Config) TickInterval() time.Duration {
	return parseDuration(c.Queue.TickInterval, 30*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
