// Package config loads application configuration from the environment, with
// an optional YAML file layered on top for the settings that don't fit an env
// var (notably engine prompt-table overrides).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pcormier/salvage/internal/photorec"
)

// Config holds all application configuration.
type Config struct {
	Port           int
	PhotorecBinary string
	ExpectBinary   string
	ScratchDir     string

	PollInterval     time.Duration
	ProgressInterval time.Duration
	FlushInterval    time.Duration
	MaxLogLines      int

	// SweepSchedule is the cron expression for sweeping stale session
	// artifacts left behind by crashed runs.
	SweepSchedule string
	// SweepMaxAge is how old an artifact must be before the sweep removes it.
	SweepMaxAge time.Duration

	// PromptOverrides replaces the built-in navigation prompt table when the
	// installed engine build words its menus differently.
	PromptOverrides []photorec.PromptRule
}

// fileConfig is the YAML shape; only a subset of Config is file-settable.
// Durations are Go duration strings ("250ms", "1h").
type fileConfig struct {
	Port             int                   `yaml:"port"`
	PhotorecBinary   string                `yaml:"photorec_binary"`
	ExpectBinary     string                `yaml:"expect_binary"`
	ScratchDir       string                `yaml:"scratch_dir"`
	PollInterval     string                `yaml:"poll_interval"`
	ProgressInterval string                `yaml:"progress_interval"`
	FlushInterval    string                `yaml:"flush_interval"`
	SweepSchedule    string                `yaml:"sweep_schedule"`
	SweepMaxAge      string                `yaml:"sweep_max_age"`
	PromptOverrides  []photorec.PromptRule `yaml:"prompt_overrides"`
}

// Load reads configuration from environment variables, then overlays the
// YAML file named by SALVAGE_CONFIG (if any). Env vars win for scalar
// settings so container deployments can override a mounted file.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             8080,
		PhotorecBinary:   "photorec",
		ExpectBinary:     "/usr/bin/expect",
		ScratchDir:       os.TempDir(),
		PollInterval:     200 * time.Millisecond,
		ProgressInterval: 500 * time.Millisecond,
		FlushInterval:    800 * time.Millisecond,
		MaxLogLines:      500,
		SweepSchedule:    "0 * * * *",
		SweepMaxAge:      24 * time.Hour,
	}

	if path := os.Getenv("SALVAGE_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnvInt("SALVAGE_PORT", cfg.Port)
	cfg.PhotorecBinary = getEnv("SALVAGE_PHOTOREC", cfg.PhotorecBinary)
	cfg.ExpectBinary = getEnv("SALVAGE_EXPECT", cfg.ExpectBinary)
	cfg.ScratchDir = getEnv("SALVAGE_SCRATCH_DIR", cfg.ScratchDir)
	cfg.MaxLogLines = getEnvInt("SALVAGE_MAX_LOG_LINES", cfg.MaxLogLines)
	cfg.PollInterval = getEnvDuration("SALVAGE_POLL_INTERVAL", cfg.PollInterval)
	cfg.ProgressInterval = getEnvDuration("SALVAGE_PROGRESS_INTERVAL", cfg.ProgressInterval)
	cfg.FlushInterval = getEnvDuration("SALVAGE_FLUSH_INTERVAL", cfg.FlushInterval)
	cfg.SweepMaxAge = getEnvDuration("SALVAGE_SWEEP_MAX_AGE", cfg.SweepMaxAge)

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var fc fileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}

	if fc.Port > 0 {
		c.Port = fc.Port
	}
	if fc.PhotorecBinary != "" {
		c.PhotorecBinary = fc.PhotorecBinary
	}
	if fc.ExpectBinary != "" {
		c.ExpectBinary = fc.ExpectBinary
	}
	if fc.ScratchDir != "" {
		c.ScratchDir = fc.ScratchDir
	}
	if fc.SweepSchedule != "" {
		c.SweepSchedule = fc.SweepSchedule
	}
	for _, d := range []struct {
		name string
		val  string
		dst  *time.Duration
	}{
		{"poll_interval", fc.PollInterval, &c.PollInterval},
		{"progress_interval", fc.ProgressInterval, &c.ProgressInterval},
		{"flush_interval", fc.FlushInterval, &c.FlushInterval},
		{"sweep_max_age", fc.SweepMaxAge, &c.SweepMaxAge},
	} {
		if err := setDuration(d.dst, d.val); err != nil {
			return fmt.Errorf("config %q: %s: %w", path, d.name, err)
		}
	}
	if len(fc.PromptOverrides) > 0 {
		c.PromptOverrides = fc.PromptOverrides
	}
	return nil
}

func setDuration(dst *time.Duration, val string) error {
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
