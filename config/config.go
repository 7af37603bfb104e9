// Package config loads gorex settings from the environment (GOREX_ prefix)
// and optionally a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "GOREX"

// Config holds every recognized option. Durations are in milliseconds.
// Defaults live in Default; unset variables leave a field untouched.
type Config struct {
	MaxInstances        int    `envconfig:"MAX_INSTANCES" yaml:"max_instances"`
	MaxConcurrency      int    `envconfig:"MAX_CONCURRENCY" yaml:"max_concurrency"`
	MinWarmInstances    int    `envconfig:"MIN_WARM_INSTANCES" yaml:"min_warm_instances"`
	AdmissionTimeoutMS  int    `envconfig:"ADMISSION_TIMEOUT_MS" yaml:"admission_timeout_ms"`
	MaxMemoryPages      uint32 `envconfig:"MAX_MEMORY_PAGES" yaml:"max_memory_pages"`
	FuelBudget          int64  `envconfig:"FUEL_BUDGET" yaml:"fuel_budget"`
	EpochTimeoutMS      int    `envconfig:"EPOCH_TIMEOUT_MS" yaml:"epoch_timeout_ms"`
	MaxOutputBytes      int    `envconfig:"MAX_OUTPUT_BYTES" yaml:"max_output_bytes"`
	RotationUseCount    int    `envconfig:"ROTATION_USE_COUNT" yaml:"rotation_use_count"`
	EvictionFailures    int    `envconfig:"EVICTION_FAILURE_COUNT" yaml:"eviction_failure_count"`
	HealthCheckInterval int    `envconfig:"HEALTH_CHECK_INTERVAL_MS" yaml:"health_check_interval_ms"`
	MaxIdleMS           int    `envconfig:"MAX_IDLE_MS" yaml:"max_idle_ms"`

	Circuit CircuitConfig `envconfig:"CIRCUIT" yaml:"circuit"`
	Server  ServerConfig  `envconfig:"SERVER" yaml:"server"`

	GuestPath string `envconfig:"GUEST_PATH" yaml:"guest_path"`
	CacheDir  string `envconfig:"CACHE_DIR" yaml:"cache_dir"`
	LogLevel  string `envconfig:"LOG_LEVEL" yaml:"log_level"`
	LogDev    bool   `envconfig:"LOG_DEV" yaml:"log_dev"`
}

type CircuitConfig struct {
	FailureThreshold float64 `envconfig:"FAILURE_THRESHOLD" yaml:"failure_threshold"`
	WindowSize       int     `envconfig:"WINDOW_SIZE" yaml:"window_size"`
	OpenCooldownMS   int     `envconfig:"OPEN_COOLDOWN_MS" yaml:"open_cooldown_ms"`
	HalfOpenTrials   int     `envconfig:"HALF_OPEN_TRIALS" yaml:"half_open_trials"`
}

type ServerConfig struct {
	Addr           string `envconfig:"ADDR" yaml:"addr"`
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" yaml:"rate_limit_rps"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" yaml:"rate_limit_burst"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MaxInstances:        8,
		MinWarmInstances:    2,
		AdmissionTimeoutMS:  5000,
		MaxMemoryPages:      256,
		FuelBudget:          50_000_000,
		EpochTimeoutMS:      30_000,
		MaxOutputBytes:      32 << 20,
		RotationUseCount:    1000,
		EvictionFailures:    5,
		HealthCheckInterval: 60_000,
		MaxIdleMS:           300_000,
		Circuit: CircuitConfig{
			FailureThreshold: 0.5,
			WindowSize:       10,
			OpenCooldownMS:   5000,
			HalfOpenTrials:   1,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		GuestPath: "extractor.wasm",
		LogLevel:  "info",
	}
}

// Load applies GOREX_* environment variables over the defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFile reads a YAML file over the defaults, then applies environment
// overrides. Options missing from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadOrDefault loads from the environment, falling back to defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects combinations the pool and breaker cannot honor.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxInstances < 1 {
		errs = append(errs, errors.New("max_instances must be at least 1"))
	}
	if c.MaxConcurrency != 0 && c.MaxConcurrency < c.MaxInstances {
		errs = append(errs, fmt.Errorf("max_concurrency %d is below max_instances %d", c.MaxConcurrency, c.MaxInstances))
	}
	if c.MinWarmInstances < 0 || c.MinWarmInstances > c.MaxInstances {
		errs = append(errs, fmt.Errorf("min_warm_instances must be within [0, %d]", c.MaxInstances))
	}
	if c.AdmissionTimeoutMS < 0 {
		errs = append(errs, errors.New("admission_timeout_ms must not be negative"))
	}
	if c.MaxMemoryPages == 0 {
		errs = append(errs, errors.New("max_memory_pages must be at least 1"))
	}
	if c.FuelBudget < 0 {
		errs = append(errs, errors.New("fuel_budget must not be negative"))
	}
	if c.EpochTimeoutMS <= 0 {
		errs = append(errs, errors.New("epoch_timeout_ms must be positive"))
	}
	if c.MaxOutputBytes < 1 {
		errs = append(errs, errors.New("max_output_bytes must be at least 1"))
	}
	if c.RotationUseCount < 1 || c.EvictionFailures < 1 {
		errs = append(errs, errors.New("rotation_use_count and eviction_failure_count must be at least 1"))
	}
	if c.Circuit.FailureThreshold <= 0 || c.Circuit.FailureThreshold > 1 {
		errs = append(errs, errors.New("circuit.failure_threshold must be in (0, 1]"))
	}
	if c.Circuit.WindowSize < 1 {
		errs = append(errs, errors.New("circuit.window_size must be at least 1"))
	}
	if c.Circuit.OpenCooldownMS <= 0 {
		errs = append(errs, errors.New("circuit.open_cooldown_ms must be positive"))
	}
	if c.Circuit.HalfOpenTrials < 1 {
		errs = append(errs, errors.New("circuit.half_open_trials must be at least 1"))
	}
	return errors.Join(errs...)
}

// Concurrency is the admission limit; it defaults to MaxInstances.
func (c *Config) Concurrency() int {
	if c.MaxConcurrency > 0 {
		return c.MaxConcurrency
	}
	return c.MaxInstances
}

func (c *Config) AdmissionTimeout() time.Duration {
	return time.Duration(c.AdmissionTimeoutMS) * time.Millisecond
}

func (c *Config) EpochTimeout() time.Duration {
	return time.Duration(c.EpochTimeoutMS) * time.Millisecond
}

func (c *Config) HealthCheckEvery() time.Duration {
	return time.Duration(c.HealthCheckInterval) * time.Millisecond
}

func (c *Config) MaxIdle() time.Duration { return time.Duration(c.MaxIdleMS) * time.Millisecond }

func (c CircuitConfig) Cooldown() time.Duration {
	return time.Duration(c.OpenCooldownMS) * time.Millisecond
}
