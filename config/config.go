// Package config loads runtime settings from defaults, an optional YAML file
// and ORCH_ environment variables.
package config

import (
	"time"

	"github.com/Swind/go-task-orchestrator/core"
)

// EnvPrefix is the prefix of environment overrides:
// ORCH_ROUTER_MAX_CONCURRENCY -> router.max_concurrency
const EnvPrefix = "ORCH_"

type Config struct {
	Router   RouterConfig   `koanf:"router"`
	Retry    RetryConfig    `koanf:"retry"`
	Chain    ChainConfig    `koanf:"chain"`
	Pool     PoolConfig     `koanf:"pool"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Database DatabaseConfig `koanf:"database"`
}

type RouterConfig struct {
	Name           string `koanf:"name"            validate:"required"`
	MaxConcurrency int    `koanf:"max_concurrency" validate:"min=1"`
}

// RetryConfig is the router-wide retry policy.
type RetryConfig struct {
	MaxRetries int           `koanf:"max_retries" validate:"min=0"`
	Countdown  time.Duration `koanf:"countdown"   validate:"gte=0"`
}

// Policy converts the settings into a core.RetryPolicy.
func (c RetryConfig) Policy() core.RetryPolicy {
	return core.RetryPolicy{MaxRetries: c.MaxRetries, Countdown: c.Countdown}
}

// ChainConfig is the retry policy applied to chain steps.
type ChainConfig struct {
	StepMaxRetries int           `koanf:"step_max_retries" validate:"min=0"`
	StepCountdown  time.Duration `koanf:"step_countdown"   validate:"gte=0"`
}

func (c ChainConfig) Policy() core.RetryPolicy {
	return core.RetryPolicy{MaxRetries: c.StepMaxRetries, Countdown: c.StepCountdown}
}

type PoolConfig struct {
	Name    string `koanf:"name"    validate:"required"`
	Workers int    `koanf:"workers" validate:"min=1"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `koanf:"json"`
}

type MetricsConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Namespace    string        `koanf:"namespace"     validate:"required_if=Enabled true"`
	Addr         string        `koanf:"addr"`
	PollInterval time.Duration `koanf:"poll_interval" validate:"gte=0"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// Default returns the built-in settings.
func Default() *Config {
	retry := core.DefaultRetryPolicy()
	return &Config{
		Router: RouterConfig{
			Name:           "router",
			MaxConcurrency: 4,
		},
		Retry: RetryConfig{
			MaxRetries: retry.MaxRetries,
			Countdown:  retry.Countdown,
		},
		Pool: PoolConfig{
			Name:    "orchestrator-pool",
			Workers: 4,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Namespace:    "orchestrator",
			Addr:         ":9090",
			PollInterval: 5 * time.Second,
		},
	}
}
