package resilience

import (
	"time"
)

// RetrySettings is the configuration-file shape of a RetryConfig.
type RetrySettings struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// FromSettings converts config values to a RetryConfig. Zero values keep the
// defaults.
func FromSettings(s RetrySettings) RetryConfig {
	cfg := DefaultRetryConfig()
	if s.MaxAttempts > 0 {
		cfg.MaxAttempts = s.MaxAttempts
	}
	if s.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(s.InitialBackoffMs) * time.Millisecond
	}
	if s.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(s.MaxBackoffMs) * time.Millisecond
	}
	return cfg
}
