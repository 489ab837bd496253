package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// CircuitSettings mirrors the resilience section of the configuration file.
// Zero values keep the defaults.
type CircuitSettings struct {
	WindowSize            int
	MinimumCalls          int
	FailureRateThreshold  float64
	SlowCallMs            int
	SlowCallRateThreshold float64
	OpenSecs              int
	HalfOpenProbes        int
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(s CircuitSettings) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if s.WindowSize > 0 {
		cfg.WindowSize = s.WindowSize
	}
	if s.MinimumCalls > 0 {
		cfg.MinimumCalls = s.MinimumCalls
	}
	if s.FailureRateThreshold > 0 {
		cfg.FailureRateThreshold = s.FailureRateThreshold
	}
	if s.SlowCallMs > 0 {
		cfg.SlowCallDuration = time.Duration(s.SlowCallMs) * time.Millisecond
	}
	if s.SlowCallRateThreshold > 0 {
		cfg.SlowCallRateThreshold = s.SlowCallRateThreshold
	}
	if s.OpenSecs > 0 {
		cfg.OpenDuration = time.Duration(s.OpenSecs) * time.Second
	}
	if s.HalfOpenProbes > 0 {
		cfg.HalfOpenProbes = s.HalfOpenProbes
	}
	return cfg
}
