package resilience

import (
	"time"
)

// Settings are the retry knobs exposed in configuration. Zero values keep
// the defaults; a negative JitterFraction keeps the default jitter.
type Settings struct {
	MaxAttempts      int
	InitialBackoffMs int
	MaxBackoffMs     int
	MaxHintWaitSecs  int
	Multiplier       float64
	JitterFraction   float64
}

// FromRetryConfig converts configured settings to a RetryConfig.
func FromRetryConfig(s Settings) RetryConfig {
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
	if s.MaxHintWaitSecs > 0 {
		cfg.MaxHintWait = time.Duration(s.MaxHintWaitSecs) * time.Second
	}
	if s.Multiplier > 0 {
		cfg.Multiplier = s.Multiplier
	}
	if s.JitterFraction >= 0 {
		cfg.JitterFraction = s.JitterFraction
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return cfg
}
