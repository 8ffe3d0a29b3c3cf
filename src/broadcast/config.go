package broadcast

import "time"

// Config of a Broadcaster.
type Config struct {
	Enabled         bool
	MaxPayloadSize  int
	Timeout         time.Duration // per attempt, per peer
	MaxAttempts     int
	RetryDelay      time.Duration
	FallbackEnabled bool
	PendingTTL      time.Duration // how long pushed rounds are served to pullers
}

// DefaultConfig ...
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		MaxPayloadSize:  200000,
		Timeout:         500 * time.Millisecond,
		MaxAttempts:     3,
		RetryDelay:      100 * time.Millisecond,
		FallbackEnabled: true,
		PendingTTL:      10 * time.Minute,
	}
}
