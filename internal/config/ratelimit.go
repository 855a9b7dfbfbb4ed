package config

import "time"

// Rate limit key strategies.
const (
	KeyIP      = "ip"
	KeyRoute   = "route"
	KeyIPRoute = "ip_route"
)

// RateLimitConfig configures the Redis token bucket guarding the mutating
// seat endpoints.
type RateLimitConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Capacity       int           `yaml:"capacity"`
	RefillTokens   int           `yaml:"refill_tokens"`
	RefillInterval time.Duration `yaml:"refill_interval"`
	TTL            time.Duration `yaml:"ttl"`
	KeyStrategy    string        `yaml:"key_strategy"`
	Prefix         string        `yaml:"prefix"`
	Debug          bool          `yaml:"debug"`
}

// DefaultRateLimitConfig allows a burst of 60 requests refilled at one
// token per second.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:        true,
		Capacity:       60,
		RefillTokens:   1,
		RefillInterval: time.Second,
		TTL:            10 * time.Minute,
		KeyStrategy:    KeyIPRoute,
		Prefix:         "rl",
	}
}

func applyRateLimitEnv(o *overlay, rl *RateLimitConfig) {
	o.bool("RATE_LIMIT_ENABLED", &rl.Enabled)
	o.int("RATE_LIMIT_CAPACITY", &rl.Capacity)
	o.int("RATE_LIMIT_REFILL_TOKENS", &rl.RefillTokens)
	o.dur("RATE_LIMIT_REFILL_INTERVAL", &rl.RefillInterval)
	o.dur("RATE_LIMIT_TTL", &rl.TTL)
	o.str("RATE_LIMIT_KEY_STRATEGY", &rl.KeyStrategy)
	o.str("RATE_LIMIT_PREFIX", &rl.Prefix)
	o.bool("RATE_LIMIT_DEBUG", &rl.Debug)

	// Shorthands.
	burst := -1
	o.int("RATE_LIMIT_BURST", &burst)
	if burst > 0 {
		rl.Capacity = burst
	}
	var every time.Duration
	o.dur("RATE_LIMIT_REFILL_EVERY", &every)
	if every > 0 {
		rl.RefillTokens = 1
		rl.RefillInterval = every
	}
}

// normalize clamps values the limiter cannot work with.
func (rl *RateLimitConfig) normalize() {
	if rl.Capacity < 1 {
		rl.Capacity = 1
	}
	if rl.RefillTokens < 1 {
		rl.RefillTokens = 1
	}
	if rl.RefillInterval <= 0 {
		rl.RefillInterval = time.Second
	}
	if minTTL := 5 * rl.RefillInterval; rl.TTL < minTTL {
		rl.TTL = minTTL
	}
	switch rl.KeyStrategy {
	case KeyIP, KeyRoute, KeyIPRoute:
	default:
		rl.KeyStrategy = KeyIPRoute
	}
	if rl.Prefix == "" {
		rl.Prefix = "rl"
	}
}
