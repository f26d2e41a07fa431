package config

import (
	"os"
	"strconv"
	"time"
)

// RateLimitConfig controls the admission window applied to booking
// mutations.  A principal may perform at most Count mutations inside any
// rolling Window.
type RateLimitConfig struct {
	Enabled bool
	Count   int
	Window  time.Duration
}

// LoadRateLimitConfig reads the rate limit settings from the
// environment, clamping nonsensical values back to the defaults.
func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled: envBool("RATE_LIMIT_ENABLED", true),
		Count:   envInt("RATE_LIMIT_COUNT", 5),
		Window:  envDur("RATE_LIMIT_WINDOW", 10*time.Second),
	}
	if cfg.Count < 1 {
		cfg.Count = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	return cfg
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
