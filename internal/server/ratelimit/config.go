package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Rule limits one method on one path or path prefix.
type Rule struct {
	Method string        // HTTP method
	Path   string        // exact path, or a prefix when it ends in "/"
	Limit  int           // requests per Window; zero or less means unlimited
	Window time.Duration // refill window
	Burst  int           // bucket capacity, Limit when zero
}

// key identifies the bucket a rule's requests share.
func (r *Rule) key() string {
	return r.Method + " " + r.Path
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	IdleTTL         time.Duration
	Allowlist       map[string]bool
	Denylist        map[string]bool
	Rules           []Rule
}

// DefaultConfig is used when no configuration is given.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultLimit:    600,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         time.Hour,
		Allowlist:       map[string]bool{},
		Denylist:        map[string]bool{},
		Rules:           DefaultRules(),
	}
}

// LoadConfig reads RATE_LIMIT_* environment variables over DefaultConfig.
func LoadConfig() *Config {
	cfg := DefaultConfig()
	cfg.Enabled = envBool("RATE_LIMIT_ENABLED", cfg.Enabled)
	cfg.DefaultLimit = envInt("RATE_LIMIT_DEFAULT_LIMIT", cfg.DefaultLimit)
	cfg.DefaultWindow = envDuration("RATE_LIMIT_DEFAULT_WINDOW", cfg.DefaultWindow)
	cfg.CleanupInterval = envDuration("RATE_LIMIT_CLEANUP_INTERVAL", cfg.CleanupInterval)
	cfg.Allowlist = parseIPList(os.Getenv("RATE_LIMIT_ALLOWLIST"))
	cfg.Denylist = parseIPList(os.Getenv("RATE_LIMIT_DENYLIST"))
	return cfg
}

// DefaultRules returns the per-endpoint limits of the control API.
func DefaultRules() []Rule {
	return []Rule{
		// Runs and batches dispatch GPU work.
		{Method: "POST", Path: "/pipelines/", Limit: 60, Window: time.Hour, Burst: 10},

		{Method: "POST", Path: "/runs/", Limit: 120, Window: time.Minute, Burst: 20},
		{Method: "POST", Path: "/pipelines", Limit: 60, Window: time.Minute, Burst: 10},
		{Method: "POST", Path: "/personas", Limit: 60, Window: time.Minute, Burst: 10},
	}
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

// parseIPList parses a comma-separated list of addresses into a set.
func parseIPList(list string) map[string]bool {
	set := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			set[ip] = true
		}
	}
	return set
}
