// Package ratelimit provides per-client token bucket rate limiting.
package ratelimit

import (
	"sync"
	"time"
)

// bucket refills continuously at rate tokens per second up to capacity.
type bucket struct {
	mu         sync.Mutex
	capacity   float64
	rate       float64
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

func newBucket(capacity int, rate float64, now time.Time) *bucket {
	return &bucket{
		capacity:   float64(capacity),
		rate:       rate,
		tokens:     float64(capacity),
		lastRefill: now,
		lastSeen:   now,
	}
}

// take consumes one token if available. It reports the tokens left, when the
// bucket will be full again and, when denied, how long until the next token.
func (b *bucket) take(now time.Time) (allowed bool, remaining int, full time.Time, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = min(b.capacity, b.tokens+now.Sub(b.lastRefill).Seconds()*b.rate)
	b.lastRefill = now
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		allowed = true
	} else {
		wait = time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
	}
	full = now
	if missing := b.capacity - b.tokens; missing > 0 {
		full = now.Add(time.Duration(missing / b.rate * float64(time.Second)))
	}
	return allowed, int(b.tokens), full, wait
}

func (b *bucket) idleSince(cutoff time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeen.Before(cutoff)
}

// Info describes the limit applied to one request.
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Limiter tracks one bucket per client and rule.
type Limiter struct {
	config *Config
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLimiter creates a limiter. A nil config uses DefaultConfig.
func NewLimiter(config *Config) *Limiter {
	if config == nil {
		config = DefaultConfig()
	}
	l := &Limiter{
		config:  config,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	if config.Enabled && config.CleanupInterval > 0 {
		go l.cleanupLoop(config.CleanupInterval)
	}
	return l
}

// Allow reports whether clientID may call method on path now.
func (l *Limiter) Allow(clientID, path, method string) (bool, Info) {
	cfg := l.config
	switch {
	case !cfg.Enabled, cfg.Allowlist[clientID]:
		return true, Info{Allowed: true}
	case cfg.Denylist[clientID]:
		return false, Info{}
	}

	rule := MatchRule(path, method, cfg.Rules)
	if rule == nil {
		rule = &Rule{Method: "*", Path: "*", Limit: cfg.DefaultLimit, Window: cfg.DefaultWindow}
	}
	if rule.Limit <= 0 || rule.Window <= 0 {
		return true, Info{Allowed: true}
	}

	now := l.now()
	allowed, remaining, full, wait := l.bucketFor(clientID+"|"+rule.key(), rule, now).take(now)
	return allowed, Info{
		Allowed:    allowed,
		Limit:      rule.Limit,
		Remaining:  remaining,
		ResetTime:  full,
		RetryAfter: wait,
	}
}

func (l *Limiter) bucketFor(key string, rule *Rule, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	capacity := rule.Burst
	if capacity <= 0 {
		capacity = rule.Limit
	}
	b := newBucket(capacity, float64(rule.Limit)/rule.Window.Seconds(), now)
	l.buckets[key] = b
	return b
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

// evictIdle drops buckets unused for longer than IdleTTL.
func (l *Limiter) evictIdle() {
	ttl := l.config.IdleTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	cutoff := l.now().Add(-ttl)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.idleSince(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Size returns the number of live buckets.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
