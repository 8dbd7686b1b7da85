// Package ratelimit enforces per-window request quotas across independent
// dimensions (API key, user, IP) with atomic counting, optionally biased by
// system load and caller reputation.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// DefaultWindow is the window size used when a check does not specify one.
const DefaultWindow = time.Minute

// Key prefixes for the standard dimensions.
const (
	LayerAPIKey = "api_key"
	LayerUser   = "user"
	LayerIP     = "ip"
)

// APIKeyKey builds the composite counter key for an API key dimension.
func APIKeyKey(id string) string { return "apiKey:" + id }

// UserKey builds the composite counter key for a user dimension.
func UserKey(id string) string { return "user:" + id }

// IPKey builds the composite counter key for an IP dimension.
func IPKey(addr string) string { return "ip:" + addr }

// Result reports the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Store is the persistence interface for window counters. Increment must be
// atomic: concurrent callers against the same (key, windowStart) must never
// lose an increment or both observe the pre-increment count.
type Store interface {
	// Increment upserts the counter for (key, windowStart): created with
	// count 1 when absent, incremented by 1 otherwise. Returns the
	// post-increment count. The window duration lets the store expire the
	// counter once it can no longer be consulted.
	Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error)
}

// Config configures a Limiter.
type Config struct {
	Store Store
	// FailOpen allows requests through when the store errors. The config
	// package only sets this when the explicit flag is set AND the
	// environment is non-production; a database outage in production must
	// not become an unlimited-request vulnerability.
	FailOpen bool
	// Adaptive scales limits by system load. Optional.
	Adaptive *AdaptiveController
	// Behavior scales limits by caller reputation. Optional.
	Behavior *BehaviorTracker
	// LayerPolicy governs counter consumption in CheckMultiLayer.
	LayerPolicy LayerPolicy
	// Logger for store failures and policy decisions.
	Logger *slog.Logger
	// Metrics for check outcomes. Optional.
	Metrics *Metrics
}

// Limiter performs fixed-window rate limit checks against a Store.
type Limiter struct {
	store       Store
	failOpen    bool
	adaptive    *AdaptiveController
	behavior    *BehaviorTracker
	layerPolicy LayerPolicy
	log         *slog.Logger
	metrics     *Metrics
	now         func() time.Time
}

// New creates a Limiter.
func New(cfg Config) (*Limiter, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("rate limit store cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Limiter{
		store:       cfg.Store,
		failOpen:    cfg.FailOpen,
		adaptive:    cfg.Adaptive,
		behavior:    cfg.Behavior,
		layerPolicy: cfg.LayerPolicy,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
		now:         time.Now,
	}, nil
}

// CheckAndConsume atomically consumes one request from the key's current
// window and reports whether it fits within limit.
//
// Store failures are never surfaced as errors: they are converted into an
// allow (fail-open) or deny (fail-closed) decision per configuration, so an
// infrastructure outage degrades to a policy choice rather than a 500.
func (l *Limiter) CheckAndConsume(ctx context.Context, key string, limit int, window time.Duration) Result {
	if window <= 0 {
		window = DefaultWindow
	}

	now := l.now()
	windowStart := now.Truncate(window)
	resetAt := windowStart.Add(window)

	count, err := l.store.Increment(ctx, key, windowStart, window)
	if err != nil {
		if l.metrics != nil {
			l.metrics.IncStoreErrors()
		}
		if l.failOpen {
			l.log.Warn("rate limit store unavailable, failing open",
				"key", key, "error", err)
			if l.metrics != nil {
				l.metrics.IncFailOpen()
			}
			return Result{Allowed: true, Remaining: 0, ResetAt: resetAt}
		}
		l.log.Error("rate limit store unavailable, failing closed",
			"key", key, "error", err)
		if l.metrics != nil {
			l.metrics.IncFailClosed()
		}
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= int64(limit),
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// EffectiveLimit applies the adaptive and behavioral multipliers to a base
// limit. The result never drops below 1 so a well-behaved caller is never
// locked out entirely by load shedding.
func (l *Limiter) EffectiveLimit(userID string, base int) int {
	multiplier := 1.0
	if l.adaptive != nil {
		multiplier *= l.adaptive.Multiplier()
	}
	if l.behavior != nil && userID != "" {
		multiplier *= l.behavior.Multiplier(userID)
	}

	effective := int(math.Floor(float64(base) * multiplier))
	if effective < 1 {
		effective = 1
	}
	return effective
}

// ObserveBehavior records a request outcome on the caller's behavior
// profile. No-op when behavior tracking is disabled or the caller is
// anonymous.
func (l *Limiter) ObserveBehavior(userID string, success, suspicious bool) {
	if l.behavior == nil || userID == "" {
		return
	}
	l.behavior.Observe(userID, success, suspicious)
}
