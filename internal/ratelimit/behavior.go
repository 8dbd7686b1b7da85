package ratelimit

import (
	"math/rand"
	"sync"
	"time"
)

// Reputation and multiplier bounds.
const (
	// InitialReputation is the neutral score assigned to a first-seen user.
	InitialReputation = 50.0
	// MaxReputation caps the score.
	MaxReputation = 100.0
	// MinReputation floors the score.
	MinReputation = 0.0

	// errorRateWeight is the EMA weight given to each new observation.
	errorRateWeight = 0.1

	// minBehaviorMultiplier and maxBehaviorMultiplier clamp the composed
	// multiplier.
	minBehaviorMultiplier = 0.1
	maxBehaviorMultiplier = 2.0
)

// DefaultProfileMaxIdle is how long a profile may sit inactive before the
// sweep removes it.
const DefaultProfileMaxIdle = 24 * time.Hour

// defaultSweepProbability is the chance an Observe call triggers a sweep of
// idle profiles. Probabilistic so no caller pays the full sweep cost on a
// predictable schedule.
const defaultSweepProbability = 0.01

// Profile tracks one user's observed behavior for the process lifetime.
type Profile struct {
	RequestCount int64
	// ErrorRate is an exponential moving average in [0, 1].
	ErrorRate    float64
	LastActivity time.Time
	// Suspicious is sticky: once flagged, the profile stays flagged.
	Suspicious bool
	// Reputation is a bounded trust score in [0, 100].
	Reputation float64
}

// BehaviorTracker maintains in-memory per-user behavior profiles and
// derives a rate limit multiplier from them. Profiles are process-local;
// multi-instance deployments see per-instance accuracy only.
type BehaviorTracker struct {
	mu       sync.Mutex
	profiles map[string]*Profile

	maxIdle   time.Duration
	sweepProb float64
	now       func() time.Time
	randFloat func() float64
}

// NewBehaviorTracker creates an empty tracker.
func NewBehaviorTracker() *BehaviorTracker {
	return &BehaviorTracker{
		profiles:  make(map[string]*Profile),
		maxIdle:   DefaultProfileMaxIdle,
		sweepProb: defaultSweepProbability,
		now:       time.Now,
		randFloat: rand.Float64,
	}
}

// Observe records one request outcome for the user.
//
// Reputation moves +0.1 on a successful non-suspicious request, -1 on a
// failed request, and an additional -10 when flagged suspicious, clamped to
// [0, 100]. The error rate EMA takes each observation at weight 0.1.
func (t *BehaviorTracker) Observe(userID string, success, suspicious bool) {
	if userID == "" {
		return
	}

	t.mu.Lock()

	p, exists := t.profiles[userID]
	if !exists {
		p = &Profile{Reputation: InitialReputation}
		t.profiles[userID] = p
	}

	p.RequestCount++
	p.LastActivity = t.now()

	observed := 0.0
	if !success {
		observed = 1.0
	}
	p.ErrorRate = clamp((1-errorRateWeight)*p.ErrorRate+errorRateWeight*observed, 0, 1)

	if success && !suspicious {
		p.Reputation += 0.1
	} else if !success {
		p.Reputation -= 1
	}
	if suspicious {
		p.Reputation -= 10
		p.Suspicious = true
	}
	p.Reputation = clamp(p.Reputation, MinReputation, MaxReputation)

	sweep := t.randFloat() < t.sweepProb
	t.mu.Unlock()

	if sweep {
		t.Sweep()
	}
}

// Multiplier returns the behavioral limit multiplier for a user. Unknown
// users get 1.0. Components compose multiplicatively and the result is
// clamped to [0.1, 2.0].
func (t *BehaviorTracker) Multiplier(userID string) float64 {
	t.mu.Lock()
	p, exists := t.profiles[userID]
	if !exists {
		t.mu.Unlock()
		return 1.0
	}
	reputation := p.Reputation
	errorRate := p.ErrorRate
	suspicious := p.Suspicious
	t.mu.Unlock()

	multiplier := 1.0

	switch {
	case reputation >= 80:
		multiplier *= 1.5
	case reputation >= 60:
		multiplier *= 1.2
	case reputation < 30:
		multiplier *= 0.5
	}

	switch {
	case errorRate > 0.5:
		multiplier *= 0.3
	case errorRate > 0.2:
		multiplier *= 0.7
	}

	if suspicious {
		multiplier *= 0.2
	}

	return clamp(multiplier, minBehaviorMultiplier, maxBehaviorMultiplier)
}

// Snapshot returns a copy of a user's profile, or nil when one does not
// exist. Used by tests and diagnostics.
func (t *BehaviorTracker) Snapshot(userID string) *Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, exists := t.profiles[userID]
	if !exists {
		return nil
	}
	dup := *p
	return &dup
}

// Sweep removes profiles idle longer than the max idle duration. Returns
// the number of profiles removed.
func (t *BehaviorTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.maxIdle)
	var removed int
	for userID, p := range t.profiles {
		if p.LastActivity.Before(cutoff) {
			delete(t.profiles, userID)
			removed++
		}
	}
	return removed
}

// ProfileCount returns the number of tracked profiles.
func (t *BehaviorTracker) ProfileCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.profiles)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
