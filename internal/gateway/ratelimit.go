package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterBurst   = 5
	limiterTTL     = 15 * time.Minute
	limiterCleanup = 5 * time.Minute
	anonymousActor = "anonymous"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per user. rpm <= 0 disables limiting.
type RateLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	entries     map[string]*limiterEntry
	lastCleanup time.Time
}

// NewRateLimiter builds a per-user limiter at the given requests per minute.
func NewRateLimiter(rpm int) *RateLimiter {
	if rpm <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{
		limit:       rate.Every(time.Minute / time.Duration(rpm)),
		burst:       limiterBurst,
		entries:     make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
	}
}

// Enabled reports whether limiting is active.
func (r *RateLimiter) Enabled() bool { return r.entries != nil }

// Allow consumes one token for the user, evicting idle buckets as it goes.
func (r *RateLimiter) Allow(userID string) bool {
	if r == nil || r.entries == nil {
		return true
	}
	if userID == "" {
		userID = anonymousActor
	}

	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastCleanup) >= limiterCleanup {
		for k, e := range r.entries {
			if now.Sub(e.lastSeen) > limiterTTL {
				delete(r.entries, k)
			}
		}
		r.lastCleanup = now
	}

	e, ok := r.entries[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.entries[userID] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}
