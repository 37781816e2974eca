package ratelimit

import (
	"sync"
	"time"
)

// bucket is a token bucket refilled in whole intervals. Between interval
// boundaries the token count only goes down.
type bucket struct {
	profile Profile

	mu           sync.Mutex
	available    int
	lastRefillAt time.Time
}

func newBucket(p Profile, now time.Time) *bucket {
	return &bucket{
		profile:      p,
		available:    p.Capacity,
		lastRefillAt: now,
	}
}

// refill credits RefillTokens for every whole interval elapsed since
// lastRefillAt and advances lastRefillAt by exactly those intervals, keeping
// the partial interval for the next call. Caller holds b.mu.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefillAt)
	if elapsed < b.profile.RefillInterval {
		return
	}
	intervals := int64(elapsed / b.profile.RefillInterval)
	b.lastRefillAt = b.lastRefillAt.Add(time.Duration(intervals) * b.profile.RefillInterval)

	// Saturate before multiplying so long idle periods cannot overflow.
	if intervals >= int64(b.profile.Capacity) {
		b.available = b.profile.Capacity
		return
	}
	b.available = min(b.profile.Capacity, b.available+int(intervals)*b.profile.RefillTokens)
}

// tryConsume refills, then takes cost tokens if available.
func (b *bucket) tryConsume(now time.Time, cost int) (bool, Info) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now)

	allowed := b.available >= cost
	if allowed {
		b.available -= cost
	}

	info := Info{
		Limit:     b.profile.Capacity,
		Remaining: b.available,
		ResetAt:   b.untilHolding(now, b.profile.Capacity),
	}
	if !allowed {
		info.RetryAfter = b.untilHolding(now, min(cost, b.profile.Capacity)).Sub(now)
	}
	return allowed, info
}

// untilHolding returns the first refill boundary at which the bucket holds at
// least want tokens, or now if it already does. Caller holds b.mu.
func (b *bucket) untilHolding(now time.Time, want int) time.Time {
	missing := want - b.available
	if missing <= 0 {
		return now
	}
	intervals := (missing + b.profile.RefillTokens - 1) / b.profile.RefillTokens
	return b.lastRefillAt.Add(time.Duration(intervals) * b.profile.RefillInterval)
}

// tokens reports the current balance after refill.
func (b *bucket) tokens(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	return b.available
}
