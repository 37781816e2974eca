package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// entry holds a bucket and its last access time for cleanup.
type entry struct {
	bucket   *bucket
	lastSeen time.Time
}

// shard is the bucket map of one class. Its mutex guards only map access;
// token accounting happens under the bucket's own lock.
type shard struct {
	profile Profile
	mu      sync.Mutex
	entries map[string]*entry
}

// Registry is an in-memory Limiter holding one bucket per (class, key).
// Buckets are created full on first use. A background goroutine evicts
// buckets that have been idle long enough to have refilled completely.
type Registry struct {
	shards          map[Class]*shard
	clock           func() time.Time
	cleanupInterval time.Duration

	closeMu sync.Mutex
	done    chan struct{}
	closed  bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock replaces time.Now, for deterministic tests.
func WithClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) { r.clock = clock }
}

// WithCleanupInterval sets how often idle buckets are swept. Zero disables
// the background sweep.
func WithCleanupInterval(d time.Duration) RegistryOption {
	return func(r *Registry) { r.cleanupInterval = d }
}

// NewRegistry creates a registry for the given class profiles.
func NewRegistry(profiles map[Class]Profile, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		shards:          make(map[Class]*shard, len(profiles)),
		clock:           time.Now,
		cleanupInterval: 10 * time.Minute,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	for class, p := range profiles {
		if class == ClassNone {
			return nil, fmt.Errorf("ratelimit: empty class name")
		}
		if p.Capacity < 1 || p.RefillTokens < 1 || p.RefillInterval <= 0 {
			return nil, fmt.Errorf("ratelimit: invalid profile for class %q", class)
		}
		r.shards[class] = &shard{profile: p, entries: make(map[string]*entry)}
	}

	if r.cleanupInterval > 0 {
		go r.cleanup()
	}
	return r, nil
}

// lookup returns the bucket for (class, key), creating it under the shard lock
// so that concurrent first requests share one bucket.
func (r *Registry) lookup(class Class, key string, now time.Time) (*bucket, error) {
	s, ok := r.shards[class]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.entries[key]
	if !exists {
		e = &entry{bucket: newBucket(s.profile, now)}
		s.entries[key] = e
	}
	e.lastSeen = now
	return e.bucket, nil
}

// TryConsume takes cost tokens from the bucket for (class, key). A cost below
// one is treated as one.
func (r *Registry) TryConsume(class Class, key string, cost int) (bool, Info, error) {
	if cost < 1 {
		cost = 1
	}
	now := r.clock()
	b, err := r.lookup(class, key, now)
	if err != nil {
		return false, Info{}, err
	}
	allowed, info := b.tryConsume(now, cost)
	return allowed, info, nil
}

// Allow implements Limiter. Unknown classes are allowed through.
func (r *Registry) Allow(class Class, key string) (bool, Info) {
	allowed, info, err := r.TryConsume(class, key, 1)
	if err != nil {
		return true, Info{}
	}
	return allowed, info
}

// Len reports how many buckets exist for class.
func (r *Registry) Len(class Class) int {
	s, ok := r.shards[class]
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Tokens reports the current balance of an existing bucket.
func (r *Registry) Tokens(class Class, key string) (int, bool) {
	s, ok := r.shards[class]
	if !ok {
		return 0, false
	}
	s.mu.Lock()
	e, exists := s.entries[key]
	s.mu.Unlock()
	if !exists {
		return 0, false
	}
	return e.bucket.tokens(r.clock()), true
}

// Close stops the background cleanup goroutine.
func (r *Registry) Close() {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
}

func (r *Registry) cleanup() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.evictStale(r.clock())
		}
	}
}

// idleTTL is how long a bucket of profile p must go unused before eviction.
// A bucket idle for longer than a full refill is full again, so dropping it
// loses no state.
func (r *Registry) idleTTL(p Profile) time.Duration {
	full := (p.Capacity + p.RefillTokens - 1) / p.RefillTokens
	ttl := 2 * time.Duration(full) * p.RefillInterval
	return max(ttl, 2*r.cleanupInterval)
}

// evictStale removes buckets that have not been accessed within their idle TTL.
func (r *Registry) evictStale(now time.Time) int {
	evicted := 0
	for _, s := range r.shards {
		cutoff := now.Add(-r.idleTTL(s.profile))
		s.mu.Lock()
		for key, e := range s.entries {
			if e.lastSeen.Before(cutoff) {
				delete(s.entries, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}
