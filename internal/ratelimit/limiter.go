// Package ratelimit throttles HTTP requests per client and per route class
// using token buckets with interval-discrete refill. Requests are classified by
// path into login, otp or general; each (class, client) pair owns one bucket.
// Unclassified routes are never throttled and never allocate a bucket.
package ratelimit

import (
	"errors"
	"time"

	"authify/internal/models"
)

// Class identifies a throttling profile.
type Class string

const (
	ClassNone    Class = ""
	ClassLogin   Class = "login"
	ClassOTP     Class = "otp"
	ClassGeneral Class = "general"
)

// ErrUnknownClass is returned for a class with no configured profile.
var ErrUnknownClass = errors.New("ratelimit: unknown class")

// Limiter defines the rate limiting contract. Implementations must be safe for
// concurrent use.
type Limiter interface {
	// Allow consumes one token from the bucket for (class, key) and reports
	// the decision with state for populating response headers.
	Allow(class Class, key string) (allowed bool, info Info)

	// Close stops background goroutines and releases resources.
	Close()
}

// Info describes the state of a bucket after a consume attempt.
type Info struct {
	Limit      int           // Bucket capacity
	Remaining  int           // Tokens left after this attempt
	ResetAt    time.Time     // When the bucket will be full again
	RetryAfter time.Duration // Wait until enough tokens refill (denied only)
}

// RetryAfterSeconds reports RetryAfter in whole seconds, rounded down.
func (i Info) RetryAfterSeconds() int64 {
	return int64(i.RetryAfter / time.Second)
}

// Profile is the shape of every bucket in a class.
type Profile struct {
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
}

func profileFrom(b models.BucketConfig) Profile {
	return Profile{
		Capacity:       b.Capacity,
		RefillTokens:   b.RefillTokens,
		RefillInterval: b.RefillInterval(),
	}
}

// ProfilesFromConfig maps the configured bucket settings onto classes.
func ProfilesFromConfig(cfg models.RateLimitConfig) map[Class]Profile {
	return map[Class]Profile{
		ClassLogin:   profileFrom(cfg.Login),
		ClassOTP:     profileFrom(cfg.OTP),
		ClassGeneral: profileFrom(cfg.General),
	}
}
