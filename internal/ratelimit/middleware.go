package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"authify/internal/models"
)

const (
	HeaderLimit             = "X-Rate-Limit-Limit"
	HeaderReset             = "X-Rate-Limit-Reset"
	HeaderRemaining         = "X-Rate-Limit-Remaining"
	HeaderRetryAfterSeconds = "X-Rate-Limit-Retry-After-Seconds"
)

// Recorder receives every throttling decision, typically to count it.
type Recorder interface {
	RecordDecision(ctx context.Context, class string, allowed bool)
}

type middlewareOptions struct {
	classify func(path string) Class
	recorder Recorder
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareOptions)

// WithRecorder reports each decision to rec.
func WithRecorder(rec Recorder) MiddlewareOption {
	return func(o *middlewareOptions) { o.recorder = rec }
}

// WithClassifier replaces Classify.
func WithClassifier(fn func(path string) Class) MiddlewareOption {
	return func(o *middlewareOptions) { o.classify = fn }
}

// Middleware returns HTTP middleware that charges each classified request
// against the bucket of its (class, client identity) pair. Every classified
// response carries the bucket capacity and the Unix time it is full again.
// Allowed requests get X-Rate-Limit-Remaining and continue. Denied requests
// are answered with 429 plus X-Rate-Limit-Retry-After-Seconds and Retry-After,
// and never reach next. Unclassified requests pass straight through.
func Middleware(limiter Limiter, resolver IdentityResolver, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	o := &middlewareOptions{classify: Classify}
	for _, opt := range opts {
		opt(o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class := o.classify(r.URL.Path)
			if class == ClassNone {
				next.ServeHTTP(w, r)
				return
			}

			key := resolver.Resolve(r)
			allowed, info := limiter.Allow(class, key)

			if o.recorder != nil {
				o.recorder.RecordDecision(r.Context(), string(class), allowed)
			}

			w.Header().Set(HeaderLimit, strconv.Itoa(info.Limit))
			w.Header().Set(HeaderReset, strconv.FormatInt(info.ResetAt.Unix(), 10))

			if !allowed {
				retryAfter := info.RetryAfterSeconds()
				w.Header().Set(HeaderRetryAfterSeconds, strconv.FormatInt(retryAfter, 10))
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				if err := json.NewEncoder(w).Encode(models.NewRateLimitResponse(retryAfter)); err != nil {
					slog.Error("Failed to encode rate limit response", "error", err)
				}

				slog.Warn("Rate limit exceeded",
					"class", class,
					"key", key,
					"path", r.URL.Path,
					"retry_after_seconds", retryAfter,
				)
				return
			}

			w.Header().Set(HeaderRemaining, strconv.Itoa(info.Remaining))
			slog.Debug("Rate limit check passed",
				"class", class,
				"key", key,
				"remaining", info.Remaining,
			)

			next.ServeHTTP(w, r)
		})
	}
}
