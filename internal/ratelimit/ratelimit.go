// Package ratelimit implements one token bucket per external dependency
// (OpenAI, Reddit, Mastodon) plus the adaptive backoff of spec §4.5:
// delay := min(max_backoff, base·2^consecutive_failures), reset to base
// after any success, Retry-After honored when the caller has it.
package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"contentpipe/internal/netpolicy"
)

// Limiter guards one external dependency. Concurrent callers share the
// bucket through rate.Limiter's internal mutex — concurrency never
// corrupts token accounting (spec §4.5).
type Limiter struct {
	bucket *rate.Limiter

	mu        sync.Mutex
	failures  int
	base, max time.Duration
}

// New returns a Limiter refilling at qpm tokens per minute, with a burst of
// one (bursting further would defeat the point of a per-minute cap on a
// rate-limited external API).
func New(qpm int, base, max time.Duration) *Limiter {
	if qpm <= 0 {
		qpm = 1
	}
	perSecond := rate.Limit(float64(qpm) / 60.0)
	return &Limiter{
		bucket: rate.NewLimiter(perSecond, 1),
		base:   base,
		max:    max,
	}
}

// Wait blocks until a token is available or ctx is done, bounded by the
// caller's deadline (spec §5: "acquisition is a blocking wait bounded by
// the deadline").
func (l *Limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}

// OnSuccess resets the consecutive-failure counter, per spec §4.5 ("reset
// to base after any success").
func (l *Limiter) OnSuccess() {
	l.mu.Lock()
	l.failures = 0
	l.mu.Unlock()
}

// OnFailure records a failure and sleeps for the backoff before the next
// attempt, honoring retryAfterHeaders when present. It returns ctx's error
// if ctx is canceled during the sleep, nil otherwise.
func (l *Limiter) OnFailure(ctx context.Context, retryAfterHeaders http.Header) error {
	l.mu.Lock()
	l.failures++
	attempt := l.failures
	l.mu.Unlock()

	return netpolicy.Sleep(ctx, attempt, retryAfterHeaders, l.base, l.max)
}
