// Package netpolicy holds the retry/backoff policy shared by the rate
// limiter and every outbound call to Reddit, Mastodon, and OpenAI.
package netpolicy

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// IsSafeMethod reports whether method is idempotent and therefore safe to
// retry automatically.
func IsSafeMethod(method string) bool {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// RetryAfterDelay parses a Retry-After header in either delta-seconds or
// HTTP-date form.
func RetryAfterDelay(headers http.Header) (time.Duration, bool) {
	if headers == nil {
		return 0, false
	}
	raw := strings.TrimSpace(headers.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(raw); err == nil {
		d := time.Until(when)
		if d < 0 {
			return 0, true
		}
		return d, true
	}
	return 0, false
}

// BackoffDelay implements the base·2^failures ceiling from spec §4.1, with
// base and max supplied by the caller (the rate limiter uses 2s/300s; other
// callers may use tighter bounds).
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base * time.Duration(uint64(1)<<uint(min(attempt-1, 32)))
	if d > max || d <= 0 {
		return max
	}
	return d
}

// BackoffJitterDelay is BackoffDelay with up to 50% jitter shaved off the
// top, so concurrent callers sharing one bucket don't retry in lockstep.
func BackoffJitterDelay(attempt int, base, max time.Duration) time.Duration {
	delay := BackoffDelay(attempt, base, max)
	if delay <= time.Millisecond {
		return delay
	}
	lo := delay / 2
	jitter := time.Duration(rand.Int63n(int64(delay-lo) + 1))
	return lo + jitter
}

// RetryDelay honors Retry-After when present, else falls back to jittered
// exponential backoff.
func RetryDelay(attempt int, headers http.Header, base, max time.Duration) time.Duration {
	if d, ok := RetryAfterDelay(headers); ok {
		if d < 0 {
			return 0
		}
		if d > max {
			return max
		}
		return d
	}
	return BackoffJitterDelay(attempt, base, max)
}

// Sleep waits for RetryDelay or ctx cancellation, whichever comes first.
func Sleep(ctx context.Context, attempt int, headers http.Header, base, max time.Duration) error {
	d := RetryDelay(attempt, headers, base, max)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
