// Package ratelimit wraps a retryable operation with per-endpoint
// Retry-After tracking and exponential backoff, so a CA's rate limiting
// response is honored rather than hammered.
package ratelimit

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/thebitrock/acme-love/acme"
)

// Config tunes a Limiter's retry and backoff behavior.
type Config struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RespectRetryAfter bool
}

// DefaultConfig returns the acme-love defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        acme.DefaultRateLimitMaxRetries,
		BaseDelay:         time.Duration(acme.DefaultRateLimitBaseDelay) * time.Millisecond,
		MaxDelay:          time.Duration(acme.DefaultRateLimitMaxDelay) * time.Millisecond,
		RespectRetryAfter: true,
	}
}

// Result is what the wrapped function returns on each attempt: a
// Retry-After value in integer seconds (empty if none), and the error (if
// any) that determines whether the Limiter should retry.
type Result struct {
	RetryAfter string
	Err        error
}

// Func is a retryable operation wrapped by Limiter.Do.
type Func func(ctx context.Context) Result

var httpStatusPattern = regexp.MustCompile(`(?i)HTTP\s*(429|503)`)

// classify reports whether err represents a rate-limit condition: an
// explicit 429/503 status, a message mentioning one of those codes, or
// "rate limit"/"too many" phrasing.
func classify(err error) bool {
	if err == nil {
		return false
	}
	if rle, ok := err.(*acme.RateLimitedError); ok {
		return rle.Status == 429 || rle.Status == 503 || rle.Status == 0
	}
	if ae, ok := err.(*acme.AcmeError); ok {
		if ae.Status == 429 || ae.Status == 503 {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	if httpStatusPattern.MatchString(msg) {
		return true
	}
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many")
}

// window tracks the active cool-down for one endpoint.
type window struct {
	retryAfterUnixMs int64
}

// Limiter tracks an independent Retry-After window per endpoint name,
// keyed by a caller-chosen endpoint identifier.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	windows map[string]*window
}

// New constructs a Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, windows: make(map[string]*window)}
}

func (l *Limiter) activeWindow(endpoint string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[endpoint]
	if !ok {
		return 0, false
	}
	remaining := time.Until(time.UnixMilli(w.retryAfterUnixMs))
	if remaining <= 0 {
		delete(l.windows, endpoint)
		return 0, false
	}
	return remaining, true
}

func (l *Limiter) setWindow(endpoint string, delay time.Duration) int64 {
	retryAt := time.Now().Add(delay).UnixMilli()
	l.mu.Lock()
	l.windows[endpoint] = &window{retryAfterUnixMs: retryAt}
	l.mu.Unlock()
	return retryAt
}

func (l *Limiter) clearWindow(endpoint string) {
	l.mu.Lock()
	delete(l.windows, endpoint)
	l.mu.Unlock()
}

// Do invokes fn against endpoint, honoring any active Retry-After window
// before the call, and retrying rate-limit failures with exponential
// backoff up to cfg.MaxRetries additional attempts. Non-rate-limit errors
// propagate unchanged. After the retry budget is exhausted it returns
// *acme.RateLimitError.
func (l *Limiter) Do(ctx context.Context, endpoint string, fn Func) error {
	if remaining, active := l.activeWindow(endpoint); active {
		if err := sleep(ctx, remaining); err != nil {
			return err
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.BaseDelay
	bo.MaxInterval = l.cfg.MaxDelay
	bo.MaxElapsedTime = 0 // governed by attempt count below, not elapsed time

	attempts := 0
	var lastRetryAfterUnixMs int64
	var lastDelaySeconds int

	for {
		attempts++
		res := fn(ctx)
		if res.Err == nil {
			l.clearWindow(endpoint)
			return nil
		}
		if !classify(res.Err) {
			return res.Err
		}

		delay := nextDelay(res.RetryAfter, bo, l.cfg)
		lastDelaySeconds = int(delay / time.Second)
		lastRetryAfterUnixMs = l.setWindow(endpoint, delay)

		if attempts >= l.cfg.MaxRetries+1 {
			return &acme.RateLimitError{
				Endpoint:          endpoint,
				RetryAfterUnixMs:  lastRetryAfterUnixMs,
				RetryDelaySeconds: lastDelaySeconds,
				Attempts:          attempts,
			}
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// nextDelay parses an explicit integer-seconds Retry-After value if
// present and the limiter is configured to honor it; otherwise falls back
// to exponential backoff.
func nextDelay(retryAfter string, bo *backoff.ExponentialBackOff, cfg Config) time.Duration {
	if cfg.RespectRetryAfter && retryAfter != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
			d := time.Duration(secs) * time.Second
			if d > cfg.MaxDelay {
				d = cfg.MaxDelay
			}
			return d
		}
	}
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return cfg.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return &acme.CancellationError{Cause: ctx.Err()}
	}
}

// Endpoint builds the dotted name used as a Limiter key, e.g.
// "newOrder" or "order.finalize", distinguishing otherwise-identical
// endpoint names invoked in different phases of the issuance pipeline.
func Endpoint(parts ...string) string {
	return strings.Join(parts, ".")
}
