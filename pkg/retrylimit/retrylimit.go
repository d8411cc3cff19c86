// Package retrylimit provides an adaptive rate limiter for outgoing requests
// and a bounded retry loop for reconnecting clients.
//
// Example usage:
//
//	lim := retrylimit.NewAdaptiveLimiter(20, 1, 50, 1, 0.5)
//	if err := lim.Wait(ctx); err != nil {
//	    return err
//	}
//
//	err := retrylimit.WithRetryConfig(ctx, dial, nil, retrylimit.RetryConfig{
//	    MaxAttempts:  5,
//	    InitialDelay: 5 * time.Second,
//	    Multiplier:   1,
//	    DelayFirst:   true,
//	})
package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrMaxAttempts is returned when the retry budget is exhausted.
var ErrMaxAttempts = errors.New("max attempts exceeded")

// =============================================================================
// Limiter
// =============================================================================

// AdaptiveLimiter manages a rate limit that adjusts automatically based
// on the outcome of requests. It increases on success and decreases on
// errors. Safe for concurrent use.
type AdaptiveLimiter struct {
	mu        sync.RWMutex
	limiter   *rate.Limiter
	minLimit  rate.Limit
	maxLimit  rate.Limit
	stepUp    rate.Limit
	stepDown  float64
	lastError time.Time
}

// NewAdaptiveLimiter creates an AdaptiveLimiter.
//
// Parameters:
//   - initial: starting requests per second
//   - minRate: minimum allowed rate
//   - maxRate: maximum allowed rate
//   - stepUp: increment on success
//   - stepDown: multiplier applied on failure (e.g., 0.5 to halve)
func NewAdaptiveLimiter(initial, minRate, maxRate rate.Limit, stepUp rate.Limit, stepDown float64) *AdaptiveLimiter {
	if initial < 1 {
		initial = 1
	}
	if minRate < 1 {
		minRate = 1
	}
	if maxRate < initial {
		maxRate = initial
	}
	return &AdaptiveLimiter{
		limiter:  rate.NewLimiter(initial, max(1, int(initial))),
		minLimit: minRate,
		maxLimit: maxRate,
		stepUp:   stepUp,
		stepDown: stepDown,
	}
}

// Wait blocks until a token is available or the context is canceled.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return a.limiter.Wait(ctx)
}

// Success increases the rate once no error has been seen for a while.
func (a *AdaptiveLimiter) Success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if time.Since(a.lastError) > 10*time.Second {
		a.adjustLimit(a.limiter.Limit() + a.stepUp)
	}
}

// RateLimited reduces the rate after a response indicating overload.
func (a *AdaptiveLimiter) RateLimited() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = time.Now()
	a.adjustLimit(rate.Limit(float64(a.limiter.Limit()) * a.stepDown))
}

// Observe feeds the outcome of a request back into the limiter.
func (a *AdaptiveLimiter) Observe(err error) {
	if err == nil {
		a.Success()
		return
	}
	if DefaultClassifier(err) {
		a.RateLimited()
	}
}

// CurrentLimit returns the current requests per second.
func (a *AdaptiveLimiter) CurrentLimit() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return float64(a.limiter.Limit())
}

// CurrentBurst returns the current burst size.
func (a *AdaptiveLimiter) CurrentBurst() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.limiter.Burst()
}

func (a *AdaptiveLimiter) adjustLimit(newLimit rate.Limit) {
	if newLimit > a.maxLimit {
		newLimit = a.maxLimit
	} else if newLimit < a.minLimit {
		newLimit = a.minLimit
	}
	if newLimit != a.limiter.Limit() {
		a.limiter.SetLimit(newLimit)
		a.limiter.SetBurst(max(1, int(newLimit)))
	}
}

// =============================================================================
// Errors
// =============================================================================

// HTTPError is implemented by errors that carry an HTTP status code.
type HTTPError interface {
	error
	StatusCode() int
}

// FatalError stops a retry loop immediately.
type FatalError struct {
	Err error
}

func (f *FatalError) Error() string { return f.Err.Error() }
func (f *FatalError) Unwrap() error { return f.Err }

// ErrorClassifier returns true if the error should slow the limiter down.
type ErrorClassifier func(error) bool

// DefaultClassifier returns true for 429 and 5xx responses.
func DefaultClassifier(err error) bool {
	return isRateLimitError(err) || isServerError(err)
}

// =============================================================================
// Retry
// =============================================================================

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts     int                          // Maximum number of attempts (0 = capped at 100)
	InitialDelay    time.Duration                // Delay between attempts
	MaxDelay        time.Duration                // Upper bound for the delay (0 = no bound)
	Multiplier      float64                      // 1 keeps the delay fixed
	Jitter          bool                         // Add up to 25% random jitter
	DelayFirst      bool                         // Wait InitialDelay before the first attempt
	ErrorClassifier ErrorClassifier              // nil = DefaultClassifier
	OnAttempt       func(attempt int)            // Called before every attempt
	OnRetry         func(attempt int, err error) // Called after every failed attempt
}

// FixedDelay is a bounded retry policy with a constant delay and no jitter.
func FixedDelay(attempts int, delay time.Duration) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: delay,
		Multiplier:   1,
		DelayFirst:   true,
	}
}

// WithRetryConfig executes fn until it succeeds, returns a FatalError,
// the context is done, or MaxAttempts is reached.
func WithRetryConfig(ctx context.Context, fn func() error, lim *AdaptiveLimiter, cfg RetryConfig) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 100
	}
	if cfg.ErrorClassifier == nil {
		cfg.ErrorClassifier = DefaultClassifier
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 || cfg.DelayFirst {
			wait := delay
			if cfg.Jitter {
				wait = addJitter(delay)
			}
			if err := sleep(ctx, wait); err != nil {
				return err
			}
			if attempt > 1 {
				delay = time.Duration(float64(delay) * cfg.Multiplier)
				if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			}
		}

		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}
		if cfg.OnAttempt != nil {
			cfg.OnAttempt(attempt)
		}

		err := fn()
		if err == nil {
			if lim != nil {
				lim.Success()
			}
			return nil
		}
		lastErr = err

		var fatal *FatalError
		if errors.As(err, &fatal) {
			return err
		}
		if lim != nil && cfg.ErrorClassifier(err) {
			lim.RateLimited()
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
	}

	return fmt.Errorf("%w (%d): %v", ErrMaxAttempts, cfg.MaxAttempts, lastErr)
}

// =============================================================================
// Helper functions
// =============================================================================

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// addJitter adds random jitter (0-25% of delay).
func addJitter(delay time.Duration) time.Duration {
	if delay < 4 {
		return delay
	}
	return delay + time.Duration(rand.Int63n(int64(delay/4)))
}

func isRateLimitError(err error) bool {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode() == http.StatusTooManyRequests
	}
	return false
}

func isServerError(err error) bool {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		code := httpErr.StatusCode()
		return code >= 500 && code < 600
	}
	return false
}
