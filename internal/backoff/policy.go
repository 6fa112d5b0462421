// Package backoff provides the retry executor used for every upstream model
// call: bounded attempts, doubling backoff capped at a maximum, and
// short-circuiting on errors classified as fatal.
package backoff

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/haasonsaas/relay/internal/upstream"
)

// Multiplier is the backoff growth factor between attempts.
const Multiplier = 2

// Policy configures the retry executor.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first. Must be >= 1.
	MaxAttempts int

	// Initial is the wait before the second attempt.
	Initial time.Duration

	// Max caps every wait.
	Max time.Duration

	// Classify decides whether a failure may be retried. Nil uses upstream.Classify.
	Classify func(error) upstream.Class

	// OnRetry is called before each backoff wait.
	OnRetry func(RetryEvent)
}

// RetryEvent describes one scheduled retry.
type RetryEvent struct {
	// Attempt is the attempt that just failed (1-indexed).
	Attempt int
	Wait    time.Duration
	Err     error

	// RateLimitWait is the provider's Retry-After hint when the failure was a rate limit.
	RateLimitWait time.Duration
}

// DefaultPolicy returns the production policy: 3 attempts, 1s initial, 30s max.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Initial:     time.Second,
		Max:         30 * time.Second,
	}
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("backoff: max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.Initial < 0 {
		return errors.New("backoff: initial backoff must not be negative")
	}
	if p.Max < p.Initial {
		return fmt.Errorf("backoff: max backoff %v is below initial %v", p.Max, p.Initial)
	}
	return nil
}

func (p Policy) classify(err error) upstream.Class {
	if p.Classify != nil {
		return p.Classify(err)
	}
	return upstream.Classify(err)
}

// Delay returns the wait after the given failed attempt (1-indexed):
// min(Initial * 2^(attempt-1), Max).
func Delay(p Policy, attempt int) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(Multiplier, exp)
	if base >= float64(p.Max) {
		return p.Max
	}
	return time.Duration(base)
}

// next doubles wait, capped at max.
func next(wait, max time.Duration) time.Duration {
	if wait > max/Multiplier {
		return max
	}
	return wait * Multiplier
}
