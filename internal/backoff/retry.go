package backoff

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/relay/internal/upstream"
)

// Outcome is the terminal state of one Execute call.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable_failure"
	OutcomeFatal     Outcome = "fatal_failure"
)

// Result holds the result of a retry operation.
type Result[T any] struct {
	// Value is the successful result value.
	Value T
	// Attempts is the number of attempts made (1-indexed).
	Attempts int
	// Waits records each backoff wait in order.
	Waits []time.Duration
	// Outcome is how the loop terminated.
	Outcome Outcome
	// LastError is the last error encountered, if any.
	LastError error
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Execute runs op until it succeeds, fails fatally, or the policy's attempts
// are used up.
//
// Failures are classified once per attempt. A fatal failure is returned
// immediately. A retryable failure on the last attempt is returned wrapped in
// *ExhaustedError. Otherwise Execute waits for the current backoff, doubles
// it (capped at policy.Max) and tries again. The wait is cancelled by ctx,
// which callers tie to process shutdown.
//
// Delay(policy, n) is a lower bound on the wait before attempt n+1, not the
// exact wait. When the failure carries a Retry-After hint longer than that,
// Execute waits min(hint, policy.Max) instead.
func Execute[T any](ctx context.Context, policy Policy, op func(ctx context.Context, attempt int) (T, error)) (Result[T], error) {
	var result Result[T]
	if err := policy.Validate(); err != nil {
		result.Outcome = OutcomeFatal
		result.LastError = err
		return result, err
	}

	wait := min(policy.Initial, policy.Max)
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.Outcome = OutcomeFatal
			if result.LastError == nil {
				result.LastError = err
			}
			return result, err
		}

		value, err := op(ctx, attempt)
		if err == nil {
			result.Value = value
			result.Outcome = OutcomeSuccess
			result.LastError = nil
			return result, nil
		}
		result.LastError = err

		if policy.classify(err) == upstream.ClassFatal {
			result.Outcome = OutcomeFatal
			return result, err
		}
		if attempt >= policy.MaxAttempts {
			result.Outcome = OutcomeRetryable
			return result, &ExhaustedError{Attempts: attempt, Last: err}
		}

		delay := wait
		hint := upstream.RetryAfterOf(err)
		if hint > delay {
			delay = min(hint, policy.Max)
		}
		if policy.OnRetry != nil {
			ev := RetryEvent{Attempt: attempt, Wait: delay, Err: err}
			if upstream.ReasonOf(err) == upstream.ReasonRateLimit {
				ev.RateLimitWait = hint
			}
			policy.OnRetry(ev)
		}
		result.Waits = append(result.Waits, delay)

		if err := SleepWithContext(ctx, delay); err != nil {
			result.Outcome = OutcomeFatal
			return result, fmt.Errorf("retry interrupted after attempt %d: %w", attempt, err)
		}
		wait = next(wait, policy.Max)
	}
}

// Do is Execute for operations without a result value.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context, attempt int) error) (int, error) {
	result, err := Execute(ctx, policy, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, op(ctx, attempt)
	})
	return result.Attempts, err
}
