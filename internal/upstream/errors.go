// Package upstream classifies failures from the model provider so the retry
// executor can decide, in one place, whether an error is worth retrying.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/relay/internal/cost"
)

// Class is the retry discriminant attached to every upstream failure.
type Class string

const (
	// ClassRetryable marks transient failures: 429, 5xx, timeouts, connection resets.
	ClassRetryable Class = "retryable"

	// ClassFatal marks failures that will not succeed on retry: 4xx other than 429,
	// unknown-model configuration errors, malformed requests.
	ClassFatal Class = "fatal"
)

// Reason refines the class for logging and metrics.
type Reason string

const (
	ReasonRateLimit      Reason = "rate_limit"
	ReasonServerError    Reason = "server_error"
	ReasonTimeout        Reason = "timeout"
	ReasonAuth           Reason = "auth"
	ReasonBilling        Reason = "billing"
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonNotFound       Reason = "not_found"
	ReasonUnknownModel   Reason = "unknown_model"
	ReasonCanceled       Reason = "canceled"
	ReasonUnknown        Reason = "unknown"
)

// Error is a classified failure from a model provider. Provider clients must
// return (or wrap) an *Error so that Status is visible to Classify.
type Error struct {
	Provider  string
	Model     string
	Status    int
	Reason    Reason
	Class     Class
	Message   string
	RequestID string

	// RetryAfter is the provider's backoff hint, if it sent one.
	RetryAfter time.Duration

	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the error is in the retryable class.
func (e *Error) Retryable() bool {
	return e.Class == ClassRetryable
}

// NewError builds a classified error from an HTTP-like status code.
func NewError(provider, model string, status int, cause error) *Error {
	reason := ReasonFromStatus(status)
	e := &Error{
		Provider: provider,
		Model:    model,
		Status:   status,
		Reason:   reason,
		Class:    ClassFromStatus(status),
		Cause:    cause,
	}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// FromTransport wraps an error that occurred before any HTTP status was
// received, such as a timeout, a cancelled context or a refused connection.
func FromTransport(provider, model string, cause error) *Error {
	reason := reasonOf(cause)
	return &Error{
		Provider: provider,
		Model:    model,
		Reason:   reason,
		Class:    classOf(reason),
		Message:  cause.Error(),
		Cause:    cause,
	}
}

// WithRetryAfter sets the provider backoff hint.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithRequestID sets the provider request id.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// ReasonFromStatus maps an HTTP status to a reason. 429 is always retryable;
// every other 4xx is fatal; 5xx is retryable.
func ReasonFromStatus(status int) Reason {
	switch {
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusNotFound:
		return ReasonNotFound
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status >= 400 && status < 500:
		return ReasonInvalidRequest
	case status >= 500 && status < 600:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// ClassFromStatus returns the retry class for an HTTP status. A zero status
// (no response received) is treated as transient.
func ClassFromStatus(status int) Class {
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return ClassFatal
	}
	return ClassRetryable
}

func classOf(reason Reason) Class {
	switch reason {
	case ReasonRateLimit, ReasonServerError, ReasonTimeout, ReasonUnknown:
		return ClassRetryable
	default:
		return ClassFatal
	}
}

// Classify returns the retry class of err. It is the single authority for
// retry decisions; callers must not sniff statuses themselves.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	var upErr *Error
	if errors.As(err, &upErr) {
		if upErr.Class != "" {
			return upErr.Class
		}
		return ClassFromStatus(upErr.Status)
	}
	return classOf(reasonOf(err))
}

// ReasonOf returns the refined reason for err.
func ReasonOf(err error) Reason {
	var upErr *Error
	if errors.As(err, &upErr) && upErr.Reason != "" {
		return upErr.Reason
	}
	return reasonOf(err)
}

func reasonOf(err error) Reason {
	switch {
	case errors.Is(err, cost.ErrUnknownModel):
		return ReasonUnknownModel
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonUnknown
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var upErr *Error
	if errors.As(err, &upErr) {
		return upErr.Status
	}
	return 0
}

// RetryAfterOf returns the provider backoff hint carried by err, or 0.
func RetryAfterOf(err error) time.Duration {
	var upErr *Error
	if errors.As(err, &upErr) {
		return upErr.RetryAfter
	}
	return 0
}
