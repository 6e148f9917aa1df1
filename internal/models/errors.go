package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoProviderAvailable is returned when no enabled, healthy provider
// with remaining quota exists for a service type. This is a capacity
// fault, not a breaker fault: callers may retry after backoff.
var ErrNoProviderAvailable = errors.New("no provider available")

// ErrBookingNotFound is returned when no booking exists for an id.
// Distinguishes a missing row from a store failure at the HTTP layer.
var ErrBookingNotFound = errors.New("booking not found")

// ValidationError rejects a request before any external call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RateLimitedError is returned when the caller exceeded a rate limit.
// Retryable after RetryAfter.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// CompensationError wraps a failed compensating action. It is always
// escalated to a manual-intervention alert: a failed compensation
// implies a paid-but-unconfirmed or reserved-but-uncharged state.
type CompensationError struct {
	BookingID string
	Step      string // "cancel_reservation" | "refund_payment" | "cancel_intent"
	Cause     error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation %s failed for booking %s: %v", e.Step, e.BookingID, e.Cause)
}

func (e *CompensationError) Unwrap() error { return e.Cause }
