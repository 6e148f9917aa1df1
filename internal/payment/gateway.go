package payment

import (
	"context"
	"fmt"
)

// Capture outcomes
const (
	CaptureSucceeded = "succeeded"
	CapturePending   = "pending"
	CaptureFailed    = "failed"
)

// Error is a payment gateway failure. A payment failure after a
// confirmed supplier reservation triggers saga compensation.
type Error struct {
	Op     string // "create_intent" | "capture" | "refund" | "cancel_intent"
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("payment %s failed: %s", e.Op, e.Reason)
}

// Gateway is the port to the payment processor. Implemented by the
// excluded glue layer (Stripe-style intent/capture/refund lifecycle).
type Gateway interface {
	// CreateIntent opens a payment intent for the amount in minor units.
	// Metadata carries at least the booking_id for reconciliation.
	CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (intentID string, err error)

	// Capture attempts to capture the intent. Returns one of
	// CaptureSucceeded, CapturePending, CaptureFailed.
	Capture(ctx context.Context, intentID string) (status string, err error)

	// Refund refunds a captured intent (cancellation compensation).
	Refund(ctx context.Context, intentID string) error

	// CancelIntent voids an intent that was never captured.
	CancelIntent(ctx context.Context, intentID string) error
}
