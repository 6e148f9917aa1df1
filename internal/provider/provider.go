package provider

import (
	"context"
	"errors"
	"fmt"
)

// Supplier failure modes. Unavailable and timeout count against the
// circuit breaker; a rejection is a caller error and does not.
var (
	ErrSupplierUnavailable = errors.New("supplier unavailable")
	ErrSupplierTimeout     = errors.New("supplier timeout")
)

// RejectedError is a supplier rejecting the reservation itself
// (invalid offer, sold out, bad passenger data). It maps to the 4xx
// class: the supplier is healthy, the request is not.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("supplier rejected reservation: %s", e.Reason)
}

// IsCallerError reports whether err should be exempt from circuit
// breaker failure accounting.
func IsCallerError(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// Offer identifies what is being reserved with a supplier.
type Offer struct {
	OfferID     string `json:"offer_id"`
	ServiceType string `json:"service_type"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// Passenger carries the traveller details suppliers require.
type Passenger struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
}

// Reservation is the result of a successful supplier reserve call.
type Reservation struct {
	SupplierBookingID string
	ConfirmationCode  string
}

// Client is the port to one travel supplier. One implementation per
// supplier lives in the per-supplier glue layer outside this engine;
// the saga never branches on supplier identity.
type Client interface {
	// ProviderID returns the registry identifier, e.g. "amadeus-hotel".
	ProviderID() string

	// Reserve books the offer with the supplier. Failure modes:
	// ErrSupplierUnavailable, ErrSupplierTimeout, *RejectedError.
	Reserve(ctx context.Context, offer Offer, passengers []Passenger) (*Reservation, error)

	// Cancel releases a reservation previously made by Reserve.
	// Used both for explicit cancellation and saga compensation.
	Cancel(ctx context.Context, supplierBookingID string) error
}
