package models

import "time"

// Event types
const (
	EventTypeBookingCreated     = "BOOKING_CREATED"
	EventTypeBookingConfirmed   = "BOOKING_CONFIRMED"
	EventTypeBookingFailed      = "BOOKING_FAILED"
	EventTypeBookingExpired     = "BOOKING_EXPIRED"
	EventTypeBookingCancelled   = "BOOKING_CANCELLED"
	EventTypeCompensationFailed = "COMPENSATION_FAILED"
	EventTypePaymentCaptured    = "PAYMENT_CAPTURED"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// BookingCreatedEvent published when a saga is accepted
type BookingCreatedEvent struct {
	BaseEvent
	BookingID        string `json:"booking_id"`
	BookingReference string `json:"booking_reference"`
	ServiceType      string `json:"service_type"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
}

// BookingConfirmedEvent published when the saga completes
type BookingConfirmedEvent struct {
	BaseEvent
	BookingID         string `json:"booking_id"`
	ProviderID        string `json:"provider_id"`
	SupplierBookingID string `json:"supplier_booking_id"`
	PaymentRef        string `json:"payment_ref"`
}

// BookingFailedEvent published on a terminal saga failure
type BookingFailedEvent struct {
	BaseEvent
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

// BookingExpiredEvent published by the recovery sweep
type BookingExpiredEvent struct {
	BaseEvent
	BookingID  string `json:"booking_id"`
	LastStatus string `json:"last_status"`
}

// BookingCancelledEvent published on explicit cancellation
type BookingCancelledEvent struct {
	BaseEvent
	BookingID string `json:"booking_id"`
}

// CompensationFailedEvent is the manual-intervention alert: a
// compensating action failed, leaving money or a reservation dangling.
type CompensationFailedEvent struct {
	BaseEvent
	BookingID string `json:"booking_id"`
	Step      string `json:"step"`
	Detail    string `json:"detail"`
}

// PaymentCapturedEvent is relayed from the gateway webhook for sagas
// whose capture came back pending.
type PaymentCapturedEvent struct {
	BaseEvent
	BookingID  string `json:"booking_id"`
	IntentID   string `json:"intent_id"`
	PaymentRef string `json:"payment_ref"`
}

// PaymentFailedEvent is relayed from the gateway webhook
type PaymentFailedEvent struct {
	BaseEvent
	BookingID string `json:"booking_id"`
	IntentID  string `json:"intent_id"`
	Reason    string `json:"reason"`
}
