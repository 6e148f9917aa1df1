package models

import (
	"database/sql"
	"time"
)

// Service types a provider can serve
const (
	ServiceTypeFlight   = "flight"
	ServiceTypeHotel    = "hotel"
	ServiceTypeActivity = "activity"
	ServiceTypeCar      = "car"
	ServiceTypeTransfer = "transfer"
)

// ValidServiceType reports whether t is a known service type.
func ValidServiceType(t string) bool {
	switch t {
	case ServiceTypeFlight, ServiceTypeHotel, ServiceTypeActivity, ServiceTypeCar, ServiceTypeTransfer:
		return true
	}
	return false
}

// Circuit breaker states persisted on the provider row
const (
	CircuitClosed   = "CLOSED"
	CircuitOpen     = "OPEN"
	CircuitHalfOpen = "HALF_OPEN"
)

// Provider represents a configured travel supplier
type Provider struct {
	ProviderID    string       `db:"provider_id" json:"provider_id"`
	ServiceType   string       `db:"service_type" json:"service_type"`
	Enabled       bool         `db:"enabled" json:"enabled"`
	Priority      int          `db:"priority" json:"priority"`
	CircuitState  string       `db:"circuit_state" json:"circuit_state"`
	FailureCount  int          `db:"failure_count" json:"failure_count"`
	LastFailureAt sql.NullTime `db:"last_failure_at" json:"last_failure_at,omitempty"`
	LastSuccessAt sql.NullTime `db:"last_success_at" json:"last_success_at,omitempty"`
	QuotaUsedPct  float64      `db:"quota_used_pct" json:"quota_used_pct"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// Booking statuses. The status field is the saga state machine;
// transitions must follow AllowedTransitions.
const (
	BookingStatusPending           = "pending"
	BookingStatusProviderConfirmed = "provider_confirmed"
	BookingStatusPaymentPending    = "payment_pending"
	BookingStatusConfirmed         = "confirmed"
	BookingStatusFailed            = "failed"
	BookingStatusExpired           = "expired"
	BookingStatusCancelled         = "cancelled"
)

// AllowedTransitions is the saga transition table. A status change
// not present here must be rejected by the store layer.
var AllowedTransitions = map[string][]string{
	BookingStatusPending:           {BookingStatusProviderConfirmed, BookingStatusFailed, BookingStatusExpired},
	BookingStatusProviderConfirmed: {BookingStatusPaymentPending, BookingStatusFailed, BookingStatusExpired},
	BookingStatusPaymentPending:    {BookingStatusConfirmed, BookingStatusFailed, BookingStatusExpired},
	BookingStatusConfirmed:         {BookingStatusCancelled},
}

// CanTransition reports whether from -> to is a legal saga transition.
func CanTransition(from, to string) bool {
	for _, next := range AllowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether a booking status is terminal.
func IsTerminalStatus(status string) bool {
	switch status {
	case BookingStatusConfirmed, BookingStatusFailed, BookingStatusExpired, BookingStatusCancelled:
		return true
	}
	return false
}

// Booking is the persisted saga row. Terminal rows are retained for audit.
type Booking struct {
	BookingID         string         `db:"booking_id" json:"booking_id"`
	BookingReference  string         `db:"booking_reference" json:"booking_reference"`
	Status            string         `db:"status" json:"status"`
	ServiceType       string         `db:"service_type" json:"service_type"`
	ProviderID        sql.NullString `db:"provider_id" json:"provider_id,omitempty"`
	SupplierBookingID sql.NullString `db:"supplier_booking_id" json:"supplier_booking_id,omitempty"`
	ConfirmationCode  sql.NullString `db:"confirmation_code" json:"confirmation_code,omitempty"`
	PaymentIntentID   sql.NullString `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	PaymentRef        sql.NullString `db:"payment_ref" json:"payment_ref,omitempty"`
	Amount            int64          `db:"amount" json:"amount"`
	Currency          string         `db:"currency" json:"currency"`
	IdempotencyKey    string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	FailureReason     sql.NullString `db:"failure_reason" json:"failure_reason,omitempty"`
	SagaTimeoutAt     time.Time      `db:"saga_timeout_at" json:"saga_timeout_at"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// QuotaRecord tracks usage against a supplier-imposed quota window
type QuotaRecord struct {
	ProviderID   string    `db:"provider_id" json:"provider_id"`
	CurrentUsage int64     `db:"current_usage" json:"current_usage"`
	UsageLimit   int64     `db:"usage_limit" json:"usage_limit"`
	ResetAt      time.Time `db:"reset_at" json:"reset_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// PercentageUsed returns quota consumption as 0-100.
func (q *QuotaRecord) PercentageUsed() float64 {
	if q.UsageLimit <= 0 {
		return 0
	}
	pct := float64(q.CurrentUsage) / float64(q.UsageLimit) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// ProcessedEvent for consumer-side idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
