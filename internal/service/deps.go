package service

import (
	"context"
	"time"

	"booking-engine/internal/models"
	"booking-engine/internal/provider"
	"booking-engine/internal/ratelimit"
)

// BookingStore is the persistence surface the saga needs. All status
// transitions are conditional updates: they succeed only when the row
// is still in the state the coordinator observed.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBookingByID(ctx context.Context, bookingID string) (*models.Booking, error)
	GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error)
	MarkProviderConfirmed(ctx context.Context, bookingID, providerID, supplierBookingID, confirmationCode string) (bool, error)
	MarkPaymentPending(ctx context.Context, bookingID, paymentIntentID string) (bool, error)
	ConfirmBooking(ctx context.Context, bookingID, paymentRef string) (bool, error)
	MarkBookingFailed(ctx context.Context, bookingID, fromStatus, reason string) (bool, error)
	MarkBookingExpired(ctx context.Context, bookingID, fromStatus string) (bool, error)
	MarkBookingCancelled(ctx context.Context, bookingID string) (bool, error)
	FindTimedOutSagas(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// ProviderDirectory is the registry surface the saga needs: ranked
// candidates, clients, breaker admission, and outcome accounting.
type ProviderDirectory interface {
	Select(serviceType string) ([]string, error)
	Client(providerID string) (provider.Client, error)
	Allow(providerID string) bool
	RecordOutcome(ctx context.Context, providerID string, elapsed time.Duration, callErr error)
}

// RateLimiter bounds reserve-call frequency per provider.
type RateLimiter interface {
	CheckAndRecord(ctx context.Context, identifier, action string) ratelimit.Decision
}

// QuotaRecorder charges successful supplier calls against quotas.
type QuotaRecorder interface {
	RecordUsage(ctx context.Context, providerID string, units int64) error
}

// Events receives saga lifecycle events and compensation alerts.
// Implemented by broker.EventPublisher.
type Events interface {
	PublishBookingCreated(ctx context.Context, event *models.BookingCreatedEvent) error
	PublishBookingConfirmed(ctx context.Context, event *models.BookingConfirmedEvent) error
	PublishBookingFailed(ctx context.Context, event *models.BookingFailedEvent) error
	PublishBookingExpired(ctx context.Context, event *models.BookingExpiredEvent) error
	PublishBookingCancelled(ctx context.Context, event *models.BookingCancelledEvent) error
	PublishCompensationFailed(ctx context.Context, event *models.CompensationFailedEvent) error
}

// IdempotencyCache is the redis fast path for replay detection; the
// database row is the source of truth.
type IdempotencyCache interface {
	GetIdempotencyResult(ctx context.Context, key string) (string, error)
	SetIdempotencyResult(ctx context.Context, key, bookingID string, ttl time.Duration) error
}
