package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"booking-engine/internal/models"
)

// CreateBooking inserts the saga row in pending
func (s *Store) CreateBooking(ctx context.Context, b *models.Booking) error {
	query := `
		INSERT INTO bookings (booking_id, booking_reference, status, service_type,
			amount, currency, idempotency_key, saga_timeout_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	return s.db.GetContext(ctx, b, query,
		b.BookingID, b.BookingReference, b.Status, b.ServiceType,
		b.Amount, b.Currency, b.IdempotencyKey, b.SagaTimeoutAt)
}

// GetBookingByID retrieves a booking by ID
func (s *Store) GetBookingByID(ctx context.Context, bookingID string) (*models.Booking, error) {
	var b models.Booking
	err := s.db.GetContext(ctx, &b, "SELECT * FROM bookings WHERE booking_id = $1", bookingID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrBookingNotFound, bookingID)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBookingByIdempotencyKey retrieves a booking by idempotency key.
// Returns nil, nil when no booking exists for the key.
func (s *Store) GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error) {
	var b models.Booking
	err := s.db.GetContext(ctx, &b, "SELECT * FROM bookings WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// MarkProviderConfirmed advances pending -> provider_confirmed and
// stores the supplier reservation in the same statement. Returns false
// when the saga already left pending (lost race or timeout sweep).
func (s *Store) MarkProviderConfirmed(ctx context.Context, bookingID, providerID, supplierBookingID, confirmationCode string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1, provider_id = $2, supplier_booking_id = $3,
			confirmation_code = $4, updated_at = NOW()
		WHERE booking_id = $5 AND status = $6`,
		models.BookingStatusProviderConfirmed, providerID, supplierBookingID,
		confirmationCode, bookingID, models.BookingStatusPending)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows == 1, err
}

// MarkPaymentPending advances provider_confirmed -> payment_pending
// and stores the intent id.
func (s *Store) MarkPaymentPending(ctx context.Context, bookingID, paymentIntentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1, payment_intent_id = $2, updated_at = NOW()
		WHERE booking_id = $3 AND status = $4`,
		models.BookingStatusPaymentPending, paymentIntentID,
		bookingID, models.BookingStatusProviderConfirmed)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows == 1, err
}

// ConfirmBooking advances payment_pending -> confirmed. Status and the
// captured payment reference land in one statement so a crash cannot
// leave a confirmed row without a payment reference.
func (s *Store) ConfirmBooking(ctx context.Context, bookingID, paymentRef string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1, payment_ref = $2, updated_at = NOW()
		WHERE booking_id = $3 AND status = $4`,
		models.BookingStatusConfirmed, paymentRef,
		bookingID, models.BookingStatusPaymentPending)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows == 1, err
}

// MarkBookingFailed moves a non-terminal saga to failed with a
// human-readable reason. Conditional on the observed status.
func (s *Store) MarkBookingFailed(ctx context.Context, bookingID, fromStatus, reason string) (bool, error) {
	if !models.CanTransition(fromStatus, models.BookingStatusFailed) {
		return false, fmt.Errorf("illegal transition %s -> failed", fromStatus)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE booking_id = $3 AND status = $4`,
		models.BookingStatusFailed, reason, bookingID, fromStatus)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows == 1, err
}

// MarkBookingExpired moves a timed-out saga to expired.
func (s *Store) MarkBookingExpired(ctx context.Context, bookingID, fromStatus string) (bool, error) {
	if !models.CanTransition(fromStatus, models.BookingStatusExpired) {
		return false, fmt.Errorf("illegal transition %s -> expired", fromStatus)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1, failure_reason = 'saga timeout', updated_at = NOW()
		WHERE booking_id = $2 AND status = $3`,
		models.BookingStatusExpired, bookingID, fromStatus)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows == 1, err
}

// MarkBookingCancelled moves a confirmed booking to cancelled.
func (s *Store) MarkBookingCancelled(ctx context.Context, bookingID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1, updated_at = NOW()
		WHERE booking_id = $2 AND status = $3`,
		models.BookingStatusCancelled, bookingID, models.BookingStatusConfirmed)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows == 1, err
}

// FindTimedOutSagas returns sagas stuck mid-flight past their timeout.
// Consumed by the recovery sweep.
func (s *Store) FindTimedOutSagas(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.SelectContext(ctx, &bookings, `
		SELECT * FROM bookings
		WHERE status IN ($1, $2, $3) AND saga_timeout_at < $4
		ORDER BY saga_timeout_at
		LIMIT $5`,
		models.BookingStatusPending, models.BookingStatusProviderConfirmed,
		models.BookingStatusPaymentPending, now, limit)
	return bookings, err
}
