package service

import (
	"context"
	"fmt"

	"booking-engine/internal/models"
	"booking-engine/internal/util"

	"go.uber.org/zap"
)

// SagaOrchestrator converges sagas parked in payment_pending from
// asynchronous gateway webhook events relayed over the payment topic.
type SagaOrchestrator struct {
	store   BookingStore
	booking *BookingService
	events  Events
	logger  *zap.Logger
}

// NewSagaOrchestrator creates a new saga orchestrator
func NewSagaOrchestrator(store BookingStore, booking *BookingService, events Events) *SagaOrchestrator {
	return &SagaOrchestrator{
		store:   store,
		booking: booking,
		events:  events,
		logger:  util.GetLogger(),
	}
}

// HandlePaymentCaptured advances a payment_pending saga to confirmed.
// Idempotent per event id: webhook relays redeliver.
func (so *SagaOrchestrator) HandlePaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.HandlePaymentCaptured")
	defer span.End()

	processed, err := so.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		so.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	so.logger.Info("Handling payment captured",
		zap.String("booking_id", event.BookingID),
		zap.String("intent_id", event.IntentID))

	paymentRef := event.PaymentRef
	if paymentRef == "" {
		paymentRef = event.IntentID
	}

	ok, err := so.store.ConfirmBooking(ctx, event.BookingID, paymentRef)
	if err != nil {
		return fmt.Errorf("failed to confirm booking: %w", err)
	}
	if !ok {
		// Saga is no longer payment_pending: already confirmed by the
		// synchronous path, or expired by the sweep. If expired, money
		// is captured against a dead saga; escalate the refund.
		booking, err := so.store.GetBookingByID(ctx, event.BookingID)
		if err != nil {
			return err
		}
		if booking.Status == models.BookingStatusExpired {
			so.booking.refundPayment(ctx, event.BookingID, event.IntentID)
		}
		so.logger.Warn("Payment captured for non-pending saga",
			zap.String("booking_id", event.BookingID),
			zap.String("status", booking.Status))
	} else {
		util.BookingsConfirmedTotal.Inc()
		booking, err := so.store.GetBookingByID(ctx, event.BookingID)
		if err == nil {
			confirmed := &models.BookingConfirmedEvent{
				BaseEvent:         newBaseEvent(models.EventTypeBookingConfirmed),
				BookingID:         booking.BookingID,
				ProviderID:        booking.ProviderID.String,
				SupplierBookingID: booking.SupplierBookingID.String,
				PaymentRef:        paymentRef,
			}
			if err := so.events.PublishBookingConfirmed(ctx, confirmed); err != nil {
				so.logger.Error("Failed to publish BookingConfirmed event", zap.Error(err))
			}
		}
		so.logger.Info("Booking confirmed via webhook", zap.String("booking_id", event.BookingID))
	}

	if err := so.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		so.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

// HandlePaymentFailed compensates a payment_pending saga: cancel the
// supplier reservation and mark the booking failed.
func (so *SagaOrchestrator) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.HandlePaymentFailed")
	defer span.End()

	processed, err := so.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		so.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	so.logger.Warn("Handling payment failure - starting compensation",
		zap.String("booking_id", event.BookingID),
		zap.String("reason", event.Reason))

	booking, err := so.store.GetBookingByID(ctx, event.BookingID)
	if err != nil {
		return err
	}

	if booking.Status == models.BookingStatusPaymentPending {
		if booking.SupplierBookingID.Valid && booking.ProviderID.Valid {
			so.booking.compensateReservation(ctx, booking.BookingID,
				booking.ProviderID.String, booking.SupplierBookingID.String)
		}
		so.booking.failSaga(ctx, booking.BookingID, models.BookingStatusPaymentPending,
			fmt.Sprintf("payment failed: %s", event.Reason), "payment_failed")
		util.PaymentFailedTotal.Inc()
	} else {
		so.logger.Info("Payment failure for non-pending saga, ignoring",
			zap.String("booking_id", event.BookingID),
			zap.String("status", booking.Status))
	}

	if err := so.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		so.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}
