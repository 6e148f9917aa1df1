package service

import (
	"context"
	"testing"
	"time"

	"booking-engine/internal/models"
	"booking-engine/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parkedFixture runs a saga up to payment_pending and returns the
// orchestrator that will converge it.
func parkedFixture(t *testing.T) (*sagaFixture, *SagaOrchestrator, *BookingResponse, *stubClient) {
	t.Helper()

	p1 := &stubClient{id: "provider-1"}
	f := newSagaFixture(t, p1)
	f.gateway.captureResults = []string{payment.CapturePending, payment.CapturePending}

	resp, err := f.svc.ExecuteBooking(context.Background(), hotelRequest("key-1"))
	require.NoError(t, err)
	require.Equal(t, models.BookingStatusPaymentPending, resp.Status)

	return f, NewSagaOrchestrator(f.store, f.svc, f.events), resp, p1
}

func capturedEvent(eventID, bookingID string) *models.PaymentCapturedEvent {
	return &models.PaymentCapturedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   eventID,
			EventType: models.EventTypePaymentCaptured,
			Timestamp: time.Now(),
		},
		BookingID:  bookingID,
		IntentID:   "pi_test_1",
		PaymentRef: "ch_123",
	}
}

func failedEvent(eventID, bookingID string) *models.PaymentFailedEvent {
	return &models.PaymentFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   eventID,
			EventType: models.EventTypePaymentFailed,
			Timestamp: time.Now(),
		},
		BookingID: bookingID,
		IntentID:  "pi_test_1",
		Reason:    "card declined",
	}
}

func TestHandlePaymentCapturedConfirmsParkedSaga(t *testing.T) {
	f, so, resp, _ := parkedFixture(t)
	ctx := context.Background()

	require.NoError(t, so.HandlePaymentCaptured(ctx, capturedEvent("evt-1", resp.BookingID)))

	b := mustGet(t, f.store, resp.BookingID)
	assert.Equal(t, models.BookingStatusConfirmed, b.Status)
	assert.Equal(t, "ch_123", b.PaymentRef.String)
	assert.Equal(t, 1, f.events.published(models.EventTypeBookingConfirmed))
}

func TestHandlePaymentCapturedIsIdempotent(t *testing.T) {
	f, so, resp, _ := parkedFixture(t)
	ctx := context.Background()

	require.NoError(t, so.HandlePaymentCaptured(ctx, capturedEvent("evt-1", resp.BookingID)))
	require.NoError(t, so.HandlePaymentCaptured(ctx, capturedEvent("evt-1", resp.BookingID)))

	assert.Equal(t, 1, f.events.published(models.EventTypeBookingConfirmed),
		"redelivered event must not republish")
}

func TestHandlePaymentCapturedAfterExpiryRefunds(t *testing.T) {
	f, so, resp, _ := parkedFixture(t)
	ctx := context.Background()

	// The sweep expired the saga before the webhook arrived: money is
	// captured against a dead saga and must come back.
	booking := mustGet(t, f.store, resp.BookingID)
	require.True(t, f.svc.ExpireSaga(ctx, booking))

	require.NoError(t, so.HandlePaymentCaptured(ctx, capturedEvent("evt-1", resp.BookingID)))

	assert.Equal(t, models.BookingStatusExpired, f.store.status(t, resp.BookingID))
	assert.Equal(t, []string{"pi_test_1"}, f.gateway.refunded)
}

func TestHandlePaymentFailedCompensates(t *testing.T) {
	f, so, resp, p1 := parkedFixture(t)
	ctx := context.Background()

	require.NoError(t, so.HandlePaymentFailed(ctx, failedEvent("evt-1", resp.BookingID)))

	b := mustGet(t, f.store, resp.BookingID)
	assert.Equal(t, models.BookingStatusFailed, b.Status)
	assert.Contains(t, b.FailureReason.String, "card declined")
	assert.Equal(t, []string{"provider-1-res-1"}, p1.cancelled)
	assert.Equal(t, 1, f.events.published(models.EventTypeBookingFailed))
}

func TestHandlePaymentFailedIgnoresResolvedSaga(t *testing.T) {
	f, so, resp, p1 := parkedFixture(t)
	ctx := context.Background()

	// Webhook race: the captured event won first.
	require.NoError(t, so.HandlePaymentCaptured(ctx, capturedEvent("evt-1", resp.BookingID)))
	require.NoError(t, so.HandlePaymentFailed(ctx, failedEvent("evt-2", resp.BookingID)))

	assert.Equal(t, models.BookingStatusConfirmed, f.store.status(t, resp.BookingID))
	assert.Empty(t, p1.cancelled, "a confirmed saga must not be unwound by a stale failure")
}
