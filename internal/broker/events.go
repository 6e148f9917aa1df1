package broker

import (
	"context"
	"fmt"

	"booking-engine/internal/models"
)

// EventPublisher publishes booking saga lifecycle events. Compensation
// failures go to a dedicated alerts topic so operations can page on it.
type EventPublisher struct {
	bookings *Producer
	alerts   *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(bookings, alerts *Producer) *EventPublisher {
	return &EventPublisher{bookings: bookings, alerts: alerts}
}

func bookingKey(bookingID string) string {
	return fmt.Sprintf("booking-%s", bookingID)
}

// PublishBookingCreated publishes BookingCreated
func (ep *EventPublisher) PublishBookingCreated(ctx context.Context, event *models.BookingCreatedEvent) error {
	return ep.bookings.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishBookingConfirmed publishes BookingConfirmed
func (ep *EventPublisher) PublishBookingConfirmed(ctx context.Context, event *models.BookingConfirmedEvent) error {
	return ep.bookings.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishBookingFailed publishes BookingFailed
func (ep *EventPublisher) PublishBookingFailed(ctx context.Context, event *models.BookingFailedEvent) error {
	return ep.bookings.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishBookingExpired publishes BookingExpired
func (ep *EventPublisher) PublishBookingExpired(ctx context.Context, event *models.BookingExpiredEvent) error {
	return ep.bookings.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishBookingCancelled publishes BookingCancelled
func (ep *EventPublisher) PublishBookingCancelled(ctx context.Context, event *models.BookingCancelledEvent) error {
	return ep.bookings.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishCompensationFailed publishes the manual-intervention alert.
func (ep *EventPublisher) PublishCompensationFailed(ctx context.Context, event *models.CompensationFailedEvent) error {
	return ep.alerts.PublishEvent(ctx, bookingKey(event.BookingID), event)
}
