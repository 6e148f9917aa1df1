package worker

import (
	"context"
	"encoding/json"

	"booking-engine/internal/broker"
	"booking-engine/internal/models"
	"booking-engine/internal/service"
	"booking-engine/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// PaymentWorker consumes gateway webhook events relayed to the payment
// topic and feeds them to the saga orchestrator.
type PaymentWorker struct {
	consumer     *broker.Consumer
	orchestrator *service.SagaOrchestrator
	logger       *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, orchestrator *service.SagaOrchestrator) *PaymentWorker {
	return &PaymentWorker{
		consumer:     consumer,
		orchestrator: orchestrator,
		logger:       util.GetLogger(),
	}
}

// Start starts the payment worker
func (pw *PaymentWorker) Start(ctx context.Context) error {
	pw.logger.Info("Starting payment worker")
	return pw.consumer.StartConsuming(ctx, pw.handleMessage)
}

// Stop stops the payment worker
func (pw *PaymentWorker) Stop() error {
	pw.logger.Info("Stopping payment worker")
	return pw.consumer.Close()
}

func (pw *PaymentWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		pw.logger.Error("Failed to unmarshal event", zap.Error(err))
		return err
	}

	switch baseEvent.EventType {
	case models.EventTypePaymentCaptured:
		var event models.PaymentCapturedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return err
		}
		return pw.orchestrator.HandlePaymentCaptured(ctx, &event)

	case models.EventTypePaymentFailed:
		var event models.PaymentFailedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return err
		}
		return pw.orchestrator.HandlePaymentFailed(ctx, &event)

	default:
		pw.logger.Debug("Unhandled event type",
			zap.String("event_type", baseEvent.EventType))
	}
	return nil
}
