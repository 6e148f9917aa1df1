package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"booking-engine/internal/models"
	"booking-engine/internal/payment"
	"booking-engine/internal/provider"
	"booking-engine/internal/ratelimit"
	"booking-engine/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config bounds the saga.
type Config struct {
	SagaTimeout         time.Duration // terminability bound even under supplier silence
	MaxProviderAttempts int           // alternate providers tried per booking
	CapturePollAttempts int           // capture polls before parking in payment_pending
	CapturePollInterval time.Duration
	IdempotencyTTL      time.Duration
}

// DefaultConfig returns the production saga bounds.
func DefaultConfig() Config {
	return Config{
		SagaTimeout:         10 * time.Minute,
		MaxProviderAttempts: 3,
		CapturePollAttempts: 3,
		CapturePollInterval: 2 * time.Second,
		IdempotencyTTL:      24 * time.Hour,
	}
}

// BookingService drives the booking saga: provider selection, the
// breaker-guarded supplier reservation, payment capture, and
// compensation when a later step fails.
type BookingService struct {
	store    BookingStore
	registry ProviderDirectory
	limiter  RateLimiter
	quotas   QuotaRecorder
	payments payment.Gateway
	events   Events
	cache    IdempotencyCache
	cfg      Config
	logger   *zap.Logger
}

// NewBookingService creates a new saga coordinator.
func NewBookingService(
	store BookingStore,
	registry ProviderDirectory,
	limiter RateLimiter,
	quotas QuotaRecorder,
	payments payment.Gateway,
	events Events,
	cache IdempotencyCache,
	cfg Config,
) *BookingService {
	if cfg.MaxProviderAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &BookingService{
		store:    store,
		registry: registry,
		limiter:  limiter,
		quotas:   quotas,
		payments: payments,
		events:   events,
		cache:    cache,
		cfg:      cfg,
		logger:   util.GetLogger(),
	}
}

// BookingRequest is a request to execute a booking saga.
type BookingRequest struct {
	ServiceType    string               `json:"service_type" binding:"required"`
	OfferID        string               `json:"offer_id" binding:"required"`
	Amount         int64                `json:"amount" binding:"required"`
	Currency       string               `json:"currency" binding:"required"`
	Passengers     []provider.Passenger `json:"passengers" binding:"required,min=1"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
}

// BookingResponse is returned after the saga runs (or replays).
type BookingResponse struct {
	BookingID         string `json:"booking_id"`
	BookingReference  string `json:"booking_reference"`
	Status            string `json:"status"`
	SupplierBookingID string `json:"supplier_booking_id,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
}

func responseFrom(b *models.Booking) *BookingResponse {
	return &BookingResponse{
		BookingID:         b.BookingID,
		BookingReference:  b.BookingReference,
		Status:            b.Status,
		SupplierBookingID: b.SupplierBookingID.String,
		FailureReason:     b.FailureReason.String,
	}
}

// ExecuteBooking runs the saga end to end. Replays with the same
// idempotency key return the existing result without re-executing
// any external step.
func (s *BookingService) ExecuteBooking(ctx context.Context, req *BookingRequest) (*BookingResponse, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.ExecuteBooking")
	defer span.End()

	if err := validateRequest(req); err != nil {
		util.BookingsFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	if existing, err := s.lookupReplay(ctx, req.IdempotencyKey); err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	} else if existing != nil {
		s.logger.Info("Duplicate booking request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("booking_id", existing.BookingID))
		return responseFrom(existing), nil
	}

	booking := &models.Booking{
		BookingID:        uuid.New().String(),
		BookingReference: newBookingReference(),
		Status:           models.BookingStatusPending,
		ServiceType:      req.ServiceType,
		Amount:           req.Amount,
		Currency:         strings.ToUpper(req.Currency),
		IdempotencyKey:   req.IdempotencyKey,
		SagaTimeoutAt:    time.Now().Add(s.cfg.SagaTimeout),
	}

	if err := s.store.CreateBooking(ctx, booking); err != nil {
		// Lost a same-key race: a concurrent request slipped past the
		// replay check and won the unique idempotency_key insert. The
		// winner's saga is this request's result, same as any replay.
		if existing, lookupErr := s.store.GetBookingByIdempotencyKey(ctx, req.IdempotencyKey); lookupErr == nil && existing != nil {
			s.logger.Info("Duplicate booking request lost create race",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("booking_id", existing.BookingID))
			return responseFrom(existing), nil
		}
		util.BookingsFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}
	util.BookingsCreatedTotal.Inc()
	s.logger.Info("Booking saga started",
		zap.String("booking_id", booking.BookingID),
		zap.String("service_type", booking.ServiceType))

	if err := s.cache.SetIdempotencyResult(ctx, req.IdempotencyKey, booking.BookingID, s.cfg.IdempotencyTTL); err != nil {
		s.logger.Warn("Failed to cache idempotency key", zap.Error(err))
	}

	s.publishCreated(ctx, booking)

	reservation, providerID, err := s.reserveWithRotation(ctx, booking, req)
	if err != nil {
		return nil, err
	}

	return s.capturePayment(ctx, booking, providerID, reservation)
}

// reserveWithRotation walks the ranked candidate list, at most
// MaxProviderAttempts providers, never retrying a provider that
// already failed within this saga.
func (s *BookingService) reserveWithRotation(ctx context.Context, booking *models.Booking, req *BookingRequest) (*provider.Reservation, string, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.reserveWithRotation")
	defer span.End()

	candidates, err := s.registry.Select(req.ServiceType)
	if err != nil {
		if errors.Is(err, models.ErrNoProviderAvailable) {
			s.failSaga(ctx, booking.BookingID, models.BookingStatusPending, "no provider available", "no_provider")
			return nil, "", models.ErrNoProviderAvailable
		}
		return nil, "", err
	}

	if len(candidates) > s.cfg.MaxProviderAttempts {
		candidates = candidates[:s.cfg.MaxProviderAttempts]
	}

	offer := provider.Offer{
		OfferID:     req.OfferID,
		ServiceType: req.ServiceType,
		Amount:      req.Amount,
		Currency:    booking.Currency,
	}

	var rateLimited *ratelimit.Decision
	var lastErr error

	for _, providerID := range candidates {
		decision := s.limiter.CheckAndRecord(ctx, providerID, ratelimit.ActionBooking)
		if !decision.Allowed {
			s.logger.Warn("Provider rate limited, rotating",
				zap.String("booking_id", booking.BookingID),
				zap.String("provider_id", providerID),
				zap.Duration("retry_after", decision.RetryAfter))
			d := decision
			rateLimited = &d
			continue
		}

		if !s.registry.Allow(providerID) {
			continue
		}

		client, err := s.registry.Client(providerID)
		if err != nil {
			lastErr = err
			continue
		}

		start := time.Now()
		reservation, err := client.Reserve(ctx, offer, req.Passengers)
		s.registry.RecordOutcome(ctx, providerID, time.Since(start), err)

		if err != nil {
			if provider.IsCallerError(err) {
				// The offer itself is bad; no other provider will take it.
				s.failSaga(ctx, booking.BookingID, models.BookingStatusPending,
					fmt.Sprintf("supplier rejected: %v", err), "supplier_rejected")
				return nil, "", err
			}
			s.logger.Warn("Supplier reservation failed, rotating",
				zap.String("booking_id", booking.BookingID),
				zap.String("provider_id", providerID),
				zap.Error(err))
			lastErr = err
			continue
		}

		if err := s.quotas.RecordUsage(ctx, providerID, 1); err != nil {
			s.logger.Warn("Failed to record quota usage",
				zap.String("provider_id", providerID), zap.Error(err))
		}

		ok, err := s.store.MarkProviderConfirmed(ctx, booking.BookingID, providerID,
			reservation.SupplierBookingID, reservation.ConfirmationCode)
		if err != nil {
			return nil, "", fmt.Errorf("failed to persist reservation: %w", err)
		}
		if !ok {
			// The sweep expired the saga while we were on the wire.
			s.compensateReservation(ctx, booking.BookingID, providerID, reservation.SupplierBookingID)
			return nil, "", fmt.Errorf("booking %s left pending state during reservation", booking.BookingID)
		}

		s.logger.Info("Supplier reservation confirmed",
			zap.String("booking_id", booking.BookingID),
			zap.String("provider_id", providerID),
			zap.String("supplier_booking_id", reservation.SupplierBookingID))
		return reservation, providerID, nil
	}

	if lastErr == nil && rateLimited != nil {
		s.failSaga(ctx, booking.BookingID, models.BookingStatusPending, "rate limited", "rate_limited")
		return nil, "", &models.RateLimitedError{RetryAfter: rateLimited.RetryAfter}
	}

	s.failSaga(ctx, booking.BookingID, models.BookingStatusPending, "all providers failed", "providers_exhausted")
	if lastErr != nil {
		return nil, "", fmt.Errorf("all providers failed: %w", lastErr)
	}
	return nil, "", models.ErrNoProviderAvailable
}

// capturePayment runs the payment leg and the confirm transition. Any
// failure after the supplier reservation triggers compensation.
func (s *BookingService) capturePayment(ctx context.Context, booking *models.Booking, providerID string, reservation *provider.Reservation) (*BookingResponse, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.capturePayment")
	defer span.End()

	util.PaymentAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentCaptureLatency.Observe(time.Since(start).Seconds())
	}()

	intentID, err := s.payments.CreateIntent(ctx, booking.Amount, booking.Currency,
		map[string]string{"booking_id": booking.BookingID})
	if err != nil {
		util.PaymentFailedTotal.Inc()
		s.compensateReservation(ctx, booking.BookingID, providerID, reservation.SupplierBookingID)
		s.failSaga(ctx, booking.BookingID, models.BookingStatusProviderConfirmed,
			"payment intent creation failed", "payment_failed")
		return nil, fmt.Errorf("booking failed, no charge made: %w", err)
	}

	ok, err := s.store.MarkPaymentPending(ctx, booking.BookingID, intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to persist payment intent: %w", err)
	}
	if !ok {
		s.cancelIntent(ctx, booking.BookingID, intentID)
		s.compensateReservation(ctx, booking.BookingID, providerID, reservation.SupplierBookingID)
		return nil, fmt.Errorf("booking %s left provider_confirmed during payment", booking.BookingID)
	}

	status, captureErr := s.pollCapture(ctx, intentID)

	switch {
	case captureErr == nil && status == payment.CaptureSucceeded:
		return s.confirm(ctx, booking, providerID, reservation, intentID)

	case captureErr == nil && status == payment.CapturePending:
		// Webhook or sweep will converge this saga.
		s.logger.Info("Payment capture pending, parking saga",
			zap.String("booking_id", booking.BookingID),
			zap.String("intent_id", intentID))
		return &BookingResponse{
			BookingID:         booking.BookingID,
			BookingReference:  booking.BookingReference,
			Status:            models.BookingStatusPaymentPending,
			SupplierBookingID: reservation.SupplierBookingID,
		}, nil

	default:
		util.PaymentFailedTotal.Inc()
		s.logger.Warn("Payment capture failed, compensating",
			zap.String("booking_id", booking.BookingID),
			zap.Error(captureErr))
		s.cancelIntent(ctx, booking.BookingID, intentID)
		s.compensateReservation(ctx, booking.BookingID, providerID, reservation.SupplierBookingID)
		s.failSaga(ctx, booking.BookingID, models.BookingStatusPaymentPending,
			"payment capture failed", "payment_failed")
		return nil, fmt.Errorf("booking failed, no charge made: payment declined")
	}
}

// pollCapture captures with a bounded poll while the gateway reports
// pending. Returns the last observed status.
func (s *BookingService) pollCapture(ctx context.Context, intentID string) (string, error) {
	var status string
	var err error
	for attempt := 0; attempt < s.cfg.CapturePollAttempts; attempt++ {
		status, err = s.payments.Capture(ctx, intentID)
		if err != nil || status != payment.CapturePending {
			return status, err
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(s.cfg.CapturePollInterval):
		}
	}
	return status, err
}

func (s *BookingService) confirm(ctx context.Context, booking *models.Booking, providerID string, reservation *provider.Reservation, intentID string) (*BookingResponse, error) {
	ok, err := s.store.ConfirmBooking(ctx, booking.BookingID, intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm booking: %w", err)
	}
	if !ok {
		// Money is captured but the saga expired under us. Undo both
		// sides and surface that a refund is in progress.
		s.refundPayment(ctx, booking.BookingID, intentID)
		s.compensateReservation(ctx, booking.BookingID, providerID, reservation.SupplierBookingID)
		return nil, fmt.Errorf("booking %s expired during payment, refund in progress", booking.BookingID)
	}

	util.BookingsConfirmedTotal.Inc()
	s.logger.Info("Booking confirmed",
		zap.String("booking_id", booking.BookingID),
		zap.String("provider_id", providerID),
		zap.String("payment_ref", intentID))

	event := &models.BookingConfirmedEvent{
		BaseEvent:         newBaseEvent(models.EventTypeBookingConfirmed),
		BookingID:         booking.BookingID,
		ProviderID:        providerID,
		SupplierBookingID: reservation.SupplierBookingID,
		PaymentRef:        intentID,
	}
	if err := s.events.PublishBookingConfirmed(ctx, event); err != nil {
		s.logger.Error("Failed to publish BookingConfirmed event", zap.Error(err))
	}

	return &BookingResponse{
		BookingID:         booking.BookingID,
		BookingReference:  booking.BookingReference,
		Status:            models.BookingStatusConfirmed,
		SupplierBookingID: reservation.SupplierBookingID,
	}, nil
}

// CancelBooking cancels a confirmed booking: refund the payment and
// release the supplier reservation.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID string) (*BookingResponse, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.CancelBooking")
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusConfirmed {
		return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("cannot cancel booking in state %s", booking.Status)}
	}

	ok, err := s.store.MarkBookingCancelled(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("booking %s is no longer cancellable", bookingID)
	}

	if booking.PaymentIntentID.Valid {
		s.refundPayment(ctx, bookingID, booking.PaymentIntentID.String)
	}
	if booking.SupplierBookingID.Valid && booking.ProviderID.Valid {
		s.compensateReservation(ctx, bookingID, booking.ProviderID.String, booking.SupplierBookingID.String)
	}

	util.BookingsCancelledTotal.Inc()
	event := &models.BookingCancelledEvent{
		BaseEvent: newBaseEvent(models.EventTypeBookingCancelled),
		BookingID: bookingID,
	}
	if err := s.events.PublishBookingCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish BookingCancelled event", zap.Error(err))
	}

	booking.Status = models.BookingStatusCancelled
	return responseFrom(booking), nil
}

// ExpireSaga resolves one timed-out saga on behalf of the recovery
// sweep: conditional transition to expired, then the compensation the
// abandoned state requires. Returns false when the saga advanced past
// its observed status in the meantime (the synchronous path won).
func (s *BookingService) ExpireSaga(ctx context.Context, booking *models.Booking) bool {
	ok, err := s.store.MarkBookingExpired(ctx, booking.BookingID, booking.Status)
	if err != nil {
		s.logger.Error("Failed to expire booking",
			zap.String("booking_id", booking.BookingID),
			zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	util.BookingsExpiredTotal.Inc()
	s.logger.Warn("Saga expired by recovery sweep",
		zap.String("booking_id", booking.BookingID),
		zap.String("last_status", booking.Status))

	if booking.Status == models.BookingStatusPaymentPending && booking.PaymentIntentID.Valid {
		s.cancelIntent(ctx, booking.BookingID, booking.PaymentIntentID.String)
	}
	if booking.SupplierBookingID.Valid && booking.ProviderID.Valid {
		s.compensateReservation(ctx, booking.BookingID,
			booking.ProviderID.String, booking.SupplierBookingID.String)
	}

	event := &models.BookingExpiredEvent{
		BaseEvent:  newBaseEvent(models.EventTypeBookingExpired),
		BookingID:  booking.BookingID,
		LastStatus: booking.Status,
	}
	if err := s.events.PublishBookingExpired(ctx, event); err != nil {
		s.logger.Error("Failed to publish BookingExpired event", zap.Error(err))
	}
	return true
}

// GetBooking retrieves a booking by ID.
func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.store.GetBookingByID(ctx, bookingID)
}

// compensateReservation cancels a supplier reservation. The outcome is
// always recorded; a failed compensation is escalated to the alerts
// topic, never dropped, because it leaves a reserved-but-uncharged
// (or paid-but-unconfirmed) state behind.
func (s *BookingService) compensateReservation(ctx context.Context, bookingID, providerID, supplierBookingID string) {
	client, err := s.registry.Client(providerID)
	if err == nil {
		err = client.Cancel(ctx, supplierBookingID)
	}
	if err == nil {
		util.CompensationsTotal.WithLabelValues("cancel_reservation", "ok").Inc()
		s.logger.Info("Supplier reservation cancelled",
			zap.String("booking_id", bookingID),
			zap.String("supplier_booking_id", supplierBookingID))
		return
	}

	s.escalateCompensation(ctx, &models.CompensationError{
		BookingID: bookingID,
		Step:      "cancel_reservation",
		Cause:     err,
	})
}

func (s *BookingService) refundPayment(ctx context.Context, bookingID, intentID string) {
	if err := s.payments.Refund(ctx, intentID); err != nil {
		s.escalateCompensation(ctx, &models.CompensationError{
			BookingID: bookingID,
			Step:      "refund_payment",
			Cause:     err,
		})
		return
	}
	util.CompensationsTotal.WithLabelValues("refund_payment", "ok").Inc()
	s.logger.Info("Payment refunded",
		zap.String("booking_id", bookingID),
		zap.String("intent_id", intentID))
}

func (s *BookingService) cancelIntent(ctx context.Context, bookingID, intentID string) {
	if err := s.payments.CancelIntent(ctx, intentID); err != nil {
		s.escalateCompensation(ctx, &models.CompensationError{
			BookingID: bookingID,
			Step:      "cancel_intent",
			Cause:     err,
		})
		return
	}
	util.CompensationsTotal.WithLabelValues("cancel_intent", "ok").Inc()
}

// escalateCompensation raises the manual-intervention alert for a
// failed compensating action.
func (s *BookingService) escalateCompensation(ctx context.Context, cerr *models.CompensationError) {
	util.CompensationsTotal.WithLabelValues(cerr.Step, "failed").Inc()
	s.logger.Error("Compensation failed, manual intervention required",
		zap.String("booking_id", cerr.BookingID),
		zap.String("step", cerr.Step),
		zap.Error(cerr.Cause))

	event := &models.CompensationFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypeCompensationFailed),
		BookingID: cerr.BookingID,
		Step:      cerr.Step,
		Detail:    cerr.Error(),
	}
	if err := s.events.PublishCompensationFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish compensation alert", zap.Error(err))
	}
}

func (s *BookingService) failSaga(ctx context.Context, bookingID, fromStatus, reason, metricReason string) {
	util.BookingsFailedTotal.WithLabelValues(metricReason).Inc()

	ok, err := s.store.MarkBookingFailed(ctx, bookingID, fromStatus, reason)
	if err != nil || !ok {
		s.logger.Error("Failed to mark booking failed",
			zap.String("booking_id", bookingID),
			zap.String("from_status", fromStatus),
			zap.Bool("transitioned", ok),
			zap.Error(err))
	}

	event := &models.BookingFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypeBookingFailed),
		BookingID: bookingID,
		Reason:    reason,
	}
	if err := s.events.PublishBookingFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish BookingFailed event", zap.Error(err))
	}
}

func (s *BookingService) lookupReplay(ctx context.Context, key string) (*models.Booking, error) {
	if bookingID, err := s.cache.GetIdempotencyResult(ctx, key); err != nil {
		s.logger.Warn("Idempotency cache read failed, falling back to DB", zap.Error(err))
	} else if bookingID != "" {
		if booking, err := s.store.GetBookingByID(ctx, bookingID); err == nil {
			return booking, nil
		}
	}
	return s.store.GetBookingByIdempotencyKey(ctx, key)
}

func (s *BookingService) publishCreated(ctx context.Context, booking *models.Booking) {
	event := &models.BookingCreatedEvent{
		BaseEvent:        newBaseEvent(models.EventTypeBookingCreated),
		BookingID:        booking.BookingID,
		BookingReference: booking.BookingReference,
		ServiceType:      booking.ServiceType,
		Amount:           booking.Amount,
		Currency:         booking.Currency,
	}
	if err := s.events.PublishBookingCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish BookingCreated event", zap.Error(err))
	}
}

func validateRequest(req *BookingRequest) error {
	if !models.ValidServiceType(req.ServiceType) {
		return &models.ValidationError{Field: "service_type", Reason: "unknown service type"}
	}
	if req.OfferID == "" {
		return &models.ValidationError{Field: "offer_id", Reason: "is required"}
	}
	if req.Amount <= 0 {
		return &models.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if req.Currency == "" {
		return &models.ValidationError{Field: "currency", Reason: "is required"}
	}
	if len(req.Passengers) == 0 {
		return &models.ValidationError{Field: "passengers", Reason: "at least one is required"}
	}
	return nil
}

func newBookingReference() string {
	return "BK-" + strings.ToUpper(uuid.New().String()[:8])
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
