package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"booking-engine/internal/models"
	"booking-engine/internal/payment"
	"booking-engine/internal/quota"
	"booking-engine/internal/ratelimit"
	"booking-engine/internal/registry"
	"booking-engine/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	bookings map[string]*models.Booking
	getErr   error
}

func newMemStore() *memStore {
	return &memStore{bookings: make(map[string]*models.Booking)}
}

func (m *memStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	m.bookings[b.BookingID] = b
	return nil
}

func (m *memStore) GetBookingByID(ctx context.Context, bookingID string) (*models.Booking, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	b, ok := m.bookings[bookingID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrBookingNotFound, bookingID)
	}
	return b, nil
}

func (m *memStore) GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error) {
	return nil, nil
}

func (m *memStore) MarkProviderConfirmed(ctx context.Context, bookingID, providerID, supplierBookingID, confirmationCode string) (bool, error) {
	return true, nil
}

func (m *memStore) MarkPaymentPending(ctx context.Context, bookingID, paymentIntentID string) (bool, error) {
	return true, nil
}

func (m *memStore) ConfirmBooking(ctx context.Context, bookingID, paymentRef string) (bool, error) {
	return true, nil
}

func (m *memStore) MarkBookingFailed(ctx context.Context, bookingID, fromStatus, reason string) (bool, error) {
	return true, nil
}

func (m *memStore) MarkBookingExpired(ctx context.Context, bookingID, fromStatus string) (bool, error) {
	return true, nil
}

func (m *memStore) MarkBookingCancelled(ctx context.Context, bookingID string) (bool, error) {
	b, ok := m.bookings[bookingID]
	if !ok || b.Status != models.BookingStatusConfirmed {
		return false, nil
	}
	b.Status = models.BookingStatusCancelled
	return true, nil
}

func (m *memStore) FindTimedOutSagas(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	return nil, nil
}

func (m *memStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	return false, nil
}

func (m *memStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	return nil
}

type noopRegistryStore struct{}

func (noopRegistryStore) SetProviderEnabled(ctx context.Context, providerID string, enabled bool) error {
	return nil
}

func (noopRegistryStore) UpdateProviderCircuitState(ctx context.Context, providerID, fromState, toState string, failureCount int) (bool, error) {
	return true, nil
}

func (noopRegistryStore) RecordProviderSuccess(ctx context.Context, providerID string) error {
	return nil
}

func (noopRegistryStore) RecordProviderFailure(ctx context.Context, providerID string) error {
	return nil
}

type noopQuotaStore struct{}

func (noopQuotaStore) GetQuota(ctx context.Context, providerID string) (*models.QuotaRecord, error) {
	return nil, errors.New("quota not found")
}

func (noopQuotaStore) AddQuotaUsage(ctx context.Context, providerID string, units int64) (*models.QuotaRecord, error) {
	return &models.QuotaRecord{ProviderID: providerID, CurrentUsage: units, UsageLimit: 1 << 30}, nil
}

func (noopQuotaStore) ResetQuota(ctx context.Context, providerID string, resetAt time.Time) error {
	return nil
}

type allowAllLimiter struct{}

func (allowAllLimiter) CheckAndRecord(ctx context.Context, identifier, action string) ratelimit.Decision {
	return ratelimit.Decision{Allowed: true}
}

type noopEvents struct{}

func (noopEvents) PublishBookingCreated(ctx context.Context, event *models.BookingCreatedEvent) error {
	return nil
}

func (noopEvents) PublishBookingConfirmed(ctx context.Context, event *models.BookingConfirmedEvent) error {
	return nil
}

func (noopEvents) PublishBookingFailed(ctx context.Context, event *models.BookingFailedEvent) error {
	return nil
}

func (noopEvents) PublishBookingExpired(ctx context.Context, event *models.BookingExpiredEvent) error {
	return nil
}

func (noopEvents) PublishBookingCancelled(ctx context.Context, event *models.BookingCancelledEvent) error {
	return nil
}

func (noopEvents) PublishCompensationFailed(ctx context.Context, event *models.CompensationFailedEvent) error {
	return nil
}

type noopCache struct{}

func (noopCache) GetIdempotencyResult(ctx context.Context, key string) (string, error) {
	return "", nil
}

func (noopCache) SetIdempotencyResult(ctx context.Context, key, bookingID string, ttl time.Duration) error {
	return nil
}

func newTestRouter(t *testing.T, store *memStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	quotas := quota.NewTracker(noopQuotaStore{})
	reg := registry.New(noopRegistryStore{}, quotas)
	svc := service.NewBookingService(
		store, reg, allowAllLimiter{}, quotas, payment.NewMockGateway(1),
		noopEvents{}, noopCache{}, service.Config{
			SagaTimeout:         time.Minute,
			MaxProviderAttempts: 3,
			CapturePollAttempts: 1,
			CapturePollInterval: time.Millisecond,
			IdempotencyTTL:      time.Hour,
		})

	router := gin.New()
	NewHandler(svc, reg).SetupRoutes(router)
	return router
}

func doRequest(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestGetBookingNotFoundIs404(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	w := doRequest(router, http.MethodGet, "/api/v1/bookings/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetBookingStoreErrorIs500(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("connection refused")
	router := newTestRouter(t, store)

	w := doRequest(router, http.MethodGet, "/api/v1/bookings/b-1")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetBooking(t *testing.T) {
	store := newMemStore()
	store.bookings["b-1"] = &models.Booking{
		BookingID: "b-1",
		Status:    models.BookingStatusConfirmed,
	}
	router := newTestRouter(t, store)

	w := doRequest(router, http.MethodGet, "/api/v1/bookings/b-1")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "b-1", body["booking_id"])
}

func TestCancelBookingNotFoundIs404(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	w := doRequest(router, http.MethodPost, "/api/v1/bookings/missing/cancel")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelBookingWrongStateIs409(t *testing.T) {
	store := newMemStore()
	store.bookings["b-1"] = &models.Booking{
		BookingID: "b-1",
		Status:    models.BookingStatusPaymentPending,
	}
	router := newTestRouter(t, store)

	w := doRequest(router, http.MethodPost, "/api/v1/bookings/b-1/cancel")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelBookingConfirmedIs200(t *testing.T) {
	store := newMemStore()
	store.bookings["b-1"] = &models.Booking{
		BookingID: "b-1",
		Status:    models.BookingStatusConfirmed,
	}
	router := newTestRouter(t, store)

	w := doRequest(router, http.MethodPost, "/api/v1/bookings/b-1/cancel")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.BookingStatusCancelled, store.bookings["b-1"].Status)
}
