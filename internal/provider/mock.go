package provider

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockClient simulates a supplier for local development and load
// testing. Real supplier adapters live in the per-supplier glue layer.
type MockClient struct {
	providerID  string
	successRate float64
	minLatency  time.Duration

	mu        sync.Mutex
	cancelled map[string]bool
}

// NewMockClient creates a mock supplier with the given success rate.
func NewMockClient(providerID string, successRate float64) *MockClient {
	return &MockClient{
		providerID:  providerID,
		successRate: successRate,
		minLatency:  50 * time.Millisecond,
		cancelled:   make(map[string]bool),
	}
}

func (m *MockClient) ProviderID() string {
	return m.providerID
}

func (m *MockClient) Reserve(ctx context.Context, offer Offer, passengers []Passenger) (*Reservation, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.minLatency + time.Duration(rand.Intn(200))*time.Millisecond):
	}

	if rand.Float64() >= m.successRate {
		return nil, ErrSupplierUnavailable
	}

	return &Reservation{
		SupplierBookingID: fmt.Sprintf("%s-%s", m.providerID, uuid.New().String()[:8]),
		ConfirmationCode:  fmt.Sprintf("CONF-%s", uuid.New().String()[:6]),
	}, nil
}

func (m *MockClient) Cancel(ctx context.Context, supplierBookingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled[supplierBookingID] {
		return &RejectedError{Reason: "already cancelled"}
	}
	m.cancelled[supplierBookingID] = true
	return nil
}
