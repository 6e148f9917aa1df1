package payment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// MockGateway simulates a payment processor for local development.
type MockGateway struct {
	successRate float64

	mu      sync.Mutex
	intents map[string]string // intentID -> status
}

// NewMockGateway creates a mock gateway with the given capture
// success rate.
func NewMockGateway(successRate float64) *MockGateway {
	return &MockGateway{
		successRate: successRate,
		intents:     make(map[string]string),
	}
}

func (g *MockGateway) CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (string, error) {
	if amount <= 0 {
		return "", &Error{Op: "create_intent", Reason: "invalid amount"}
	}
	intentID := fmt.Sprintf("pi_%s", uuid.New().String()[:12])

	g.mu.Lock()
	g.intents[intentID] = "created"
	g.mu.Unlock()
	return intentID, nil
}

func (g *MockGateway) Capture(ctx context.Context, intentID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.intents[intentID]; !ok {
		return CaptureFailed, &Error{Op: "capture", Reason: "unknown intent"}
	}
	if rand.Float64() < g.successRate {
		g.intents[intentID] = CaptureSucceeded
		return CaptureSucceeded, nil
	}
	g.intents[intentID] = CaptureFailed
	return CaptureFailed, nil
}

func (g *MockGateway) Refund(ctx context.Context, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.intents[intentID] != CaptureSucceeded {
		return &Error{Op: "refund", Reason: "intent not captured"}
	}
	g.intents[intentID] = "refunded"
	return nil
}

func (g *MockGateway) CancelIntent(ctx context.Context, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.intents[intentID]; !ok {
		return &Error{Op: "cancel_intent", Reason: "unknown intent"}
	}
	g.intents[intentID] = "cancelled"
	return nil
}
