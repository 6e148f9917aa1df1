package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeWindowStore struct {
	calls      []string
	allowed    bool
	retryAfter time.Duration
	err        error
}

func (f *fakeWindowStore) CheckRateWindow(ctx context.Context, key string, window time.Duration, maxAttempts int, member string) (bool, time.Duration, error) {
	f.calls = append(f.calls, key)
	if f.err != nil {
		return false, 0, f.err
	}
	return f.allowed, f.retryAfter, nil
}

func TestCheckAndRecordAllows(t *testing.T) {
	store := &fakeWindowStore{allowed: true}
	limiter := NewLimiter(store, nil)

	d := limiter.CheckAndRecord(context.Background(), "expedia", ActionBooking)

	assert.True(t, d.Allowed)
	assert.Equal(t, []string{"expedia:booking"}, store.calls)
}

func TestCheckAndRecordBlocksWithRetryAfter(t *testing.T) {
	store := &fakeWindowStore{allowed: false, retryAfter: 42 * time.Second}
	limiter := NewLimiter(store, nil)

	d := limiter.CheckAndRecord(context.Background(), "expedia", ActionBooking)

	assert.False(t, d.Allowed)
	assert.Equal(t, 42*time.Second, d.RetryAfter)
}

func TestCheckAndRecordFailsOpen(t *testing.T) {
	store := &fakeWindowStore{err: errors.New("redis: connection refused")}
	limiter := NewLimiter(store, nil)

	d := limiter.CheckAndRecord(context.Background(), "expedia", ActionBooking)

	assert.True(t, d.Allowed, "store errors must not block bookings")
}

func TestUnknownActionIsNotLimited(t *testing.T) {
	store := &fakeWindowStore{allowed: false}
	limiter := NewLimiter(store, nil)

	d := limiter.CheckAndRecord(context.Background(), "expedia", "frobnicate")

	assert.True(t, d.Allowed)
	assert.Empty(t, store.calls, "unknown actions skip the store")
}

func TestCustomRules(t *testing.T) {
	store := &fakeWindowStore{allowed: true}
	limiter := NewLimiter(store, map[string]Rule{
		"sync": {Window: 10 * time.Second, MaxAttempts: 1},
	})

	assert.True(t, limiter.CheckAndRecord(context.Background(), "worker-1", "sync").Allowed)
	assert.True(t, limiter.CheckAndRecord(context.Background(), "worker-1", ActionBooking).Allowed,
		"actions outside the rule set are unlimited")
	assert.Equal(t, []string{"worker-1:sync"}, store.calls)
}
