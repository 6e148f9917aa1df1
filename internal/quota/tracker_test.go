package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"booking-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuotaStore struct {
	records    map[string]*models.QuotaRecord
	addErr     error
	resetCalls int
}

func newFakeQuotaStore() *fakeQuotaStore {
	return &fakeQuotaStore{records: make(map[string]*models.QuotaRecord)}
}

func (f *fakeQuotaStore) GetQuota(ctx context.Context, providerID string) (*models.QuotaRecord, error) {
	rec, ok := f.records[providerID]
	if !ok {
		return nil, errors.New("quota not found")
	}
	return rec, nil
}

func (f *fakeQuotaStore) AddQuotaUsage(ctx context.Context, providerID string, units int64) (*models.QuotaRecord, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	rec, ok := f.records[providerID]
	if !ok {
		return nil, errors.New("quota not found")
	}
	rec.CurrentUsage += units
	return rec, nil
}

func (f *fakeQuotaStore) ResetQuota(ctx context.Context, providerID string, resetAt time.Time) error {
	f.resetCalls++
	if rec, ok := f.records[providerID]; ok {
		rec.CurrentUsage = 0
		rec.ResetAt = resetAt
	}
	return nil
}

func newTestTracker(t *testing.T) (*Tracker, *fakeQuotaStore, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeQuotaStore()
	tracker := NewTracker(store)
	tracker.now = func() time.Time { return now }
	return tracker, store, &now
}

func TestRecordUsageUpdatesCache(t *testing.T) {
	tracker, store, now := newTestTracker(t)
	ctx := context.Background()

	store.records["expedia"] = &models.QuotaRecord{
		ProviderID:   "expedia",
		CurrentUsage: 0,
		UsageLimit:   100,
		ResetAt:      now.Add(24 * time.Hour),
	}
	tracker.Load(store.records["expedia"])

	require.NoError(t, tracker.RecordUsage(ctx, "expedia", 50))
	assert.Equal(t, 50.0, tracker.UsagePct("expedia"))
	assert.False(t, tracker.OverHighWater("expedia"))

	require.NoError(t, tracker.RecordUsage(ctx, "expedia", 45))
	assert.Equal(t, 95.0, tracker.UsagePct("expedia"))
	assert.True(t, tracker.OverHighWater("expedia"))
	assert.False(t, tracker.Exhausted("expedia"))

	require.NoError(t, tracker.RecordUsage(ctx, "expedia", 5))
	assert.True(t, tracker.Exhausted("expedia"))
}

func TestRecordUsagePropagatesStoreError(t *testing.T) {
	tracker, store, _ := newTestTracker(t)
	store.addErr = errors.New("connection refused")

	err := tracker.RecordUsage(context.Background(), "expedia", 1)
	assert.Error(t, err)
}

func TestUnknownProviderIsUnlimited(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	assert.Equal(t, 0.0, tracker.UsagePct("no-such-provider"))
	assert.False(t, tracker.OverHighWater("no-such-provider"))
	assert.False(t, tracker.Exhausted("no-such-provider"))
}

func TestElapsedWindowReadsAsFresh(t *testing.T) {
	tracker, _, now := newTestTracker(t)

	tracker.Load(&models.QuotaRecord{
		ProviderID:   "expedia",
		CurrentUsage: 100,
		UsageLimit:   100,
		ResetAt:      now.Add(time.Hour),
	})
	require.True(t, tracker.Exhausted("expedia"))

	*now = now.Add(2 * time.Hour)
	assert.Equal(t, 0.0, tracker.UsagePct("expedia"))
	assert.False(t, tracker.Exhausted("expedia"))
}

func TestResetIfExpired(t *testing.T) {
	tracker, store, now := newTestTracker(t)
	ctx := context.Background()

	store.records["expedia"] = &models.QuotaRecord{
		ProviderID:   "expedia",
		CurrentUsage: 80,
		UsageLimit:   100,
		ResetAt:      now.Add(time.Hour),
	}
	tracker.Load(store.records["expedia"])

	// Window not elapsed yet: no-op.
	require.NoError(t, tracker.ResetIfExpired(ctx, "expedia"))
	assert.Equal(t, 0, store.resetCalls)
	assert.Equal(t, 80.0, tracker.UsagePct("expedia"))

	*now = now.Add(2 * time.Hour)
	require.NoError(t, tracker.ResetIfExpired(ctx, "expedia"))
	assert.Equal(t, 1, store.resetCalls)
	assert.Equal(t, 0.0, tracker.UsagePct("expedia"))
	assert.Equal(t, now.Add(DefaultResetInterval), store.records["expedia"].ResetAt)
}

func TestAdminResetZeroesUsage(t *testing.T) {
	tracker, store, now := newTestTracker(t)
	ctx := context.Background()

	store.records["expedia"] = &models.QuotaRecord{
		ProviderID:   "expedia",
		CurrentUsage: 100,
		UsageLimit:   100,
		ResetAt:      now.Add(time.Hour),
	}
	tracker.Load(store.records["expedia"])
	require.True(t, tracker.Exhausted("expedia"))

	require.NoError(t, tracker.Reset(ctx, "expedia"))
	assert.False(t, tracker.Exhausted("expedia"))
	assert.Equal(t, 0.0, tracker.UsagePct("expedia"))
}
