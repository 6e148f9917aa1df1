package quota

import (
	"context"
	"sync"
	"time"

	"booking-engine/internal/models"
	"booking-engine/internal/util"

	"go.uber.org/zap"
)

// DefaultHighWaterPct is the usage percentage at which the selector
// starts deprioritizing a provider. At 100% the provider is excluded
// entirely until its window resets.
const DefaultHighWaterPct = 90.0

// DefaultResetInterval is the quota window length. Windows reset on
// this schedule independent of booking activity.
const DefaultResetInterval = 24 * time.Hour

// Store persists quota records. Implemented by store.Store using
// conditional updates so concurrent sagas cannot lose counts.
type Store interface {
	GetQuota(ctx context.Context, providerID string) (*models.QuotaRecord, error)
	AddQuotaUsage(ctx context.Context, providerID string, units int64) (*models.QuotaRecord, error)
	ResetQuota(ctx context.Context, providerID string, resetAt time.Time) error
}

// Tracker records usage against supplier-imposed quotas. The hot path
// reads a cached record; writes go through the store.
type Tracker struct {
	mu            sync.RWMutex
	records       map[string]*models.QuotaRecord
	store         Store
	highWaterPct  float64
	resetInterval time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewTracker creates a tracker backed by the given store.
func NewTracker(store Store) *Tracker {
	return &Tracker{
		records:       make(map[string]*models.QuotaRecord),
		store:         store,
		highWaterPct:  DefaultHighWaterPct,
		resetInterval: DefaultResetInterval,
		logger:        util.GetLogger(),
		now:           time.Now,
	}
}

// Load seeds the cache with a quota record (startup or tests).
func (t *Tracker) Load(rec *models.QuotaRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[rec.ProviderID] = rec
}

// RecordUsage adds units of usage for a provider.
func (t *Tracker) RecordUsage(ctx context.Context, providerID string, units int64) error {
	updated, err := t.store.AddQuotaUsage(ctx, providerID, units)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.records[providerID] = updated
	t.mu.Unlock()

	pct := updated.PercentageUsed()
	util.QuotaUsagePct.WithLabelValues(providerID).Set(pct)
	if pct >= t.highWaterPct {
		t.logger.Warn("Provider approaching quota limit",
			zap.String("provider_id", providerID),
			zap.Float64("usage_pct", pct))
	}
	return nil
}

// UsagePct returns quota consumption for a provider as 0-100.
// Unknown providers report 0 (no quota configured means unlimited).
func (t *Tracker) UsagePct(providerID string) float64 {
	t.mu.RLock()
	rec, ok := t.records[providerID]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	if !rec.ResetAt.IsZero() && t.now().After(rec.ResetAt) {
		// Window elapsed; treat as fresh until ResetIfExpired persists it.
		return 0
	}
	return rec.PercentageUsed()
}

// OverHighWater reports whether the provider should be deprioritized.
func (t *Tracker) OverHighWater(providerID string) bool {
	return t.UsagePct(providerID) >= t.highWaterPct
}

// Exhausted reports whether the provider is excluded entirely.
func (t *Tracker) Exhausted(providerID string) bool {
	return t.UsagePct(providerID) >= 100
}

// ResetIfExpired persists a window reset when the provider's quota
// window has elapsed. Called by the recovery sweep.
func (t *Tracker) ResetIfExpired(ctx context.Context, providerID string) error {
	t.mu.RLock()
	rec, ok := t.records[providerID]
	t.mu.RUnlock()
	if !ok || rec.ResetAt.IsZero() || t.now().Before(rec.ResetAt) {
		return nil
	}
	return t.Reset(ctx, providerID)
}

// Reset zeroes a provider's quota window. Admin operation, also used
// on schedule expiry.
func (t *Tracker) Reset(ctx context.Context, providerID string) error {
	resetAt := t.now().Add(t.resetInterval)
	if err := t.store.ResetQuota(ctx, providerID, resetAt); err != nil {
		return err
	}

	t.mu.Lock()
	if rec, ok := t.records[providerID]; ok {
		rec.CurrentUsage = 0
		rec.ResetAt = resetAt
	}
	t.mu.Unlock()

	util.QuotaUsagePct.WithLabelValues(providerID).Set(0)
	t.logger.Info("Quota window reset",
		zap.String("provider_id", providerID),
		zap.Time("next_reset", resetAt))
	return nil
}
