package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"booking-engine/internal/breaker"
	"booking-engine/internal/models"
	"booking-engine/internal/provider"
	"booking-engine/internal/quota"
	"booking-engine/internal/util"

	"go.uber.org/zap"
)

// Store persists provider state. Implemented by store.Store.
type Store interface {
	SetProviderEnabled(ctx context.Context, providerID string, enabled bool) error
	UpdateProviderCircuitState(ctx context.Context, providerID, fromState, toState string, failureCount int) (bool, error)
	RecordProviderSuccess(ctx context.Context, providerID string) error
	RecordProviderFailure(ctx context.Context, providerID string) error
}

// Entry holds everything the registry knows about one provider: its
// static configuration, its breaker, its client, and runtime stats.
type Entry struct {
	mu sync.Mutex

	ProviderID  string
	ServiceType string
	Priority    int

	enabled bool
	client  provider.Client
	breaker *breaker.Breaker
	latency time.Duration // EWMA of recent reserve latency
}

// Registry owns the per-provider circuit breakers and picks candidate
// orderings for a service type. One breaker instance per provider,
// passed by handle, never rediscovered from global scope.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	store  Store
	quotas *quota.Tracker
	logger *zap.Logger
}

// New creates an empty registry.
func New(store Store, quotas *quota.Tracker) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		store:   store,
		quotas:  quotas,
		logger:  util.GetLogger(),
	}
}

// Register adds a provider with its client and breaker configuration.
func (r *Registry) Register(p models.Provider, client provider.Client, cfg breaker.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[p.ProviderID] = &Entry{
		ProviderID:  p.ProviderID,
		ServiceType: p.ServiceType,
		Priority:    p.Priority,
		enabled:     p.Enabled,
		client:      client,
		breaker:     breaker.New(p.ProviderID, cfg),
	}
	r.logger.Info("Provider registered",
		zap.String("provider_id", p.ProviderID),
		zap.String("service_type", p.ServiceType),
		zap.Int("priority", p.Priority),
		zap.Bool("enabled", p.Enabled))
}

// Select returns provider ids eligible for the service type, best
// candidate first: enabled, breaker not OPEN, quota below 100%.
// Ordering is ascending priority, recent latency as tie-break;
// providers past the quota high-water mark sort after healthy ones.
// An empty result is a capacity fault, not a breaker fault.
func (r *Registry) Select(serviceType string) ([]string, error) {
	r.mu.RLock()
	candidates := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.ServiceType != serviceType {
			continue
		}
		e.mu.Lock()
		enabled := e.enabled
		e.mu.Unlock()
		if !enabled {
			continue
		}
		if e.breaker.Snapshot().State == models.CircuitOpen {
			continue
		}
		if r.quotas.Exhausted(e.ProviderID) {
			continue
		}
		candidates = append(candidates, e)
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, models.ErrNoProviderAvailable
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		aHot, bHot := r.quotas.OverHighWater(a.ProviderID), r.quotas.OverHighWater(b.ProviderID)
		if aHot != bHot {
			return !aHot
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		a.mu.Lock()
		aLat := a.latency
		a.mu.Unlock()
		b.mu.Lock()
		bLat := b.latency
		b.mu.Unlock()
		return aLat < bLat
	})

	ids := make([]string, len(candidates))
	for i, e := range candidates {
		ids[i] = e.ProviderID
	}
	return ids, nil
}

// Client returns the supplier client for a provider.
func (r *Registry) Client(providerID string) (provider.Client, error) {
	e, err := r.entry(providerID)
	if err != nil {
		return nil, err
	}
	return e.client, nil
}

// Allow consults the provider's breaker for call admission. This is
// the HALF_OPEN single-trial gate; Select only filters OPEN providers.
func (r *Registry) Allow(providerID string) bool {
	e, err := r.entry(providerID)
	if err != nil {
		return false
	}
	allowed := e.breaker.Allow()
	if !allowed {
		util.BreakerShortCircuitsTotal.WithLabelValues(providerID).Inc()
	}
	return allowed
}

// RecordOutcome feeds one call result into the breaker, the latency
// EWMA, and the persisted provider row. Persistence is best-effort:
// the in-memory breaker is authoritative for admission decisions.
func (r *Registry) RecordOutcome(ctx context.Context, providerID string, elapsed time.Duration, callErr error) {
	e, err := r.entry(providerID)
	if err != nil {
		return
	}

	before := e.breaker.Snapshot()
	if callErr == nil {
		e.breaker.RecordSuccess()
		e.mu.Lock()
		if e.latency == 0 {
			e.latency = elapsed
		} else {
			e.latency = (e.latency*4 + elapsed) / 5
		}
		e.mu.Unlock()
		if err := r.store.RecordProviderSuccess(ctx, providerID); err != nil {
			r.logger.Warn("Failed to persist provider success",
				zap.String("provider_id", providerID), zap.Error(err))
		}
	} else {
		// The breaker sees every outcome: it exempts caller errors from
		// failure accounting itself, but a rejection must still resolve
		// a half-open trial. Rejections count against neither the
		// metrics nor the persisted failure counters.
		e.breaker.RecordFailure(callErr)
		if !provider.IsCallerError(callErr) {
			util.ProviderFailuresTotal.WithLabelValues(providerID).Inc()
			if err := r.store.RecordProviderFailure(ctx, providerID); err != nil {
				r.logger.Warn("Failed to persist provider failure",
					zap.String("provider_id", providerID), zap.Error(err))
			}
		}
	}

	after := e.breaker.Snapshot()
	if before.State != after.State {
		if _, err := r.store.UpdateProviderCircuitState(ctx, providerID, before.State, after.State, after.FailureCount); err != nil {
			r.logger.Warn("Failed to persist circuit state",
				zap.String("provider_id", providerID), zap.Error(err))
		}
	}
	util.ProviderReserveLatency.WithLabelValues(providerID).Observe(elapsed.Seconds())
}

// Enable re-enables a provider. Admin operation.
func (r *Registry) Enable(ctx context.Context, providerID string) error {
	return r.setEnabled(ctx, providerID, true)
}

// Disable disables a provider. Admin operation; providers are never
// removed, only disabled.
func (r *Registry) Disable(ctx context.Context, providerID string) error {
	return r.setEnabled(ctx, providerID, false)
}

func (r *Registry) setEnabled(ctx context.Context, providerID string, enabled bool) error {
	e, err := r.entry(providerID)
	if err != nil {
		return err
	}
	if err := r.store.SetProviderEnabled(ctx, providerID, enabled); err != nil {
		return err
	}
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
	r.logger.Info("Provider enabled flag changed",
		zap.String("provider_id", providerID),
		zap.Bool("enabled", enabled))
	return nil
}

// ResetBreaker forces a provider's breaker back to CLOSED. Admin
// operation.
func (r *Registry) ResetBreaker(ctx context.Context, providerID string) error {
	e, err := r.entry(providerID)
	if err != nil {
		return err
	}
	before := e.breaker.Snapshot()
	e.breaker.Reset()
	if _, err := r.store.UpdateProviderCircuitState(ctx, providerID, before.State, models.CircuitClosed, 0); err != nil {
		r.logger.Warn("Failed to persist breaker reset",
			zap.String("provider_id", providerID), zap.Error(err))
	}
	return nil
}

// RecoverIdleBreakers advances OPEN breakers whose cooldown elapsed
// without traffic. Called by the recovery sweep so idle providers
// still recover.
func (r *Registry) RecoverIdleBreakers(now time.Time) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recovered := 0
	for _, e := range r.entries {
		if e.breaker.TryRecover(now) {
			recovered++
			r.logger.Info("Idle breaker recovered to half-open",
				zap.String("provider_id", e.ProviderID))
		}
	}
	return recovered
}

// ProviderStatus is a point-in-time admin view of one provider.
type ProviderStatus struct {
	ProviderID   string    `json:"provider_id"`
	ServiceType  string    `json:"service_type"`
	Enabled      bool      `json:"enabled"`
	Priority     int       `json:"priority"`
	CircuitState string    `json:"circuit_state"`
	FailureCount int       `json:"failure_count"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
	QuotaUsedPct float64   `json:"quota_used_pct"`
}

// Snapshot returns the admin listing of all providers.
func (r *Registry) Snapshot() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]ProviderStatus, 0, len(r.entries))
	for _, e := range r.entries {
		stats := e.breaker.Snapshot()
		e.mu.Lock()
		enabled := e.enabled
		e.mu.Unlock()
		statuses = append(statuses, ProviderStatus{
			ProviderID:   e.ProviderID,
			ServiceType:  e.ServiceType,
			Enabled:      enabled,
			Priority:     e.Priority,
			CircuitState: stats.State,
			FailureCount: stats.FailureCount,
			LastFailure:  stats.LastFailure,
			QuotaUsedPct: r.quotas.UsagePct(e.ProviderID),
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ProviderID < statuses[j].ProviderID
	})
	return statuses
}

// ResetQuota forwards an admin quota reset to the tracker.
func (r *Registry) ResetQuota(ctx context.Context, providerID string) error {
	if _, err := r.entry(providerID); err != nil {
		return err
	}
	return r.quotas.Reset(ctx, providerID)
}

func (r *Registry) entry(providerID string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[providerID]
	if !ok {
		return nil, fmt.Errorf("provider not registered: %s", providerID)
	}
	return e, nil
}
