package breaker

import (
	"sync"
	"time"

	"booking-engine/internal/models"
	"booking-engine/internal/provider"
	"booking-engine/internal/util"

	"go.uber.org/zap"
)

// Config controls when a breaker opens and how long it stays open.
type Config struct {
	FailureThreshold int           // failures within Window that open the breaker
	Window           time.Duration // rolling failure window
	OpenTimeout      time.Duration // initial cooldown before HALF_OPEN
	MaxOpenTimeout   time.Duration // cap for the exponential cooldown
}

// DefaultConfig matches the production defaults: 5 failures in 60s
// opens the breaker for 30s, doubling per consecutive open up to 10m.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		OpenTimeout:      30 * time.Second,
		MaxOpenTimeout:   10 * time.Minute,
	}
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	State        string
	FailureCount int
	LastFailure  time.Time
	LastSuccess  time.Time
}

// Breaker guards calls to one provider. All state is behind its own
// mutex so unrelated providers never contend.
type Breaker struct {
	mu sync.Mutex

	providerID string
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time

	state         string
	failures      []time.Time // failure timestamps within the window
	lastFailure   time.Time
	lastSuccess   time.Time
	openedAt      time.Time
	openTimeout   time.Duration // current cooldown, grows per consecutive open
	trialInFlight bool          // single admission gate in HALF_OPEN
}

// New creates a CLOSED breaker for the given provider.
func New(providerID string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Breaker{
		providerID:  providerID,
		cfg:         cfg,
		logger:      util.GetLogger(),
		now:         time.Now,
		state:       models.CircuitClosed,
		openTimeout: cfg.OpenTimeout,
	}
}

// Allow reports whether a call to the provider may proceed. In
// HALF_OPEN exactly one caller is admitted as the trial; everyone
// else is rejected until the trial resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advanceLocked(b.now())

	switch b.state {
	case models.CircuitClosed:
		return true
	case models.CircuitHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful provider call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastSuccess = now

	if b.state == models.CircuitHalfOpen {
		b.transitionLocked(models.CircuitClosed, now)
		b.openTimeout = b.cfg.OpenTimeout
	}
	b.failures = b.failures[:0]
	b.trialInFlight = false
}

// RecordFailure records a failed provider call. Caller errors
// (supplier rejections) are exempt from failure accounting: they
// indicate a bad request, not provider unavailability, and must not
// produce false-positive opens. A rejection still resolves a HALF_OPEN
// trial — the supplier answered — so the gate is released and the
// breaker closes instead of wedging on an unresolved trial.
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if provider.IsCallerError(err) {
		if b.state == models.CircuitHalfOpen {
			b.transitionLocked(models.CircuitClosed, now)
			b.openTimeout = b.cfg.OpenTimeout
			b.failures = b.failures[:0]
		}
		b.trialInFlight = false
		return
	}

	b.lastFailure = now

	if b.state == models.CircuitHalfOpen {
		// Trial failed: back to OPEN with a doubled cooldown.
		b.trialInFlight = false
		b.openTimeout = minDuration(b.openTimeout*2, b.cfg.MaxOpenTimeout)
		b.openLocked(now)
		return
	}

	b.failures = append(b.pruneLocked(now), now)
	if b.state == models.CircuitClosed && len(b.failures) >= b.cfg.FailureThreshold {
		b.openLocked(now)
	}
}

// Snapshot returns the current state and counters.
func (b *Breaker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advanceLocked(b.now())
	return Stats{
		State:        b.state,
		FailureCount: len(b.pruneLocked(b.now())),
		LastFailure:  b.lastFailure,
		LastSuccess:  b.lastSuccess,
	}
}

// Reset forces the breaker back to CLOSED. Admin operation.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionLocked(models.CircuitClosed, b.now())
	b.failures = b.failures[:0]
	b.openTimeout = b.cfg.OpenTimeout
	b.trialInFlight = false
}

// TryRecover moves an OPEN breaker whose cooldown elapsed into
// HALF_OPEN. Called by the recovery sweep so idle providers recover
// even without traffic; returns true if the state advanced.
func (b *Breaker) TryRecover(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != models.CircuitOpen {
		return false
	}
	b.advanceLocked(now)
	return b.state == models.CircuitHalfOpen
}

// advanceLocked applies the OPEN -> HALF_OPEN time transition.
func (b *Breaker) advanceLocked(now time.Time) {
	if b.state == models.CircuitOpen && now.Sub(b.openedAt) >= b.openTimeout {
		b.transitionLocked(models.CircuitHalfOpen, now)
		b.trialInFlight = false
	}
}

func (b *Breaker) openLocked(now time.Time) {
	b.openedAt = now
	b.transitionLocked(models.CircuitOpen, now)
}

func (b *Breaker) transitionLocked(to string, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	util.BreakerTransitionsTotal.WithLabelValues(b.providerID, to).Inc()
	b.logger.Warn("Circuit breaker state change",
		zap.String("provider_id", b.providerID),
		zap.String("from", from),
		zap.String("to", to),
		zap.Duration("open_timeout", b.openTimeout))
}

// pruneLocked drops failures older than the rolling window.
func (b *Breaker) pruneLocked(now time.Time) []time.Time {
	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
	return kept
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
