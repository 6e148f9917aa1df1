package worker

import (
	"context"
	"time"

	"booking-engine/internal/models"
	"booking-engine/internal/registry"
	"booking-engine/internal/util"

	"go.uber.org/zap"
)

// SagaExpirer resolves one timed-out saga. Implemented by
// service.BookingService.
type SagaExpirer interface {
	ExpireSaga(ctx context.Context, booking *models.Booking) bool
}

// SagaFinder queries for stuck sagas. Implemented by store.Store.
type SagaFinder interface {
	FindTimedOutSagas(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)
}

// Directory is the registry surface the sweep needs.
type Directory interface {
	RecoverIdleBreakers(now time.Time) int
	Snapshot() []registry.ProviderStatus
}

// QuotaSweeper resets quota windows past their schedule.
type QuotaSweeper interface {
	ResetIfExpired(ctx context.Context, providerID string) error
}

// Locker serializes sweep passes across instances and cleans up
// leftover cache keys. Implemented by redisclient.Client.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
	PurgeExpiredIdempotencyKeys(ctx context.Context, maxScan int64) (int, error)
}

const sweepLockKey = "recovery-sweep"

// Sweeper is the safety net against partial failures the synchronous
// path could not resolve: crashed processes mid-saga, webhooks that
// never arrived, idle providers stuck OPEN.
type Sweeper struct {
	finder    SagaFinder
	expirer   SagaExpirer
	directory Directory
	quotas    QuotaSweeper
	locker    Locker
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
	stop      chan struct{}
}

// NewSweeper creates a recovery sweeper.
func NewSweeper(finder SagaFinder, expirer SagaExpirer, directory Directory, quotas QuotaSweeper, locker Locker, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		finder:    finder,
		expirer:   expirer,
		directory: directory,
		quotas:    quotas,
		locker:    locker,
		interval:  interval,
		batchSize: 100,
		logger:    util.GetLogger(),
		stop:      make(chan struct{}),
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is
// called.
func (sw *Sweeper) Start(ctx context.Context) error {
	sw.logger.Info("Starting recovery sweeper", zap.Duration("interval", sw.interval))

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sw.stop:
			return nil
		case <-ticker.C:
			sw.RunOnce(ctx)
		}
	}
}

// Stop stops the sweeper
func (sw *Sweeper) Stop() {
	close(sw.stop)
}

// RunOnce executes a single sweep pass. Exported for tests and for
// admin-triggered sweeps.
func (sw *Sweeper) RunOnce(ctx context.Context) {
	if sw.locker != nil {
		acquired, err := sw.locker.AcquireLock(ctx, sweepLockKey, sw.interval)
		if err != nil {
			sw.logger.Warn("Sweep lock check failed, proceeding unlocked", zap.Error(err))
		} else if !acquired {
			return
		} else {
			defer func() {
				if err := sw.locker.ReleaseLock(ctx, sweepLockKey); err != nil {
					sw.logger.Warn("Failed to release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	now := time.Now()
	sw.expireStuckSagas(ctx, now)

	if recovered := sw.directory.RecoverIdleBreakers(now); recovered > 0 {
		sw.logger.Info("Recovered idle circuit breakers", zap.Int("count", recovered))
	}

	for _, p := range sw.directory.Snapshot() {
		if err := sw.quotas.ResetIfExpired(ctx, p.ProviderID); err != nil {
			sw.logger.Warn("Quota reset failed",
				zap.String("provider_id", p.ProviderID), zap.Error(err))
		}
	}

	if sw.locker != nil {
		if purged, err := sw.locker.PurgeExpiredIdempotencyKeys(ctx, 1000); err != nil {
			sw.logger.Warn("Idempotency purge failed", zap.Error(err))
		} else if purged > 0 {
			sw.logger.Info("Purged stale idempotency keys", zap.Int("count", purged))
		}
	}

	util.SweepRunsTotal.Inc()
}

func (sw *Sweeper) expireStuckSagas(ctx context.Context, now time.Time) {
	stuck, err := sw.finder.FindTimedOutSagas(ctx, now, sw.batchSize)
	if err != nil {
		sw.logger.Error("Failed to query timed-out sagas", zap.Error(err))
		return
	}

	for i := range stuck {
		booking := stuck[i]
		if sw.expirer.ExpireSaga(ctx, &booking) {
			util.SweepResolvedTotal.WithLabelValues("expired").Inc()
		} else {
			util.SweepResolvedTotal.WithLabelValues("already_resolved").Inc()
		}
	}

	if len(stuck) > 0 {
		sw.logger.Info("Sweep pass processed stuck sagas", zap.Int("count", len(stuck)))
	}
}
