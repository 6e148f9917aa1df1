package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"booking-engine/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProviders retrieves all configured providers
func (s *Store) GetProviders(ctx context.Context) ([]models.Provider, error) {
	var providers []models.Provider
	err := s.db.SelectContext(ctx, &providers, "SELECT * FROM providers ORDER BY provider_id")
	return providers, err
}

// GetProviderByID retrieves a provider by ID
func (s *Store) GetProviderByID(ctx context.Context, providerID string) (*models.Provider, error) {
	var p models.Provider
	err := s.db.GetContext(ctx, &p, "SELECT * FROM providers WHERE provider_id = $1", providerID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("provider not found: %s", providerID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetProviderEnabled flips the enabled flag. Providers are never
// deleted, only disabled.
func (s *Store) SetProviderEnabled(ctx context.Context, providerID string, enabled bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE providers SET enabled = $1, updated_at = NOW() WHERE provider_id = $2",
		enabled, providerID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("provider not found: %s", providerID)
	}
	return nil
}

// UpdateProviderCircuitState persists a breaker transition. The update
// is conditional on the previously observed state so concurrent sagas
// cannot race a transition (optimistic concurrency).
func (s *Store) UpdateProviderCircuitState(ctx context.Context, providerID, fromState, toState string, failureCount int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE providers
		SET circuit_state = $1, failure_count = $2, updated_at = NOW()
		WHERE provider_id = $3 AND circuit_state = $4`,
		toState, failureCount, providerID, fromState)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows == 1, err
}

// RecordProviderSuccess records a successful call outcome.
func (s *Store) RecordProviderSuccess(ctx context.Context, providerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE providers
		SET last_success_at = NOW(), failure_count = 0, updated_at = NOW()
		WHERE provider_id = $1`, providerID)
	return err
}

// RecordProviderFailure records a failed call outcome.
func (s *Store) RecordProviderFailure(ctx context.Context, providerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE providers
		SET last_failure_at = NOW(), failure_count = failure_count + 1, updated_at = NOW()
		WHERE provider_id = $1`, providerID)
	return err
}

// GetQuota retrieves the quota record for a provider
func (s *Store) GetQuota(ctx context.Context, providerID string) (*models.QuotaRecord, error) {
	var q models.QuotaRecord
	err := s.db.GetContext(ctx, &q, "SELECT * FROM provider_quotas WHERE provider_id = $1", providerID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("quota not found for provider: %s", providerID)
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// AddQuotaUsage adds usage units in a single statement so concurrent
// sagas touching the same provider cannot lose updates.
func (s *Store) AddQuotaUsage(ctx context.Context, providerID string, units int64) (*models.QuotaRecord, error) {
	var q models.QuotaRecord
	err := s.db.GetContext(ctx, &q, `
		UPDATE provider_quotas
		SET current_usage = current_usage + $1, updated_at = NOW()
		WHERE provider_id = $2
		RETURNING *`, units, providerID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("quota not found for provider: %s", providerID)
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ResetQuota zeroes a provider's quota window
func (s *Store) ResetQuota(ctx context.Context, providerID string, resetAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE provider_quotas
		SET current_usage = 0, reset_at = $1, updated_at = NOW()
		WHERE provider_id = $2`, resetAt, providerID)
	return err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
