package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Postgres error codes we translate into domain errors.
const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
	pgUndefinedTable     = "42P01"
)

var (
	// ErrPeriodOverlap means another writer already claimed an overlapping
	// settlement window for this merchant. Expected under concurrent runs.
	ErrPeriodOverlap = errors.New("settlement period overlaps an existing active period")

	// ErrNothingOwed means the in-transaction recheck found the window fully
	// paid already.
	ErrNothingOwed = errors.New("nothing owed for settlement window")

	// ErrNotFound is returned for missing payout transactions.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition rejects payout status changes from a non-pending state.
	ErrInvalidTransition = errors.New("invalid payout status transition")
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

// GetActiveFeeSettings returns the newest active fee configuration row, or nil
// when none has ever been written. A missing table also counts as "not
// configured" so a fresh install falls back to defaults instead of failing.
func (s *Store) GetActiveFeeSettings(ctx context.Context) (*models.FeeSettings, error) {
	var fs models.FeeSettings
	err := s.db.GetContext(ctx, &fs,
		`SELECT * FROM fee_settings WHERE is_active = true ORDER BY created_at DESC, id DESC LIMIT 1`)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUndefinedTable {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fs, nil
}

// RotateFeeSettings appends a new active fee settings row and deactivates the
// prior one. History is never updated in place.
func (s *Store) RotateFeeSettings(ctx context.Context, platformPct, gatewayPct decimal.Decimal, actor string) (*models.FeeSettings, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE fee_settings SET is_active = false WHERE is_active = true`); err != nil {
		return nil, fmt.Errorf("failed to deactivate fee settings: %w", err)
	}

	var fs models.FeeSettings
	err = tx.GetContext(ctx, &fs, `
		INSERT INTO fee_settings (platform_fee_pct, gateway_fee_pct, is_active, created_by)
		VALUES ($1, $2, true, $3)
		RETURNING *`,
		platformPct, gatewayPct, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to insert fee settings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &fs, nil
}

// ListMerchantIDs returns enabled merchant IDs after the cursor, in ID order.
func (s *Store) ListMerchantIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	ids := []int64{}
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM merchants WHERE merchant_enabled = true AND id > $1 ORDER BY id LIMIT $2`,
		afterID, limit)
	return ids, err
}

// FilterEnabledMerchantIDs keeps only the given IDs that are enabled merchants,
// preserving ID order.
func (s *Store) FilterEnabledMerchantIDs(ctx context.Context, merchantIDs []int64) ([]int64, error) {
	if len(merchantIDs) == 0 {
		return []int64{}, nil
	}

	query, args, err := sqlx.In(
		`SELECT id FROM merchants WHERE merchant_enabled = true AND id IN (?) ORDER BY id`, merchantIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	ids := []int64{}
	err = s.db.SelectContext(ctx, &ids, query, args...)
	return ids, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}
