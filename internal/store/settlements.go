package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// LastSettledTo returns the end date of the merchant's latest active
// settlement period, or nil if the merchant has never been settled.
func (s *Store) LastSettledTo(ctx context.Context, merchantID int64) (*time.Time, error) {
	var last sql.NullTime
	err := s.db.GetContext(ctx, &last,
		`SELECT MAX(settlement_to) FROM settlement_periods WHERE merchant_id = $1 AND is_active = true`,
		merchantID)
	if err != nil {
		return nil, err
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time
	return &t, nil
}

// ListSettlementPeriods returns a merchant's settlement periods, newest first.
func (s *Store) ListSettlementPeriods(ctx context.Context, merchantID int64) ([]models.SettlementPeriod, error) {
	periods := []models.SettlementPeriod{}
	err := s.db.SelectContext(ctx, &periods,
		`SELECT * FROM settlement_periods WHERE merchant_id = $1 ORDER BY settlement_to DESC`,
		merchantID)
	return periods, err
}

// SumKeyedPayouts sums pending and completed payout amounts matched by the
// structured idempotency key.
func (s *Store) SumKeyedPayouts(ctx context.Context, merchantID int64, idempotencyKey string) (int64, error) {
	return sumKeyedPayouts(ctx, s.db, merchantID, idempotencyKey)
}

// SumLegacyPayouts sums pending and completed payouts that predate the keyed
// scheme: no idempotency key, created inside the window's date range.
func (s *Store) SumLegacyPayouts(ctx context.Context, merchantID int64, from, to time.Time) (int64, error) {
	return sumLegacyPayouts(ctx, s.db, merchantID, from, to)
}

func sumKeyedPayouts(ctx context.Context, q sqlx.QueryerContext, merchantID int64, idempotencyKey string) (int64, error) {
	var total int64
	err := sqlx.GetContext(ctx, q, &total, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM payout_transactions
		WHERE merchant_id = $1
		  AND type = $2
		  AND status IN ($3, $4)
		  AND idempotency_key = $5`,
		merchantID, models.PayoutTransactionType,
		models.PayoutStatusPending, models.PayoutStatusCompleted,
		idempotencyKey)
	return total, err
}

func sumLegacyPayouts(ctx context.Context, q sqlx.QueryerContext, merchantID int64, from, to time.Time) (int64, error) {
	var total int64
	err := sqlx.GetContext(ctx, q, &total, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM payout_transactions
		WHERE merchant_id = $1
		  AND type = $2
		  AND status IN ($3, $4)
		  AND idempotency_key IS NULL
		  AND created_at::date BETWEEN $5::date AND $6::date`,
		merchantID, models.PayoutTransactionType,
		models.PayoutStatusPending, models.PayoutStatusCompleted,
		from, to)
	return total, err
}

// HasSaleCredits reports whether any ledger sale credits exist up to the given
// date. The ledger cutover is platform-wide, so one probe covers a whole run.
func (s *Store) HasSaleCredits(ctx context.Context, upTo time.Time) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM ledger_entries
			WHERE entry_type = $1 AND earned_at::date <= $2::date
		)`,
		models.LedgerEntryTypeSaleCredit, upTo)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUndefinedTable {
		return false, nil
	}
	return exists, err
}

// SumSaleCredits sums the merchant's ledger sale credits earned in the window.
func (s *Store) SumSaleCredits(ctx context.Context, merchantID int64, from, to time.Time) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM ledger_entries
		WHERE recipient_id = $1
		  AND entry_type = $2
		  AND earned_at::date BETWEEN $3::date AND $4::date`,
		merchantID, models.LedgerEntryTypeSaleCredit, from, to)
	return total, err
}

// CreateSettlementParams carries everything needed to persist one merchant's
// settlement atomically.
type CreateSettlementParams struct {
	MerchantID     int64
	From           time.Time
	To             time.Time
	ExpectedCents  int64
	Currency       string
	IdempotencyKey string
	CreatedBy      string
	CreatedVia     string
}

// CreateSettlement persists the payout transaction, its audit event and the
// settlement period in one transaction. The merchant row is locked and the
// already-paid amount rechecked under that lock so two concurrent runs cannot
// both pass the remaining check; the exclusion constraint on
// settlement_periods is the backstop and surfaces as ErrPeriodOverlap.
func (s *Store) CreateSettlement(ctx context.Context, p CreateSettlementParams) (*models.PayoutTransaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var merchantID int64
	err = tx.GetContext(ctx, &merchantID,
		`SELECT id FROM merchants WHERE id = $1 FOR UPDATE`, p.MerchantID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock merchant: %w", err)
	}

	keyed, err := sumKeyedPayouts(ctx, tx, p.MerchantID, p.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to recheck keyed payouts: %w", err)
	}
	legacy, err := sumLegacyPayouts(ctx, tx, p.MerchantID, p.From, p.To)
	if err != nil {
		return nil, fmt.Errorf("failed to recheck legacy payouts: %w", err)
	}

	remaining := p.ExpectedCents - keyed - legacy
	if remaining <= 0 {
		return nil, ErrNothingOwed
	}

	var payout models.PayoutTransaction
	err = tx.GetContext(ctx, &payout, `
		INSERT INTO payout_transactions
			(merchant_id, type, status, amount_cents, currency, idempotency_key, created_by, created_via)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *`,
		p.MerchantID, models.PayoutTransactionType, models.PayoutStatusPending,
		remaining, p.Currency, p.IdempotencyKey, p.CreatedBy, p.CreatedVia)
	if err != nil {
		return nil, overlapOr(err, "failed to insert payout transaction")
	}

	metadata, err := json.Marshal(map[string]interface{}{
		"amount_cents":    remaining,
		"currency":        p.Currency,
		"settlement_from": p.From.Format("2006-01-02"),
		"settlement_to":   p.To.Format("2006-01-02"),
	})
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payout_events (payout_transaction_id, from_status, to_status, actor, metadata)
		VALUES ($1, NULL, $2, $3, $4)`,
		payout.ID, models.PayoutStatusPending, p.CreatedBy, metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payout event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO settlement_periods
			(merchant_id, settlement_from, settlement_to, is_active, payout_transaction_id)
		VALUES ($1, $2::date, $3::date, true, $4)`,
		p.MerchantID, p.From, p.To, payout.ID)
	if err != nil {
		return nil, overlapOr(err, "failed to insert settlement period")
	}

	if err := tx.Commit(); err != nil {
		return nil, overlapOr(err, "failed to commit settlement")
	}
	return &payout, nil
}

// overlapOr converts exclusion and idempotency-key unique violations into
// ErrPeriodOverlap, and wraps everything else.
func overlapOr(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgExclusionViolation, pgUniqueViolation:
			return ErrPeriodOverlap
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// ApplyPayoutResult transitions a pending payout to completed or failed and
// appends the audit event. The processed-events insert shares the transaction,
// so a Kafka redelivery is a clean no-op.
func (s *Store) ApplyPayoutResult(ctx context.Context, eventID, eventType string, payoutID int64, toStatus, actor, detail string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType)
	if err != nil {
		return fmt.Errorf("failed to record processed event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	var payout models.PayoutTransaction
	err = tx.GetContext(ctx, &payout,
		`SELECT * FROM payout_transactions WHERE id = $1 FOR UPDATE`, payoutID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock payout transaction: %w", err)
	}

	if payout.Status != models.PayoutStatusPending {
		return ErrInvalidTransition
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE payout_transactions SET status = $1, updated_at = NOW() WHERE id = $2`,
		toStatus, payoutID)
	if err != nil {
		return fmt.Errorf("failed to update payout status: %w", err)
	}

	metadata, err := json.Marshal(map[string]interface{}{
		"amount_cents": payout.AmountCents,
		"currency":     payout.Currency,
		"detail":       detail,
	})
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payout_events (payout_transaction_id, from_status, to_status, actor, metadata)
		VALUES ($1, $2, $3, $4, $5)`,
		payoutID, payout.Status, toStatus, actor, metadata)
	if err != nil {
		return fmt.Errorf("failed to insert payout event: %w", err)
	}

	return tx.Commit()
}

// GetPayoutTransaction retrieves a payout by ID.
func (s *Store) GetPayoutTransaction(ctx context.Context, id int64) (*models.PayoutTransaction, error) {
	var payout models.PayoutTransaction
	err := s.db.GetContext(ctx, &payout,
		`SELECT * FROM payout_transactions WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// ListPayoutEvents returns a payout's audit trail, oldest first.
func (s *Store) ListPayoutEvents(ctx context.Context, payoutID int64) ([]models.PayoutEvent, error) {
	events := []models.PayoutEvent{}
	err := s.db.SelectContext(ctx, &events,
		`SELECT * FROM payout_events WHERE payout_transaction_id = $1 ORDER BY created_at, id`,
		payoutID)
	return events, err
}
