package service

import (
	"context"
	"time"

	"settlement-service/internal/models"
	"settlement-service/internal/store"

	"github.com/shopspring/decimal"
)

// The services depend on narrow interfaces rather than the concrete store so
// the settlement invariants can be exercised against in-memory fakes.
// *store.Store satisfies all of them.

// FeeStore reads and rotates the active fee configuration.
type FeeStore interface {
	GetActiveFeeSettings(ctx context.Context) (*models.FeeSettings, error)
	RotateFeeSettings(ctx context.Context, platformPct, gatewayPct decimal.Decimal, actor string) (*models.FeeSettings, error)
}

// WindowStore provides the dates that bound a settlement window.
type WindowStore interface {
	FirstSaleDate(ctx context.Context, merchantID int64) (*time.Time, error)
	LastUnsettledSaleDate(ctx context.Context, merchantID int64) (*time.Time, error)
	LastSettledTo(ctx context.Context, merchantID int64) (*time.Time, error)
}

// ReconcilerStore provides the two already-paid lookups.
type ReconcilerStore interface {
	SumKeyedPayouts(ctx context.Context, merchantID int64, idempotencyKey string) (int64, error)
	SumLegacyPayouts(ctx context.Context, merchantID int64, from, to time.Time) (int64, error)
}

// LedgerStore probes and sums structured ledger credits.
type LedgerStore interface {
	HasSaleCredits(ctx context.Context, upTo time.Time) (bool, error)
	SumSaleCredits(ctx context.Context, merchantID int64, from, to time.Time) (int64, error)
}

// SettlementStore is everything the batch processor needs.
type SettlementStore interface {
	FeeStore
	WindowStore
	ReconcilerStore
	LedgerStore

	ListMerchantIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)
	FilterEnabledMerchantIDs(ctx context.Context, merchantIDs []int64) ([]int64, error)
	AggregateRevenue(ctx context.Context, merchantID int64, from, to time.Time) (models.RevenueSummary, error)
	CreateSettlement(ctx context.Context, p store.CreateSettlementParams) (*models.PayoutTransaction, error)
	GetPayoutTransaction(ctx context.Context, id int64) (*models.PayoutTransaction, error)
	ListPayoutEvents(ctx context.Context, payoutID int64) ([]models.PayoutEvent, error)
	ListSettlementPeriods(ctx context.Context, merchantID int64) ([]models.SettlementPeriod, error)
}

// PayoutPublisher announces committed payouts to the payment-execution service.
type PayoutPublisher interface {
	PublishPayoutCreated(ctx context.Context, event *models.PayoutCreatedEvent) error
}

// RunLocker serializes operator-triggered batch runs. Advisory only: the
// settlement_periods exclusion constraint stays correct without it.
type RunLocker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// RunCheckpointer optionally persists the resume cursor of a named run so a
// multi-page batch can continue after an operator restart.
type RunCheckpointer interface {
	SaveRunCursor(ctx context.Context, runKey, cursor string, ttl time.Duration) error
	LoadRunCursor(ctx context.Context, runKey string) (string, error)
}
