package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-service/config"
	"settlement-service/internal/models"
	"settlement-service/internal/store"
)

// memStore is an in-memory SettlementStore that mirrors the persistence
// semantics: the already-paid recheck inside CreateSettlement, overlap
// rejection, and period bookkeeping that feeds the window allocator.
type memStore struct {
	merchants map[int64]*memMerchant
	payouts   map[int64]*models.PayoutTransaction
	events    map[int64][]models.PayoutEvent
	periods   map[int64][]models.SettlementPeriod
	fees      *models.FeeSettings

	legacyPaid  map[int64]int64
	hasLedger   bool
	ledgerCents map[int64]int64

	nextPayoutID int64
	forceOverlap bool
	createErr    error
}

type memMerchant struct {
	enabled   bool
	firstSale *time.Time
	lastSale  *time.Time
	revenue   models.RevenueSummary
}

func newMemStore() *memStore {
	return &memStore{
		merchants:   map[int64]*memMerchant{},
		payouts:     map[int64]*models.PayoutTransaction{},
		events:      map[int64][]models.PayoutEvent{},
		periods:     map[int64][]models.SettlementPeriod{},
		legacyPaid:  map[int64]int64{},
		ledgerCents: map[int64]int64{},
	}
}

// addMerchant registers an enabled merchant with sales spanning [first, last]
// and the given revenue for any aggregated window.
func (m *memStore) addMerchant(id int64, first, last string, rev models.RevenueSummary) {
	m.merchants[id] = &memMerchant{
		enabled:   true,
		firstSale: dayPtr(first),
		lastSale:  dayPtr(last),
		revenue:   rev,
	}
}

func (m *memStore) GetActiveFeeSettings(ctx context.Context) (*models.FeeSettings, error) {
	return m.fees, nil
}

func (m *memStore) RotateFeeSettings(ctx context.Context, platformPct, gatewayPct decimal.Decimal, actor string) (*models.FeeSettings, error) {
	m.fees = &models.FeeSettings{
		PlatformFeePct: platformPct,
		GatewayFeePct:  gatewayPct,
		IsActive:       true,
		CreatedBy:      actor,
	}
	return m.fees, nil
}

func (m *memStore) FirstSaleDate(ctx context.Context, merchantID int64) (*time.Time, error) {
	mer, ok := m.merchants[merchantID]
	if !ok {
		return nil, nil
	}
	return mer.firstSale, nil
}

func (m *memStore) LastUnsettledSaleDate(ctx context.Context, merchantID int64) (*time.Time, error) {
	mer, ok := m.merchants[merchantID]
	if !ok || mer.lastSale == nil {
		return nil, nil
	}
	settledTo, err := m.LastSettledTo(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if settledTo != nil && !mer.lastSale.After(*settledTo) {
		return nil, nil
	}
	return mer.lastSale, nil
}

func (m *memStore) LastSettledTo(ctx context.Context, merchantID int64) (*time.Time, error) {
	var last *time.Time
	for _, p := range m.periods[merchantID] {
		if !p.IsActive {
			continue
		}
		to := p.SettlementTo
		if last == nil || to.After(*last) {
			last = &to
		}
	}
	return last, nil
}

func (m *memStore) SumKeyedPayouts(ctx context.Context, merchantID int64, key string) (int64, error) {
	var total int64
	for _, p := range m.payouts {
		if p.MerchantID != merchantID || p.IdempotencyKey == nil || *p.IdempotencyKey != key {
			continue
		}
		if p.Status == models.PayoutStatusPending || p.Status == models.PayoutStatusCompleted {
			total += p.AmountCents
		}
	}
	return total, nil
}

func (m *memStore) SumLegacyPayouts(ctx context.Context, merchantID int64, from, to time.Time) (int64, error) {
	return m.legacyPaid[merchantID], nil
}

func (m *memStore) HasSaleCredits(ctx context.Context, upTo time.Time) (bool, error) {
	return m.hasLedger, nil
}

func (m *memStore) SumSaleCredits(ctx context.Context, merchantID int64, from, to time.Time) (int64, error) {
	return m.ledgerCents[merchantID], nil
}

func (m *memStore) ListMerchantIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	ids := []int64{}
	for id, mer := range m.merchants {
		if mer.enabled && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memStore) FilterEnabledMerchantIDs(ctx context.Context, merchantIDs []int64) ([]int64, error) {
	ids := []int64{}
	for _, id := range merchantIDs {
		if mer, ok := m.merchants[id]; ok && mer.enabled {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memStore) AggregateRevenue(ctx context.Context, merchantID int64, from, to time.Time) (models.RevenueSummary, error) {
	mer, ok := m.merchants[merchantID]
	if !ok {
		return models.RevenueSummary{}, nil
	}
	return mer.revenue, nil
}

func (m *memStore) CreateSettlement(ctx context.Context, p store.CreateSettlementParams) (*models.PayoutTransaction, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	if _, ok := m.merchants[p.MerchantID]; !ok {
		return nil, store.ErrNotFound
	}

	keyed, _ := m.SumKeyedPayouts(ctx, p.MerchantID, p.IdempotencyKey)
	legacy, _ := m.SumLegacyPayouts(ctx, p.MerchantID, p.From, p.To)
	remaining := p.ExpectedCents - keyed - legacy
	if remaining <= 0 {
		return nil, store.ErrNothingOwed
	}

	if m.forceOverlap {
		return nil, store.ErrPeriodOverlap
	}
	for _, existing := range m.periods[p.MerchantID] {
		if existing.IsActive && !p.From.After(existing.SettlementTo) && !p.To.Before(existing.SettlementFrom) {
			return nil, store.ErrPeriodOverlap
		}
	}

	m.nextPayoutID++
	key := p.IdempotencyKey
	payout := &models.PayoutTransaction{
		ID:             m.nextPayoutID,
		MerchantID:     p.MerchantID,
		Type:           models.PayoutTransactionType,
		Status:         models.PayoutStatusPending,
		AmountCents:    remaining,
		Currency:       p.Currency,
		IdempotencyKey: &key,
		CreatedBy:      p.CreatedBy,
		CreatedVia:     p.CreatedVia,
	}
	m.payouts[payout.ID] = payout
	m.events[payout.ID] = append(m.events[payout.ID], models.PayoutEvent{
		PayoutTransactionID: payout.ID,
		ToStatus:            models.PayoutStatusPending,
		Actor:               p.CreatedBy,
	})
	m.periods[p.MerchantID] = append(m.periods[p.MerchantID], models.SettlementPeriod{
		MerchantID:          p.MerchantID,
		SettlementFrom:      p.From,
		SettlementTo:        p.To,
		IsActive:            true,
		PayoutTransactionID: payout.ID,
	})
	return payout, nil
}

func (m *memStore) GetPayoutTransaction(ctx context.Context, id int64) (*models.PayoutTransaction, error) {
	p, ok := m.payouts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (m *memStore) ListPayoutEvents(ctx context.Context, payoutID int64) ([]models.PayoutEvent, error) {
	return m.events[payoutID], nil
}

func (m *memStore) ListSettlementPeriods(ctx context.Context, merchantID int64) ([]models.SettlementPeriod, error) {
	return m.periods[merchantID], nil
}

type fakePublisher struct {
	published []*models.PayoutCreatedEvent
}

func (f *fakePublisher) PublishPayoutCreated(ctx context.Context, event *models.PayoutCreatedEvent) error {
	f.published = append(f.published, event)
	return nil
}

type fakeLocker struct {
	denied   bool
	held     bool
	released bool
}

func (f *fakeLocker) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	if f.denied {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLocker) ReleaseLock(ctx context.Context, lockKey string) error {
	f.released = true
	return nil
}

func testCfg() config.SettlementConfig {
	return config.SettlementConfig{
		DefaultPlatformFeePct: 0.15,
		DefaultGatewayFeePct:  0.05,
		DefaultBatchLimit:     10,
		MaxBatchLimit:         200,
		PayoutCurrency:        "USD",
		RunLockTTLSeconds:     300,
	}
}

// plainRevenue is 100.00 gross with no discounts; with default fees the
// payout is 80.00.
func plainRevenue() models.RevenueSummary {
	return models.RevenueSummary{
		GrossRevenue:           dec("100.00"),
		DiscountTotal:          dec("0"),
		DiscountMerchantFunded: dec("0"),
		UnitsSold:              4,
	}
}

func TestRunBatchCreatesPayout(t *testing.T) {
	st := newMemStore()
	st.addMerchant(1, "2024-03-01", "2024-03-10", plainRevenue())
	pub := &fakePublisher{}
	svc := NewSettlementService(st, pub, nil, testCfg())

	result, err := svc.RunBatch(context.Background(), &RunRequest{Mode: ModeSettleAll})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)

	mr := result.Results[0]
	assert.Equal(t, OutcomeCreated, mr.Outcome)
	assert.Equal(t, "2024-03-01", mr.SettlementFrom)
	assert.Equal(t, "2024-03-10", mr.SettlementTo)
	assert.Equal(t, int64(8000), mr.ExpectedCents)
	assert.Equal(t, int64(8000), mr.RemainingCents)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, string(SourceComputed), result.Source)

	payout, ok := st.payouts[mr.PayoutID]
	require.True(t, ok)
	assert.Equal(t, int64(8000), payout.AmountCents)
	assert.Equal(t, models.PayoutStatusPending, payout.Status)
	assert.Equal(t, "USD", payout.Currency)
	require.NotNil(t, payout.IdempotencyKey)
	assert.Equal(t, "settlement:2024-03-01:2024-03-10", *payout.IdempotencyKey)

	require.Len(t, st.periods[1], 1)
	assert.True(t, st.periods[1][0].IsActive)

	require.Len(t, pub.published, 1)
	assert.Equal(t, int64(8000), pub.published[0].AmountCents)
	assert.Equal(t, models.EventTypePayoutCreated, pub.published[0].EventType)
}

func TestRunBatchSecondRunSkips(t *testing.T) {
	st := newMemStore()
	st.addMerchant(1, "2024-03-01", "2024-03-10", plainRevenue())
	svc := NewSettlementService(st, nil, nil, testCfg())

	first, err := svc.RunBatch(context.Background(), &RunRequest{Mode: ModeSettleAll})
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, first.Results[0].Outcome)

	second, err := svc.RunBatch(context.Background(), &RunRequest{Mode: ModeSettleAll})
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	assert.Equal(t, OutcomeSkipped, second.Results[0].Outcome)
	assert.Equal(t, 0, second.Created)
	assert.Len(t, st.payouts, 1, "no second payout may exist")
}

func TestRunBatchAlreadyPaidSkips(t *testing.T) {
	st := newMemStore()
	st.addMerchant(1, "2024-03-01", "2024-03-10", plainRevenue())
	st.legacyPaid[1] = 8000
	svc := NewSettlementService(st, nil, nil, testCfg())

	result, err := svc.RunBatch(context.Background(), &RunRequest{Mode: ModeSettleAll})
	require.NoError(t, err)

	mr := result.Results[0]
	assert.Equal(t, OutcomeSkipped, mr.Outcome)
	assert.Equal(t, "nothing owed", mr.Reason)
	assert.Equal(t, int64(8000), mr.AlreadyPaidCents)
	assert.Equal(t, int64(0), mr.RemainingCents)
	assert.Empty(t, st.payouts)
}

func TestRunBatchPaysOnlyRemainder(t *testing.T) {
	st := newMemStore()
	st.addMerchant(1, "2024-03-01", "2024-03-10", plainRevenue())
	st.legacyPaid[1] = 3000
	svc := NewSettlementService(st, nil, nil, testCfg())

	result, err := svc.RunBatch(context.Background(), &RunRequest{Mode: ModeSettleAll})
	require.NoError(t, err)

	mr := result.Results[0]
	assert.Equal(t, OutcomeCreated, mr.Outcome)
	assert.Equal(t, int64(8000), mr.ExpectedCents)
	assert.Equal(t, int64(3000), mr.AlreadyPaidCents)
	assert.Equal(t, int64(5000), mr.RemainingCents)
	assert.Equal(t, int64(5000), st.payouts[mr.PayoutID].AmountCents)
}

func TestRunBatchConflictOutcome(t *testing.T) {
	// Simulates another writer claiming the window between the service's read
	// and the store's locked write.
	st := newMemStore()
	st.addMerchant(1, "2024-03-01", "2024-03-10", plainRevenue())
	st.forceOverlap = true
	svc := NewSettlementService(st, nil, nil, testCfg())

	result, err := svc.RunBatch(context.Background(), &RunRequest{Mode: ModeSettleAll})
	require.NoError(t, err, "a conflict must not fail the batch")

	mr := result.Results[0]
	assert.Equal(t, OutcomeConflict, mr.Outcome)
	assert.Equal(t, 0, result.Created)
}

func TestRunBatchErrorIsContained(t *testing.T) {
	st := newMemStore()
	st.addMerchant(1, "2024-03-01", "2024-03-10", plainRevenue())
	st.createErr = errors.New("deadlock detected")
	svc := NewSettlementService(st, nil, nil, testCfg())

	result, err := svc.RunBatch(context.Background(), &RunRequest{Mode: ModeSettleAll})
	require.NoError(t, err)

	mr := result.Results[0]
	assert.Equal(t, OutcomeError, mr.Outcome)
	assert.Contains(t, mr.Reason, "deadlock")
	assert.Equal(t, 1, result.Attempted)
}

func TestPreviewDoesNotPersist(t *testing.T) {
	st := newMemStore()
	st.addMerchant(1, "2024-03-01", "2024-03-10", plainRevenue())
	pub := &fakePublisher{}
	svc := NewSettlementService(st, pub, nil, testCfg())

	result, err := svc.PreviewBatch(context.Background(), &RunRequest{Mode: ModeSettleAll})
	require.NoError(t, err)

	mr := result.Results[0]
	assert.Equal(t, OutcomeEligible, mr.Outcome)
	assert.Equal(t, int64(8000), mr.RemainingCents)
	assert.Empty(t, st.payouts, "preview must not persist payouts")
	assert.Empty(t, st.periods[1], "preview must not claim windows")
	assert.Empty(t, pub.published, "preview must not publish events")

	// A run after the preview still settles normally.
	run, err := svc.RunBatch(context.Background(), &RunRequest{Mode: ModeSettleAll})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, run.Results[0].Outcome)
}

func TestRunBatchValidation(t *testing.T) {
	svc := NewSettlementService(newMemStore(), nil, nil, testCfg())
	ctx := context.Background()

	cases := []RunRequest{
		{Mode: "everything"},
		{Mode: ModeCutoff},
		{Mode: ModeCutoff, CutoffTo: "03/10/2024"},
		{Mode: ModeSettleAll, Limit: -1},
		{Mode: ModeSettleAll, Limit: 201},
		{Mode: ModeSettleAll, Cursor: "abc"},
		{Mode: ModeSettleAll, Cursor: "-5"},
	}
	for _, req := range cases {
		_, err := svc.RunBatch(ctx, &req)
		assert.ErrorIs(t, err, ErrInvalidRequest, "request %+v", req)
	}
}

func TestRunBatchCutoffCapsWindows(t *testing.T) {
	st := newMemStore()
	st.addMerchant(1, "2024-03-01", "2024-03-20", plainRevenue())
	svc := NewSettlementService(st, nil, nil, testCfg())

	result, err := svc.RunBatch(context.Background(), &RunRequest{Mode: ModeCutoff, CutoffTo: "2024-03-10"})
	require.NoError(t, err)

	mr := result.Results[0]
	assert.Equal(t, OutcomeCreated, mr.Outcome)
	assert.Equal(t, "2024-03-10", mr.SettlementTo)

	// The next run picks up right after the cutoff.
	result, err = svc.RunBatch(context.Background(), &RunRequest{Mode: ModeSettleAll})
	require.NoError(t, err)
	mr = result.Results[0]
	assert.Equal(t, OutcomeCreated, mr.Outcome)
	assert.Equal(t, "2024-03-11", mr.SettlementFrom)
	assert.Equal(t, "2024-03-20", mr.SettlementTo)
}

func TestRunBatchPagination(t *testing.T) {
	st := newMemStore()
	for id := int64(1); id <= 5; id++ {
		st.addMerchant(id, "2024-03-01", "2024-03-10", plainRevenue())
	}
	svc := NewSettlementService(st, nil, nil, testCfg())
	ctx := context.Background()

	page1, err := svc.RunBatch(ctx, &RunRequest{Mode: ModeSettleAll, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page1.Results, 2)
	assert.True(t, page1.HasMore)
	assert.Equal(t, "2", page1.NextCursor)

	page2, err := svc.RunBatch(ctx, &RunRequest{Mode: ModeSettleAll, Limit: 2, Cursor: page1.NextCursor})
	require.NoError(t, err)
	assert.Len(t, page2.Results, 2)
	assert.True(t, page2.HasMore)
	assert.Equal(t, "4", page2.NextCursor)

	page3, err := svc.RunBatch(ctx, &RunRequest{Mode: ModeSettleAll, Limit: 2, Cursor: page2.NextCursor})
	require.NoError(t, err)
	assert.Len(t, page3.Results, 1)
	assert.False(t, page3.HasMore)

	assert.Len(t, st.payouts, 5)
}

func TestRunBatchTargetedMerchants(t *testing.T) {
	st := newMemStore()
	st.addMerchant(1, "2024-03-01", "2024-03-10", plainRevenue())
	st.addMerchant(2, "2024-03-01", "2024-03-10", plainRevenue())
	st.addMerchant(3, "2024-03-01", "2024-03-10", plainRevenue())
	st.merchants[2].enabled = false
	svc := NewSettlementService(st, nil, nil, testCfg())

	result, err := svc.RunBatch(context.Background(), &RunRequest{
		Mode:        ModeSettleAll,
		MerchantIDs: []int64{1, 2, 99},
	})
	require.NoError(t, err)

	// Disabled and unknown merchants are silently dropped.
	require.Len(t, result.Results, 1)
	assert.Equal(t, int64(1), result.Results[0].MerchantID)
	assert.False(t, result.HasMore)
	assert.Empty(t, result.NextCursor)
}

func TestRunBatchLedgerSource(t *testing.T) {
	st := newMemStore()
	st.addMerchant(1, "2024-03-01", "2024-03-10", plainRevenue())
	st.hasLedger = true
	st.ledgerCents[1] = 7250
	svc := NewSettlementService(st, nil, nil, testCfg())

	result, err := svc.RunBatch(context.Background(), &RunRequest{Mode: ModeSettleAll})
	require.NoError(t, err)

	assert.Equal(t, string(SourceLedger), result.Source)
	mr := result.Results[0]
	assert.Equal(t, OutcomeCreated, mr.Outcome)
	assert.Equal(t, int64(7250), mr.ExpectedCents, "ledger sum supersedes the computed formula")
	assert.Equal(t, int64(7250), st.payouts[mr.PayoutID].AmountCents)
}

func TestRunBatchUsesRotatedFees(t *testing.T) {
	st := newMemStore()
	st.addMerchant(1, "2024-03-01", "2024-03-10", plainRevenue())
	svc := NewSettlementService(st, nil, nil, testCfg())

	_, err := svc.RotateFees(context.Background(), dec("0.10"), dec("0"), "ops")
	require.NoError(t, err)

	result, err := svc.RunBatch(context.Background(), &RunRequest{Mode: ModeSettleAll})
	require.NoError(t, err)
	assert.Equal(t, int64(9000), result.Results[0].ExpectedCents)
}

func TestRotateFeesRejectsBadFractions(t *testing.T) {
	svc := NewSettlementService(newMemStore(), nil, nil, testCfg())
	ctx := context.Background()

	_, err := svc.RotateFees(ctx, dec("-0.01"), dec("0.05"), "ops")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.RotateFees(ctx, dec("0.15"), dec("1"), "ops")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRunBatchLockContention(t *testing.T) {
	st := newMemStore()
	st.addMerchant(1, "2024-03-01", "2024-03-10", plainRevenue())
	locker := &fakeLocker{denied: true}
	svc := NewSettlementService(st, nil, locker, testCfg())

	_, err := svc.RunBatch(context.Background(), &RunRequest{Mode: ModeSettleAll})
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, st.payouts)
}

func TestRunBatchReleasesLock(t *testing.T) {
	st := newMemStore()
	st.addMerchant(1, "2024-03-01", "2024-03-10", plainRevenue())
	locker := &fakeLocker{}
	svc := NewSettlementService(st, nil, locker, testCfg())

	_, err := svc.RunBatch(context.Background(), &RunRequest{Mode: ModeSettleAll})
	require.NoError(t, err)
	assert.True(t, locker.held)
	assert.True(t, locker.released)
}

func TestPreviewSkipsLock(t *testing.T) {
	st := newMemStore()
	st.addMerchant(1, "2024-03-01", "2024-03-10", plainRevenue())
	locker := &fakeLocker{denied: true}
	svc := NewSettlementService(st, nil, locker, testCfg())

	result, err := svc.PreviewBatch(context.Background(), &RunRequest{Mode: ModeSettleAll})
	require.NoError(t, err, "previews are read-only and bypass the run lock")
	assert.Equal(t, OutcomeEligible, result.Results[0].Outcome)
}

func TestGetPayoutWithEvents(t *testing.T) {
	st := newMemStore()
	st.addMerchant(1, "2024-03-01", "2024-03-10", plainRevenue())
	svc := NewSettlementService(st, nil, nil, testCfg())
	ctx := context.Background()

	run, err := svc.RunBatch(ctx, &RunRequest{Mode: ModeSettleAll})
	require.NoError(t, err)
	payoutID := run.Results[0].PayoutID

	payout, events, err := svc.GetPayout(ctx, payoutID)
	require.NoError(t, err)
	assert.Equal(t, payoutID, payout.ID)
	require.Len(t, events, 1)
	assert.Equal(t, models.PayoutStatusPending, events[0].ToStatus)

	_, _, err = svc.GetPayout(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
