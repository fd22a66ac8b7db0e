package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"settlement-service/config"
	"settlement-service/internal/models"
	"settlement-service/internal/store"
	"settlement-service/internal/util"
)

var (
	// ErrInvalidRequest rejects malformed batch requests before any
	// aggregation work happens.
	ErrInvalidRequest = errors.New("invalid settlement request")

	// ErrRunInProgress means another batch run holds the advisory lock.
	ErrRunInProgress = errors.New("a settlement batch run is already in progress")
)

// Merchant outcome states. Terminal per merchant; one merchant's outcome never
// affects another's.
const (
	OutcomeCreated  = "created"
	OutcomeEligible = "eligible" // preview only: a run would create a payout
	OutcomeSkipped  = "skipped"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

const runLockKey = "settlement:batch-run"

// RunRequest is the operator-facing batch request.
type RunRequest struct {
	Mode        string  `json:"mode" binding:"required"`
	CutoffTo    string  `json:"cutoff_to,omitempty"`
	MerchantIDs []int64 `json:"merchant_ids,omitempty"`
	Cursor      string  `json:"cursor,omitempty"`
	Limit       int     `json:"limit,omitempty"`
	Note        string  `json:"note,omitempty"`
}

// MerchantResult is one merchant's outcome within a batch.
type MerchantResult struct {
	MerchantID       int64  `json:"merchant_id"`
	Outcome          string `json:"outcome"`
	Reason           string `json:"reason,omitempty"`
	SettlementFrom   string `json:"settlement_from,omitempty"`
	SettlementTo     string `json:"settlement_to,omitempty"`
	ExpectedCents    int64  `json:"expected_cents,omitempty"`
	AlreadyPaidCents int64  `json:"already_paid_cents,omitempty"`
	RemainingCents   int64  `json:"remaining_cents,omitempty"`
	PayoutID         int64  `json:"payout_id,omitempty"`
}

// RunResult is the batch outcome plus pagination state so large runs can be
// resumed across invocations.
type RunResult struct {
	Created    int              `json:"created"`
	Attempted  int              `json:"attempted"`
	Source     string           `json:"source"`
	Results    []MerchantResult `json:"results"`
	NextCursor string           `json:"next_cursor,omitempty"`
	HasMore    bool             `json:"has_more"`
}

// SettlementService orchestrates settlement window allocation, payout
// computation, reconciliation and the durable per-merchant writes.
type SettlementService struct {
	store       SettlementStore
	allocator   *WindowAllocator
	feeResolver *FeeResolver
	reconciler  *Reconciler
	selector    *LedgerSelector
	publisher   PayoutPublisher
	locker      RunLocker
	cfg         config.SettlementConfig
	logger      *zap.Logger
}

// NewSettlementService creates the batch processor and its sub-services.
// publisher and locker may be nil; both degrade gracefully.
func NewSettlementService(
	st SettlementStore,
	publisher PayoutPublisher,
	locker RunLocker,
	cfg config.SettlementConfig,
) *SettlementService {
	return &SettlementService{
		store:       st,
		allocator:   NewWindowAllocator(st),
		feeResolver: NewFeeResolver(st, cfg.DefaultPlatformFeePct, cfg.DefaultGatewayFeePct),
		reconciler:  NewReconciler(st),
		selector:    NewLedgerSelector(st),
		publisher:   publisher,
		locker:      locker,
		cfg:         cfg,
		logger:      util.GetLogger(),
	}
}

// runParams is a validated, normalized RunRequest.
type runParams struct {
	mode     string
	cutoff   time.Time
	cursorID int64
	limit    int
	note     string
	targets  []int64
}

func (s *SettlementService) validate(req *RunRequest) (*runParams, error) {
	p := &runParams{mode: req.Mode, note: req.Note, targets: req.MerchantIDs}

	switch req.Mode {
	case ModeSettleAll:
	case ModeCutoff:
		if req.CutoffTo == "" {
			return nil, fmt.Errorf("%w: cutoff_to is required for mode %q", ErrInvalidRequest, ModeCutoff)
		}
		cutoff, err := time.Parse(dateLayout, req.CutoffTo)
		if err != nil {
			return nil, fmt.Errorf("%w: cutoff_to must be a %s date", ErrInvalidRequest, dateLayout)
		}
		p.cutoff = cutoff
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}

	switch {
	case req.Limit < 0:
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidRequest)
	case req.Limit == 0:
		p.limit = s.cfg.DefaultBatchLimit
	case req.Limit > s.cfg.MaxBatchLimit:
		return nil, fmt.Errorf("%w: limit exceeds maximum of %d", ErrInvalidRequest, s.cfg.MaxBatchLimit)
	default:
		p.limit = req.Limit
	}

	if req.Cursor != "" {
		cursorID, err := strconv.ParseInt(req.Cursor, 10, 64)
		if err != nil || cursorID < 0 {
			return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidRequest)
		}
		p.cursorID = cursorID
	}

	return p, nil
}

// RunBatch executes one settlement batch: pages merchants, settles each one
// independently, and reports per-merchant outcomes.
func (s *SettlementService) RunBatch(ctx context.Context, req *RunRequest) (*RunResult, error) {
	return s.runBatch(ctx, req, true)
}

// PreviewBatch performs the same computation without persisting or publishing
// anything, so operators can review amounts before committing.
func (s *SettlementService) PreviewBatch(ctx context.Context, req *RunRequest) (*RunResult, error) {
	return s.runBatch(ctx, req, false)
}

func (s *SettlementService) runBatch(ctx context.Context, req *RunRequest, persist bool) (*RunResult, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.RunBatch")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SettlementBatchDuration.Observe(time.Since(start).Seconds())
	}()

	p, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	if persist && s.locker != nil {
		acquired, lockErr := s.locker.AcquireLock(ctx, runLockKey, time.Duration(s.cfg.RunLockTTLSeconds)*time.Second)
		if lockErr != nil {
			s.logger.Warn("Run lock unavailable, relying on storage constraints", zap.Error(lockErr))
		} else if !acquired {
			return nil, ErrRunInProgress
		} else {
			defer func() {
				if err := s.locker.ReleaseLock(ctx, runLockKey); err != nil {
					s.logger.Warn("Failed to release run lock", zap.Error(err))
				}
			}()
		}
	}

	// Resume from a saved checkpoint when the caller names a run but sends
	// no cursor.
	if persist && s.locker != nil && p.cursorID == 0 && p.note != "" {
		if saved, err := s.loadCheckpoint(ctx, p.note); err == nil && saved > 0 {
			p.cursorID = saved
		}
	}

	fees := s.feeResolver.Resolve(ctx)

	upTo := dateOf(time.Now())
	if p.mode == ModeCutoff {
		upTo = dateOf(p.cutoff)
	}
	source, err := s.selector.SelectSource(ctx, upTo)
	if err != nil {
		return nil, err
	}

	merchantIDs, hasMore, err := s.pageMerchants(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to page merchants: %w", err)
	}

	runID := uuid.New().String()
	result := &RunResult{
		Source:  string(source),
		Results: make([]MerchantResult, 0, len(merchantIDs)),
	}

	for _, merchantID := range merchantIDs {
		mr := s.settleMerchant(ctx, merchantID, p, fees, source, runID, persist)
		result.Results = append(result.Results, mr)
		result.Attempted++
		if mr.Outcome == OutcomeCreated {
			result.Created++
		}
		util.SettlementMerchantOutcomes.WithLabelValues(mr.Outcome).Inc()
	}

	if len(p.targets) == 0 && len(merchantIDs) > 0 {
		result.NextCursor = strconv.FormatInt(merchantIDs[len(merchantIDs)-1], 10)
	}
	result.HasMore = hasMore

	if persist && s.locker != nil && p.note != "" && hasMore {
		s.saveCheckpoint(ctx, p.note, result.NextCursor)
	}

	util.SettlementRunsTotal.WithLabelValues(p.mode).Inc()
	s.logger.Info("Settlement batch finished",
		zap.String("run_id", runID),
		zap.String("mode", p.mode),
		zap.String("source", string(source)),
		zap.Bool("persisted", persist),
		zap.Int("attempted", result.Attempted),
		zap.Int("created", result.Created),
		zap.Bool("has_more", result.HasMore))

	return result, nil
}

// pageMerchants resolves the merchant set: an explicit target list, or the
// next keyset page of enabled merchants after the cursor.
func (s *SettlementService) pageMerchants(ctx context.Context, p *runParams) ([]int64, bool, error) {
	if len(p.targets) > 0 {
		ids, err := s.store.FilterEnabledMerchantIDs(ctx, p.targets)
		return ids, false, err
	}

	// Fetch one extra row to learn whether another page exists.
	ids, err := s.store.ListMerchantIDs(ctx, p.cursorID, p.limit+1)
	if err != nil {
		return nil, false, err
	}
	if len(ids) > p.limit {
		return ids[:p.limit], true, nil
	}
	return ids, false, nil
}

// settleMerchant runs steps 2-5 of the batch state machine for one merchant.
// Every failure is contained in the returned outcome; nothing here aborts the
// batch.
func (s *SettlementService) settleMerchant(
	ctx context.Context,
	merchantID int64,
	p *runParams,
	fees Fees,
	source PayoutSource,
	runID string,
	persist bool,
) MerchantResult {
	ctx, span := util.StartSpan(ctx, "SettlementService.SettleMerchant")
	defer span.End()

	mr := MerchantResult{MerchantID: merchantID}

	window, err := s.allocator.Allocate(ctx, merchantID, p.mode, p.cutoff)
	if err != nil {
		mr.Outcome = OutcomeError
		mr.Reason = err.Error()
		return mr
	}
	if window == nil {
		mr.Outcome = OutcomeSkipped
		mr.Reason = "no eligible settlement window"
		return mr
	}
	mr.SettlementFrom = window.From.Format(dateLayout)
	mr.SettlementTo = window.To.Format(dateLayout)

	expected, err := s.expectedPayoutCents(ctx, merchantID, window, fees, source)
	if err != nil {
		mr.Outcome = OutcomeError
		mr.Reason = err.Error()
		return mr
	}
	mr.ExpectedCents = expected

	already, err := s.reconciler.AlreadyPaid(ctx, merchantID, window.From, window.To)
	if err != nil {
		mr.Outcome = OutcomeError
		mr.Reason = err.Error()
		return mr
	}
	mr.AlreadyPaidCents = already

	remaining := expected - already
	if remaining < 0 {
		remaining = 0
	}
	mr.RemainingCents = remaining

	if remaining == 0 {
		mr.Outcome = OutcomeSkipped
		mr.Reason = "nothing owed"
		return mr
	}

	if !persist {
		mr.Outcome = OutcomeEligible
		return mr
	}

	payout, err := s.store.CreateSettlement(ctx, store.CreateSettlementParams{
		MerchantID:     merchantID,
		From:           window.From,
		To:             window.To,
		ExpectedCents:  expected,
		Currency:       s.cfg.PayoutCurrency,
		IdempotencyKey: SettlementIdempotencyKey(window.From, window.To),
		CreatedBy:      "settlement-engine",
		CreatedVia:     "batch:" + runID,
	})
	switch {
	case errors.Is(err, store.ErrNothingOwed):
		// Another writer paid this window between our read and the locked
		// recheck.
		mr.Outcome = OutcomeSkipped
		mr.Reason = "nothing owed"
		mr.RemainingCents = 0
		return mr
	case errors.Is(err, store.ErrPeriodOverlap):
		mr.Outcome = OutcomeConflict
		mr.Reason = "settlement window already claimed"
		return mr
	case err != nil:
		mr.Outcome = OutcomeError
		mr.Reason = err.Error()
		s.logger.Error("Failed to persist settlement",
			zap.Int64("merchant_id", merchantID),
			zap.String("from", mr.SettlementFrom),
			zap.String("to", mr.SettlementTo),
			zap.Error(err))
		return mr
	}

	mr.Outcome = OutcomeCreated
	mr.PayoutID = payout.ID
	mr.RemainingCents = payout.AmountCents

	util.PayoutsCreatedTotal.Inc()
	util.PayoutAmountCentsTotal.Add(float64(payout.AmountCents))
	s.logger.Info("Payout created",
		zap.Int64("merchant_id", merchantID),
		zap.Int64("payout_id", payout.ID),
		zap.Int64("amount_cents", payout.AmountCents),
		zap.String("from", mr.SettlementFrom),
		zap.String("to", mr.SettlementTo),
		zap.String("source", string(source)))

	if s.publisher != nil {
		event := &models.PayoutCreatedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePayoutCreated,
				Timestamp: time.Now(),
			},
			PayoutID:       payout.ID,
			MerchantID:     merchantID,
			AmountCents:    payout.AmountCents,
			Currency:       payout.Currency,
			SettlementFrom: mr.SettlementFrom,
			SettlementTo:   mr.SettlementTo,
			IdempotencyKey: SettlementIdempotencyKey(window.From, window.To),
		}
		if err := s.publisher.PublishPayoutCreated(ctx, event); err != nil {
			s.logger.Error("Failed to publish PayoutCreated event",
				zap.Int64("payout_id", payout.ID), zap.Error(err))
		}
	}

	return mr
}

// expectedPayoutCents computes what the merchant is owed for the window from
// the run's authoritative source.
func (s *SettlementService) expectedPayoutCents(ctx context.Context, merchantID int64, window *Window, fees Fees, source PayoutSource) (int64, error) {
	if source == SourceLedger {
		total, err := s.store.SumSaleCredits(ctx, merchantID, window.From, window.To)
		if err != nil {
			return 0, fmt.Errorf("ledger credit sum failed: %w", err)
		}
		return total, nil
	}

	rev, err := s.store.AggregateRevenue(ctx, merchantID, window.From, window.To)
	if err != nil {
		return 0, fmt.Errorf("revenue aggregation failed: %w", err)
	}
	breakdown := CalculatePayout(rev, fees.PlatformPct, fees.GatewayPct)
	return ToCents(breakdown.Payout), nil
}

// GetPayout returns a payout transaction with its audit trail.
func (s *SettlementService) GetPayout(ctx context.Context, id int64) (*models.PayoutTransaction, []models.PayoutEvent, error) {
	payout, err := s.store.GetPayoutTransaction(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.store.ListPayoutEvents(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return payout, events, nil
}

// ListMerchantPeriods returns a merchant's settlement history, newest first.
func (s *SettlementService) ListMerchantPeriods(ctx context.Context, merchantID int64) ([]models.SettlementPeriod, error) {
	return s.store.ListSettlementPeriods(ctx, merchantID)
}

// ResolveFees exposes the active fee fractions for the operator surface.
func (s *SettlementService) ResolveFees(ctx context.Context) Fees {
	return s.feeResolver.Resolve(ctx)
}

// RotateFees replaces the active fee configuration with a new row. Fractions
// must be within [0, 1); existing settlements are never recomputed.
func (s *SettlementService) RotateFees(ctx context.Context, platformPct, gatewayPct decimal.Decimal, actor string) (*models.FeeSettings, error) {
	one := decimal.NewFromInt(1)
	for _, pct := range []decimal.Decimal{platformPct, gatewayPct} {
		if pct.IsNegative() || pct.GreaterThanOrEqual(one) {
			return nil, fmt.Errorf("%w: fee fractions must be within [0, 1)", ErrInvalidRequest)
		}
	}
	if actor == "" {
		actor = "operator"
	}
	return s.store.RotateFeeSettings(ctx, platformPct, gatewayPct, actor)
}

func (s *SettlementService) loadCheckpoint(ctx context.Context, note string) (int64, error) {
	ck, ok := s.locker.(RunCheckpointer)
	if !ok {
		return 0, nil
	}
	raw, err := ck.LoadRunCursor(ctx, note)
	if err != nil || raw == "" {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (s *SettlementService) saveCheckpoint(ctx context.Context, note, cursor string) {
	ck, ok := s.locker.(RunCheckpointer)
	if !ok {
		return
	}
	if err := ck.SaveRunCursor(ctx, note, cursor, 24*time.Hour); err != nil {
		s.logger.Warn("Failed to save run checkpoint", zap.String("note", note), zap.Error(err))
	}
}
