package service

import (
	"context"
	"fmt"
	"time"
)

// PayoutSource identifies which subsystem is authoritative for payout amounts
// in a run. The ledger cutover is platform-wide, so the selection is made once
// per run and threaded through, never decided per merchant.
type PayoutSource string

const (
	SourceComputed PayoutSource = "computed"
	SourceLedger   PayoutSource = "ledger"
)

// LedgerSelector decides whether a run pays from structured ledger credits or
// from the computed revenue formula.
type LedgerSelector struct {
	store LedgerStore
}

func NewLedgerSelector(store LedgerStore) *LedgerSelector {
	return &LedgerSelector{store: store}
}

// SelectSource returns SourceLedger when any sale-credit entries exist up to
// the run's cutoff date, SourceComputed otherwise.
func (s *LedgerSelector) SelectSource(ctx context.Context, upTo time.Time) (PayoutSource, error) {
	has, err := s.store.HasSaleCredits(ctx, upTo)
	if err != nil {
		return SourceComputed, fmt.Errorf("ledger probe failed: %w", err)
	}
	if has {
		return SourceLedger, nil
	}
	return SourceComputed, nil
}
