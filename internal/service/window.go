package service

import (
	"context"
	"fmt"
	"time"
)

// Run modes.
const (
	ModeSettleAll = "settle_all"
	ModeCutoff    = "cutoff"
)

const dateLayout = "2006-01-02"

// Window is one merchant's next eligible settlement date range, inclusive.
type Window struct {
	From time.Time
	To   time.Time
}

// WindowAllocator determines the next eligible settlement window per merchant.
// A newly allocated window always starts strictly after the previous
// settlement's end date; together with the storage exclusion constraint this
// is what prevents double payment.
type WindowAllocator struct {
	store WindowStore
	now   func() time.Time
}

func NewWindowAllocator(store WindowStore) *WindowAllocator {
	return &WindowAllocator{store: store, now: time.Now}
}

// Allocate returns the merchant's next settlement window, or nil when the
// merchant has nothing to settle. cutoff is ignored unless mode is "cutoff".
func (a *WindowAllocator) Allocate(ctx context.Context, merchantID int64, mode string, cutoff time.Time) (*Window, error) {
	lastUnsettled, err := a.store.LastUnsettledSaleDate(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to find last unsettled sale: %w", err)
	}
	if lastUnsettled == nil {
		return nil, nil
	}

	to := minDate(dateOf(a.now()), dateOf(*lastUnsettled))
	if mode == ModeCutoff {
		to = minDate(to, dateOf(cutoff))
	}

	var from time.Time
	lastSettledTo, err := a.store.LastSettledTo(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to find last settled date: %w", err)
	}
	if lastSettledTo != nil {
		from = dateOf(*lastSettledTo).AddDate(0, 0, 1)
	} else {
		firstSale, err := a.store.FirstSaleDate(ctx, merchantID)
		if err != nil {
			return nil, fmt.Errorf("failed to find first sale: %w", err)
		}
		if firstSale == nil {
			return nil, nil
		}
		from = dateOf(*firstSale)
	}

	if from.After(to) {
		return nil, nil
	}

	return &Window{From: from, To: to}, nil
}

// dateOf truncates a timestamp to its UTC calendar date.
func dateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func minDate(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}
