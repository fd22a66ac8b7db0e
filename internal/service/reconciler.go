package service

import (
	"context"
	"fmt"
	"time"
)

// SettlementIdempotencyKey derives the deterministic key for a window.
func SettlementIdempotencyKey(from, to time.Time) string {
	return fmt.Sprintf("settlement:%s:%s", from.Format(dateLayout), to.Format(dateLayout))
}

// Reconciler computes how much has already been paid (or committed) for a
// settlement window. Two independent lookups are combined by union: the keyed
// lookup matches records created under the structured idempotency scheme, and
// the legacy lookup matches older records by creation date range. The legacy
// path stays isolated so it can be retired without touching the keyed one.
type Reconciler struct {
	store ReconcilerStore
}

func NewReconciler(store ReconcilerStore) *Reconciler {
	return &Reconciler{store: store}
}

// AlreadyPaid returns the total cents paid or pending for the window. Only
// pending and completed transactions count; failed and cancelled do not.
func (r *Reconciler) AlreadyPaid(ctx context.Context, merchantID int64, from, to time.Time) (int64, error) {
	keyed, err := r.store.SumKeyedPayouts(ctx, merchantID, SettlementIdempotencyKey(from, to))
	if err != nil {
		return 0, fmt.Errorf("keyed payout lookup failed: %w", err)
	}

	legacy, err := r.store.SumLegacyPayouts(ctx, merchantID, from, to)
	if err != nil {
		return 0, fmt.Errorf("legacy payout lookup failed: %w", err)
	}

	return keyed + legacy, nil
}
