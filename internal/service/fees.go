package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"settlement-service/internal/util"
)

// Fees holds the fee fractions applied to a settlement run.
type Fees struct {
	PlatformPct decimal.Decimal
	GatewayPct  decimal.Decimal
}

// FeeResolver resolves the active fee configuration, falling back to the
// configured defaults when nothing has been set up yet.
type FeeResolver struct {
	store    FeeStore
	defaults Fees
	logger   *zap.Logger
}

// NewFeeResolver creates a fee resolver with the given fallback fractions.
func NewFeeResolver(store FeeStore, defaultPlatformPct, defaultGatewayPct float64) *FeeResolver {
	return &FeeResolver{
		store: store,
		defaults: Fees{
			PlatformPct: decimal.NewFromFloat(defaultPlatformPct),
			GatewayPct:  decimal.NewFromFloat(defaultGatewayPct),
		},
		logger: util.GetLogger(),
	}
}

// Resolve returns the newest active fee settings, or the defaults when none
// exist. It never fails the caller: absent configuration is a normal state,
// and a read failure degrades to the defaults with a warning.
func (r *FeeResolver) Resolve(ctx context.Context) Fees {
	fs, err := r.store.GetActiveFeeSettings(ctx)
	if err != nil {
		r.logger.Warn("Failed to read fee settings, using defaults", zap.Error(err))
		return r.defaults
	}
	if fs == nil {
		return r.defaults
	}
	return Fees{PlatformPct: fs.PlatformFeePct, GatewayPct: fs.GatewayFeePct}
}
