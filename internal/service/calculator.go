package service

import (
	"github.com/shopspring/decimal"

	"settlement-service/internal/models"
)

// PayoutBreakdown is the result of the payout formula for one merchant window.
// All values are fractional currency units; conversion to cents happens once,
// at persistence.
type PayoutBreakdown struct {
	GrossRevenue           decimal.Decimal
	DiscountTotal          decimal.Decimal
	DiscountMerchantFunded decimal.Decimal
	BuyerPaid              decimal.Decimal
	PlatformFee            decimal.Decimal
	GatewayFee             decimal.Decimal
	Payout                 decimal.Decimal
}

// CalculatePayout computes the net amount owed to a merchant.
//
// The platform fee is charged on gross (pre-discount) revenue; the gateway fee
// on what the buyer actually paid (post-discount). The gateway only ever sees
// the buyer-paid amount, while the platform commission is computed on the
// merchant's listed price — the asymmetry is intentional.
func CalculatePayout(rev models.RevenueSummary, platformFeePct, gatewayFeePct decimal.Decimal) PayoutBreakdown {
	zero := decimal.Zero

	buyerPaid := rev.GrossRevenue.Sub(rev.DiscountTotal)
	if buyerPaid.IsNegative() {
		buyerPaid = zero
	}

	platformFee := rev.GrossRevenue.Mul(platformFeePct)
	gatewayFee := buyerPaid.Mul(gatewayFeePct)

	payout := rev.GrossRevenue.
		Sub(rev.DiscountMerchantFunded).
		Sub(platformFee).
		Sub(gatewayFee)
	if payout.IsNegative() {
		payout = zero
	}

	return PayoutBreakdown{
		GrossRevenue:           rev.GrossRevenue,
		DiscountTotal:          rev.DiscountTotal,
		DiscountMerchantFunded: rev.DiscountMerchantFunded,
		BuyerPaid:              buyerPaid,
		PlatformFee:            platformFee,
		GatewayFee:             gatewayFee,
		Payout:                 payout,
	}
}

// ToCents converts a fractional currency amount to integer minor units,
// rounding half away from zero. This is the single rounding boundary.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
