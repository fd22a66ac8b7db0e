package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"settlement-service/internal/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCalculatePayoutNoDiscount(t *testing.T) {
	rev := models.RevenueSummary{
		GrossRevenue:           dec("100.00"),
		DiscountTotal:          dec("0"),
		DiscountMerchantFunded: dec("0"),
	}

	b := CalculatePayout(rev, dec("0.15"), dec("0.05"))

	assert.Equal(t, "100.00", b.BuyerPaid.StringFixed(2))
	assert.Equal(t, "15.00", b.PlatformFee.StringFixed(2))
	assert.Equal(t, "5.00", b.GatewayFee.StringFixed(2))
	assert.Equal(t, "80.00", b.Payout.StringFixed(2))
	assert.Equal(t, int64(8000), ToCents(b.Payout))
}

func TestCalculatePayoutMerchantFundedDiscount(t *testing.T) {
	rev := models.RevenueSummary{
		GrossRevenue:           dec("100.00"),
		DiscountTotal:          dec("20.00"),
		DiscountMerchantFunded: dec("20.00"),
	}

	b := CalculatePayout(rev, dec("0.15"), dec("0.05"))

	// Platform fee stays on gross; gateway fee drops to what the buyer paid.
	assert.Equal(t, "80.00", b.BuyerPaid.StringFixed(2))
	assert.Equal(t, "15.00", b.PlatformFee.StringFixed(2))
	assert.Equal(t, "4.00", b.GatewayFee.StringFixed(2))
	assert.Equal(t, "61.00", b.Payout.StringFixed(2))
}

func TestCalculatePayoutPlatformFundedDiscount(t *testing.T) {
	rev := models.RevenueSummary{
		GrossRevenue:           dec("100.00"),
		DiscountTotal:          dec("20.00"),
		DiscountMerchantFunded: dec("0"),
	}

	b := CalculatePayout(rev, dec("0.15"), dec("0.05"))

	// The merchant is made whole: only the fees come out of gross.
	assert.Equal(t, "80.00", b.BuyerPaid.StringFixed(2))
	assert.Equal(t, "15.00", b.PlatformFee.StringFixed(2))
	assert.Equal(t, "4.00", b.GatewayFee.StringFixed(2))
	assert.Equal(t, "81.00", b.Payout.StringFixed(2))
}

func TestCalculatePayoutClampsNegative(t *testing.T) {
	// Discount exceeds gross: both intermediate and final values clamp to zero
	// rather than going negative.
	rev := models.RevenueSummary{
		GrossRevenue:           dec("10.00"),
		DiscountTotal:          dec("15.00"),
		DiscountMerchantFunded: dec("15.00"),
	}

	b := CalculatePayout(rev, dec("0.15"), dec("0.05"))

	assert.True(t, b.BuyerPaid.IsZero(), "buyer paid should clamp to zero")
	assert.True(t, b.Payout.IsZero(), "payout should clamp to zero")
	assert.True(t, b.GatewayFee.IsZero(), "gateway fee on zero buyer-paid is zero")
}

func TestCalculatePayoutZeroRevenue(t *testing.T) {
	b := CalculatePayout(models.RevenueSummary{}, dec("0.15"), dec("0.05"))
	assert.True(t, b.Payout.IsZero())
	assert.Equal(t, int64(0), ToCents(b.Payout))
}

func TestToCentsRounding(t *testing.T) {
	tests := []struct {
		amount string
		cents  int64
	}{
		{"80.00", 8000},
		{"0.004", 0},
		{"0.005", 1}, // half rounds away from zero
		{"10.014", 1001},
		{"10.015", 1002},
		{"61.00", 6100},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.cents, ToCents(dec(tt.amount)), "amount %s", tt.amount)
	}
}
