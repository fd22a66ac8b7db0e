package store

import (
	"context"
	"database/sql"
	"time"

	"settlement-service/internal/models"

	"github.com/shopspring/decimal"
)

// AggregateRevenue sums a merchant's completed sales over [from, to] inclusive,
// by calendar date. Gross revenue and units come from order items of successful
// orders owned (via product) by the merchant; discounts are split by whether
// the coupon creator is platform staff.
func (s *Store) AggregateRevenue(ctx context.Context, merchantID int64, from, to time.Time) (models.RevenueSummary, error) {
	var summary models.RevenueSummary

	err := s.db.GetContext(ctx, &summary, `
		SELECT
			COALESCE(SUM(oi.subtotal), 0)  AS gross_revenue,
			COALESCE(SUM(oi.quantity), 0)  AS units_sold
		FROM order_items oi
		JOIN orders o   ON o.id = oi.order_id
		JOIN products p ON p.id = oi.product_id
		WHERE p.merchant_id = $1
		  AND o.payment_status = $2
		  AND o.created_at::date BETWEEN $3::date AND $4::date`,
		merchantID, models.OrderPaymentSuccessful, from, to)
	if err != nil {
		return models.RevenueSummary{}, err
	}

	var discounts struct {
		DiscountTotal          decimal.Decimal `db:"discount_total"`
		DiscountMerchantFunded decimal.Decimal `db:"discount_merchant_funded"`
	}
	err = s.db.GetContext(ctx, &discounts, `
		SELECT
			COALESCE(SUM(cri.discount_amount), 0) AS discount_total,
			COALESCE(SUM(cri.discount_amount) FILTER (WHERE c.creator_role NOT IN ($5, $6)), 0)
				AS discount_merchant_funded
		FROM coupon_redemption_items cri
		JOIN order_items oi ON oi.id = cri.order_item_id
		JOIN orders o       ON o.id = oi.order_id
		JOIN products p     ON p.id = oi.product_id
		JOIN coupons c      ON c.id = cri.coupon_id
		WHERE p.merchant_id = $1
		  AND o.payment_status = $2
		  AND o.created_at::date BETWEEN $3::date AND $4::date`,
		merchantID, models.OrderPaymentSuccessful, from, to,
		models.CouponCreatorRoleStaff, models.CouponCreatorRoleAdmin)
	if err != nil {
		return models.RevenueSummary{}, err
	}
	summary.DiscountTotal = discounts.DiscountTotal
	summary.DiscountMerchantFunded = discounts.DiscountMerchantFunded

	return summary, nil
}

// FirstSaleDate returns the date of the merchant's earliest successful sale,
// or nil when the merchant has never sold anything.
func (s *Store) FirstSaleDate(ctx context.Context, merchantID int64) (*time.Time, error) {
	var first sql.NullTime
	err := s.db.GetContext(ctx, &first, `
		SELECT MIN(o.created_at::date)
		FROM order_items oi
		JOIN orders o   ON o.id = oi.order_id
		JOIN products p ON p.id = oi.product_id
		WHERE p.merchant_id = $1 AND o.payment_status = $2`,
		merchantID, models.OrderPaymentSuccessful)
	if err != nil {
		return nil, err
	}
	if !first.Valid {
		return nil, nil
	}
	t := first.Time
	return &t, nil
}

// LastUnsettledSaleDate returns the latest sale date not yet covered by an
// active settlement period, or nil when everything is settled.
func (s *Store) LastUnsettledSaleDate(ctx context.Context, merchantID int64) (*time.Time, error) {
	var last sql.NullTime
	err := s.db.GetContext(ctx, &last, `
		SELECT MAX(o.created_at::date)
		FROM order_items oi
		JOIN orders o   ON o.id = oi.order_id
		JOIN products p ON p.id = oi.product_id
		WHERE p.merchant_id = $1
		  AND o.payment_status = $2
		  AND NOT EXISTS (
			SELECT 1 FROM settlement_periods sp
			WHERE sp.merchant_id = $1
			  AND sp.is_active = true
			  AND o.created_at::date BETWEEN sp.settlement_from AND sp.settlement_to
		  )`,
		merchantID, models.OrderPaymentSuccessful)
	if err != nil {
		return nil, err
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time
	return &t, nil
}
