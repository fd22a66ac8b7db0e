package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Merchant is owned by the user-management service; read-only here.
type Merchant struct {
	ID              int64     `db:"id" json:"id"`
	DisplayName     string    `db:"display_name" json:"display_name"`
	MerchantEnabled bool      `db:"merchant_enabled" json:"merchant_enabled"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Product links order items to the merchant that owns them.
type Product struct {
	ID         int64     `db:"id" json:"id"`
	MerchantID int64     `db:"merchant_id" json:"merchant_id"`
	Name       string    `db:"name" json:"name"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Order represents a storefront order. Created by the checkout service;
// immutable here except for refund transitions applied upstream.
type Order struct {
	ID            int64     `db:"id" json:"id"`
	BuyerID       int64     `db:"buyer_id" json:"buyer_id"`
	PaymentStatus string    `db:"payment_status" json:"payment_status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// OrderItem carries the per-product subtotal settled to the owning merchant.
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`
}

// CouponRedemptionItem links an order item to the discount a coupon produced.
// The coupon creator's role decides who funds the discount.
type CouponRedemptionItem struct {
	ID             int64           `db:"id" json:"id"`
	OrderItemID    int64           `db:"order_item_id" json:"order_item_id"`
	CouponID       int64           `db:"coupon_id" json:"coupon_id"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
}

// Coupon creator roles. Staff and admin coupons are platform-funded.
const (
	CouponCreatorRoleAdmin     = "admin"
	CouponCreatorRoleStaff     = "staff"
	CouponCreatorRoleMerchant  = "merchant"
	CouponCreatorRoleAffiliate = "affiliate"
)

// Coupon holds only what settlement needs: who created it.
type Coupon struct {
	ID          int64  `db:"id" json:"id"`
	CreatorID   int64  `db:"creator_id" json:"creator_id"`
	CreatorRole string `db:"creator_role" json:"creator_role"`
}

// FeeSettings is an append-only, single-active fee configuration row.
type FeeSettings struct {
	ID             int64           `db:"id" json:"id"`
	PlatformFeePct decimal.Decimal `db:"platform_fee_pct" json:"platform_fee_pct"`
	GatewayFeePct  decimal.Decimal `db:"gateway_fee_pct" json:"gateway_fee_pct"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	CreatedBy      string          `db:"created_by" json:"created_by"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// SettlementPeriod is a contiguous settled date range for one merchant.
// Active periods for a merchant never overlap; the database enforces it.
type SettlementPeriod struct {
	ID                  int64     `db:"id" json:"id"`
	MerchantID          int64     `db:"merchant_id" json:"merchant_id"`
	SettlementFrom      time.Time `db:"settlement_from" json:"settlement_from"`
	SettlementTo        time.Time `db:"settlement_to" json:"settlement_to"`
	IsActive            bool      `db:"is_active" json:"is_active"`
	PayoutTransactionID int64     `db:"payout_transaction_id" json:"payout_transaction_id"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// PayoutTransaction statuses.
const (
	PayoutStatusPending   = "pending"
	PayoutStatusCompleted = "completed"
	PayoutStatusFailed    = "failed"
	PayoutStatusCancelled = "cancelled"
	PayoutStatusRefunded  = "refunded"
	PayoutStatusReversed  = "reversed"
)

// PayoutTransactionType is the only transaction type this engine creates.
const PayoutTransactionType = "payout"

// PayoutTransaction is the money owed to a merchant for one settlement window.
// IdempotencyKey is "settlement:<from>:<to>" for keyed records; legacy rows
// predate the scheme and carry an empty key.
type PayoutTransaction struct {
	ID             int64     `db:"id" json:"id"`
	MerchantID     int64     `db:"merchant_id" json:"merchant_id"`
	Type           string    `db:"type" json:"type"`
	Status         string    `db:"status" json:"status"`
	AmountCents    int64     `db:"amount_cents" json:"amount_cents"`
	Currency       string    `db:"currency" json:"currency"`
	IdempotencyKey *string   `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedBy      string    `db:"created_by" json:"created_by"`
	CreatedVia     string    `db:"created_via" json:"created_via"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// PayoutEvent is an append-only audit row for one payout state transition.
type PayoutEvent struct {
	ID                  int64     `db:"id" json:"id"`
	PayoutTransactionID int64     `db:"payout_transaction_id" json:"payout_transaction_id"`
	FromStatus          *string   `db:"from_status" json:"from_status,omitempty"`
	ToStatus            string    `db:"to_status" json:"to_status"`
	Actor               string    `db:"actor" json:"actor"`
	Metadata            []byte    `db:"metadata" json:"metadata,omitempty"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// LedgerEntryTypeSaleCredit marks authoritative per-item credit entries.
const LedgerEntryTypeSaleCredit = "sale_credit"

// LedgerEntry is the newer append-only credit record. When present for a
// merchant window, its sum supersedes the computed payout formula.
type LedgerEntry struct {
	ID                 int64     `db:"id" json:"id"`
	RecipientID        int64     `db:"recipient_id" json:"recipient_id"`
	EntryType          string    `db:"entry_type" json:"entry_type"`
	AmountCents        int64     `db:"amount_cents" json:"amount_cents"`
	EarnedAt           time.Time `db:"earned_at" json:"earned_at"`
	RelatedOrderItemID int64     `db:"related_order_item_id" json:"related_order_item_id"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// Order payment statuses.
const (
	OrderPaymentSuccessful = "successful"
	OrderPaymentFailed     = "failed"
	OrderPaymentRefunded   = "refunded"
	OrderPaymentPending    = "pending"
)

// RevenueSummary is the aggregation of a merchant's sales over a window.
type RevenueSummary struct {
	GrossRevenue           decimal.Decimal `db:"gross_revenue"`
	DiscountTotal          decimal.Decimal `db:"discount_total"`
	DiscountMerchantFunded decimal.Decimal `db:"discount_merchant_funded"`
	UnitsSold              int64           `db:"units_sold"`
}

// ProcessedEvent dedupes Kafka redeliveries for the status worker.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
