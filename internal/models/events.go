package models

import "time"

// Event types
const (
	EventTypePayoutCreated   = "PAYOUT_CREATED"
	EventTypePayoutCompleted = "PAYOUT_COMPLETED"
	EventTypePayoutFailed    = "PAYOUT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PayoutCreatedEvent is published when the batch processor commits a payout.
// The payment-execution service consumes it and moves the funds.
type PayoutCreatedEvent struct {
	BaseEvent
	PayoutID       int64  `json:"payout_id"`
	MerchantID     int64  `json:"merchant_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	SettlementFrom string `json:"settlement_from"`
	SettlementTo   string `json:"settlement_to"`
	IdempotencyKey string `json:"idempotency_key"`
}

// PayoutCompletedEvent is published by the payment-execution service once the
// transfer settles.
type PayoutCompletedEvent struct {
	BaseEvent
	PayoutID    int64  `json:"payout_id"`
	ProviderRef string `json:"provider_ref"`
}

// PayoutFailedEvent is published by the payment-execution service when the
// transfer is rejected.
type PayoutFailedEvent struct {
	BaseEvent
	PayoutID int64  `json:"payout_id"`
	Reason   string `json:"reason"`
}
