package worker

import (
	"context"
	"errors"
	"log"

	"settlement-service/internal/broker"
	"settlement-service/internal/models"
	"settlement-service/internal/store"
	"settlement-service/internal/util"

	"go.uber.org/zap"
)

// PayoutStatusWorker consumes payment-execution results and advances payout
// transactions from pending to completed or failed, writing the audit event in
// the same transaction. Redeliveries dedupe against the processed_events table.
type PayoutStatusWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	logger       *zap.Logger
}

// NewPayoutStatusWorker creates a new payout status worker
func NewPayoutStatusWorker(consumer *broker.Consumer, st *store.Store) *PayoutStatusWorker {
	w := &PayoutStatusWorker{
		consumer: consumer,
		store:    st,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnPayoutCompleted(w.handlePayoutCompleted)
	eventHandler.OnPayoutFailed(w.handlePayoutFailed)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *PayoutStatusWorker) Start(ctx context.Context) error {
	log.Println("Starting payout status worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PayoutStatusWorker) Stop() error {
	log.Println("Stopping payout status worker...")
	return w.consumer.Close()
}

func (w *PayoutStatusWorker) handlePayoutCompleted(ctx context.Context, event *models.PayoutCompletedEvent) error {
	return w.applyResult(ctx, event.EventID, event.EventType, event.PayoutID,
		models.PayoutStatusCompleted, event.ProviderRef)
}

func (w *PayoutStatusWorker) handlePayoutFailed(ctx context.Context, event *models.PayoutFailedEvent) error {
	return w.applyResult(ctx, event.EventID, event.EventType, event.PayoutID,
		models.PayoutStatusFailed, event.Reason)
}

func (w *PayoutStatusWorker) applyResult(ctx context.Context, eventID, eventType string, payoutID int64, toStatus, detail string) error {
	err := w.store.ApplyPayoutResult(ctx, eventID, eventType, payoutID, toStatus, "payment-execution", detail)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Result for a payout this service never created; drop it rather
		// than poison the partition.
		w.logger.Warn("Payout result for unknown transaction",
			zap.Int64("payout_id", payoutID),
			zap.String("event_id", eventID))
		return nil
	case errors.Is(err, store.ErrInvalidTransition):
		w.logger.Warn("Payout result for non-pending transaction",
			zap.Int64("payout_id", payoutID),
			zap.String("to_status", toStatus))
		return nil
	case err != nil:
		return err
	}

	util.PayoutStatusTransitions.WithLabelValues(toStatus).Inc()
	w.logger.Info("Payout status updated",
		zap.Int64("payout_id", payoutID),
		zap.String("to_status", toStatus))
	return nil
}
