// Package worker provides async screening of ingested transactions.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/screening"
)

// Worker consumes ingestion events from the bus and runs each transaction
// through the screening pipeline.
type Worker struct {
	bus       domain.EventBus
	screening *screening.Service

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, svc *screening.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		screening: svc,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// TransactionMessage is the payload published on the ingestion topic.
type TransactionMessage struct {
	TransactionID string `json:"transactionId"`
}

// Start subscribes to the ingestion topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("screening worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

// handleMessage screens one ingested transaction. A transaction that was
// already screened (e.g. redelivered message) is skipped, not failed.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var txMsg TransactionMessage
	if err := json.Unmarshal(msg.Payload, &txMsg); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if txMsg.TransactionID == "" {
		slog.Error("transaction message missing transactionId", "message_id", msg.ID)
		return nil
	}

	result, err := w.screening.OnTransaction(ctx, txMsg.TransactionID)
	if err != nil {
		if errors.Is(err, screening.ErrAlreadyScreened) {
			slog.Debug("transaction already screened, skipping",
				"transaction_id", txMsg.TransactionID,
			)
			return nil
		}
		slog.Error("screening failed",
			"transaction_id", txMsg.TransactionID,
			"error", err,
		)
		return err
	}

	slog.Info("transaction screened async",
		"transaction_id", txMsg.TransactionID,
		"action", result.Action,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("screening worker stopped")
	return nil
}
