package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	paymentsvc "github.com/example/vending-commerce/internal/payment"
)

// WebhookHandler feeds gateway callbacks from the webhook topic into
// the ledger. The topic is at-least-once; the ledger's final-state
// guards absorb the duplicates.
type WebhookHandler struct {
	ledger *paymentsvc.Ledger
	logger *zap.Logger
}

func NewWebhookHandler(ledger *paymentsvc.Ledger, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{ledger: ledger, logger: logger}
}

// Handle implements kafka.MessageHandler.
func (h *WebhookHandler) Handle(ctx context.Context, key, value []byte) error {
	var payload paymentsvc.WebhookPayload
	if err := json.Unmarshal(value, &payload); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}
	if payload.PaymentID == "" {
		return fmt.Errorf("webhook payload missing payment_id")
	}

	h.logger.Debug("webhook received",
		zap.String("payment_id", payload.PaymentID),
		zap.String("status", payload.Status))
	return h.ledger.ProcessWebhook(ctx, payload)
}
