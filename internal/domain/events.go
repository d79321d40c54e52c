/**
 * @description
 * Event payloads published to RabbitMQ for asynchronous consumers. Publishing
 * is best-effort: a missing broker never blocks the purchase flow.
 */

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OrderCreatedEvent is published when an order record is first persisted.
type OrderCreatedEvent struct {
	OrderID        uuid.UUID `json:"order_id"`
	Username       string    `json:"username"`
	RobuxAmount    int       `json:"robux_amount"`
	AmountCentavos int64     `json:"amount_centavos"`
	TransactionID  string    `json:"transaction_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// WebhookReceivedEvent carries an opaque gateway confirmation payload. The
// webhook contract with the gateway is unfinished, so the payload is passed
// through untouched for future consumers; it is never reconciled against the
// orders table here.
type WebhookReceivedEvent struct {
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}
