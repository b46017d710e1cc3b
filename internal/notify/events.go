// Package notify owns customer and operator notifications. State
// changes enqueue an event in notification_outbox inside their own
// transaction; the messaging dispatcher relays it through RabbitMQ and
// the consumer here turns it into mail.
package notify

import "github.com/google/uuid"

const (
	EventOrderCreated       = "order.created"
	EventOrderPaid          = "order.paid"
	EventOrderPaymentFailed = "order.payment_failed"
	EventOrderCancelled     = "order.cancelled"
	EventOrderFulfilled     = "order.fulfilled"
	EventOrderExpired       = "order.expired"

	EventQuoteRequested = "shipping_quote.requested"
	EventQuoteQuoted    = "shipping_quote.quoted"
	EventQuoteConfirmed = "shipping_quote.confirmed"
)

type OrderEvent struct {
	OrderNumber string `json:"order_number"`
	Email       string `json:"email,omitempty"`
	TotalCents  int64  `json:"total_cents,omitempty"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type QuoteEvent struct {
	QuoteID     uuid.UUID `json:"quote_id"`
	Email       string    `json:"email,omitempty"`
	Country     string    `json:"country,omitempty"`
	QuotedCents int64     `json:"quoted_cents,omitempty"`
}
