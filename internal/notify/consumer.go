package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"
)

// Consumer turns relayed notification events into mail. Mail is best
// effort: a failed send is logged and the delivery is settled anyway,
// because nothing upstream can do better by seeing it again.
type Consumer struct {
	mailer        Mailer
	operatorEmail string
	logger        *slog.Logger
}

func NewConsumer(mailer Mailer, operatorEmail string, logger *slog.Logger) *Consumer {
	return &Consumer{mailer: mailer, operatorEmail: operatorEmail, logger: logger}
}

func (c *Consumer) HandleDelivery(ctx context.Context, d amqp091.Delivery) {
	if err := c.handle(ctx, d.Type, d.Body); err != nil {
		c.logger.Error("notification failed", "event_type", d.Type, "error", err)
	}
	if err := d.Ack(false); err != nil {
		c.logger.Error("ack notification failed", "error", err)
	}
}

func (c *Consumer) handle(ctx context.Context, eventType string, body []byte) error {
	switch eventType {
	case EventOrderCreated, EventOrderPaid, EventOrderPaymentFailed,
		EventOrderCancelled, EventOrderFulfilled, EventOrderExpired:
		var ev OrderEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		if ev.Email == "" {
			return nil
		}
		subject, text := renderOrderMail(eventType, ev)
		return c.mailer.Send(ctx, ev.Email, subject, text)

	case EventQuoteRequested:
		var ev QuoteEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		if c.operatorEmail == "" {
			c.logger.Warn("shipping quote requested but no operator email configured", "quote_id", ev.QuoteID)
			return nil
		}
		subject := fmt.Sprintf("Shipping quote requested (%s)", ev.Country)
		text := fmt.Sprintf("A customer requested a manual shipping quote.\n\nQuote: %s\nDestination: %s\nCustomer: %s\n", ev.QuoteID, ev.Country, ev.Email)
		return c.mailer.Send(ctx, c.operatorEmail, subject, text)

	case EventQuoteQuoted, EventQuoteConfirmed:
		var ev QuoteEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		if ev.Email == "" {
			return nil
		}
		subject, text := renderQuoteMail(eventType, ev)
		return c.mailer.Send(ctx, ev.Email, subject, text)

	default:
		c.logger.Debug("ignoring notification event", "event_type", eventType)
		return nil
	}
}

func renderOrderMail(eventType string, ev OrderEvent) (subject, text string) {
	switch eventType {
	case EventOrderCreated:
		subject = fmt.Sprintf("Order %s received", ev.OrderNumber)
		text = fmt.Sprintf("Thanks for your order %s.\nTotal: %s.\nWe will confirm as soon as payment completes.\n",
			ev.OrderNumber, dollars(ev.TotalCents))
	case EventOrderPaid:
		subject = fmt.Sprintf("Order %s confirmed", ev.OrderNumber)
		text = fmt.Sprintf("Payment of %s for order %s was received. We are preparing your shipment.\n",
			dollars(ev.AmountCents), ev.OrderNumber)
	case EventOrderPaymentFailed:
		subject = fmt.Sprintf("Payment for order %s was not completed", ev.OrderNumber)
		text = fmt.Sprintf("The payment for order %s was not completed. Your items have been returned to stock.\nYou can place the order again at any time.\n",
			ev.OrderNumber)
	case EventOrderCancelled:
		subject = fmt.Sprintf("Order %s cancelled", ev.OrderNumber)
		text = fmt.Sprintf("Order %s has been cancelled. No payment was taken.\n", ev.OrderNumber)
	case EventOrderFulfilled:
		subject = fmt.Sprintf("Order %s is on its way", ev.OrderNumber)
		text = fmt.Sprintf("Order %s has shipped.\n", ev.OrderNumber)
	case EventOrderExpired:
		subject = fmt.Sprintf("Order %s expired", ev.OrderNumber)
		text = fmt.Sprintf("Order %s was not paid in time and has been released.\nYou can place the order again at any time.\n",
			ev.OrderNumber)
	}
	return subject, text
}

func renderQuoteMail(eventType string, ev QuoteEvent) (subject, text string) {
	switch eventType {
	case EventQuoteQuoted:
		subject = "Your shipping quote is ready"
		text = fmt.Sprintf("We can ship your order for %s.\nConfirm the quote to lock in the price.\n",
			dollars(ev.QuotedCents))
	case EventQuoteConfirmed:
		subject = "Shipping quote confirmed"
		text = "Your shipping quote is confirmed and applied to the order.\n"
	}
	return subject, text
}

func dollars(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
