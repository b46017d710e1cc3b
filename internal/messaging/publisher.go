// Package messaging moves notification events from the transactional
// outbox to RabbitMQ and back out to consumers. Producers never publish
// directly; they write outbox rows and the dispatcher does the rest.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte) error
	Close() error
}

type RabbitPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareExchange(ch, exchange); err != nil {
		conn.Close()
		return nil, err
	}

	return &RabbitPublisher{conn: conn, exchange: exchange}, nil
}

// Publish sends one event. The event type travels in the AMQP Type
// property so consumers can route without opening the body.
func (p *RabbitPublisher) Publish(ctx context.Context, eventType string, payload []byte) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	return ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
}

func (p *RabbitPublisher) Close() error {
	return p.conn.Close()
}

func declareExchange(ch *amqp091.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(
		exchange,
		"fanout",
		true,  // durable
		false, // auto-delete
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	return nil
}
