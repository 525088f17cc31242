// Package queue connects the indexer to the catalog event stream over
// RabbitMQ.
package queue

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer reads catalog change events from a durable queue.
type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewConsumer dials the broker and declares the durable event queue.
// Prefetch is one: events mutate shared indices and are processed strictly
// in order.
func NewConsumer(url, queueName string) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queue: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("queue: declare %s: %w", queueName, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("queue: qos: %w", err)
	}

	slog.Info("rabbitmq connected", "queue", queueName)
	return &Consumer{conn: conn, ch: ch, queue: queueName}, nil
}

// Consume processes deliveries with handler until the context is cancelled
// or the channel closes. A successful handler acks the message; a failing
// one nacks it without requeue so a poison message cannot wedge the queue.
func (c *Consumer) Consume(ctx context.Context, handler func(context.Context, []byte) error) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue: consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("queue: channel closed")
			}
			if err := handler(ctx, delivery.Body); err != nil {
				slog.Error("event handling failed", "error", err)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					return fmt.Errorf("queue: nack: %w", nackErr)
				}
				continue
			}
			if err := delivery.Ack(false); err != nil {
				return fmt.Errorf("queue: ack: %w", err)
			}
		}
	}
}

// Close tears down the channel and connection.
func (c *Consumer) Close() {
	c.ch.Close()
	c.conn.Close()
}

// Publisher enqueues catalog change events, used by tooling to trigger
// rebuilds through the same path the application uses.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewPublisher dials the broker and declares the durable event queue.
func NewPublisher(url, queueName string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queue: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("queue: declare %s: %w", queueName, err)
	}
	return &Publisher{conn: conn, ch: ch, queue: queueName}, nil
}

// Publish enqueues one persistent JSON event.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("queue: publish: %w", err)
	}
	return nil
}

// Close tears down the channel and connection.
func (p *Publisher) Close() {
	p.ch.Close()
	p.conn.Close()
}
