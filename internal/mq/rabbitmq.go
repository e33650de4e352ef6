// Package mq publishes settlement events and confirmation notifications to RabbitMQ.
package mq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/semanticallynull/carpool-backend/internal/events"
)

const (
	EventsExchange        = "carpool.events"
	NotificationsExchange = "carpool.notifications"

	confirmationRoutingKey = "booking.confirmation_requested"

	connectAttempts = 10
)

// Publisher implements events.Publisher and events.Dispatcher over a single AMQP channel.
type Publisher struct {
	conn   *amqp.Connection
	mu     sync.Mutex
	ch     *amqp.Channel
	logger *slog.Logger
}

// Connect dials the broker, retrying while it comes up, and declares the two topic exchanges.
func Connect(ctx context.Context, url string, logger *slog.Logger) (*Publisher, error) {
	var conn *amqp.Connection
	var err error
	delay := time.Second
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.WarnContext(ctx, "rabbitmq not ready", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, 30*time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	for _, ex := range []string{EventsExchange, NotificationsExchange} {
		if err := ch.ExchangeDeclare(ex, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}

	return &Publisher{conn: conn, ch: ch, logger: logger}, nil
}

// Publish sends an audit/analytics event, routed by its type.
func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	return p.publish(ctx, EventsExchange, string(e.Type), e.ID.String(), e)
}

// Dispatch hands a confirmation notification to the mailer.
func (p *Publisher) Dispatch(ctx context.Context, n events.Notification) error {
	return p.publish(ctx, NotificationsExchange, confirmationRoutingKey, "", n)
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey, messageID string, v any) error {
	msg, err := message(messageID, v)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

func message(messageID string, v any) (amqp.Publishing, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode message: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Body:         body,
	}, nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		p.logger.Warn("failed to close rabbitmq channel", "error", err)
	}
	return p.conn.Close()
}
