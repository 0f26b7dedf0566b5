package events

import (
	"context"
	"encoding/json"
	"fmt"
	"swimbook/pkg/logger"
	"swimbook/pkg/middleware"
	"swimbook/pkg/model"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type amqpPublisher struct {
	url   string
	queue string
	log   *logger.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher publishes persistent JSON messages to a durable queue on
// the default exchange. The connection is opened lazily and re-opened after
// a failure.
func NewAMQPPublisher(url, queue string, log *logger.Logger) Publisher {
	return &amqpPublisher{url: url, queue: queue, log: log.With("broker", "rabbitmq", "queue", queue)}
}

func (p *amqpPublisher) Publish(ctx context.Context, event model.BookingEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		Timestamp:     event.OccurredAt,
		Type:          event.Type,
		AppId:         Source,
		CorrelationId: middleware.RequestIDFromContext(ctx),
		Headers:       amqp.Table{"schema-version": SchemaVersion, "session-id": event.SessionID},
		Body:          body,
	}

	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		p.reset()
		return fmt.Errorf("rabbitmq publish failed: %w", err)
	}
	return nil
}

// channel returns the open channel, dialing and declaring the queue first
// when needed. Callers hold p.mu.
func (p *amqpPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel open failed: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare failed: %w", err)
	}

	p.log.Info("Connected to RabbitMQ", "queue", p.queue)
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *amqpPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
