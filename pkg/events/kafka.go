package events

import (
	"context"
	"fmt"
	"swimbook/pkg/kafka"
	"swimbook/pkg/middleware"
	"swimbook/pkg/model"
)

type kafkaPublisher struct {
	producer *kafka.Producer
}

// NewKafkaPublisher publishes events keyed by session id, so all events of
// one session land on the same partition in commit order.
func NewKafkaPublisher(producer *kafka.Producer) Publisher {
	return &kafkaPublisher{producer: producer}
}

func (p *kafkaPublisher) Publish(ctx context.Context, event model.BookingEvent) error {
	msg, err := NewMessage(ctx, event)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, msg)
}

func (p *kafkaPublisher) Close() error {
	return p.producer.Close()
}

// NewMessage builds the kafka message for event, carrying the request id of
// ctx as correlation id.
func NewMessage(ctx context.Context, event model.BookingEvent) (kafka.Message, error) {
	msg, err := kafka.NewMessage().
		WithKey(event.SessionID).
		WithValue(event).
		WithEventType(event.Type).
		WithCorrelationID(middleware.RequestIDFromContext(ctx)).
		WithSchemaVersion(SchemaVersion).
		WithSource(Source).
		WithTimestamp(event.OccurredAt).
		Build()
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}
	return msg, nil
}
