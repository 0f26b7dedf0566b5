package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	kafka_config "swimbook/pkg/kafka/config"
	"swimbook/pkg/logger"
)

func TestMessageBuilder(t *testing.T) {
	at := time.Date(2026, 4, 2, 6, 30, 0, 0, time.UTC)
	msg, err := NewMessage().
		WithKey("session-1").
		WithValue(map[string]string{"type": "booking.created"}).
		WithEventType("booking.created").
		WithCorrelationID("req-42").
		WithSource("swimbook").
		WithTimestamp(at).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.GetEventID() == "" {
		t.Error("expected generated event id")
	}
	if msg.GetEventType() != "booking.created" || msg.GetCorrelationID() != "req-42" {
		t.Errorf("unexpected headers %v", msg.Headers)
	}
	if msg.Headers[HeaderTimestamp] != at.Format(time.RFC3339Nano) {
		t.Errorf("unexpected timestamp header %q", msg.Headers[HeaderTimestamp])
	}

	var payload map[string]string
	if err := msg.DecodeValue(&payload); err != nil || payload["type"] != "booking.created" {
		t.Errorf("unexpected payload %v %v", payload, err)
	}
}

func TestMessageBuilder_EncodingError(t *testing.T) {
	_, err := NewMessage().WithKey("k").WithValue(make(chan int)).Build()
	if err == nil {
		t.Fatal("expected encoding error")
	}
}

func TestProducer_RejectsInvalidMessages(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Format: logger.JSON})
	producer, err := NewProducer(&kafka_config.Config{
		Brokers:             []string{"127.0.0.1:1"},
		Topic:               "events",
		ProducerMaxAttempts: 1,
	}, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	if err := producer.Publish(ctx, Message{Value: []byte("{}")}); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("expected ErrEmptyKey, got %v", err)
	}
	if err := producer.Publish(ctx, Message{Key: "k"}); !errors.Is(err, ErrEmptyValue) {
		t.Errorf("expected ErrEmptyValue, got %v", err)
	}

	if err := producer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := producer.Publish(ctx, Message{Key: "k", Value: []byte("{}")}); !errors.Is(err, ErrProducerClosed) {
		t.Errorf("expected ErrProducerClosed, got %v", err)
	}
}

func TestNewProducer_Validation(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Format: logger.JSON})
	if _, err := NewProducer(nil, log); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewProducer(&kafka_config.Config{Topic: "events"}, log); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewProducer(&kafka_config.Config{Brokers: []string{"b:9092"}}, log); err == nil {
		t.Error("expected error without topic")
	}
}
