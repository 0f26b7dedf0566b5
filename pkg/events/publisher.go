// Package events publishes booking lifecycle events once the change that
// produced them has been committed. Delivery is best effort: a failed publish
// never rolls back a booking.
package events

import (
	"context"
	"swimbook/pkg/model"
)

const (
	Source        = "swimbook"
	SchemaVersion = "1"
)

type Publisher interface {
	Publish(ctx context.Context, event model.BookingEvent) error
	Close() error
}

type nopPublisher struct{}

// NewNopPublisher returns a Publisher that drops every event.
func NewNopPublisher() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(ctx context.Context, event model.BookingEvent) error { return nil }

func (nopPublisher) Close() error { return nil }
