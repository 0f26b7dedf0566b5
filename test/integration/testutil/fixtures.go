package testutil

import (
	"fmt"
	"time"
)

type SessionBuilder struct {
	session map[string]any
}

func NewSessionBuilder() *SessionBuilder {
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Minute)
	return &SessionBuilder{
		session: map[string]any{
			"title":      fmt.Sprintf("Lane Swim %d", time.Now().UnixNano()),
			"location":   "Pool A",
			"instructor": "Coach Rivera",
			"start_time": start,
			"end_time":   start.Add(time.Hour),
			"capacity":   10,
			"status":     "scheduled",
		},
	}
}

func (b *SessionBuilder) WithTitle(title string) *SessionBuilder {
	b.session["title"] = title
	return b
}

func (b *SessionBuilder) WithCapacity(capacity int) *SessionBuilder {
	b.session["capacity"] = capacity
	return b
}

func (b *SessionBuilder) WithStart(start time.Time) *SessionBuilder {
	b.session["start_time"] = start
	b.session["end_time"] = start.Add(time.Hour)
	return b
}

func (b *SessionBuilder) WithStatus(status string) *SessionBuilder {
	b.session["status"] = status
	return b
}

func (b *SessionBuilder) Build() map[string]any {
	return b.session
}

type BookingBuilder struct {
	booking map[string]any
}

func NewBookingBuilder(sessionID, memberID string) *BookingBuilder {
	return &BookingBuilder{
		booking: map[string]any{
			"session_id": sessionID,
			"member_id":  memberID,
			"num_spots":  1,
		},
	}
}

func (b *BookingBuilder) WithSpots(spots int) *BookingBuilder {
	b.booking["num_spots"] = spots
	return b
}

func (b *BookingBuilder) WithWaitlist(allow bool) *BookingBuilder {
	b.booking["allow_waitlist"] = allow
	return b
}

func (b *BookingBuilder) Build() map[string]any {
	return b.booking
}
