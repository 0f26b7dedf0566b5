package model

import "time"

const (
	EventBookingCreated    = "booking.created"
	EventBookingWaitlisted = "booking.waitlisted"
	EventBookingPromoted   = "booking.promoted"
	EventBookingCancelled  = "booking.cancelled"
	EventBookingCheckedIn  = "booking.checked_in"
	EventBookingNoShow     = "booking.no_show"
	EventSessionCancelled  = "session.cancelled"
)

// BookingEvent is published after a booking lifecycle change has been committed.
type BookingEvent struct {
	Type           string        `json:"type"`
	BookingID      string        `json:"booking_id,omitempty"`
	SessionID      string        `json:"session_id"`
	MemberID       string        `json:"member_id,omitempty"`
	NumSpots       int           `json:"num_spots,omitempty"`
	Status         BookingStatus `json:"status,omitempty"`
	PreviousStatus BookingStatus `json:"previous_status,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

func NewBookingEvent(eventType string, b *Booking, previous BookingStatus, at time.Time) BookingEvent {
	return BookingEvent{
		Type:           eventType,
		BookingID:      b.ID,
		SessionID:      b.SessionID,
		MemberID:       b.MemberID,
		NumSpots:       b.NumSpots,
		Status:         b.Status,
		PreviousStatus: previous,
		OccurredAt:     at,
	}
}
