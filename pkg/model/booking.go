package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

var ErrUnknownStatus = errors.New("unknown status")

type BookingStatus string

const (
	BookingBooked    BookingStatus = "booked"
	BookingWaitlist  BookingStatus = "waitlist"
	BookingCancelled BookingStatus = "cancelled"
	BookingCheckedIn BookingStatus = "checked_in"
	BookingNoShow    BookingStatus = "no_show"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingBooked:    {BookingCancelled, BookingCheckedIn, BookingNoShow},
	BookingWaitlist:  {BookingBooked, BookingCancelled},
	BookingCancelled: nil,
	BookingCheckedIn: nil,
	BookingNoShow:    nil,
}

// ActiveStatuses are the statuses that consume session capacity.
var ActiveStatuses = []BookingStatus{BookingBooked, BookingCheckedIn}

// OpenStatuses are the non-terminal statuses.
var OpenStatuses = []BookingStatus{BookingBooked, BookingWaitlist}

func ParseBookingStatus(s string) (BookingStatus, error) {
	status := BookingStatus(s)
	if _, ok := bookingTransitions[status]; !ok {
		return "", fmt.Errorf("%w: booking status %q", ErrUnknownStatus, s)
	}
	return status, nil
}

func (s BookingStatus) IsActive() bool {
	return s == BookingBooked || s == BookingCheckedIn
}

func (s BookingStatus) IsTerminal() bool {
	return len(bookingTransitions[s]) == 0
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s *BookingStatus) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	str, ok := bson.RawValue{Type: t, Value: data}.StringValueOK()
	if !ok {
		return fmt.Errorf("%w: booking status stored as %s", ErrUnknownStatus, t)
	}
	parsed, err := ParseBookingStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s *BookingStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseBookingStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type StatusChange struct {
	Status BookingStatus `json:"status" bson:"status"`
	At     time.Time     `json:"at" bson:"at"`
}

type Booking struct {
	ID          string         `json:"id,omitempty" bson:"_id,omitempty"`
	SessionID   string         `json:"session_id" bson:"session_id"`
	MemberID    string         `json:"member_id" bson:"member_id"`
	NumSpots    int            `json:"num_spots" bson:"num_spots"`
	Status      BookingStatus  `json:"status" bson:"status"`
	BookedAt    time.Time      `json:"booked_at" bson:"booked_at"`
	CancelledAt *time.Time     `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
	CheckedInAt *time.Time     `json:"checked_in_at,omitempty" bson:"checked_in_at,omitempty"`
	Notes       string         `json:"notes,omitempty" bson:"notes,omitempty"`
	History     []StatusChange `json:"history" bson:"history"`
}

// StatusAt returns the status the booking had at the given instant, or "" if
// it did not exist yet.
func (b *Booking) StatusAt(at time.Time) BookingStatus {
	var status BookingStatus
	for _, change := range b.History {
		if change.At.After(at) {
			break
		}
		status = change.Status
	}
	return status
}

// Transition applies a status change in place, stamping the matching timestamp
// and appending to the history. The caller is responsible for checking CanTransitionTo.
func (b *Booking) Transition(to BookingStatus, at time.Time) {
	b.Status = to
	switch to {
	case BookingCancelled:
		b.CancelledAt = &at
	case BookingCheckedIn:
		b.CheckedInAt = &at
	}
	b.History = append(b.History, StatusChange{Status: to, At: at})
}

// BookingDetail is a booking with the member's display fields filled in from the directory.
type BookingDetail struct {
	*Booking
	MemberName  string `json:"member_name,omitempty"`
	MemberEmail string `json:"member_email,omitempty"`
}

// BookingRequest is the input of a reservation. AllowWaitlist lets the caller
// decline a waitlist place; nil means accept one when the deployment allows it.
type BookingRequest struct {
	SessionID     string `json:"session_id" validate:"required,mongodb"`
	MemberID      string `json:"member_id" validate:"required,mongodb"`
	NumSpots      int    `json:"num_spots" validate:"min=1"`
	Notes         string `json:"notes,omitempty" validate:"omitempty,max=500"`
	AllowWaitlist *bool  `json:"allow_waitlist,omitempty"`
}

type Reservation struct {
	Booking *Booking      `json:"booking"`
	View    *CapacityView `json:"capacity_view"`
}

// BookingTransition is the outcome of a status change, including any
// waitlisted bookings promoted into the capacity it released.
type BookingTransition struct {
	Booking        *Booking      `json:"booking"`
	PreviousStatus BookingStatus `json:"previous_status"`
	Promoted       []*Booking    `json:"promoted,omitempty"`
	View           *CapacityView `json:"capacity_view"`
}

type Promotion struct {
	SessionID string        `json:"session_id"`
	Promoted  []*Booking    `json:"promoted"`
	View      *CapacityView `json:"capacity_view"`
}
