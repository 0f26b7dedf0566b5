package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"swimbook/pkg/sanitizer"
)

type SessionStatus string

const (
	SessionDraft     SessionStatus = "draft"
	SessionScheduled SessionStatus = "scheduled"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionDraft:     {SessionScheduled, SessionCancelled},
	SessionScheduled: {SessionCompleted, SessionCancelled},
	SessionCompleted: nil,
	SessionCancelled: nil,
}

func ParseSessionStatus(s string) (SessionStatus, error) {
	status := SessionStatus(s)
	if _, ok := sessionTransitions[status]; !ok {
		return "", fmt.Errorf("%w: session status %q", ErrUnknownStatus, s)
	}
	return status, nil
}

func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// CanTransitionTo reports whether the registry accepts moving a session from s to next.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s *SessionStatus) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	str, ok := bson.RawValue{Type: t, Value: data}.StringValueOK()
	if !ok {
		return fmt.Errorf("%w: session status stored as %s", ErrUnknownStatus, t)
	}
	parsed, err := ParseSessionStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s *SessionStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSessionStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type Session struct {
	ID          string        `json:"id,omitempty" bson:"_id,omitempty" validate:"omitempty,mongodb"`
	Title       string        `json:"title" bson:"title" validate:"required,min=2,max=200"`
	Description string        `json:"description,omitempty" bson:"description,omitempty" validate:"omitempty,max=2000"`
	Location    string        `json:"location,omitempty" bson:"location,omitempty" validate:"omitempty,max=200"`
	Instructor  string        `json:"instructor,omitempty" bson:"instructor,omitempty" validate:"omitempty,max=200"`
	StartTime   time.Time     `json:"start_time" bson:"start_time" validate:"required"`
	EndTime     time.Time     `json:"end_time" bson:"end_time" validate:"required,gtfield=StartTime"`
	Capacity    int           `json:"capacity" bson:"capacity" validate:"min=0,max=10000"`
	Status      SessionStatus `json:"status" bson:"status" validate:"required,session_status"`
	TitleKey    string        `json:"-" bson:"title_key,omitempty"`
	Version     int64         `json:"-" bson:"version"`
	CreatedAt   time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" bson:"updated_at"`
}

// SlotKey is the normalized title that, together with StartTime, is unique
// among sessions that are not cancelled. Cancelled sessions release it.
func (s *Session) SlotKey() string {
	if s.Status == SessionCancelled {
		return ""
	}
	return sanitizer.NormalizeNameForComparison(s.Title)
}

type SessionUpdate struct {
	Title       string     `json:"title,omitempty" validate:"omitempty,min=2,max=200"`
	Description *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	Location    *string    `json:"location,omitempty" validate:"omitempty,max=200"`
	Instructor  *string    `json:"instructor,omitempty" validate:"omitempty,max=200"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Capacity    *int       `json:"capacity,omitempty" validate:"omitempty,min=0,max=10000"`
}

// SessionFilter narrows a session listing. Zero fields match every session.
type SessionFilter struct {
	Statuses   []SessionStatus
	Instructor string
}

// Matches reports whether s passes the filter. Instructors compare case-insensitively.
func (f SessionFilter) Matches(s *Session) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, s.Status) {
		return false
	}
	return f.Instructor == "" || strings.EqualFold(f.Instructor, s.Instructor)
}

// SessionWithCapacity pairs a session with the capacity view computed when it was read.
type SessionWithCapacity struct {
	*Session
	View *CapacityView `json:"capacity_view"`
}

// SessionCancellation reports the outcome of cancelling a session and its bookings.
type SessionCancellation struct {
	Session           *Session `json:"session"`
	CancelledBookings int      `json:"cancelled_bookings"`
}
