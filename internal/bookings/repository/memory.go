package repository

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	bookingserrors "swimbook/internal/bookings/errors"
	"swimbook/pkg/model"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memoryBookingRepository struct {
	mu       sync.RWMutex
	bookings map[string]*model.Booking
}

// MemoryBookingRepository is the ledger used by the memory store driver. It
// participates in memory transactions through Snapshot and Restore.
type MemoryBookingRepository interface {
	BookingRepository
	Snapshot() any
	Restore(snapshot any)
}

func NewMemoryBookingRepository() MemoryBookingRepository {
	return &memoryBookingRepository{bookings: make(map[string]*model.Booking)}
}

func (r *memoryBookingRepository) Insert(ctx context.Context, booking *model.Booking) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	booking.ID = primitive.NewObjectID().Hex()
	r.bookings[booking.ID] = cloneBooking(booking)
	return nil
}

func (r *memoryBookingRepository) FindByID(ctx context.Context, id string) (*model.Booking, error) {
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return nil, fmt.Errorf("%w: %s", bookingserrors.ErrInvalidID, id)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	booking, ok := r.bookings[id]
	if !ok {
		return nil, bookingserrors.ErrNotFound
	}
	return cloneBooking(booking), nil
}

func (r *memoryBookingRepository) Stream(ctx context.Context, sessionID string, statuses ...model.BookingStatus) iter.Seq2[*model.Booking, error] {
	return func(yield func(*model.Booking, error) bool) {
		for _, booking := range r.sessionBookings(sessionID, statuses) {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(booking, nil) {
				return
			}
		}
	}
}

func (r *memoryBookingRepository) FindBySession(ctx context.Context, sessionID string, statuses []model.BookingStatus, limit int, offset int64) ([]*model.Booking, error) {
	return page(r.sessionBookings(sessionID, statuses), limit, offset), nil
}

func (r *memoryBookingRepository) CountBySession(ctx context.Context, sessionID string, statuses []model.BookingStatus) (int64, error) {
	return int64(len(r.sessionBookings(sessionID, statuses))), nil
}

func (r *memoryBookingRepository) FindByMember(ctx context.Context, memberID string, limit int, offset int64) ([]*model.Booking, error) {
	bookings := r.filter(func(b *model.Booking) bool { return b.MemberID == memberID })
	slices.Reverse(bookings)
	return page(bookings, limit, offset), nil
}

func (r *memoryBookingRepository) CountByMember(ctx context.Context, memberID string) (int64, error) {
	return int64(len(r.filter(func(b *model.Booking) bool { return b.MemberID == memberID }))), nil
}

func (r *memoryBookingRepository) UpdateStatus(ctx context.Context, id string, from, to model.BookingStatus, at time.Time) (*model.Booking, error) {
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return nil, fmt.Errorf("%w: %s", bookingserrors.ErrInvalidID, id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	booking, ok := r.bookings[id]
	if !ok {
		return nil, bookingserrors.ErrNotFound
	}
	if booking.Status != from {
		return nil, bookingserrors.ErrStatusChanged
	}
	booking.Transition(to, at)
	return cloneBooking(booking), nil
}

func (r *memoryBookingRepository) SumActiveSpots(ctx context.Context, sessionID string, asOf *time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reserved := 0
	for _, booking := range r.bookings {
		if booking.SessionID != sessionID {
			continue
		}
		status := booking.Status
		if asOf != nil {
			status = booking.StatusAt(*asOf)
		}
		if status.IsActive() {
			reserved += booking.NumSpots
		}
	}
	return reserved, nil
}

func (r *memoryBookingRepository) Snapshot() any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]*model.Booking, len(r.bookings))
	for id, booking := range r.bookings {
		snapshot[id] = cloneBooking(booking)
	}
	return snapshot
}

func (r *memoryBookingRepository) Restore(snapshot any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookings = snapshot.(map[string]*model.Booking)
}

func (r *memoryBookingRepository) sessionBookings(sessionID string, statuses []model.BookingStatus) []*model.Booking {
	return r.filter(func(b *model.Booking) bool {
		return b.SessionID == sessionID && (len(statuses) == 0 || slices.Contains(statuses, b.Status))
	})
}

// filter returns matching bookings as copies in ledger order.
func (r *memoryBookingRepository) filter(match func(*model.Booking) bool) []*model.Booking {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Booking
	for _, booking := range r.bookings {
		if match(booking) {
			out = append(out, cloneBooking(booking))
		}
	}
	slices.SortFunc(out, func(a, b *model.Booking) int {
		return cmp.Or(a.BookedAt.Compare(b.BookedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func page(bookings []*model.Booking, limit int, offset int64) []*model.Booking {
	if offset >= int64(len(bookings)) {
		return []*model.Booking{}
	}
	bookings = bookings[offset:]
	if limit > 0 && limit < len(bookings) {
		bookings = bookings[:limit]
	}
	return bookings
}

func cloneBooking(b *model.Booking) *model.Booking {
	c := *b
	c.History = slices.Clone(b.History)
	if b.CancelledAt != nil {
		t := *b.CancelledAt
		c.CancelledAt = &t
	}
	if b.CheckedInAt != nil {
		t := *b.CheckedInAt
		c.CheckedInAt = &t
	}
	return &c
}
