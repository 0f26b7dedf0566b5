package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	sessionserrors "swimbook/internal/sessions/errors"
	"swimbook/pkg/model"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemorySessionRepository is the registry used by the memory store driver. It
// participates in memory transactions through Snapshot and Restore.
type MemorySessionRepository interface {
	SessionRepository
	Snapshot() any
	Restore(snapshot any)
}

type memorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
}

func NewMemorySessionRepository() MemorySessionRepository {
	return &memorySessionRepository{sessions: make(map[string]model.Session)}
}

func (r *memorySessionRepository) Create(ctx context.Context, session *model.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	session.TitleKey = session.SlotKey()
	if r.slotTaken(session, "") {
		return sessionserrors.ErrDuplicate
	}
	session.ID = primitive.NewObjectID().Hex()
	r.sessions[session.ID] = *session
	return nil
}

func (r *memorySessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return nil, fmt.Errorf("%w: %s", sessionserrors.ErrInvalidID, id)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, sessionserrors.ErrNotFound
	}
	return &session, nil
}

func (r *memorySessionRepository) FindAll(ctx context.Context, filter model.SessionFilter, limit int, offset int64) ([]*model.Session, error) {
	all := r.filter(filter.Matches)
	if offset >= int64(len(all)) {
		return []*model.Session{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *memorySessionRepository) FindByStartTime(ctx context.Context, start time.Time) ([]*model.Session, error) {
	return r.filter(func(s *model.Session) bool { return s.StartTime.Equal(start) }), nil
}

func (r *memorySessionRepository) Count(ctx context.Context, filter model.SessionFilter) (int64, error) {
	return int64(len(r.filter(filter.Matches))), nil
}

func (r *memorySessionRepository) Update(ctx context.Context, id string, session *model.Session) error {
	return r.mutate(ctx, id, func(stored *model.Session) error {
		stored.Title = session.Title
		stored.Description = session.Description
		stored.Location = session.Location
		stored.Instructor = session.Instructor
		stored.StartTime = session.StartTime
		stored.EndTime = session.EndTime
		stored.Capacity = session.Capacity
		stored.UpdatedAt = session.UpdatedAt
		stored.TitleKey = stored.SlotKey()
		if r.slotTaken(stored, id) {
			return sessionserrors.ErrDuplicate
		}
		return nil
	}, nil)
}

func (r *memorySessionRepository) SetStatus(ctx context.Context, id string, from, to model.SessionStatus, at time.Time) (*model.Session, error) {
	var updated model.Session
	err := r.mutate(ctx, id, func(stored *model.Session) error {
		if stored.Status != from {
			return sessionserrors.ErrStatusChanged
		}
		stored.Status = to
		stored.UpdatedAt = at
		stored.TitleKey = stored.SlotKey()
		return nil
	}, &updated)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *memorySessionRepository) Fence(ctx context.Context, id string) (*model.Session, error) {
	var updated model.Session
	if err := r.mutate(ctx, id, func(*model.Session) error { return nil }, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *memorySessionRepository) Snapshot() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]model.Session, len(r.sessions))
	for id, session := range r.sessions {
		snapshot[id] = session
	}
	return snapshot
}

func (r *memorySessionRepository) Restore(snapshot any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = snapshot.(map[string]model.Session)
}

// mutate applies fn to the stored session, bumps its version and copies the
// result into out when out is non-nil.
func (r *memorySessionRepository) mutate(ctx context.Context, id string, fn func(*model.Session) error, out *model.Session) error {
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return fmt.Errorf("%w: %s", sessionserrors.ErrInvalidID, id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[id]
	if !ok {
		return sessionserrors.ErrNotFound
	}
	if err := fn(&stored); err != nil {
		return err
	}
	stored.Version++
	r.sessions[id] = stored
	if out != nil {
		*out = stored
	}
	return nil
}

// slotTaken reports whether a session other than exceptID holds s's slot.
// Callers hold r.mu.
func (r *memorySessionRepository) slotTaken(s *model.Session, exceptID string) bool {
	if s.TitleKey == "" {
		return false
	}
	for id, other := range r.sessions {
		if id != exceptID && other.TitleKey == s.TitleKey && other.StartTime.Equal(s.StartTime) {
			return true
		}
	}
	return false
}

func (r *memorySessionRepository) filter(match func(*model.Session) bool) []*model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Session
	for _, session := range r.sessions {
		if match(&session) {
			s := session
			out = append(out, &s)
		}
	}
	slices.SortFunc(out, func(a, b *model.Session) int {
		return cmp.Or(a.StartTime.Compare(b.StartTime), cmp.Compare(a.ID, b.ID))
	})
	return out
}
