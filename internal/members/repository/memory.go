package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	memberserrors "swimbook/internal/members/errors"
	"swimbook/pkg/model"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryMemberRepository is the directory used by the memory store driver.
// Members are seeded at startup with Add.
type MemoryMemberRepository struct {
	mu      sync.RWMutex
	members map[string]model.Member
}

func NewMemoryMemberRepository(members ...*model.Member) *MemoryMemberRepository {
	r := &MemoryMemberRepository{members: make(map[string]model.Member)}
	for _, m := range members {
		r.Add(m)
	}
	return r
}

// Add stores the member, assigning an id when it has none.
func (r *MemoryMemberRepository) Add(member *model.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if member.ID == "" {
		member.ID = primitive.NewObjectID().Hex()
	}
	r.members[member.ID] = *member
}

func (r *MemoryMemberRepository) FindByID(ctx context.Context, id string) (*model.Member, error) {
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return nil, fmt.Errorf("%w: %s", memberserrors.ErrInvalidID, id)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	member, ok := r.members[id]
	if !ok {
		return nil, memberserrors.ErrNotFound
	}
	return &member, nil
}

func (r *MemoryMemberRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*model.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*model.Member, len(ids))
	for _, id := range ids {
		if member, ok := r.members[id]; ok {
			result[id] = &member
		}
	}
	return result, nil
}

// LoadMembers reads a JSON array of members, as used to seed the memory directory.
func LoadMembers(r io.Reader) ([]*model.Member, error) {
	var members []*model.Member
	if err := json.NewDecoder(r).Decode(&members); err != nil {
		return nil, fmt.Errorf("failed to decode members: %w", err)
	}
	for i, m := range members {
		if m == nil || m.Email == "" {
			return nil, fmt.Errorf("member %d: email is required", i)
		}
		if m.ID != "" {
			if _, err := primitive.ObjectIDFromHex(m.ID); err != nil {
				return nil, fmt.Errorf("member %d: %w: %s", i, memberserrors.ErrInvalidID, m.ID)
			}
		}
	}
	return members, nil
}
