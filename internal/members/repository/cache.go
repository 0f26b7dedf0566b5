package repository

import (
	"context"
	"encoding/json"
	"errors"
	"swimbook/pkg/logger"
	"swimbook/pkg/model"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "swimbook:member:"

// cachedMemberRepository is a read-through Redis cache in front of the
// directory. Redis failures are logged and the directory is used directly.
type cachedMemberRepository struct {
	next MemberRepository
	rdb  redis.Cmdable
	ttl  time.Duration
	log  *logger.Logger
}

func NewCachedMemberRepository(next MemberRepository, rdb redis.Cmdable, ttl time.Duration, log *logger.Logger) MemberRepository {
	return &cachedMemberRepository{next: next, rdb: rdb, ttl: ttl, log: log}
}

func (r *cachedMemberRepository) FindByID(ctx context.Context, id string) (*model.Member, error) {
	bs, err := r.rdb.Get(ctx, cacheKey(id)).Bytes()
	if err == nil {
		var member model.Member
		if err := json.Unmarshal(bs, &member); err == nil {
			return &member, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		r.log.Warn("Member cache read failed", "member_id", id, "error", err)
	}

	member, err := r.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, member)
	return member, nil
}

func (r *cachedMemberRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*model.Member, error) {
	result := make(map[string]*model.Member, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKey(id)
	}

	missing := ids
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		r.log.Warn("Member cache read failed", "count", len(ids), "error", err)
	} else {
		missing = nil
		for i, v := range values {
			s, ok := v.(string)
			var member model.Member
			if !ok || json.Unmarshal([]byte(s), &member) != nil {
				missing = append(missing, ids[i])
				continue
			}
			result[ids[i]] = &member
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	found, err := r.next.FindByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, member := range found {
		result[id] = member
		r.store(ctx, member)
	}
	return result, nil
}

func (r *cachedMemberRepository) store(ctx context.Context, member *model.Member) {
	bs, err := json.Marshal(member)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, cacheKey(member.ID), bs, r.ttl).Err(); err != nil {
		r.log.Warn("Member cache write failed", "member_id", member.ID, "error", err)
	}
}

func cacheKey(id string) string {
	return cacheKeyPrefix + id
}
