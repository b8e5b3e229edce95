package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisMembershipRepository struct {
	client *redis.Client
}

func NewRedisMembershipRepository(client *redis.Client) ports.MembershipRepository {
	return &RedisMembershipRepository{client: client}
}

func (r *RedisMembershipRepository) membershipKey(room domain.RoomID, user domain.UserID) string {
	return fmt.Sprintf("studyroom:membership:%s:%s", room, user)
}

func (r *RedisMembershipRepository) roomMembersKey(room domain.RoomID) string {
	return fmt.Sprintf("studyroom:room:%s:members", room)
}

func (r *RedisMembershipRepository) Create(ctx context.Context, m *domain.Membership) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal membership: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.membershipKey(m.RoomID, m.UserID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set membership in Redis: %w", err)
	}
	if !ok {
		return domain.ErrAlreadyMember
	}

	if err := r.client.SAdd(ctx, r.roomMembersKey(m.RoomID), string(m.UserID)).Err(); err != nil {
		return fmt.Errorf("failed to add member to room set: %w", err)
	}

	return nil
}

func (r *RedisMembershipRepository) Find(ctx context.Context, room domain.RoomID, user domain.UserID) (*domain.Membership, error) {
	data, err := r.client.Get(ctx, r.membershipKey(room, user)).Result()
	if err == redis.Nil {
		return nil, domain.ErrNotMember
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership from Redis: %w", err)
	}

	var m domain.Membership
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal membership: %w", err)
	}

	return &m, nil
}

func (r *RedisMembershipRepository) FindByRoom(ctx context.Context, room domain.RoomID) ([]*domain.Membership, error) {
	userIDs, err := r.client.SMembers(ctx, r.roomMembersKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room members from Redis: %w", err)
	}

	var members []*domain.Membership
	for _, userID := range userIDs {
		m, err := r.Find(ctx, room, domain.UserID(userID))
		if err != nil {
			// Skip members that no longer exist
			continue
		}
		members = append(members, m)
	}

	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].UserID < members[j].UserID
	})

	return members, nil
}

func (r *RedisMembershipRepository) Delete(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	n, err := r.client.Del(ctx, r.membershipKey(room, user)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete membership from Redis: %w", err)
	}
	if n == 0 {
		return domain.ErrNotMember
	}

	if err := r.client.SRem(ctx, r.roomMembersKey(room), string(user)).Err(); err != nil {
		return fmt.Errorf("failed to remove member from room set: %w", err)
	}

	return nil
}

func (r *RedisMembershipRepository) UpdateFlag(ctx context.Context, room domain.RoomID, user domain.UserID, flag domain.MediaFlag, value bool) error {
	return r.update(ctx, room, user, func(m *domain.Membership) {
		switch flag {
		case domain.FlagVideo:
			m.VideoOn = value
		case domain.FlagAudio:
			m.AudioOn = value
		}
	})
}

func (r *RedisMembershipRepository) UpdatePosition(ctx context.Context, room domain.RoomID, user domain.UserID, x, y float64) error {
	return r.update(ctx, room, user, func(m *domain.Membership) {
		m.X = x
		m.Y = y
	})
}

func (r *RedisMembershipRepository) SetHost(ctx context.Context, room domain.RoomID, user domain.UserID, host bool) error {
	return r.update(ctx, room, user, func(m *domain.Membership) {
		m.IsHost = host
	})
}

func (r *RedisMembershipRepository) update(ctx context.Context, room domain.RoomID, user domain.UserID, mutate func(*domain.Membership)) error {
	m, err := r.Find(ctx, room, user)
	if err != nil {
		return err
	}

	mutate(m)

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal membership: %w", err)
	}

	if err := r.client.Set(ctx, r.membershipKey(room, user), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update membership in Redis: %w", err)
	}
	return nil
}
