package memory

import (
	"context"
	"sort"
	"sync"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
)

type membershipKey struct {
	room domain.RoomID
	user domain.UserID
}

type MemoryMembershipRepository struct {
	memberships map[membershipKey]*domain.Membership
	mu          sync.RWMutex
}

func NewMemoryMembershipRepository() ports.MembershipRepository {
	return &MemoryMembershipRepository{
		memberships: make(map[membershipKey]*domain.Membership),
	}
}

func (r *MemoryMembershipRepository) Create(ctx context.Context, m *domain.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := membershipKey{m.RoomID, m.UserID}
	if _, exists := r.memberships[key]; exists {
		return domain.ErrAlreadyMember
	}

	clone := *m
	r.memberships[key] = &clone
	return nil
}

func (r *MemoryMembershipRepository) Find(ctx context.Context, room domain.RoomID, user domain.UserID) (*domain.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.memberships[membershipKey{room, user}]
	if !exists {
		return nil, domain.ErrNotMember
	}

	clone := *m
	return &clone, nil
}

func (r *MemoryMembershipRepository) FindByRoom(ctx context.Context, room domain.RoomID) ([]*domain.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var members []*domain.Membership
	for key, m := range r.memberships {
		if key.room == room {
			clone := *m
			members = append(members, &clone)
		}
	}

	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].UserID < members[j].UserID
	})

	return members, nil
}

func (r *MemoryMembershipRepository) Delete(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := membershipKey{room, user}
	if _, exists := r.memberships[key]; !exists {
		return domain.ErrNotMember
	}

	delete(r.memberships, key)
	return nil
}

func (r *MemoryMembershipRepository) UpdateFlag(ctx context.Context, room domain.RoomID, user domain.UserID, flag domain.MediaFlag, value bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.memberships[membershipKey{room, user}]
	if !exists {
		return domain.ErrNotMember
	}

	switch flag {
	case domain.FlagVideo:
		m.VideoOn = value
	case domain.FlagAudio:
		m.AudioOn = value
	}
	return nil
}

func (r *MemoryMembershipRepository) UpdatePosition(ctx context.Context, room domain.RoomID, user domain.UserID, x, y float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.memberships[membershipKey{room, user}]
	if !exists {
		return domain.ErrNotMember
	}

	m.X = x
	m.Y = y
	return nil
}

func (r *MemoryMembershipRepository) SetHost(ctx context.Context, room domain.RoomID, user domain.UserID, host bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.memberships[membershipKey{room, user}]
	if !exists {
		return domain.ErrNotMember
	}

	m.IsHost = host
	return nil
}
