package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
)

type MemoryRoomRepository struct {
	rooms map[domain.RoomID]*domain.Room
	mu    sync.RWMutex
}

func NewMemoryRoomRepository() ports.RoomRepository {
	return &MemoryRoomRepository{
		rooms: make(map[domain.RoomID]*domain.Room),
	}
}

func (r *MemoryRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.ID]; exists {
		return fmt.Errorf("room already exists: %s", room.ID)
	}

	clone := *room
	r.rooms[room.ID] = &clone
	return nil
}

func (r *MemoryRoomRepository) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}

	clone := *room
	return &clone, nil
}

func (r *MemoryRoomRepository) ListActive(ctx context.Context, publicOnly bool) ([]*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*domain.Room
	for _, room := range r.rooms {
		if !room.Active {
			continue
		}
		if publicOnly && !room.IsPublic {
			continue
		}
		clone := *room
		active = append(active, &clone)
	}

	// Busiest rooms first, matching the listing order of the platform UI.
	sort.Slice(active, func(i, j int) bool {
		if active[i].Occupancy != active[j].Occupancy {
			return active[i].Occupancy > active[j].Occupancy
		}
		return active[i].ID < active[j].ID
	})

	return active, nil
}

func (r *MemoryRoomRepository) IncrementOccupancy(ctx context.Context, id domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[id]
	if !exists {
		return domain.ErrRoomNotFound
	}

	room.Occupancy++
	return nil
}

func (r *MemoryRoomRepository) DecrementOccupancy(ctx context.Context, id domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[id]
	if !exists {
		return domain.ErrRoomNotFound
	}

	if room.Occupancy > 0 {
		room.Occupancy--
	}
	return nil
}

func (r *MemoryRoomRepository) SetActive(ctx context.Context, id domain.RoomID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[id]
	if !exists {
		return domain.ErrRoomNotFound
	}

	room.Active = active
	return nil
}

func (r *MemoryRoomRepository) SetEmptySince(ctx context.Context, id domain.RoomID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[id]
	if !exists {
		return domain.ErrRoomNotFound
	}

	room.EmptySince = at
	return nil
}
