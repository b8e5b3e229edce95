package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisRoomRepository stores room records as JSON values. The occupancy
// counter lives in its own key so increments and decrements stay atomic.
type RedisRoomRepository struct {
	client *redis.Client
}

func NewRedisRoomRepository(client *redis.Client) ports.RoomRepository {
	return &RedisRoomRepository{client: client}
}

func (r *RedisRoomRepository) roomKey(id domain.RoomID) string {
	return "studyroom:room:" + string(id)
}

func (r *RedisRoomRepository) occupancyKey(id domain.RoomID) string {
	return fmt.Sprintf("studyroom:room:%s:occupancy", id)
}

func (r *RedisRoomRepository) activeSetKey() string {
	return "studyroom:rooms:active"
}

func (r *RedisRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.roomKey(room.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set room in Redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("room already exists: %s", room.ID)
	}

	if err := r.client.Set(ctx, r.occupancyKey(room.ID), room.Occupancy, 0).Err(); err != nil {
		return fmt.Errorf("failed to init occupancy counter: %w", err)
	}

	if room.Active {
		if err := r.client.SAdd(ctx, r.activeSetKey(), string(room.ID)).Err(); err != nil {
			return fmt.Errorf("failed to add room to active set: %w", err)
		}
	}

	return nil
}

func (r *RedisRoomRepository) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	data, err := r.client.Get(ctx, r.roomKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room from Redis: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}

	occ, err := r.client.Get(ctx, r.occupancyKey(id)).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get occupancy counter: %w", err)
	}
	room.Occupancy = occ

	return &room, nil
}

func (r *RedisRoomRepository) ListActive(ctx context.Context, publicOnly bool) ([]*domain.Room, error) {
	ids, err := r.client.SMembers(ctx, r.activeSetKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get active rooms from Redis: %w", err)
	}

	var rooms []*domain.Room
	for _, id := range ids {
		room, err := r.GetByID(ctx, domain.RoomID(id))
		if err != nil {
			// Skip rooms that no longer exist
			continue
		}
		if !room.Active {
			continue
		}
		if publicOnly && !room.IsPublic {
			continue
		}
		rooms = append(rooms, room)
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Occupancy != rooms[j].Occupancy {
			return rooms[i].Occupancy > rooms[j].Occupancy
		}
		return rooms[i].ID < rooms[j].ID
	})

	return rooms, nil
}

func (r *RedisRoomRepository) IncrementOccupancy(ctx context.Context, id domain.RoomID) error {
	if err := r.exists(ctx, id); err != nil {
		return err
	}
	if err := r.client.Incr(ctx, r.occupancyKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to increment occupancy: %w", err)
	}
	return nil
}

func (r *RedisRoomRepository) DecrementOccupancy(ctx context.Context, id domain.RoomID) error {
	if err := r.exists(ctx, id); err != nil {
		return err
	}
	val, err := r.client.Decr(ctx, r.occupancyKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to decrement occupancy: %w", err)
	}
	// Occupancy must never go negative; undo a stray decrement.
	if val < 0 {
		if err := r.client.Incr(ctx, r.occupancyKey(id)).Err(); err != nil {
			return fmt.Errorf("failed to clamp occupancy: %w", err)
		}
	}
	return nil
}

func (r *RedisRoomRepository) SetActive(ctx context.Context, id domain.RoomID, active bool) error {
	room, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	room.Active = active
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	if err := r.client.Set(ctx, r.roomKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update room in Redis: %w", err)
	}

	if active {
		err = r.client.SAdd(ctx, r.activeSetKey(), string(id)).Err()
	} else {
		err = r.client.SRem(ctx, r.activeSetKey(), string(id)).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to update active set: %w", err)
	}

	return nil
}

func (r *RedisRoomRepository) SetEmptySince(ctx context.Context, id domain.RoomID, at time.Time) error {
	room, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	room.EmptySince = at
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	if err := r.client.Set(ctx, r.roomKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update room in Redis: %w", err)
	}
	return nil
}

func (r *RedisRoomRepository) exists(ctx context.Context, id domain.RoomID) error {
	n, err := r.client.Exists(ctx, r.roomKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check room existence: %w", err)
	}
	if n == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}
