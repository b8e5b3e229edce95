package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisStreakRepository struct {
	client *redis.Client
}

func NewRedisStreakRepository(client *redis.Client) ports.StreakRepository {
	return &RedisStreakRepository{client: client}
}

func (r *RedisStreakRepository) streakKey(user domain.UserID) string {
	return "studyroom:streak:" + string(user)
}

func (r *RedisStreakRepository) Get(ctx context.Context, user domain.UserID) (*domain.StreakState, error) {
	data, err := r.client.Get(ctx, r.streakKey(user)).Result()
	if err == redis.Nil {
		return nil, domain.ErrStreakNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get streak from Redis: %w", err)
	}

	var state domain.StreakState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal streak: %w", err)
	}

	return &state, nil
}

// CompareAndSet writes the state inside a WATCH transaction so two concurrent
// joins for the same user cannot both advance the streak.
func (r *RedisStreakRepository) CompareAndSet(ctx context.Context, state *domain.StreakState, expectedLast time.Time) error {
	key := r.streakKey(state.UserID)

	txf := func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
			if !expectedLast.IsZero() {
				return domain.ErrConflict
			}
		case err != nil:
			return fmt.Errorf("failed to read streak in transaction: %w", err)
		default:
			var current domain.StreakState
			if err := json.Unmarshal([]byte(stored), &current); err != nil {
				return fmt.Errorf("failed to unmarshal streak: %w", err)
			}
			if !current.LastStudyAt.Equal(expectedLast) {
				return domain.ErrConflict
			}
		}

		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to marshal streak: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txf, key)
	if err == redis.TxFailedErr {
		return domain.ErrConflict
	}
	return err
}
