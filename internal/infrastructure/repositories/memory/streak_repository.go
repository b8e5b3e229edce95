package memory

import (
	"context"
	"sync"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
)

type MemoryStreakRepository struct {
	streaks map[domain.UserID]*domain.StreakState
	mu      sync.Mutex
}

func NewMemoryStreakRepository() ports.StreakRepository {
	return &MemoryStreakRepository{
		streaks: make(map[domain.UserID]*domain.StreakState),
	}
}

func (r *MemoryStreakRepository) Get(ctx context.Context, user domain.UserID) (*domain.StreakState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, exists := r.streaks[user]
	if !exists {
		return nil, domain.ErrStreakNotFound
	}

	clone := *state
	return &clone, nil
}

func (r *MemoryStreakRepository) CompareAndSet(ctx context.Context, state *domain.StreakState, expectedLast time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.streaks[state.UserID]
	if exists {
		if !current.LastStudyAt.Equal(expectedLast) {
			return domain.ErrConflict
		}
	} else if !expectedLast.IsZero() {
		return domain.ErrConflict
	}

	clone := *state
	r.streaks[state.UserID] = &clone
	return nil
}
