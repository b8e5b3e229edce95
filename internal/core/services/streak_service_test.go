package services

import (
	"context"
	"testing"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
	"studyroom/internal/infrastructure/repositories/memory"
	"studyroom/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStreakEngine(t *testing.T) (ports.StreakEngine, ports.StreakRepository) {
	t.Helper()
	repo := memory.NewMemoryStreakRepository()
	engine := NewStreakEngine(repo, testGateway(), time.UTC, zap.NewNop().Sugar())
	return engine, repo
}

// setNow pins the engine's clock and restores it when the test ends.
func setNow(t *testing.T, at time.Time) {
	t.Helper()
	utils.Now = func() time.Time { return at }
	t.Cleanup(func() { utils.Now = time.Now })
}

func TestStreakEngine_Touch(t *testing.T) {
	ctx := context.Background()
	day1 := time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

	t.Run("first study day starts at one", func(t *testing.T) {
		engine, _ := newTestStreakEngine(t)
		setNow(t, day1)

		state, err := engine.Touch(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, state.Current)
		assert.Equal(t, 1, state.Longest)
		assert.True(t, state.LastStudyAt.Equal(day1))
	})

	t.Run("same day is a no-op", func(t *testing.T) {
		engine, _ := newTestStreakEngine(t)
		setNow(t, day1)
		_, err := engine.Touch(ctx, "alice")
		require.NoError(t, err)

		// Later the same calendar day.
		setNow(t, day1.Add(8*time.Hour))
		state, err := engine.Touch(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, state.Current)
		assert.True(t, state.LastStudyAt.Equal(day1), "same-day touch must not move the timestamp")
	})

	t.Run("consecutive day increments", func(t *testing.T) {
		engine, _ := newTestStreakEngine(t)
		setNow(t, day1)
		_, err := engine.Touch(ctx, "alice")
		require.NoError(t, err)

		// Next calendar day, even if fewer than 24 hours passed.
		setNow(t, day1.Add(16*time.Hour))
		state, err := engine.Touch(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, state.Current)
		assert.Equal(t, 2, state.Longest)
	})

	t.Run("gap resets to one but keeps longest", func(t *testing.T) {
		engine, _ := newTestStreakEngine(t)
		for i := 0; i < 4; i++ {
			setNow(t, day1.AddDate(0, 0, i))
			_, err := engine.Touch(ctx, "alice")
			require.NoError(t, err)
		}

		setNow(t, day1.AddDate(0, 0, 10))
		state, err := engine.Touch(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, state.Current)
		assert.Equal(t, 4, state.Longest)
	})

	t.Run("backdated clock is a no-op", func(t *testing.T) {
		engine, _ := newTestStreakEngine(t)
		setNow(t, day1)
		_, err := engine.Touch(ctx, "alice")
		require.NoError(t, err)

		setNow(t, day1.AddDate(0, 0, -2))
		state, err := engine.Touch(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, state.Current)
		assert.True(t, state.LastStudyAt.Equal(day1), "a skewed clock must never move the streak backwards")
	})

	t.Run("longest follows a rebuilt streak", func(t *testing.T) {
		engine, _ := newTestStreakEngine(t)
		// Two-day streak, a gap, then a five-day streak.
		for i := 0; i < 2; i++ {
			setNow(t, day1.AddDate(0, 0, i))
			_, err := engine.Touch(ctx, "alice")
			require.NoError(t, err)
		}
		for i := 5; i < 10; i++ {
			setNow(t, day1.AddDate(0, 0, i))
			_, err := engine.Touch(ctx, "alice")
			require.NoError(t, err)
		}

		state, err := engine.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 5, state.Current)
		assert.Equal(t, 5, state.Longest)
	})
}

func TestStreakEngine_Get(t *testing.T) {
	engine, _ := newTestStreakEngine(t)

	_, err := engine.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrStreakNotFound)
}

// conflictOnceRepo fails the first CompareAndSet with ErrConflict, simulating
// a concurrent join winning the race.
type conflictOnceRepo struct {
	ports.StreakRepository
	conflicted bool
}

func (r *conflictOnceRepo) CompareAndSet(ctx context.Context, state *domain.StreakState, expectedLast time.Time) error {
	if !r.conflicted {
		r.conflicted = true
		return domain.ErrConflict
	}
	return r.StreakRepository.CompareAndSet(ctx, state, expectedLast)
}

func TestStreakEngine_TouchRetriesLostRace(t *testing.T) {
	repo := &conflictOnceRepo{StreakRepository: memory.NewMemoryStreakRepository()}
	engine := NewStreakEngine(repo, testGateway(), time.UTC, zap.NewNop().Sugar())

	setNow(t, time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC))

	state, err := engine.Touch(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, state.Current)
	assert.True(t, repo.conflicted)
}
