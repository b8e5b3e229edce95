package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
	"studyroom/internal/infrastructure/reliability"
	"studyroom/pkg/utils"

	"go.uber.org/zap"
)

// casAttempts bounds the optimistic retry loop in Touch.
const casAttempts = 3

// streakEngine updates per-user study streaks. One streak step per calendar
// day: same-day re-entry is a no-op, a consecutive day increments, a longer
// gap resets to 1. Backdated timestamps are treated as same-day.
type streakEngine struct {
	streaks ports.StreakRepository
	gateway *reliability.Gateway
	loc     *time.Location
	logger  *zap.SugaredLogger
}

func NewStreakEngine(
	streaks ports.StreakRepository,
	gateway *reliability.Gateway,
	loc *time.Location,
	logger *zap.SugaredLogger,
) ports.StreakEngine {
	if loc == nil {
		loc = time.UTC
	}
	return &streakEngine{
		streaks: streaks,
		gateway: gateway,
		loc:     loc,
		logger:  logger,
	}
}

func (s *streakEngine) Get(ctx context.Context, user domain.UserID) (*domain.StreakState, error) {
	return reliability.DoWithResult(ctx, s.gateway, "streak.get", func(ctx context.Context) (*domain.StreakState, error) {
		return s.streaks.Get(ctx, user)
	})
}

// Touch advances the streak for "now". Safe for concurrent calls for the same
// user: the write is a compare-and-set on LastStudyAt, and a lost race is
// re-evaluated so two same-second joins can never double-increment.
func (s *streakEngine) Touch(ctx context.Context, user domain.UserID) (*domain.StreakState, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		state, err := s.Get(ctx, user)
		if err != nil && !errors.Is(err, domain.ErrStreakNotFound) {
			return nil, err
		}

		now := utils.Now()
		next, changed := s.advance(state, user, now)
		if !changed {
			return state, nil
		}

		var expected time.Time
		if state != nil {
			expected = state.LastStudyAt
		}

		err = s.gateway.Do(ctx, "streak.compareAndSet", func(ctx context.Context) error {
			return s.streaks.CompareAndSet(ctx, next, expected)
		})
		if errors.Is(err, domain.ErrConflict) {
			// Another join won the race; re-read and re-evaluate.
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.Infow("streak updated",
			"user_id", user,
			"current", next.Current,
			"longest", next.Longest,
		)
		return next, nil
	}

	return nil, fmt.Errorf("streak update for user %s lost %d consecutive races", user, casAttempts)
}

// advance computes the new state; changed=false means same-day (or backdated)
// re-entry and the stored state must be left untouched.
func (s *streakEngine) advance(state *domain.StreakState, user domain.UserID, now time.Time) (*domain.StreakState, bool) {
	if state == nil {
		return &domain.StreakState{
			UserID:      user,
			Current:     1,
			Longest:     1,
			LastStudyAt: now,
		}, true
	}

	daysDiff := utils.DaysBetween(state.LastStudyAt, now, s.loc)

	var current int
	switch {
	case daysDiff == 0:
		return state, false
	case daysDiff < 0:
		// Clock skew or backdating: never shrink a streak or move
		// LastStudyAt backwards.
		return state, false
	case daysDiff == 1:
		current = state.Current + 1
	default:
		current = 1
	}

	longest := state.Longest
	if current > longest {
		longest = current
	}

	return &domain.StreakState{
		UserID:      user,
		Current:     current,
		Longest:     longest,
		LastStudyAt: now,
	}, true
}
