package ports

import (
	"context"
	"time"

	"studyroom/internal/core/domain"
)

type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	ListActive(ctx context.Context, publicOnly bool) ([]*domain.Room, error)
	IncrementOccupancy(ctx context.Context, id domain.RoomID) error
	DecrementOccupancy(ctx context.Context, id domain.RoomID) error
	SetActive(ctx context.Context, id domain.RoomID, active bool) error
	SetEmptySince(ctx context.Context, id domain.RoomID, at time.Time) error
}

type MembershipRepository interface {
	Create(ctx context.Context, m *domain.Membership) error
	Find(ctx context.Context, room domain.RoomID, user domain.UserID) (*domain.Membership, error)
	FindByRoom(ctx context.Context, room domain.RoomID) ([]*domain.Membership, error)
	Delete(ctx context.Context, room domain.RoomID, user domain.UserID) error
	UpdateFlag(ctx context.Context, room domain.RoomID, user domain.UserID, flag domain.MediaFlag, value bool) error
	UpdatePosition(ctx context.Context, room domain.RoomID, user domain.UserID, x, y float64) error
	SetHost(ctx context.Context, room domain.RoomID, user domain.UserID, host bool) error
}

type StreakRepository interface {
	Get(ctx context.Context, user domain.UserID) (*domain.StreakState, error)
	// CompareAndSet persists the new state only if the stored LastStudyAt
	// still equals expectedLast; otherwise it returns domain.ErrConflict.
	CompareAndSet(ctx context.Context, state *domain.StreakState, expectedLast time.Time) error
}
