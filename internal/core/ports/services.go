package ports

import (
	"context"

	"studyroom/internal/core/domain"
)

type RoomRegistry interface {
	CreateRoom(ctx context.Context, name, description string, isPublic bool, capacity int) (*domain.Room, error)
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	ListRooms(ctx context.Context, publicOnly bool) ([]*domain.Room, error)
	Join(ctx context.Context, room domain.RoomID, user domain.UserID, flags domain.MembershipFlags) (*domain.Membership, error)
	Leave(ctx context.Context, room domain.RoomID, user domain.UserID) error
	SetFlag(ctx context.Context, room domain.RoomID, user domain.UserID, flag domain.MediaFlag, value bool) error
	Participants(ctx context.Context, room domain.RoomID) ([]*domain.Membership, error)
	Close()
}

type StreakEngine interface {
	Touch(ctx context.Context, user domain.UserID) (*domain.StreakState, error)
	Get(ctx context.Context, user domain.UserID) (*domain.StreakState, error)
}

type PositionSynchronizer interface {
	UpdatePosition(ctx context.Context, room domain.RoomID, user domain.UserID, x, y float64, seq uint64) error
	Forget(room domain.RoomID, user domain.UserID)
	Close()
}

// Relay routes opaque signaling messages and room events between live
// connections. Delivery is best-effort and fire-and-forget.
type Relay interface {
	Subscribe(room domain.RoomID, user domain.UserID, outbound chan<- []byte)
	Unsubscribe(room domain.RoomID, user domain.UserID)
	Publish(room domain.RoomID, msg *domain.SignalMessage)
	PublishEvent(room domain.RoomID, event *domain.RoomEvent)
	SubscriberCount(room domain.RoomID) int
}
