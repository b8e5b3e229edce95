package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
	"studyroom/internal/infrastructure/reliability"
	"studyroom/pkg/tracing"
	"studyroom/pkg/utils"

	"go.uber.org/zap"
)

// RegistryConfig carries the room policy knobs.
type RegistryConfig struct {
	DefaultCapacity int
	GatewayTimeout  time.Duration
	IdleTimeout     time.Duration
	SweepInterval   time.Duration
}

// roomRegistry owns the authoritative room -> participant mapping. All
// mutations for a given room are funneled through that room's guard, so the
// occupancy counter and the membership set can never diverge; unrelated rooms
// never contend.
type roomRegistry struct {
	rooms   ports.RoomRepository
	members ports.MembershipRepository
	gateway *reliability.Gateway
	cfg     RegistryConfig
	logger  *zap.SugaredLogger

	guards sync.Map // domain.RoomID -> *sync.Mutex

	stopOnce sync.Once
	stopChan chan struct{}
}

func NewRoomRegistry(
	rooms ports.RoomRepository,
	members ports.MembershipRepository,
	gateway *reliability.Gateway,
	cfg RegistryConfig,
	logger *zap.SugaredLogger,
) ports.RoomRegistry {
	r := &roomRegistry{
		rooms:    rooms,
		members:  members,
		gateway:  gateway,
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}

	go r.janitor()

	return r
}

func (r *roomRegistry) guard(id domain.RoomID) *sync.Mutex {
	mu, _ := r.guards.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (r *roomRegistry) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.GatewayTimeout)
}

func (r *roomRegistry) CreateRoom(ctx context.Context, name, description string, isPublic bool, capacity int) (*domain.Room, error) {
	if capacity <= 0 {
		capacity = r.cfg.DefaultCapacity
	}

	room := &domain.Room{
		ID:          domain.RoomID(utils.GenerateRoomID()),
		Name:        name,
		Description: description,
		IsPublic:    isPublic,
		Capacity:    capacity,
		Occupancy:   0,
		Active:      true,
		CreatedAt:   time.Now(),
		EmptySince:  time.Now(),
	}

	err := r.gateway.Do(ctx, "room.create", func(ctx context.Context) error {
		callCtx, cancel := r.callCtx(ctx)
		defer cancel()
		return r.rooms.Create(callCtx, room)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	r.logger.Infow("room created",
		"room_id", room.ID,
		"name", room.Name,
		"capacity", room.Capacity,
		"public", room.IsPublic,
	)

	return room, nil
}

func (r *roomRegistry) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return reliability.DoWithResult(ctx, r.gateway, "room.get", func(ctx context.Context) (*domain.Room, error) {
		callCtx, cancel := r.callCtx(ctx)
		defer cancel()
		return r.rooms.GetByID(callCtx, id)
	})
}

func (r *roomRegistry) ListRooms(ctx context.Context, publicOnly bool) ([]*domain.Room, error) {
	return reliability.DoWithResult(ctx, r.gateway, "room.list", func(ctx context.Context) ([]*domain.Room, error) {
		callCtx, cancel := r.callCtx(ctx)
		defer cancel()
		return r.rooms.ListActive(callCtx, publicOnly)
	})
}

func (r *roomRegistry) Participants(ctx context.Context, room domain.RoomID) ([]*domain.Membership, error) {
	return reliability.DoWithResult(ctx, r.gateway, "membership.list", func(ctx context.Context) ([]*domain.Membership, error) {
		callCtx, cancel := r.callCtx(ctx)
		defer cancel()
		return r.members.FindByRoom(callCtx, room)
	})
}

// Join atomically creates the membership and increments occupancy. The first
// member of a room becomes its host. Partial gateway failure is compensated
// here; callers never observe a half-joined state.
func (r *roomRegistry) Join(ctx context.Context, roomID domain.RoomID, user domain.UserID, flags domain.MembershipFlags) (*domain.Membership, error) {
	ctx, span := tracing.TraceRoomOperation(ctx, "join", string(roomID), string(user))
	defer span.End()

	mu := r.guard(roomID)
	mu.Lock()
	defer mu.Unlock()

	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	if !room.Active {
		return nil, domain.ErrRoomNotFound
	}

	if _, err := r.findMembership(ctx, roomID, user); err == nil {
		return nil, domain.ErrAlreadyMember
	} else if !errors.Is(err, domain.ErrNotMember) {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	if !room.HasSpace() {
		return nil, domain.ErrRoomFull
	}

	membership := &domain.Membership{
		RoomID:   roomID,
		UserID:   user,
		VideoOn:  flags.VideoOn,
		AudioOn:  flags.AudioOn,
		IsHost:   room.Occupancy == 0,
		JoinedAt: time.Now(),
	}

	err = r.gateway.Do(ctx, "membership.create", func(ctx context.Context) error {
		callCtx, cancel := r.callCtx(ctx)
		defer cancel()
		return r.members.Create(callCtx, membership)
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	err = r.gateway.Do(ctx, "room.incrementOccupancy", func(ctx context.Context) error {
		callCtx, cancel := r.callCtx(ctx)
		defer cancel()
		return r.rooms.IncrementOccupancy(callCtx, roomID)
	})
	if err != nil {
		// Roll back the membership so the counter and the set stay in step.
		r.compensate(roomID, user)
		tracing.RecordError(ctx, err)
		return nil, err
	}

	// Best-effort: the room is no longer idle.
	if err := r.setEmptySince(ctx, roomID, time.Time{}); err != nil {
		r.logger.Warnw("failed to clear empty-since marker", "room_id", roomID, "error", err)
	}

	r.logger.Infow("participant joined",
		"room_id", roomID,
		"user_id", user,
		"host", membership.IsHost,
		"occupancy", room.Occupancy+1,
	)

	return membership, nil
}

// Leave removes the membership and decrements occupancy. Duplicate leaves are
// a no-op so disconnect races never double-decrement; the connection is
// already gone, so errors are logged and swallowed.
func (r *roomRegistry) Leave(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	ctx, span := tracing.TraceRoomOperation(ctx, "leave", string(roomID), string(user))
	defer span.End()

	mu := r.guard(roomID)
	mu.Lock()
	defer mu.Unlock()

	membership, err := r.findMembership(ctx, roomID, user)
	if errors.Is(err, domain.ErrNotMember) {
		return nil
	}
	if err != nil {
		r.logger.Warnw("leave: failed to load membership", "room_id", roomID, "user_id", user, "error", err)
		return nil
	}

	err = r.gateway.Do(ctx, "membership.delete", func(ctx context.Context) error {
		callCtx, cancel := r.callCtx(ctx)
		defer cancel()
		return r.members.Delete(callCtx, roomID, user)
	})
	if errors.Is(err, domain.ErrNotMember) {
		return nil
	}
	if err != nil {
		r.logger.Warnw("leave: failed to delete membership", "room_id", roomID, "user_id", user, "error", err)
		return nil
	}

	err = r.gateway.Do(ctx, "room.decrementOccupancy", func(ctx context.Context) error {
		callCtx, cancel := r.callCtx(ctx)
		defer cancel()
		return r.rooms.DecrementOccupancy(callCtx, roomID)
	})
	if err != nil {
		r.logger.Errorw("leave: failed to decrement occupancy", "room_id", roomID, "user_id", user, "error", err)
	}

	remaining, err := r.Participants(ctx, roomID)
	if err != nil {
		r.logger.Warnw("leave: failed to list remaining members", "room_id", roomID, "error", err)
		return nil
	}

	if len(remaining) == 0 {
		if err := r.setEmptySince(ctx, roomID, time.Now()); err != nil {
			r.logger.Warnw("failed to mark room empty", "room_id", roomID, "error", err)
		}
		return nil
	}

	// Host succession: promote the earliest-joined remaining member.
	if membership.IsHost {
		next := remaining[0]
		err = r.gateway.Do(ctx, "membership.setHost", func(ctx context.Context) error {
			callCtx, cancel := r.callCtx(ctx)
			defer cancel()
			return r.members.SetHost(callCtx, roomID, next.UserID, true)
		})
		if err != nil {
			r.logger.Errorw("leave: failed to promote new host", "room_id", roomID, "user_id", next.UserID, "error", err)
		} else {
			r.logger.Infow("host reassigned", "room_id", roomID, "user_id", next.UserID)
		}
	}

	return nil
}

func (r *roomRegistry) SetFlag(ctx context.Context, roomID domain.RoomID, user domain.UserID, flag domain.MediaFlag, value bool) error {
	mu := r.guard(roomID)
	mu.Lock()
	defer mu.Unlock()

	return r.gateway.Do(ctx, "membership.updateFlag", func(ctx context.Context) error {
		callCtx, cancel := r.callCtx(ctx)
		defer cancel()
		return r.members.UpdateFlag(callCtx, roomID, user, flag, value)
	})
}

func (r *roomRegistry) findMembership(ctx context.Context, roomID domain.RoomID, user domain.UserID) (*domain.Membership, error) {
	return reliability.DoWithResult(ctx, r.gateway, "membership.find", func(ctx context.Context) (*domain.Membership, error) {
		callCtx, cancel := r.callCtx(ctx)
		defer cancel()
		return r.members.Find(callCtx, roomID, user)
	})
}

func (r *roomRegistry) setEmptySince(ctx context.Context, roomID domain.RoomID, at time.Time) error {
	return r.gateway.Do(ctx, "room.setEmptySince", func(ctx context.Context) error {
		callCtx, cancel := r.callCtx(ctx)
		defer cancel()
		return r.rooms.SetEmptySince(callCtx, roomID, at)
	})
}

// compensate undoes a membership create after a failed occupancy increment.
// Runs on a fresh context: the caller's may already be cancelled.
func (r *roomRegistry) compensate(roomID domain.RoomID, user domain.UserID) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.GatewayTimeout)
	defer cancel()

	if err := r.members.Delete(ctx, roomID, user); err != nil && !errors.Is(err, domain.ErrNotMember) {
		r.logger.Errorw("join compensation failed, membership may be orphaned",
			"room_id", roomID,
			"user_id", user,
			"error", err,
		)
	}
}

// janitor deactivates rooms that have been empty longer than the idle timeout.
func (r *roomRegistry) janitor() {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopChan:
			return
		}
	}
}

func (r *roomRegistry) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.GatewayTimeout)
	defer cancel()

	rooms, err := r.rooms.ListActive(ctx, false)
	if err != nil {
		r.logger.Warnw("janitor: failed to list rooms", "error", err)
		return
	}

	for _, room := range rooms {
		if room.Occupancy != 0 || room.EmptySince.IsZero() {
			continue
		}
		if time.Since(room.EmptySince) < r.cfg.IdleTimeout {
			continue
		}

		mu := r.guard(room.ID)
		mu.Lock()
		// Re-check under the guard; someone may have joined meanwhile.
		current, err := r.rooms.GetByID(ctx, room.ID)
		if err == nil && current.Occupancy == 0 && !current.EmptySince.IsZero() &&
			time.Since(current.EmptySince) >= r.cfg.IdleTimeout {
			if err := r.rooms.SetActive(ctx, room.ID, false); err != nil {
				r.logger.Warnw("janitor: failed to deactivate room", "room_id", room.ID, "error", err)
			} else {
				r.logger.Infow("room deactivated after idle timeout", "room_id", room.ID)
			}
		}
		mu.Unlock()
	}
}

// Close stops the janitor.
func (r *roomRegistry) Close() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
}
