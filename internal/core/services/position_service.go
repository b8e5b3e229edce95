package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
	"studyroom/pkg/coalesce"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PositionConfig carries the throttling policy for position updates.
type PositionConfig struct {
	UpdatesPerSecond float64
	Burst            int
	FlushInterval    time.Duration
	GatewayTimeout   time.Duration
}

type positionKey struct {
	Room domain.RoomID
	User domain.UserID
}

type positionValue struct {
	X, Y float64
	Seq  uint64
}

type positionPayload struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Seq uint64  `json:"seq"`
}

// positionSynchronizer applies last-write-wins semantics to on-screen
// coordinates: the update with the highest sender sequence wins regardless of
// arrival order. Broadcasts are rate-limited per participant and persistence
// is coalesced; dropped intermediate positions are harmless because the
// newest one supersedes them.
type positionSynchronizer struct {
	members ports.MembershipRepository
	relay   ports.Relay
	cfg     PositionConfig
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	latest   map[positionKey]uint64        // highest sequence seen per participant
	limiters map[positionKey]*rate.Limiter // broadcast throttle per participant

	flusher *coalesce.Coalescer[positionKey, positionValue]
}

func NewPositionSynchronizer(
	members ports.MembershipRepository,
	relay ports.Relay,
	cfg PositionConfig,
	logger *zap.SugaredLogger,
) ports.PositionSynchronizer {
	p := &positionSynchronizer{
		members:  members,
		relay:    relay,
		cfg:      cfg,
		logger:   logger,
		latest:   make(map[positionKey]uint64),
		limiters: make(map[positionKey]*rate.Limiter),
	}

	p.flusher = coalesce.New(cfg.FlushInterval, p.persist)

	return p
}

// UpdatePosition records a participant's coordinate. Stale sequences are
// discarded for both broadcast and persistence.
func (p *positionSynchronizer) UpdatePosition(ctx context.Context, room domain.RoomID, user domain.UserID, x, y float64, seq uint64) error {
	key := positionKey{room, user}

	p.mu.Lock()
	if last, ok := p.latest[key]; ok && seq <= last {
		p.mu.Unlock()
		return nil
	}
	p.latest[key] = seq

	limiter, ok := p.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(p.cfg.UpdatesPerSecond), p.cfg.Burst)
		p.limiters[key] = limiter
	}
	broadcast := limiter.Allow()
	p.mu.Unlock()

	// Persistence always sees the newest value; the coalescer collapses
	// bursts down to one gateway write per participant per interval.
	p.flusher.Offer(key, positionValue{X: x, Y: y, Seq: seq})

	if !broadcast {
		return nil
	}

	payload, err := json.Marshal(positionPayload{X: x, Y: y, Seq: seq})
	if err != nil {
		return err
	}

	p.relay.PublishEvent(room, &domain.RoomEvent{
		Type:    domain.EventPositionChanged,
		RoomID:  room,
		UserID:  user,
		Payload: payload,
	})

	return nil
}

// Forget drops throttle and sequence state for a participant that left.
func (p *positionSynchronizer) Forget(room domain.RoomID, user domain.UserID) {
	key := positionKey{room, user}
	p.mu.Lock()
	delete(p.latest, key)
	delete(p.limiters, key)
	p.mu.Unlock()
}

// Close flushes pending positions and stops the background loop.
func (p *positionSynchronizer) Close() {
	p.flusher.Stop()
}

func (p *positionSynchronizer) persist(ctx context.Context, key positionKey, value positionValue) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
	defer cancel()

	err := p.members.UpdatePosition(callCtx, key.Room, key.User, value.X, value.Y)
	if err != nil {
		// The participant may have left between the update and the
		// flush; that is not worth more than a debug line.
		p.logger.Debugw("position persist skipped",
			"room_id", key.Room,
			"user_id", key.User,
			"error", err,
		)
	}
}
