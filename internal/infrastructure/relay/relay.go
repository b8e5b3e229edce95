package relay

import (
	"encoding/json"
	"sync"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
	"studyroom/internal/infrastructure/monitoring"

	"go.uber.org/zap"
)

// Envelope is the frame written to subscriber connections. Signal frames
// carry the negotiation payload untouched; event frames carry room state
// changes.
type Envelope struct {
	Type    string          `json:"type"`
	From    domain.UserID   `json:"from,omitempty"`
	RoomID  domain.RoomID   `json:"room_id,omitempty"`
	UserID  domain.UserID   `json:"user_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Relay fans signaling messages and room events out to live subscribers.
// It never blocks on a slow receiver: a full outbound queue drops the frame
// and the connection owner is expected to resynchronize on its own.
type Relay struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[domain.UserID]chan<- []byte

	metrics *monitoring.PrometheusCollector
	logger  *zap.SugaredLogger
}

func NewRelay(metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *Relay {
	return &Relay{
		rooms:   make(map[domain.RoomID]map[domain.UserID]chan<- []byte),
		metrics: metrics,
		logger:  logger,
	}
}

var _ ports.Relay = (*Relay)(nil)

// Subscribe registers a participant's outbound queue. A second subscription
// for the same participant replaces the first; the previous connection is on
// its way out and must not receive further frames.
func (r *Relay) Subscribe(room domain.RoomID, user domain.UserID, outbound chan<- []byte) {
	r.mu.Lock()
	subs, ok := r.rooms[room]
	if !ok {
		subs = make(map[domain.UserID]chan<- []byte)
		r.rooms[room] = subs
	}
	subs[user] = outbound
	r.mu.Unlock()

	r.logger.Debugw("relay subscribed", "room_id", room, "user_id", user)
}

func (r *Relay) Unsubscribe(room domain.RoomID, user domain.UserID) {
	r.mu.Lock()
	if subs, ok := r.rooms[room]; ok {
		delete(subs, user)
		if len(subs) == 0 {
			delete(r.rooms, room)
		}
	}
	r.mu.Unlock()
}

// Publish routes a signaling message. A non-empty Target goes to that one
// subscriber; an empty Target fans out to every subscriber except the sender.
// The payload is forwarded byte-for-byte.
func (r *Relay) Publish(room domain.RoomID, msg *domain.SignalMessage) {
	frame, err := json.Marshal(Envelope{
		Type:    string(msg.Kind),
		From:    msg.From,
		RoomID:  room,
		Payload: msg.Payload,
	})
	if err != nil {
		r.logger.Errorw("signal marshal failed", "room_id", room, "error", err)
		return
	}

	r.mu.RLock()
	subs := r.rooms[room]

	if msg.Target != "" {
		out, ok := subs[msg.Target]
		r.mu.RUnlock()
		if !ok {
			// Target raced out of the room; signaling is best-effort.
			r.logger.Debugw("signal target not subscribed",
				"room_id", room,
				"from", msg.From,
				"target", msg.Target,
			)
			r.metrics.RecordRelayDropped()
			return
		}
		r.deliver(out, frame, room, msg.Target)
		r.metrics.RecordSignalRelayed(msg.Kind)
		return
	}

	targets := make(map[domain.UserID]chan<- []byte, len(subs))
	for user, out := range subs {
		if user == msg.From {
			continue
		}
		targets[user] = out
	}
	r.mu.RUnlock()

	for user, out := range targets {
		r.deliver(out, frame, room, user)
	}
	r.metrics.RecordSignalRelayed(msg.Kind)
}

// PublishEvent fans a room event out to every subscriber except the
// originator, who already knows their own state change.
func (r *Relay) PublishEvent(room domain.RoomID, event *domain.RoomEvent) {
	frame, err := json.Marshal(Envelope{
		Type:    string(event.Type),
		RoomID:  event.RoomID,
		UserID:  event.UserID,
		Payload: event.Payload,
	})
	if err != nil {
		r.logger.Errorw("event marshal failed", "room_id", room, "error", err)
		return
	}

	r.mu.RLock()
	subs := r.rooms[room]
	targets := make(map[domain.UserID]chan<- []byte, len(subs))
	for user, out := range subs {
		if user == event.UserID {
			continue
		}
		targets[user] = out
	}
	r.mu.RUnlock()

	for user, out := range targets {
		r.deliver(out, frame, room, user)
	}
}

// SubscriberCount reports how many live subscriptions a room has.
func (r *Relay) SubscriberCount(room domain.RoomID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

func (r *Relay) deliver(out chan<- []byte, frame []byte, room domain.RoomID, user domain.UserID) {
	select {
	case out <- frame:
	default:
		r.metrics.RecordRelayDropped()
		r.logger.Warnw("outbound queue full, frame dropped",
			"room_id", room,
			"user_id", user,
		)
	}
}
