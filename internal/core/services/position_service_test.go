package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRelay records published events for inspection.
type fakeRelay struct {
	mu     sync.Mutex
	events []*domain.RoomEvent
}

func (f *fakeRelay) Subscribe(room domain.RoomID, user domain.UserID, outbound chan<- []byte) {}
func (f *fakeRelay) Unsubscribe(room domain.RoomID, user domain.UserID)                       {}
func (f *fakeRelay) Publish(room domain.RoomID, msg *domain.SignalMessage)                    {}
func (f *fakeRelay) SubscriberCount(room domain.RoomID) int                                   { return 0 }

func (f *fakeRelay) PublishEvent(room domain.RoomID, event *domain.RoomEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeRelay) published() []*domain.RoomEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.RoomEvent, len(f.events))
	copy(out, f.events)
	return out
}

func TestPositionSynchronizer_LastWriteWins(t *testing.T) {
	relay := &fakeRelay{}
	members := memory.NewMemoryMembershipRepository()

	ps := NewPositionSynchronizer(members, relay, PositionConfig{
		UpdatesPerSecond: 1000,
		Burst:            1000,
		FlushInterval:    time.Hour, // keep the flusher out of this test
		GatewayTimeout:   time.Second,
	}, zap.NewNop().Sugar())
	defer ps.Close()

	ctx := context.Background()

	require.NoError(t, ps.UpdatePosition(ctx, "room-1", "alice", 10, 20, 5))
	// A delayed frame with an older sequence must be discarded.
	require.NoError(t, ps.UpdatePosition(ctx, "room-1", "alice", 1, 2, 3))
	// Replayed current sequence is discarded too.
	require.NoError(t, ps.UpdatePosition(ctx, "room-1", "alice", 1, 2, 5))

	events := relay.published()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventPositionChanged, events[0].Type)
	assert.Equal(t, domain.UserID("alice"), events[0].UserID)

	var payload struct {
		X   float64 `json:"x"`
		Y   float64 `json:"y"`
		Seq uint64  `json:"seq"`
	}
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, float64(10), payload.X)
	assert.Equal(t, float64(20), payload.Y)
	assert.Equal(t, uint64(5), payload.Seq)
}

func TestPositionSynchronizer_SequencesPerParticipant(t *testing.T) {
	relay := &fakeRelay{}
	members := memory.NewMemoryMembershipRepository()

	ps := NewPositionSynchronizer(members, relay, PositionConfig{
		UpdatesPerSecond: 1000,
		Burst:            1000,
		FlushInterval:    time.Hour,
		GatewayTimeout:   time.Second,
	}, zap.NewNop().Sugar())
	defer ps.Close()

	ctx := context.Background()

	// Sequence spaces are independent per participant.
	require.NoError(t, ps.UpdatePosition(ctx, "room-1", "alice", 1, 1, 10))
	require.NoError(t, ps.UpdatePosition(ctx, "room-1", "bob", 2, 2, 1))

	assert.Len(t, relay.published(), 2)
}

func TestPositionSynchronizer_ThrottleDropsBroadcastsNotState(t *testing.T) {
	relay := &fakeRelay{}
	members := memory.NewMemoryMembershipRepository()

	ps := NewPositionSynchronizer(members, relay, PositionConfig{
		UpdatesPerSecond: 1,
		Burst:            1,
		FlushInterval:    20 * time.Millisecond,
		GatewayTimeout:   time.Second,
	}, zap.NewNop().Sugar())
	defer ps.Close()

	ctx := context.Background()
	require.NoError(t, members.Create(ctx, &domain.Membership{
		RoomID:   "room-1",
		UserID:   "alice",
		JoinedAt: time.Now(),
	}))

	// A burst beyond the limiter: only the first frame is broadcast, but the
	// newest coordinate still reaches the store.
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, ps.UpdatePosition(ctx, "room-1", "alice", float64(seq), 0, seq))
	}

	assert.Len(t, relay.published(), 1)

	assert.Eventually(t, func() bool {
		m, err := members.Find(ctx, "room-1", "alice")
		return err == nil && m.X == 5
	}, time.Second, 10*time.Millisecond, "flusher must persist the newest position")
}

func TestPositionSynchronizer_Forget(t *testing.T) {
	relay := &fakeRelay{}
	members := memory.NewMemoryMembershipRepository()

	ps := NewPositionSynchronizer(members, relay, PositionConfig{
		UpdatesPerSecond: 1000,
		Burst:            1000,
		FlushInterval:    time.Hour,
		GatewayTimeout:   time.Second,
	}, zap.NewNop().Sugar())
	defer ps.Close()

	ctx := context.Background()

	require.NoError(t, ps.UpdatePosition(ctx, "room-1", "alice", 1, 1, 100))
	ps.Forget("room-1", "alice")

	// After a rejoin the sequence space starts over.
	require.NoError(t, ps.UpdatePosition(ctx, "room-1", "alice", 2, 2, 1))
	assert.Len(t, relay.published(), 2)
}
