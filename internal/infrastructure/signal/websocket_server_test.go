package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
	"studyroom/internal/core/services"
	"studyroom/internal/infrastructure/monitoring"
	"studyroom/internal/infrastructure/relay"
	"studyroom/internal/infrastructure/reliability"
	"studyroom/internal/infrastructure/repositories/memory"
	"studyroom/pkg/circuitbreaker"
	"studyroom/pkg/retry"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Prometheus collectors register globally; one instance serves every test in
// the package.
var testMetrics = monitoring.NewPrometheusCollector()

type testHarness struct {
	registry ports.RoomRegistry
	server   *httptest.Server
	ws       *WebSocketServer
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	log := zap.NewNop().Sugar()
	gateway := reliability.NewGateway(
		retry.Config{Enabled: false},
		circuitbreaker.Config{
			FailureThreshold:    100,
			SuccessThreshold:    1,
			Timeout:             time.Second,
			MaxRequestsHalfOpen: 10,
		},
		log,
	)

	rooms := memory.NewMemoryRoomRepository()
	members := memory.NewMemoryMembershipRepository()
	streaksRepo := memory.NewMemoryStreakRepository()

	registry := services.NewRoomRegistry(rooms, members, gateway, services.RegistryConfig{
		DefaultCapacity: 8,
		GatewayTimeout:  time.Second,
		IdleTimeout:     time.Hour,
		SweepInterval:   time.Hour,
	}, log)
	t.Cleanup(registry.Close)

	streaks := services.NewStreakEngine(streaksRepo, gateway, time.UTC, log)
	messageRelay := relay.NewRelay(testMetrics, log)

	positions := services.NewPositionSynchronizer(members, messageRelay, services.PositionConfig{
		UpdatesPerSecond: 1000,
		Burst:            1000,
		FlushInterval:    10 * time.Millisecond,
		GatewayTimeout:   time.Second,
	}, log)
	t.Cleanup(positions.Close)

	ws := NewWebSocketServer(registry, streaks, positions, messageRelay, testMetrics, Config{
		PingInterval: 10 * time.Second,
		PongTimeout:  20 * time.Second,
		WriteTimeout: 5 * time.Second,
		SendBuffer:   16,
	}, log)

	srv := httptest.NewServer(http.HandlerFunc(ws.HandleWebSocket))
	t.Cleanup(srv.Close)

	return &testHarness{registry: registry, server: srv, ws: ws}
}

func (h *testHarness) dial(t *testing.T, room domain.RoomID, user string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") +
		"/?room_id=" + string(room) + "&user_id=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func expectFrame(t *testing.T, conn *websocket.Conn, wantType string) map[string]interface{} {
	t.Helper()
	frame := readFrame(t, conn)
	require.Equal(t, wantType, frame["type"], "unexpected frame: %v", frame)
	return frame
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]interface{}) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	require.NoError(t, conn.WriteJSON(msg))
}

func TestWebSocketServer_JoinLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	room, err := h.registry.CreateRoom(ctx, "study hall", "", true, 4)
	require.NoError(t, err)

	alice := h.dial(t, room.ID, "alice")
	ack := expectFrame(t, alice, "joined")
	assert.Equal(t, true, ack["is_host"])
	assert.Len(t, ack["participants"], 1)

	bob := h.dial(t, room.ID, "bob")
	bobAck := expectFrame(t, bob, "joined")
	assert.Equal(t, false, bobAck["is_host"])
	assert.Len(t, bobAck["participants"], 2)

	// The roster in the ack is the joiner's own view; only the others are
	// notified of the membership change.
	joined := expectFrame(t, alice, "participant-joined")
	assert.Equal(t, "bob", joined["user_id"])

	got, err := h.registry.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Occupancy)
}

func TestWebSocketServer_SignalRouting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	room, err := h.registry.CreateRoom(ctx, "pair session", "", true, 4)
	require.NoError(t, err)

	alice := h.dial(t, room.ID, "alice")
	expectFrame(t, alice, "joined")

	bob := h.dial(t, room.ID, "bob")
	expectFrame(t, bob, "joined")
	expectFrame(t, alice, "participant-joined")

	t.Run("targeted offer reaches only the target", func(t *testing.T) {
		send(t, alice, map[string]interface{}{
			"type":    "offer",
			"target":  "bob",
			"payload": map[string]interface{}{"sdp": "v=0"},
		})

		offer := expectFrame(t, bob, "offer")
		assert.Equal(t, "alice", offer["from"])
		payload := offer["payload"].(map[string]interface{})
		assert.Equal(t, "v=0", payload["sdp"])
	})

	t.Run("answer routes back", func(t *testing.T) {
		send(t, bob, map[string]interface{}{
			"type":    "answer",
			"target":  "alice",
			"payload": map[string]interface{}{"sdp": "v=0"},
		})

		answer := expectFrame(t, alice, "answer")
		assert.Equal(t, "bob", answer["from"])
	})

	t.Run("untargeted candidate broadcasts to others", func(t *testing.T) {
		send(t, alice, map[string]interface{}{
			"type":    "candidate",
			"payload": map[string]interface{}{"candidate": "c"},
		})

		expectFrame(t, bob, "candidate")
	})
}

func TestWebSocketServer_ToggleAndPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	room, err := h.registry.CreateRoom(ctx, "focus", "", true, 4)
	require.NoError(t, err)

	alice := h.dial(t, room.ID, "alice")
	expectFrame(t, alice, "joined")

	bob := h.dial(t, room.ID, "bob")
	expectFrame(t, bob, "joined")
	expectFrame(t, alice, "participant-joined")

	t.Run("flag toggle is fanned out", func(t *testing.T) {
		send(t, bob, map[string]interface{}{
			"type":    "toggle",
			"payload": map[string]interface{}{"flag": "audio", "value": true},
		})

		event := expectFrame(t, alice, "flag-changed")
		assert.Equal(t, "bob", event["user_id"])

		assert.Eventually(t, func() bool {
			participants, err := h.registry.Participants(ctx, room.ID)
			if err != nil {
				return false
			}
			for _, p := range participants {
				if p.UserID == "bob" {
					return p.AudioOn
				}
			}
			return false
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("position update is fanned out", func(t *testing.T) {
		send(t, bob, map[string]interface{}{
			"type":    "position",
			"payload": map[string]interface{}{"x": 12.5, "y": -3, "seq": 1},
		})

		event := expectFrame(t, alice, "position-changed")
		assert.Equal(t, "bob", event["user_id"])
		payload := event["payload"].(map[string]interface{})
		assert.Equal(t, 12.5, payload["x"])
	})

	t.Run("unknown message type yields an error frame", func(t *testing.T) {
		send(t, bob, map[string]interface{}{"type": "teleport"})
		expectFrame(t, bob, "error")
	})
}

func TestWebSocketServer_DisconnectReleasesMembership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	room, err := h.registry.CreateRoom(ctx, "fragile", "", true, 4)
	require.NoError(t, err)

	alice := h.dial(t, room.ID, "alice")
	expectFrame(t, alice, "joined")

	bob := h.dial(t, room.ID, "bob")
	expectFrame(t, bob, "joined")
	expectFrame(t, alice, "participant-joined")

	// Abrupt close, no leave message.
	alice.Close()

	left := expectFrame(t, bob, "participant-left")
	assert.Equal(t, "alice", left["user_id"])

	assert.Eventually(t, func() bool {
		got, err := h.registry.GetRoom(ctx, room.ID)
		if err != nil || got.Occupancy != 1 {
			return false
		}
		participants, err := h.registry.Participants(ctx, room.ID)
		return err == nil && len(participants) == 1 && participants[0].IsHost
	}, 2*time.Second, 10*time.Millisecond, "host must pass to bob after alice drops")
}

func TestWebSocketServer_GracefulLeave(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	room, err := h.registry.CreateRoom(ctx, "polite", "", true, 4)
	require.NoError(t, err)

	alice := h.dial(t, room.ID, "alice")
	expectFrame(t, alice, "joined")

	send(t, alice, map[string]interface{}{"type": "leave"})

	assert.Eventually(t, func() bool {
		got, err := h.registry.GetRoom(ctx, room.ID)
		return err == nil && got.Occupancy == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketServer_JoinRejection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	room, err := h.registry.CreateRoom(ctx, "tiny", "", true, 1)
	require.NoError(t, err)

	alice := h.dial(t, room.ID, "alice")
	expectFrame(t, alice, "joined")

	t.Run("full room", func(t *testing.T) {
		bob := h.dial(t, room.ID, "bob")
		frame := expectFrame(t, bob, "error")
		assert.Contains(t, frame["message"], "full")
	})

	t.Run("unknown room", func(t *testing.T) {
		carol := h.dial(t, "no-such-room", "carol")
		expectFrame(t, carol, "error")
	})

	t.Run("missing identifiers are rejected before upgrade", func(t *testing.T) {
		resp, err := http.Get(h.server.URL + "/?room_id=" + string(room.ID))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestWebSocketServer_ConcurrentConnectsSameUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	room, err := h.registry.CreateRoom(ctx, "flaky wifi", "", true, 4)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") +
		"/?room_id=" + string(room.ID) + "&user_id=alice"

	// Two simultaneous first connections race for the same session slot.
	// One must win, the other must supersede it, never leaving an orphaned
	// membership behind.
	var wg sync.WaitGroup
	conns := make(chan *websocket.Conn, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err == nil {
				conns <- conn
			}
		}()
	}
	wg.Wait()
	close(conns)
	for conn := range conns {
		defer conn.Close()
	}

	assert.Eventually(t, func() bool {
		got, err := h.registry.GetRoom(ctx, room.ID)
		return err == nil && got.Occupancy == 1 && h.ws.SessionCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "exactly one session must hold the membership")

	// A later reconnect evicts the survivor instead of tripping over a
	// stale map entry.
	alice := h.dial(t, room.ID, "alice")
	ack := expectFrame(t, alice, "joined")
	assert.Equal(t, true, ack["is_host"])

	assert.Eventually(t, func() bool {
		got, err := h.registry.GetRoom(ctx, room.ID)
		return err == nil && got.Occupancy == 1 && h.ws.SessionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketServer_StreakAdvancesOnJoin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	room, err := h.registry.CreateRoom(ctx, "daily", "", true, 4)
	require.NoError(t, err)

	alice := h.dial(t, room.ID, "alice")
	expectFrame(t, alice, "joined")

	// The streak service is wired through the session, so a join must
	// produce a streak record.
	streaks := h.wsStreaks()
	assert.Eventually(t, func() bool {
		state, err := streaks.Get(ctx, "alice")
		return err == nil && state.Current == 1
	}, time.Second, 10*time.Millisecond)
}

func (h *testHarness) wsStreaks() ports.StreakEngine {
	return h.ws.streaks
}
