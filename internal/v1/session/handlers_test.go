package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinHostAndFollower(t *testing.T, h *Hub, roomID string) (*Client, *Client) {
	t.Helper()
	host := newTestClient("host-user")
	h.dispatch(host, envelope(t, EventJoinRoom, joinRoomPayload{RoomID: roomID, Role: "host"}))
	drainOne(host)

	follower := newTestClient("follower-1")
	h.dispatch(follower, envelope(t, EventJoinRoom, joinRoomPayload{RoomID: roomID, Role: "follower", FileHash: hex64}))
	drainOne(follower)
	drainOne(host)
	return host, follower
}

func TestHandleDisconnect_HostLeavingArmsGraceTimer(t *testing.T) {
	store := NewMockStore()
	seedRoom(store, "room01")
	h := newTestHub(store)
	host, follower := joinHostAndFollower(t, h, "room01")

	h.handleDisconnect(host)

	data, ok := drainOne(follower)
	require.True(t, ok)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventHostDisconnected, env.Event)

	data, ok = drainOne(follower)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventParticipantLeft, env.Event)

	r, ok := h.registry.Get("room01")
	require.True(t, ok)
	assert.False(t, r.HasHostConn())
	_, disconnected := r.HostDisconnectedAt()
	assert.True(t, disconnected)
}

func TestGraceTimer_PromotesFollowerAfterExpiry(t *testing.T) {
	store := NewMockStore()
	seedRoom(store, "room01")
	h := newTestHub(store)
	host, follower := joinHostAndFollower(t, h, "room01")

	h.handleDisconnect(host)
	drainOne(follower) // hostDisconnected
	drainOne(follower) // participantLeft

	data, ok := drainOneWithin(follower, time.Second)
	require.True(t, ok, "expected hostTransferred after grace period elapses")
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventHostTransferred, env.Event)

	r, ok := h.registry.Get("room01")
	require.True(t, ok)
	assert.True(t, r.HasHostConn())
}

func TestGraceTimer_ClosesRoomWhenEmpty(t *testing.T) {
	store := NewMockStore()
	seedRoom(store, "room01")
	h := newTestHub(store)

	host := newTestClient("host-user")
	h.dispatch(host, envelope(t, EventJoinRoom, joinRoomPayload{RoomID: "room01", Role: "host"}))
	drainOne(host)

	h.handleDisconnect(host)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := h.registry.Get("room01"); !ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, ok := h.registry.Get("room01")
	assert.False(t, ok)
	assert.True(t, store.ClosedRooms["room01"])
}

func TestHandleDisconnect_NonHostLeavePausesPlayback(t *testing.T) {
	store := NewMockStore()
	seedRoom(store, "room01")
	h := newTestHub(store)
	host, follower := joinHostAndFollower(t, h, "room01")

	h.dispatch(host, envelope(t, EventHostPlay, hostPlayPayload{RoomID: "room01", PositionSec: 5, HostTimestampMs: 1}))
	drainOne(follower) // hostPlay fan-out

	h.handleDisconnect(follower)

	data, ok := drainOne(host)
	require.True(t, ok)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventHostPause, env.Event)

	data, ok = drainOne(host)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventParticipantLeft, env.Event)

	r, ok := h.registry.Get("room01")
	require.True(t, ok)
	assert.False(t, r.Snapshot().IsPlaying)
}

func TestDispatch_LeaveRoom_ClearsClientRoom(t *testing.T) {
	store := NewMockStore()
	seedRoom(store, "room01")
	h := newTestHub(store)
	host, _ := joinHostAndFollower(t, h, "room01")

	h.dispatch(host, Envelope{Event: EventLeaveRoom})

	_, inRoom := host.currentRoom()
	assert.False(t, inRoom)
}

func TestDispatch_Reaction_ExcludesSender(t *testing.T) {
	store := NewMockStore()
	seedRoom(store, "room01")
	h := newTestHub(store)
	host, follower := joinHostAndFollower(t, h, "room01")

	h.dispatch(host, envelope(t, EventReaction, reactionPayload{RoomID: "room01", Type: "heart"}))

	data, ok := drainOne(follower)
	require.True(t, ok)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventReaction, env.Event)

	_, hostGotEcho := drainOne(host)
	assert.False(t, hostGotEcho)
}

func drainOneWithin(c *Client, d time.Duration) ([]byte, bool) {
	select {
	case data := <-c.send:
		return data, true
	case <-time.After(d):
		return nil, false
	}
}
