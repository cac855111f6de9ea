package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchsync/core/internal/v1/room"
)

func TestNewHub_AppliesDefaults(t *testing.T) {
	h := NewHub(&MockTokenValidator{}, NewMockStore(), nil, Config{})
	assert.Equal(t, 25*time.Second, h.cfg.PingInterval)
	assert.Equal(t, 60*time.Second, h.cfg.PongTimeout)
	assert.Equal(t, 5*time.Minute, h.cfg.GracePeriod)
	assert.NotNil(t, h.registry)
}

func envelope(t *testing.T, event string, payload any) Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return Envelope{Event: event, Payload: raw}
}

func seedRoom(store *MockStore, id room.ID) room.Meta {
	meta := room.Meta{HostUserID: "host-user", HostFileHash: hex64, HostFileDurationMs: 60000, HostFileSize: 2048}
	store.Rooms[id] = meta
	return meta
}

const hex64 = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func TestDispatch_JoinRoom_HostSucceeds(t *testing.T) {
	store := NewMockStore()
	seedRoom(store, "room01")
	h := newTestHub(store)

	host := newTestClient("host-user")
	h.dispatch(host, envelope(t, EventJoinRoom, joinRoomPayload{RoomID: "room01", Role: "host"}))

	data, ok := drainOne(host)
	require.True(t, ok)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventJoined, env.Event)

	rID, inRoom := host.currentRoom()
	assert.True(t, inRoom)
	assert.Equal(t, room.ID("room01"), rID)
}

func TestDispatch_JoinRoom_UnknownRoom(t *testing.T) {
	h := newTestHub(NewMockStore())
	c := newTestClient("someone")

	h.dispatch(c, envelope(t, EventJoinRoom, joinRoomPayload{RoomID: "room01", Role: "follower", FileHash: hex64}))

	data, ok := drainOne(c)
	require.True(t, ok)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventError, env.Event)
	var errP errorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &errP))
	assert.Equal(t, "RoomNotFound", errP.Code)
}

func TestDispatch_JoinRoom_FileMismatch(t *testing.T) {
	store := NewMockStore()
	seedRoom(store, "room01")
	h := newTestHub(store)
	c := newTestClient("follower-1")

	h.dispatch(c, envelope(t, EventJoinRoom, joinRoomPayload{RoomID: "room01", Role: "follower", FileHash: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}))

	data, ok := drainOne(c)
	require.True(t, ok)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventError, env.Event)
	var errP errorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &errP))
	assert.Equal(t, "FileMismatch", errP.Code)
}

func TestDispatch_HostPlay_RequiresHostConnection(t *testing.T) {
	store := NewMockStore()
	seedRoom(store, "room01")
	h := newTestHub(store)

	host := newTestClient("host-user")
	h.dispatch(host, envelope(t, EventJoinRoom, joinRoomPayload{RoomID: "room01", Role: "host"}))
	drainOne(host)

	follower := newTestClient("follower-1")
	h.dispatch(follower, envelope(t, EventJoinRoom, joinRoomPayload{RoomID: "room01", Role: "follower", FileHash: hex64}))
	drainOne(follower) // joined echoed to follower
	drainOne(host)      // joined re-broadcast to host too (joined includes all members)

	h.dispatch(follower, envelope(t, EventHostPlay, hostPlayPayload{RoomID: "room01", PositionSec: 10, HostTimestampMs: 1}))

	data, ok := drainOne(follower)
	require.True(t, ok)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventError, env.Event)
}

func TestDispatch_HostPlay_FansOutToFollower(t *testing.T) {
	store := NewMockStore()
	seedRoom(store, "room01")
	h := newTestHub(store)

	host := newTestClient("host-user")
	h.dispatch(host, envelope(t, EventJoinRoom, joinRoomPayload{RoomID: "room01", Role: "host"}))
	drainOne(host)

	follower := newTestClient("follower-1")
	h.dispatch(follower, envelope(t, EventJoinRoom, joinRoomPayload{RoomID: "room01", Role: "follower", FileHash: hex64}))
	drainOne(follower)
	drainOne(host)

	h.dispatch(host, envelope(t, EventHostPlay, hostPlayPayload{RoomID: "room01", PositionSec: 10, HostTimestampMs: 1}))

	data, ok := drainOne(follower)
	require.True(t, ok)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventHostPlay, env.Event)

	// host does not receive its own hostPlay event (control events exclude sender)
	_, hostGotEcho := drainOne(host)
	assert.False(t, hostGotEcho)
}

func TestDispatch_ChatMessage_EchoesToSender(t *testing.T) {
	store := NewMockStore()
	seedRoom(store, "room01")
	h := newTestHub(store)

	host := newTestClient("host-user")
	h.dispatch(host, envelope(t, EventJoinRoom, joinRoomPayload{RoomID: "room01", Role: "host"}))
	drainOne(host)

	h.dispatch(host, envelope(t, EventChatMessage, chatMessagePayload{RoomID: "room01", Text: "hello"}))

	data, ok := drainOne(host)
	require.True(t, ok)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventChatMessage, env.Event)
}

func TestDispatch_Ping_RespondsWithPong(t *testing.T) {
	h := newTestHub(NewMockStore())
	c := newTestClient("user-1")

	h.dispatch(c, envelope(t, EventPing, pingPayload{Nonce: "abc", Ts: 123}))

	data, ok := drainOne(c)
	require.True(t, ok)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventPong, env.Event)
	var p pongPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "abc", p.Nonce)
	assert.Equal(t, int64(123), p.ClientTs)
}
