package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchsync/core/internal/v1/room"
)

// All tests here exercise the memory-only fallback path: New("") never
// dials Postgres, so every withRetry call short-circuits on a nil db and
// every operation falls through to its in-memory shadow.

func newMemoryStore() *Store {
	return New("")
}

func TestNew_EmptyDSN_RunsMemoryOnly(t *testing.T) {
	s := newMemoryStore()
	assert.Nil(t, s.live())
}

func TestCreateRoom_FallsBackToMemory(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()

	rec, err := s.CreateRoom(ctx, room.ID("room01"), CreateRoomParams{
		HostUserID:    "host-1",
		FileHash:      hex64,
		DurationMs:    120000,
		FileSize:      4096,
		ExpiresInDays: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, room.ID("room01"), rec.ID)
	assert.True(t, rec.IsActive)
}

func TestGetRoom_ReturnsMemoryFallback(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, room.ID("room01"), CreateRoomParams{HostUserID: "host-1", FileHash: hex64, DurationMs: 1, FileSize: 1, ExpiresInDays: 1})
	require.NoError(t, err)

	rec, ok, err := s.GetRoom(ctx, room.ID("room01"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, room.UserID("host-1"), rec.HostUserID)

	_, ok, err = s.GetRoom(ctx, room.ID("missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetRoomMeta_SatisfiesMetadataStoreShape(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, room.ID("room01"), CreateRoomParams{HostUserID: "host-1", FileHash: hex64, DurationMs: 1, FileSize: 1, ExpiresInDays: 1})
	require.NoError(t, err)

	meta, ok, err := s.GetRoomMeta(ctx, room.ID("room01"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, room.UserID("host-1"), meta.HostUserID)
	assert.Equal(t, hex64, meta.HostFileHash)
}

func TestRoomExists(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, room.ID("room01"), CreateRoomParams{HostUserID: "host-1", FileHash: hex64, DurationMs: 1, FileSize: 1, ExpiresInDays: 1})
	require.NoError(t, err)

	exists, err := s.RoomExists(ctx, room.ID("room01"))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.RoomExists(ctx, room.ID("room02"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCloseRoomAsHost_ForbidsNonHost(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, room.ID("room01"), CreateRoomParams{HostUserID: "host-1", FileHash: hex64, DurationMs: 1, FileSize: 1, ExpiresInDays: 1})
	require.NoError(t, err)

	forbidden, err := s.CloseRoomAsHost(ctx, room.ID("room01"), room.UserID("someone-else"))
	require.NoError(t, err)
	assert.True(t, forbidden)

	forbidden, err = s.CloseRoomAsHost(ctx, room.ID("room01"), room.UserID("host-1"))
	require.NoError(t, err)
	assert.False(t, forbidden)

	rec, _, err := s.GetRoom(ctx, room.ID("room01"))
	require.NoError(t, err)
	assert.False(t, rec.IsActive)
}

func TestCloseRoom_MarksMemoryRecordClosed(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, room.ID("room01"), CreateRoomParams{HostUserID: "host-1", FileHash: hex64, DurationMs: 1, FileSize: 1, ExpiresInDays: 1})
	require.NoError(t, err)

	require.NoError(t, s.CloseRoom(ctx, room.ID("room01")))

	rec, ok, err := s.GetRoom(ctx, room.ID("room01"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, rec.IsActive)
	assert.NotNil(t, rec.ClosedAt)
}

func TestAddAndGetParticipants(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()

	s.AddParticipant(ctx, room.ID("room01"), room.UserID("host-1"), room.RoleHost)
	s.AddParticipant(ctx, room.ID("room01"), room.UserID("follower-1"), room.RoleFollower)

	participants, err := s.GetParticipants(ctx, room.ID("room01"))
	require.NoError(t, err)
	assert.Len(t, participants, 2)
}

func TestSetParticipantStatus(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()
	s.AddParticipant(ctx, room.ID("room01"), room.UserID("host-1"), room.RoleHost)

	s.SetParticipantStatus(ctx, room.ID("room01"), room.UserID("host-1"), false)

	s.memMu.Lock()
	rec := s.memParticipants[roomKey("room01", "host-1")]
	s.memMu.Unlock()
	require.NotNil(t, rec)
	assert.False(t, rec.IsConnected)
	assert.NotNil(t, rec.LeftAt)
}

func TestAppendEvent_DoesNotPanicMemoryOnly(t *testing.T) {
	s := newMemoryStore()
	s.AppendEvent(context.Background(), room.ID("room01"), room.UserID("host-1"), "hostPlay", map[string]any{"positionSec": 1.0})
}

func TestCreateRoom_HashesPasscode(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()

	rec, err := s.CreateRoom(ctx, room.ID("room01"), CreateRoomParams{
		HostUserID: "host-1", FileHash: hex64, DurationMs: 1, FileSize: 1, ExpiresInDays: 1,
		Passcode: "letmein",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.PasscodeHash)
	assert.NotEqual(t, "letmein", rec.PasscodeHash)
	assert.True(t, rec.CheckPasscode("letmein"))
	assert.False(t, rec.CheckPasscode("wrong"))
}

func TestCheckPasscode_NoPasscodeAlwaysPasses(t *testing.T) {
	rec := &RoomRecord{}
	assert.True(t, rec.CheckPasscode("anything"))
}

func TestSweepExpiredRooms_MarksMemoryRoomsPastExpiry(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()

	_, err := s.CreateRoom(ctx, room.ID("room01"), CreateRoomParams{
		HostUserID: "host-1", FileHash: hex64, DurationMs: 1, FileSize: 1, ExpiresInDays: 1,
	})
	require.NoError(t, err)

	s.memMu.Lock()
	s.memRooms[room.ID("room01")].ExpiresAt = time.Now().Add(-time.Hour)
	s.memMu.Unlock()

	swept, err := s.SweepExpiredRooms(ctx)
	// Memory-only mode reports ErrUnavailable for the durable half, but
	// still sweeps the in-memory shadow.
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, swept)

	rec, ok, err := s.GetRoom(ctx, room.ID("room01"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, rec.IsActive)
}

const hex64 = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
