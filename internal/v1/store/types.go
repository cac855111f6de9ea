package store

import (
	"time"

	"github.com/watchsync/core/internal/v1/room"
)

// RoomRecord is the durable projection of a room: the row the Admission
// Service reads and writes, independent of whether a live Room Registry
// entry currently exists for it.
type RoomRecord struct {
	ID                 room.ID
	HostUserID         room.UserID
	HostFileHash       string
	HostFileDurationMs int64
	HostFileSize       int64
	Codec              room.Codec
	PasscodeHash       string
	CreatedAt          time.Time
	ExpiresAt          time.Time
	ClosedAt           *time.Time
	IsActive           bool
}

// Expired reports whether the room's lifetime has lapsed, independent of
// whether is_active has caught up yet (it is enforced lazily).
func (r *RoomRecord) Expired(now time.Time) bool {
	return !r.IsActive || now.After(r.ExpiresAt)
}

// ParticipantRecord is one row of the durable participant projection.
type ParticipantRecord struct {
	RoomID       room.ID
	UserID       room.UserID
	Role         room.Role
	JoinedAt     time.Time
	LeftAt       *time.Time
	IsConnected  bool
	ConnectionID string
}

// CreateRoomParams bundles the admission-time inputs for CreateRoom.
type CreateRoomParams struct {
	HostUserID    room.UserID
	FileHash      string
	DurationMs    int64
	FileSize      int64
	Codec         room.Codec
	Passcode      string
	ExpiresInDays int
}
