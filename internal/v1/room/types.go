// Package room implements the Room Registry: the in-memory, mutex-protected
// live state for active watch-party rooms. It knows nothing about wire
// formats or transports — callers hand it a Sender per participant and get
// back plain snapshots to fan out themselves, outside the room's lock.
package room

import (
	"errors"
	"fmt"
	"time"
)

// ID is a room's short opaque identifier (see idgen for the alphabet).
type ID string

// UserID is a stable identifier for an authenticated user.
type UserID string

// ConnID identifies a single live signaling connection.
type ConnID string

// Role is a participant's authority level within a room.
type Role string

const (
	RoleHost     Role = "host"
	RoleFollower Role = "follower"
)

// Codec is the opaque structured record describing the host's media file.
type Codec struct {
	VideoCodec string `json:"videoCodec"`
	AudioCodec string `json:"audioCodec"`
	Resolution string `json:"resolution,omitempty"`
}

// Meta is a room's content-binding metadata. It is supplied once, at room
// creation, from the durable projection; the file fields stay fixed for the
// room's lifetime, while HostUserID is rewritten when a host transfer
// promotes a follower.
type Meta struct {
	HostUserID         UserID
	HostFileHash       string
	HostFileDurationMs int64
	HostFileSize       int64
	Codec              Codec
}

// Sender delivers an already-encoded message to one connection. Implemented
// by the signaling package's Client; kept as an interface here so the Room
// Registry never depends on a wire format or transport.
type Sender interface {
	Send(data []byte)
}

// Participant is a snapshot of one connection's membership in a room.
// Snapshots are taken under the room lock and read afterwards without it,
// so callers must treat them as immutable once returned.
type Participant struct {
	ConnID   ConnID
	UserID   UserID
	Role     Role
	JoinedAt time.Time
	Sender   Sender
}

// FileMismatchError is returned when a follower's declared file hash does
// not match the room's host file hash.
type FileMismatchError struct {
	Expected string
	Received string
}

func (e *FileMismatchError) Error() string {
	return fmt.Sprintf("file hash mismatch: expected %s, received %s", e.Expected, e.Received)
}

var (
	// ErrUnauthorized is returned when a caller attempts a host-only
	// mutation from a connection that is not the room's current host.
	ErrUnauthorized = errors.New("room: caller is not the current host connection")
	// ErrRoomClosed is returned when an operation targets a room that has
	// already been marked closed in memory.
	ErrRoomClosed = errors.New("room: room is closed")
	// ErrNoPromotionCandidate is returned when the grace timer fires and
	// no remaining participant can be promoted to host.
	ErrNoPromotionCandidate = errors.New("room: no participant available to promote")
	// ErrHostUserMismatch is returned when a role=host join is attempted by
	// a user that is not the room's designated host user.
	ErrHostUserMismatch = errors.New("room: caller is not the room's host user")
)
