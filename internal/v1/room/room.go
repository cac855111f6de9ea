package room

import (
	"sync"
	"time"
)

// JoinResult carries what the caller needs to translate a successful Join
// into wire events: whether this was a reconnecting host, and a full roster
// snapshot taken after the join completed.
type JoinResult struct {
	IsReconnect bool
	Roster      []Participant
}

// LeaveResult carries what the caller needs after a participant leaves,
// whether by an explicit leaveRoom event or a dropped connection.
type LeaveResult struct {
	WasHost              bool
	Empty                bool
	Roster               []Participant
	SyntheticPauseNeeded bool
	PositionSec          float64
}

// Room is the live, in-memory state for one active watch party. All fields
// are protected by mu; every exported method acquires it itself. Snapshots
// returned to callers (Participant slices) are copies safe to read without
// the lock, per the fan-out discipline: enumerate recipients inside the
// lock, write to transports outside it.
type Room struct {
	mu sync.RWMutex

	id   ID
	meta Meta

	participants map[ConnID]*Participant
	hostConnID   ConnID

	hostDisconnectedAt *time.Time

	positionSec  float64
	isPlaying    bool
	playbackRate float64

	closed bool
}

// NewRoom constructs a Room in its initial state: no live connections, not
// playing, positioned at zero, playback rate 1x.
func NewRoom(id ID, meta Meta) *Room {
	return &Room{
		id:           id,
		meta:         meta,
		participants: make(map[ConnID]*Participant),
		playbackRate: 1.0,
	}
}

// ID returns the room's identifier.
func (r *Room) ID() ID { return r.id }

// Meta returns the room's fixed content-binding metadata.
func (r *Room) Meta() Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.meta
}

// Closed reports whether the room has been marked closed.
func (r *Room) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Room) rosterLocked() []Participant {
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	return out
}

// RosterSnapshot returns a copy of the current participant list.
func (r *Room) RosterSnapshot() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterLocked()
}

// Join admits a connection into the room. For role=host, userID must match
// the room's designated host user (ErrHostUserMismatch otherwise); a host
// join while hostDisconnectedAt is set is treated as a reconnection and
// clears the pending grace period. For role=follower, fileHash must match
// the room's host file hash (FileMismatchError otherwise).
func (r *Room) Join(connID ConnID, userID UserID, role Role, fileHash string, sender Sender) (*JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRoomClosed
	}

	isReconnect := false
	switch role {
	case RoleHost:
		if userID != r.meta.HostUserID {
			return nil, ErrHostUserMismatch
		}
		if r.hostDisconnectedAt != nil {
			isReconnect = true
			r.hostDisconnectedAt = nil
		}
		r.hostConnID = connID
	case RoleFollower:
		if fileHash != r.meta.HostFileHash {
			return nil, &FileMismatchError{Expected: r.meta.HostFileHash, Received: fileHash}
		}
	}

	r.participants[connID] = &Participant{
		ConnID:   connID,
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now(),
		Sender:   sender,
	}

	return &JoinResult{IsReconnect: isReconnect, Roster: r.rosterLocked()}, nil
}

// Leave removes a connection from the room, whether by explicit leaveRoom or
// a dropped transport. If the departing connection was the host, the room
// stays live with no host connection (hostDisconnectedAt is set by the
// caller via MarkHostDisconnected, since the grace period is owned by the
// signaling layer, not the registry). If a non-host leaves while playback is
// active, SyntheticPauseNeeded signals the caller to also stop playback
// locally, since a lone follower can no longer assume playback continues
// unobserved.
func (r *Room) Leave(connID ConnID) *LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[connID]
	if !ok {
		return &LeaveResult{Roster: r.rosterLocked(), Empty: len(r.participants) == 0}
	}
	delete(r.participants, connID)

	wasHost := p.Role == RoleHost
	if wasHost {
		r.hostConnID = ""
	}

	return &LeaveResult{
		WasHost:              wasHost,
		Empty:                len(r.participants) == 0,
		Roster:               r.rosterLocked(),
		SyntheticPauseNeeded: !wasHost && r.isPlaying,
		PositionSec:          r.positionSec,
	}
}

// MarkHostDisconnected records the instant the host's connection dropped,
// without removing any participant (Leave already did that). The grace
// timer subsystem uses this to decide whether a later fire is still valid.
func (r *Room) MarkHostDisconnected(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hostDisconnectedAt = &at
}

// HostDisconnectedAt returns the recorded disconnect instant, if any.
func (r *Room) HostDisconnectedAt() (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.hostDisconnectedAt == nil {
		return time.Time{}, false
	}
	return *r.hostDisconnectedAt, true
}

// HasHostConn reports whether a host connection is currently attached.
func (r *Room) HasHostConn() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostConnID != ""
}

// IsEmpty reports whether the room currently has zero connections.
func (r *Room) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants) == 0
}

func (r *Room) requireHost(connID ConnID) error {
	if r.closed {
		return ErrRoomClosed
	}
	if r.hostConnID == "" || r.hostConnID != connID {
		return ErrUnauthorized
	}
	return nil
}

// otherParticipantsLocked returns every participant except the given
// connection, for fan-out that excludes the originating sender.
func (r *Room) otherParticipantsLocked(exclude ConnID) []Participant {
	out := make([]Participant, 0, len(r.participants))
	for id, p := range r.participants {
		if id == exclude {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// SetPlaying handles hostPlay: marks playback active at positionSec,
// optionally updating the playback rate.
// Returns the follower set to fan the event out to.
func (r *Room) SetPlaying(connID ConnID, positionSec float64, rate *float64) ([]Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireHost(connID); err != nil {
		return nil, err
	}
	r.isPlaying = true
	r.positionSec = positionSec
	if rate != nil {
		r.playbackRate = *rate
	}
	return r.otherParticipantsLocked(connID), nil
}

// SetPaused handles hostPause.
func (r *Room) SetPaused(connID ConnID, positionSec float64) ([]Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireHost(connID); err != nil {
		return nil, err
	}
	r.isPlaying = false
	r.positionSec = positionSec
	return r.otherParticipantsLocked(connID), nil
}

// Seek handles hostSeek: relocates the playhead without changing play state.
func (r *Room) Seek(connID ConnID, positionSec float64) ([]Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireHost(connID); err != nil {
		return nil, err
	}
	r.positionSec = positionSec
	return r.otherParticipantsLocked(connID), nil
}

// TimeSync handles hostTimeSync: a periodic authoritative position refresh.
func (r *Room) TimeSync(connID ConnID, positionSec float64, isPlaying bool) ([]Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireHost(connID); err != nil {
		return nil, err
	}
	r.positionSec = positionSec
	r.isPlaying = isPlaying
	return r.otherParticipantsLocked(connID), nil
}

// SpeedChange handles hostSpeedChange.
func (r *Room) SpeedChange(connID ConnID, rate float64) ([]Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireHost(connID); err != nil {
		return nil, err
	}
	r.playbackRate = rate
	return r.otherParticipantsLocked(connID), nil
}

// PlaybackSnapshot is the authoritative state handed to a newly joined or
// reconnecting follower so it can catch up immediately.
type PlaybackSnapshot struct {
	PositionSec  float64
	IsPlaying    bool
	PlaybackRate float64
}

// Snapshot returns the current playback state.
func (r *Room) Snapshot() PlaybackSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return PlaybackSnapshot{PositionSec: r.positionSec, IsPlaying: r.isPlaying, PlaybackRate: r.playbackRate}
}

// ForcePause is the system-triggered counterpart to SetPaused: it pauses
// playback without requiring host authority, used when a non-host leaving
// the room should pause the host in sympathy because a lone follower can no
// longer assume playback continues unobserved.
func (r *Room) ForcePause(positionSec float64) []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.isPlaying = false
	r.positionSec = positionSec
	return r.rosterLocked()
}

// PromoteEarliestFollower promotes the participant with the earliest
// JoinedAt to host, used when the grace period elapses with no host
// reconnection. Returns the promoted participant and the full roster
// snapshot for the hostTransferred fan-out, or ErrNoPromotionCandidate if
// the room has no remaining participants.
func (r *Room) PromoteEarliestFollower() (*Participant, []Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.participants) == 0 {
		return nil, nil, ErrNoPromotionCandidate
	}

	var earliest *Participant
	for _, p := range r.participants {
		if earliest == nil || p.JoinedAt.Before(earliest.JoinedAt) {
			earliest = p
		}
	}

	promoted := *earliest
	promoted.Role = RoleHost
	r.participants[promoted.ConnID] = &promoted
	r.meta.HostUserID = promoted.UserID
	r.hostConnID = promoted.ConnID
	r.hostDisconnectedAt = nil

	return &promoted, r.rosterLocked(), nil
}

// Close marks the room closed. The registry is responsible for removing it
// from its index; Close only flips the in-memory flag so any in-flight
// operation observes ErrRoomClosed.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
