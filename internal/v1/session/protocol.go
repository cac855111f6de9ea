// Package session implements the Signaling Hub: authenticated, persistent
// duplex connections that dispatch inbound events to Room Registry
// transitions and fan authorized events out to a room's other connections.
package session

import (
	"encoding/json"
	"fmt"
)

// Event names carried in the envelope's "event" field. The full set is fixed
// by the wire protocol; no event name exists outside this list.
const (
	EventJoinRoom       = "joinRoom"
	EventHostPlay       = "hostPlay"
	EventHostPause      = "hostPause"
	EventHostSeek       = "hostSeek"
	EventHostTimeSync   = "hostTimeSync"
	EventHostSpeedChange = "hostSpeedChange"
	EventPing           = "ping"
	EventPong           = "pong"
	EventReaction       = "reaction"
	EventChatMessage    = "chatMessage"
	EventLeaveRoom      = "leaveRoom"

	EventJoined            = "joined"
	EventError             = "error"
	EventHostDisconnected  = "hostDisconnected"
	EventHostReconnected   = "hostReconnected"
	EventHostTransferred   = "hostTransferred"
	EventParticipantLeft   = "participantLeft"
)

// Envelope is the wire message shape for every signaling event, in either
// direction: a plain JSON object carrying an event name and an
// event-specific payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func unmarshalEnvelope(data []byte, env *Envelope) error {
	return json.Unmarshal(data, env)
}

func encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("session: marshal payload for %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

// --- inbound payloads ---

type joinRoomPayload struct {
	RoomID   string `json:"roomId"`
	Role     string `json:"role"`
	FileHash string `json:"file_hash"`
}

func (p joinRoomPayload) validate() error {
	if l := len(p.RoomID); l < 6 || l > 8 {
		return fmt.Errorf("roomId must be 6-8 characters")
	}
	if p.Role != "host" && p.Role != "follower" {
		return fmt.Errorf("role must be host or follower")
	}
	if p.Role == "follower" && !isHex64(p.FileHash) {
		return fmt.Errorf("file_hash must be 64 hex characters")
	}
	return nil
}

type hostPlayPayload struct {
	RoomID          string   `json:"roomId"`
	PositionSec     float64  `json:"positionSec"`
	HostTimestampMs int64    `json:"hostTimestampMs"`
	PlaybackRate    *float64 `json:"playbackRate,omitempty"`
}

func (p hostPlayPayload) validate() error {
	if p.PositionSec < 0 {
		return fmt.Errorf("positionSec must be >= 0")
	}
	if p.HostTimestampMs <= 0 {
		return fmt.Errorf("hostTimestampMs must be positive")
	}
	if p.PlaybackRate != nil && (*p.PlaybackRate < 0.25 || *p.PlaybackRate > 2.0) {
		return fmt.Errorf("playbackRate must be in [0.25, 2.0]")
	}
	return nil
}

type hostPausePayload struct {
	RoomID          string  `json:"roomId"`
	PositionSec     float64 `json:"positionSec"`
	HostTimestampMs int64   `json:"hostTimestampMs"`
	Reason          string  `json:"reason,omitempty"`
}

func (p hostPausePayload) validate() error {
	if p.PositionSec < 0 {
		return fmt.Errorf("positionSec must be >= 0")
	}
	if p.HostTimestampMs <= 0 {
		return fmt.Errorf("hostTimestampMs must be positive")
	}
	return nil
}

type hostSeekPayload struct {
	RoomID          string  `json:"roomId"`
	PositionSec     float64 `json:"positionSec"`
	HostTimestampMs int64   `json:"hostTimestampMs"`
}

func (p hostSeekPayload) validate() error {
	if p.PositionSec < 0 {
		return fmt.Errorf("positionSec must be >= 0")
	}
	if p.HostTimestampMs <= 0 {
		return fmt.Errorf("hostTimestampMs must be positive")
	}
	return nil
}

type hostTimeSyncPayload struct {
	RoomID          string  `json:"roomId"`
	PositionSec     float64 `json:"positionSec"`
	HostTimestampMs int64   `json:"hostTimestampMs"`
	IsPlaying       bool    `json:"isPlaying"`
}

func (p hostTimeSyncPayload) validate() error {
	if p.PositionSec < 0 {
		return fmt.Errorf("positionSec must be >= 0")
	}
	if p.HostTimestampMs <= 0 {
		return fmt.Errorf("hostTimestampMs must be positive")
	}
	return nil
}

type hostSpeedChangePayload struct {
	RoomID       string  `json:"roomId"`
	PlaybackRate float64 `json:"playbackRate"`
}

func (p hostSpeedChangePayload) validate() error {
	if p.PlaybackRate < 0.25 || p.PlaybackRate > 2.0 {
		return fmt.Errorf("playbackRate must be in [0.25, 2.0]")
	}
	return nil
}

type pingPayload struct {
	Nonce string `json:"nonce"`
	Ts    int64  `json:"ts"`
}

type reactionPayload struct {
	RoomID string `json:"roomId"`
	Type   string `json:"type"`
}

var reactionTypes = map[string]bool{"heart": true, "laugh": true, "wow": true, "sad": true, "fire": true}

func (p reactionPayload) validate() error {
	if !reactionTypes[p.Type] {
		return fmt.Errorf("type must be one of heart, laugh, wow, sad, fire")
	}
	return nil
}

type chatMessagePayload struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

func (p chatMessagePayload) validate() error {
	if l := len(p.Text); l < 1 || l > 500 {
		return fmt.Errorf("text must be 1-500 characters")
	}
	return nil
}

type leaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// --- outbound payloads ---

type rosterEntry struct {
	UserID   string `json:"userId"`
	Role     string `json:"role"`
	JoinedAt int64  `json:"joinedAt"`
}

type joinedPayload struct {
	RoomID          string        `json:"roomId"`
	Participants    []rosterEntry `json:"participants"`
	HostFileHash    string        `json:"hostFileHash"`
	HostDurationMs  int64         `json:"hostFileDurationMs"`
	HostFileSize    int64         `json:"hostFileSize"`
	IsPlaying       bool          `json:"isPlaying"`
	PositionSec     float64       `json:"positionSec"`
	PlaybackRate    float64       `json:"playbackRate"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type hostPlayOutPayload struct {
	PositionSec     float64  `json:"positionSec"`
	HostTimestampMs int64    `json:"hostTimestampMs"`
	PlaybackRate    *float64 `json:"playbackRate,omitempty"`
}

type hostPauseOutPayload struct {
	PositionSec     float64 `json:"positionSec"`
	HostTimestampMs int64   `json:"hostTimestampMs"`
	Reason          string  `json:"reason,omitempty"`
}

type hostSeekOutPayload struct {
	PositionSec     float64 `json:"positionSec"`
	HostTimestampMs int64   `json:"hostTimestampMs"`
}

type hostTimeSyncOutPayload struct {
	PositionSec     float64 `json:"positionSec"`
	HostTimestampMs int64   `json:"hostTimestampMs"`
	IsPlaying       bool    `json:"isPlaying"`
}

type hostSpeedChangeOutPayload struct {
	PlaybackRate float64 `json:"playbackRate"`
}

type pongPayload struct {
	Nonce    string `json:"nonce"`
	ClientTs int64  `json:"clientTs"`
	ServerTs int64  `json:"serverTs"`
}

type reactionOutPayload struct {
	UserID string `json:"userId"`
	Type   string `json:"type"`
	Ts     int64  `json:"ts"`
}

type chatMessageOutPayload struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
	Ts     int64  `json:"ts"`
}

type hostDisconnectedPayload struct {
	GracePeriodMs int64 `json:"gracePeriodMs"`
}

type hostReconnectedPayload struct{}

type hostTransferredPayload struct {
	NewHostUserID string `json:"newHostUserId"`
	Reason        string `json:"reason"`
}

type participantLeftPayload struct {
	UserID       string        `json:"userId"`
	Participants []rosterEntry `json:"participants"`
	WasHost      bool          `json:"wasHost"`
}
