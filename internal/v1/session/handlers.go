package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/watchsync/core/internal/v1/logging"
	"github.com/watchsync/core/internal/v1/metrics"
	"github.com/watchsync/core/internal/v1/room"
)

func (h *Hub) lookupMeta(ctx context.Context, rID room.ID) (*room.Meta, bool) {
	meta, found, err := h.store.GetRoomMeta(ctx, rID)
	if err != nil {
		logging.Warn(ctx, "metadata store lookup failed", zap.String("roomId", string(rID)), zap.Error(err))
		return nil, false
	}
	return meta, found
}

func (h *Hub) handleJoinRoom(c *Client, raw json.RawMessage) {
	var p joinRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(c, "InvalidPayload", "malformed joinRoom payload")
		return
	}
	if err := p.validate(); err != nil {
		h.sendError(c, "InvalidPayload", err.Error())
		return
	}

	ctx := context.Background()
	rID := room.ID(p.RoomID)

	r, existed := h.registry.Get(rID)
	if !existed {
		meta, found := h.lookupMeta(ctx, rID)
		if !found {
			h.sendError(c, "RoomNotFound", "room does not exist or is inactive")
			return
		}
		r, _ = h.registry.GetOrCreate(rID, *meta)
	}

	role := room.RoleFollower
	if p.Role == "host" {
		role = room.RoleHost
	}

	res, err := r.Join(c.connID, c.userID, role, p.FileHash, c)
	if err != nil {
		h.translateJoinError(c, err)
		return
	}

	c.setRoom(rID)
	h.subscribeOnce(rID)

	if res.IsReconnect {
		h.cancelGrace(rID)
		data, _ := encode(EventHostReconnected, hostReconnectedPayload{})
		broadcastToExcept(res.Roster, c.connID, data)
		h.publish(ctx, rID, EventHostReconnected, data, c.connID)
	}

	snap := r.Snapshot()
	meta := r.Meta()
	payload := joinedPayload{
		RoomID:         p.RoomID,
		Participants:   toRoster(res.Roster),
		HostFileHash:   meta.HostFileHash,
		HostDurationMs: meta.HostFileDurationMs,
		HostFileSize:   meta.HostFileSize,
		IsPlaying:      snap.IsPlaying,
		PositionSec:    snap.PositionSec,
		PlaybackRate:   snap.PlaybackRate,
	}
	data, err := encode(EventJoined, payload)
	if err == nil {
		broadcastTo(res.Roster, data)
	}

	h.store.AddParticipant(ctx, rID, c.userID, role)
	h.store.AppendEvent(ctx, rID, c.userID, "join", p)
	if !existed {
		metrics.ActiveRooms.Inc()
	}
	metrics.RoomParticipants.WithLabelValues(string(rID)).Set(float64(len(res.Roster)))
}

func (h *Hub) translateJoinError(c *Client, err error) {
	var mismatch *room.FileMismatchError
	switch {
	case errors.As(err, &mismatch):
		data, _ := encode(EventError, struct {
			Code     string `json:"code"`
			Message  string `json:"message"`
			Expected string `json:"expected"`
			Received string `json:"received"`
		}{Code: "FileMismatch", Message: mismatch.Error(), Expected: mismatch.Expected, Received: mismatch.Received})
		c.Send(data)
	case errors.Is(err, room.ErrHostUserMismatch):
		h.sendError(c, "Unauthorized", "caller is not the room's host user")
	case errors.Is(err, room.ErrRoomClosed):
		h.sendError(c, "RoomNotFound", "room is no longer active")
	default:
		h.sendError(c, "InvalidPayload", err.Error())
	}
}

// handleHostMutation validates and applies one of the host-only playback
// control events, then fans the result out to the rest of the room.
// hostTimeSync is high-rate by design: unauthorized attempts and validation
// failures are dropped silently rather than answered with an error, so a
// desynced client cannot storm the channel with error replies.
func (h *Hub) handleHostMutation(c *Client, raw json.RawMessage, event string) {
	rID, ok := c.currentRoom()
	if !ok {
		if event != EventHostTimeSync {
			h.sendError(c, "Unauthorized", "not joined to a room")
		}
		return
	}
	r, ok := h.registry.Get(rID)
	if !ok {
		return
	}

	ctx := context.Background()
	var recipients []room.Participant
	var outData []byte
	var err error

	switch event {
	case EventHostPlay:
		var p hostPlayPayload
		if jerr := json.Unmarshal(raw, &p); jerr != nil || p.validate() != nil {
			h.sendError(c, "InvalidPayload", "invalid "+event+" payload")
			return
		}
		recipients, err = r.SetPlaying(c.connID, p.PositionSec, p.PlaybackRate)
		if err == nil {
			outData, _ = encode(EventHostPlay, hostPlayOutPayload{PositionSec: p.PositionSec, HostTimestampMs: p.HostTimestampMs, PlaybackRate: p.PlaybackRate})
		}
		h.store.AppendEvent(ctx, rID, c.userID, "play", p)
	case EventHostPause:
		var p hostPausePayload
		if jerr := json.Unmarshal(raw, &p); jerr != nil || p.validate() != nil {
			h.sendError(c, "InvalidPayload", "invalid "+event+" payload")
			return
		}
		recipients, err = r.SetPaused(c.connID, p.PositionSec)
		if err == nil {
			outData, _ = encode(EventHostPause, hostPauseOutPayload{PositionSec: p.PositionSec, HostTimestampMs: p.HostTimestampMs})
		}
		h.store.AppendEvent(ctx, rID, c.userID, "pause", p)
	case EventHostSeek:
		var p hostSeekPayload
		if jerr := json.Unmarshal(raw, &p); jerr != nil || p.validate() != nil {
			h.sendError(c, "InvalidPayload", "invalid "+event+" payload")
			return
		}
		recipients, err = r.Seek(c.connID, p.PositionSec)
		if err == nil {
			outData, _ = encode(EventHostSeek, hostSeekOutPayload{PositionSec: p.PositionSec, HostTimestampMs: p.HostTimestampMs})
		}
		h.store.AppendEvent(ctx, rID, c.userID, "seek", p)
	case EventHostTimeSync:
		var p hostTimeSyncPayload
		if jerr := json.Unmarshal(raw, &p); jerr != nil || p.validate() != nil {
			return
		}
		recipients, err = r.TimeSync(c.connID, p.PositionSec, p.IsPlaying)
		if err == nil {
			outData, _ = encode(EventHostTimeSync, hostTimeSyncOutPayload{PositionSec: p.PositionSec, HostTimestampMs: p.HostTimestampMs, IsPlaying: p.IsPlaying})
		}
	case EventHostSpeedChange:
		var p hostSpeedChangePayload
		if jerr := json.Unmarshal(raw, &p); jerr != nil || p.validate() != nil {
			h.sendError(c, "InvalidPayload", "invalid "+event+" payload")
			return
		}
		recipients, err = r.SpeedChange(c.connID, p.PlaybackRate)
		if err == nil {
			outData, _ = encode(EventHostSpeedChange, hostSpeedChangeOutPayload{PlaybackRate: p.PlaybackRate})
		}
		h.store.AppendEvent(ctx, rID, c.userID, "speed", p)
	}

	if err != nil {
		// hostTimeSync is high-rate; a desynced client gets silently
		// dropped rather than answered, so it cannot storm the channel.
		if errors.Is(err, room.ErrUnauthorized) && event != EventHostTimeSync {
			h.sendError(c, "Unauthorized", "not the room's host connection")
		}
		return
	}
	if outData != nil {
		broadcastTo(recipients, outData)
		h.publish(ctx, rID, event, outData, c.connID)
	}
}

func (h *Hub) handlePing(c *Client, raw json.RawMessage) {
	var p pingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	data, err := encode(EventPong, pongPayload{Nonce: p.Nonce, ClientTs: p.Ts, ServerTs: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	c.Send(data)
}

func (h *Hub) handleReaction(c *Client, raw json.RawMessage) {
	rID, ok := c.currentRoom()
	if !ok {
		h.sendError(c, "Unauthorized", "not joined to a room")
		return
	}
	var p reactionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.validate() != nil {
		h.sendError(c, "InvalidPayload", "invalid reaction")
		return
	}
	r, ok := h.registry.Get(rID)
	if !ok {
		return
	}
	data, err := encode(EventReaction, reactionOutPayload{UserID: string(c.userID), Type: p.Type, Ts: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	broadcastToExcept(r.RosterSnapshot(), c.connID, data)
	h.publish(context.Background(), rID, EventReaction, data, c.connID)
}

func (h *Hub) handleChatMessage(c *Client, raw json.RawMessage) {
	rID, ok := c.currentRoom()
	if !ok {
		h.sendError(c, "Unauthorized", "not joined to a room")
		return
	}
	var p chatMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.validate() != nil {
		h.sendError(c, "InvalidPayload", "invalid chat message")
		return
	}
	r, ok := h.registry.Get(rID)
	if !ok {
		return
	}
	data, err := encode(EventChatMessage, chatMessageOutPayload{UserID: string(c.userID), Text: p.Text, Ts: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	// chatMessage echoes to the sender as well, per the fan-out rule that
	// only chatMessage and joined include the originating connection.
	broadcastTo(r.RosterSnapshot(), data)
	ctx := context.Background()
	h.publish(ctx, rID, EventChatMessage, data, "")
	h.store.AppendEvent(ctx, rID, c.userID, "chat", p)
}

func (h *Hub) handleLeaveRoom(c *Client) {
	h.handleDisconnect(c)
	c.clearRoom()
}

// handleDisconnect removes c from its room, whichever way it left (explicit
// leaveRoom or a dropped transport), and runs the Grace Timer Subsystem's
// host-disconnect arming when the leaver was the host.
func (h *Hub) handleDisconnect(c *Client) {
	rID, ok := c.currentRoom()
	if !ok {
		return
	}
	r, ok := h.registry.Get(rID)
	if !ok {
		return
	}

	res := r.Leave(c.connID)
	ctx := context.Background()
	h.store.SetParticipantStatus(ctx, rID, c.userID, false)
	h.store.AppendEvent(ctx, rID, c.userID, "leave", nil)

	if res.WasHost {
		now := time.Now()
		r.MarkHostDisconnected(now)
		data, _ := encode(EventHostDisconnected, hostDisconnectedPayload{GracePeriodMs: h.cfg.GracePeriod.Milliseconds()})
		broadcastTo(res.Roster, data)
		h.armGrace(rID)
	} else if res.SyntheticPauseNeeded {
		roster := r.ForcePause(res.PositionSec)
		data, _ := encode(EventHostPause, hostPauseOutPayload{PositionSec: res.PositionSec, HostTimestampMs: time.Now().UnixMilli(), Reason: "Participant left"})
		broadcastTo(roster, data)
	}

	leftData, _ := encode(EventParticipantLeft, participantLeftPayload{UserID: string(c.userID), Participants: toRoster(res.Roster), WasHost: res.WasHost})
	broadcastTo(res.Roster, leftData)

	metrics.RoomParticipants.WithLabelValues(string(rID)).Set(float64(len(res.Roster)))

	if res.Empty && !res.WasHost {
		// Host already gone or never connected in this session and the
		// room is now empty: nothing will ever re-arm the grace timer, so
		// close immediately instead of waiting out a timer that nobody can
		// cancel.
		if !r.HasHostConn() {
			if _, has := r.HostDisconnectedAt(); !has {
				h.closeEmptyRoom(rID, r)
			}
		}
	}
}

func (h *Hub) closeEmptyRoom(rID room.ID, r *room.Room) {
	h.cancelGrace(rID)
	r.Close()
	h.registry.Delete(rID)
	metrics.ActiveRooms.Dec()
	metrics.RoomParticipants.DeleteLabelValues(string(rID))
	h.store.CloseRoom(context.Background(), rID)
}

// armGrace schedules the Grace Timer Subsystem's deferred action for rID,
// cancelling any previously pending one first (a host leaving twice in
// quick succession, e.g. a flapping connection, must not stack timers).
func (h *Hub) armGrace(rID room.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.pendingGrace[rID]; ok {
		t.Stop()
	}
	h.pendingGrace[rID] = time.AfterFunc(h.cfg.GracePeriod, func() { h.fireGrace(rID) })
}

func (h *Hub) cancelGrace(rID room.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.pendingGrace[rID]; ok {
		t.Stop()
		delete(h.pendingGrace, rID)
	}
}

// fireGrace is the Grace Timer Subsystem's deferred action. It re-reads the
// room entry before acting, since the timer is not cancelled synchronously
// with every state change that could invalidate it (idempotent by design).
func (h *Hub) fireGrace(rID room.ID) {
	h.mu.Lock()
	delete(h.pendingGrace, rID)
	h.mu.Unlock()

	r, ok := h.registry.Get(rID)
	if !ok {
		return
	}
	_, disconnected := r.HostDisconnectedAt()
	if r.HasHostConn() || !disconnected {
		return
	}

	if r.IsEmpty() {
		h.closeEmptyRoom(rID, r)
		metrics.GraceTimerFirings.Inc()
		return
	}

	promoted, roster, err := r.PromoteEarliestFollower()
	if err != nil {
		return
	}
	data, _ := encode(EventHostTransferred, hostTransferredPayload{NewHostUserID: string(promoted.UserID), Reason: "host_disconnect_grace_expired"})
	broadcastTo(roster, data)
	h.publish(context.Background(), rID, EventHostTransferred, data, "")
	h.store.AppendEvent(context.Background(), rID, promoted.UserID, "host_transfer", nil)
	metrics.GraceTimerFirings.Inc()
}
