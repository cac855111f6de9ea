// Package admission implements the Admission Service: the REST-style
// surface for room creation, validation, rejoin, leave-temporary, close,
// and an unauthenticated existence probe.
package admission

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/watchsync/core/internal/v1/idgen"
	"github.com/watchsync/core/internal/v1/logging"
	"github.com/watchsync/core/internal/v1/metrics"
	"github.com/watchsync/core/internal/v1/room"
	"github.com/watchsync/core/internal/v1/session"
	"github.com/watchsync/core/internal/v1/store"
)

// Store is the slice of the Metadata Store Adapter the Admission Service
// needs. Defined here (rather than importing store.Store's method set
// wholesale) so tests can substitute a fake.
type Store interface {
	EnsureUser(ctx context.Context, userID room.UserID)
	RoomExists(ctx context.Context, id room.ID) (bool, error)
	CreateRoom(ctx context.Context, id room.ID, p store.CreateRoomParams) (*store.RoomRecord, error)
	GetRoom(ctx context.Context, id room.ID) (*store.RoomRecord, bool, error)
	CloseRoomAsHost(ctx context.Context, id room.ID, callerID room.UserID) (bool, error)
	AddParticipant(ctx context.Context, id room.ID, userID room.UserID, role room.Role)
	SetParticipantStatus(ctx context.Context, id room.ID, userID room.UserID, connected bool)
	GetParticipants(ctx context.Context, id room.ID) ([]store.ParticipantRecord, error)
	AppendEvent(ctx context.Context, id room.ID, userID room.UserID, eventType string, payload any)
}

// Handler implements the Admission Service's HTTP handlers.
type Handler struct {
	store     Store
	idgen     *idgen.Generator
	hub       *session.Hub
	expiresIn int
}

// NewHandler wires the Admission Service to its collaborators. hub may be
// nil in tests that do not exercise rejoin's live-snapshot path.
func NewHandler(st Store, gen *idgen.Generator, hub *session.Hub, defaultExpiresInDays int) *Handler {
	return &Handler{store: st, idgen: gen, hub: hub, expiresIn: defaultExpiresInDays}
}

// RegisterRoutes attaches the Admission Service's routes to router, with
// auth applied per the spec's per-route table (the probe is unauthenticated).
func (h *Handler) RegisterRoutes(router gin.IRouter, auth gin.HandlerFunc) {
	router.GET("/api/rooms/:id/probe", h.Probe)
	router.GET("/api/rooms/:id", auth, h.Details)
	router.POST("/api/rooms/create", auth, h.Create)
	router.POST("/api/rooms/:id/validate", auth, h.Validate)
	router.POST("/api/rooms/:id/close", auth, h.Close)
	router.POST("/api/rooms/:id/leave-temporary", auth, h.LeaveTemporary)
	router.POST("/api/rooms/:id/rejoin", auth, h.Rejoin)
}

func recordOutcome(operation, status string) {
	metrics.AdmissionRequests.WithLabelValues(operation, status).Inc()
}

// Create handles POST /api/rooms/create.
func (h *Handler) Create(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		recordOutcome("create", "invalid_payload")
		c.JSON(http.StatusBadRequest, errorResponse{Error: "InvalidPayload", Details: err.Error()})
		return
	}
	if v := req.validate(); !v.ok() {
		recordOutcome("create", "invalid_payload")
		c.JSON(http.StatusBadRequest, errorResponse{Error: "InvalidPayload", Details: v.fields})
		return
	}

	ctx := c.Request.Context()
	hostUserID := room.UserID(callerID(c))
	h.store.EnsureUser(ctx, hostUserID)

	id, err := h.idgen.Generate(func(candidate string) (bool, error) {
		return h.store.RoomExists(ctx, room.ID(candidate))
	})
	if err != nil {
		recordOutcome("create", "id_exhausted")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "RoomIdExhausted"})
		return
	}

	rec, err := h.store.CreateRoom(ctx, room.ID(id), store.CreateRoomParams{
		HostUserID:    hostUserID,
		FileHash:      req.FileHash,
		DurationMs:    req.DurationMs,
		FileSize:      req.FileSize,
		Codec:         room.Codec{VideoCodec: req.Codec.Video, AudioCodec: req.Codec.Audio, Resolution: req.Codec.Resolution},
		Passcode:      req.Passcode,
		ExpiresInDays: req.ExpiresInDays,
	})
	if err != nil {
		logging.Error(ctx, "create room failed")
		recordOutcome("create", "storage_unavailable")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "StorageUnavailable"})
		return
	}

	recordOutcome("create", "ok")
	c.JSON(http.StatusCreated, createRoomResponse{
		RoomID:    id,
		ShareURL:  fmt.Sprintf("/watch/%s", id),
		ExpiresAt: rec.ExpiresAt.Format(time.RFC3339),
	})
}

// Validate handles POST /api/rooms/:id/validate.
func (h *Handler) Validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "InvalidPayload"})
		return
	}
	if v := req.validate(); !v.ok() {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "InvalidPayload", Details: v.fields})
		return
	}

	rec, err := h.requireActiveRoom(c)
	if err != nil {
		return
	}

	if rec.PasscodeHash != "" {
		if req.Passcode == "" {
			recordOutcome("validate", "passcode_required")
			c.JSON(http.StatusUnauthorized, errorResponse{Error: "PasscodeRequired"})
			return
		}
		if !rec.CheckPasscode(req.Passcode) {
			recordOutcome("validate", "invalid_passcode")
			c.JSON(http.StatusUnauthorized, errorResponse{Error: "InvalidPasscode"})
			return
		}
	}

	recordOutcome("validate", "ok")
	c.JSON(http.StatusOK, validateResponse{
		RoomID:             string(rec.ID),
		HostUserID:         string(rec.HostUserID),
		HostFileHash:       rec.HostFileHash,
		HostFileDurationMs: rec.HostFileDurationMs,
		HostFileSize:       rec.HostFileSize,
		Codec:              codecInput{Video: rec.Codec.VideoCodec, Audio: rec.Codec.AudioCodec, Resolution: rec.Codec.Resolution},
		HashMatches:        req.FileHash != "" && req.FileHash == rec.HostFileHash,
		RequiresPasscode:   rec.PasscodeHash != "",
	})
}

// Close handles POST /api/rooms/:id/close.
func (h *Handler) Close(c *gin.Context) {
	id := room.ID(c.Param("id"))
	ctx := c.Request.Context()

	forbidden, err := h.store.CloseRoomAsHost(ctx, id, room.UserID(callerID(c)))
	if err != nil {
		recordOutcome("close", "not_found")
		c.JSON(http.StatusNotFound, errorResponse{Error: "RoomNotFound"})
		return
	}
	if forbidden {
		recordOutcome("close", "forbidden")
		c.JSON(http.StatusForbidden, errorResponse{Error: "Unauthorized"})
		return
	}

	recordOutcome("close", "ok")
	c.JSON(http.StatusOK, closeResponse{Message: "room closed"})
}

// LeaveTemporary handles POST /api/rooms/:id/leave-temporary. Always
// best-effort: it returns success even when the room is not currently
// live, per the spec's fairness-over-strictness design note.
func (h *Handler) LeaveTemporary(c *gin.Context) {
	id := room.ID(c.Param("id"))
	userID := room.UserID(callerID(c))
	ctx := c.Request.Context()

	h.store.SetParticipantStatus(ctx, id, userID, false)

	paused := false
	if h.hub != nil {
		if r, ok := h.hub.Registry().Get(id); ok {
			r.ForcePause(r.Snapshot().PositionSec)
			paused = true
		}
	}

	recordOutcome("leave_temporary", "ok")
	c.JSON(http.StatusOK, leaveTemporaryResponse{Success: true, Paused: paused})
}

// Rejoin handles POST /api/rooms/:id/rejoin.
func (h *Handler) Rejoin(c *gin.Context) {
	rec, err := h.requireActiveRoom(c)
	if err != nil {
		return
	}
	id := rec.ID
	ctx := c.Request.Context()

	h.store.SetParticipantStatus(ctx, id, room.UserID(callerID(c)), true)

	if h.hub != nil {
		if r, ok := h.hub.Registry().Get(id); ok {
			snap := r.Snapshot()
			state := "paused"
			if snap.IsPlaying {
				state = "playing"
			}
			roster := r.RosterSnapshot()
			views := make([]participantView, 0, len(roster))
			for _, p := range roster {
				views = append(views, participantView{UserID: string(p.UserID), Role: string(p.Role), IsConnected: true})
			}
			recordOutcome("rejoin", "ok_live")
			c.JSON(http.StatusOK, rejoinResponse{
				RoomID:          string(id),
				VideoID:         rec.HostFileHash,
				PlaybackState:   state,
				CurrentPosition: snap.PositionSec,
				Participants:    views,
			})
			return
		}
	}

	durable, err := h.store.GetParticipants(ctx, id)
	if err != nil {
		durable = nil
	}
	views := make([]participantView, 0, len(durable))
	for _, p := range durable {
		views = append(views, participantView{UserID: string(p.UserID), Role: string(p.Role), IsConnected: p.IsConnected})
	}

	recordOutcome("rejoin", "ok_synthesized")
	c.JSON(http.StatusOK, rejoinResponse{
		RoomID:          string(id),
		VideoID:         rec.HostFileHash,
		PlaybackState:   "paused",
		CurrentPosition: 0,
		Participants:    views,
	})
}

// Details handles the authenticated GET /api/rooms/:id.
func (h *Handler) Details(c *gin.Context) {
	rec, err := h.requireActiveRoom(c)
	if err != nil {
		return
	}

	durable, _ := h.store.GetParticipants(c.Request.Context(), rec.ID)
	views := make([]participantView, 0, len(durable))
	for _, p := range durable {
		views = append(views, participantView{UserID: string(p.UserID), Role: string(p.Role), IsConnected: p.IsConnected})
	}

	recordOutcome("details", "ok")
	c.JSON(http.StatusOK, roomDetailsResponse{
		RoomID:           string(rec.ID),
		IsActive:         rec.IsActive,
		HostUserID:       string(rec.HostUserID),
		CreatedAt:        rec.CreatedAt.Format(time.RFC3339),
		ExpiresAt:        rec.ExpiresAt.Format(time.RFC3339),
		RequiresPasscode: rec.PasscodeHash != "",
		Participants:     views,
	})
}

// Probe handles the unauthenticated GET /api/rooms/:id/probe.
func (h *Handler) Probe(c *gin.Context) {
	id := room.ID(c.Param("id"))
	rec, ok, err := h.store.GetRoom(c.Request.Context(), id)
	if err != nil || !ok {
		recordOutcome("probe", "not_found")
		c.JSON(http.StatusNotFound, errorResponse{Error: "RoomNotFound"})
		return
	}
	recordOutcome("probe", "ok")
	c.JSON(http.StatusOK, probeResponse{IsActive: !rec.Expired(time.Now())})
}

// requireActiveRoom loads the room named by :id and writes the appropriate
// error response if it is missing or expired, returning a non-nil error in
// that case so the caller can return early.
func (h *Handler) requireActiveRoom(c *gin.Context) (*store.RoomRecord, error) {
	id := room.ID(c.Param("id"))
	if !isValidRoomID(string(id)) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "InvalidPayload"})
		return nil, fmt.Errorf("invalid room id")
	}

	rec, ok, err := h.store.GetRoom(c.Request.Context(), id)
	if err != nil || !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "RoomNotFound"})
		return nil, fmt.Errorf("not found")
	}
	if rec.Expired(time.Now()) {
		c.JSON(http.StatusGone, errorResponse{Error: "RoomExpired"})
		return nil, fmt.Errorf("expired")
	}
	return rec, nil
}
