package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/watchsync/core/internal/v1/auth"
	"github.com/watchsync/core/internal/v1/logging"
	"github.com/watchsync/core/internal/v1/metrics"
	"github.com/watchsync/core/internal/v1/room"
)

// TokenValidator authenticates the bearer token presented at handshake.
// Mirrors the Admission Service's Token Verifier collaborator.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// MetadataStore is the slice of the Metadata Store Adapter the Hub needs:
// looking up a room's content-binding metadata to materialize a live entry,
// best-effort participant projection updates, and closing a room when the
// grace window elapses with nobody left. Every method degrades gracefully;
// none of them may block the hot path on a slow store.
type MetadataStore interface {
	GetRoomMeta(ctx context.Context, id room.ID) (*room.Meta, bool, error)
	CloseRoom(ctx context.Context, id room.ID) error
	AddParticipant(ctx context.Context, id room.ID, userID room.UserID, role room.Role)
	SetParticipantStatus(ctx context.Context, id room.ID, userID room.UserID, connected bool)
	AppendEvent(ctx context.Context, id room.ID, userID room.UserID, eventType string, payload any)
}

// BusService is the optional cross-instance fan-out path. When nil, the Hub
// runs memory-only: fan-out only reaches connections on this process.
type BusService interface {
	Publish(ctx context.Context, roomID string, event string, payload json.RawMessage, senderConnID string) error
	Subscribe(ctx context.Context, roomID string, handler func(event string, payload json.RawMessage, senderConnID string))
}

// Config bundles the Hub's tunable timing and network knobs, sourced from
// the process configuration.
type Config struct {
	AllowedOrigins []string
	PingInterval   time.Duration
	PongTimeout    time.Duration
	GracePeriod    time.Duration
}

// Hub is the central coordinator for the Signaling Hub: it authenticates
// connections, dispatches inbound events to Room Registry transitions, and
// owns the Grace Timer Subsystem's per-room deferred actions.
type Hub struct {
	registry  *room.Registry
	validator TokenValidator
	store     MetadataStore
	bus       BusService
	cfg       Config

	mu           sync.Mutex
	pendingGrace map[room.ID]*time.Timer
	subscribed   map[room.ID]bool
}

// NewHub wires a Hub around its dependencies. bus may be nil.
func NewHub(validator TokenValidator, store MetadataStore, bus BusService, cfg Config) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Minute
	}
	return &Hub{
		registry:     room.NewRegistry(),
		validator:    validator,
		store:        store,
		bus:          bus,
		cfg:          cfg,
		pendingGrace: make(map[room.ID]*time.Timer),
		subscribed:   make(map[room.ID]bool),
	}
}

// Registry exposes the live Room Registry, e.g. for the Admission Service's
// rejoin operation to read a live snapshot.
func (h *Hub) Registry() *room.Registry { return h.registry }

var upgrader = websocket.Upgrader{
	WriteBufferPool: &sync.Pool{New: func() any { return make([]byte, 4096) }},
}

// ServeWs authenticates the connection and upgrades it. Room membership is
// established afterwards by an inbound joinRoom event, per the connection
// state machine (CONNECTING -auth ok-> AUTHED -joinRoom ok-> IN_ROOM).
func (h *Hub) ServeWs(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}

	claims, err := h.validator.ValidateToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	origins := h.cfg.AllowedOrigins
	upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, allowed := range origins {
			allowedURL, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
				return true
			}
		}
		return false
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to upgrade connection", zap.Error(err))
		return
	}

	client := newClient(conn, room.ConnID(uuid.NewString()), room.UserID(claims.Subject), h.cfg.PingInterval, h.cfg.PongTimeout)

	metrics.IncConnection()

	go client.writePump()
	go client.readPump(h)
}

// dispatch routes one inbound envelope to its handler. Each call runs to
// completion on the connection's own readPump goroutine before the next
// envelope on that connection is processed.
func (h *Hub) dispatch(c *Client, env Envelope) {
	switch env.Event {
	case EventJoinRoom:
		h.handleJoinRoom(c, env.Payload)
	case EventHostPlay:
		h.handleHostMutation(c, env.Payload, EventHostPlay)
	case EventHostPause:
		h.handleHostMutation(c, env.Payload, EventHostPause)
	case EventHostSeek:
		h.handleHostMutation(c, env.Payload, EventHostSeek)
	case EventHostTimeSync:
		h.handleHostMutation(c, env.Payload, EventHostTimeSync)
	case EventHostSpeedChange:
		h.handleHostMutation(c, env.Payload, EventHostSpeedChange)
	case EventPing:
		h.handlePing(c, env.Payload)
	case EventReaction:
		h.handleReaction(c, env.Payload)
	case EventChatMessage:
		h.handleChatMessage(c, env.Payload)
	case EventLeaveRoom:
		h.handleLeaveRoom(c)
	default:
		h.sendError(c, "InvalidPayload", "unknown event: "+env.Event)
	}
}

func (h *Hub) sendError(c *Client, code, message string) {
	data, err := encode(EventError, errorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.Send(data)
}

func toRoster(participants []room.Participant) []rosterEntry {
	out := make([]rosterEntry, 0, len(participants))
	for _, p := range participants {
		out = append(out, rosterEntry{UserID: string(p.UserID), Role: string(p.Role), JoinedAt: p.JoinedAt.UnixMilli()})
	}
	return out
}

func broadcastTo(participants []room.Participant, data []byte) {
	for _, p := range participants {
		if p.Sender != nil {
			p.Sender.Send(data)
		}
	}
}

func broadcastToExcept(participants []room.Participant, exclude room.ConnID, data []byte) {
	for _, p := range participants {
		if p.ConnID == exclude {
			continue
		}
		if p.Sender != nil {
			p.Sender.Send(data)
		}
	}
}

func (h *Hub) publish(ctx context.Context, rID room.ID, event string, data []byte, senderConnID room.ConnID) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(ctx, string(rID), event, data, string(senderConnID)); err != nil {
		logging.Warn(ctx, "bus publish failed, continuing memory-only", zap.String("roomId", string(rID)), zap.Error(err))
	}
}

// subscribeOnce wires the room's remote fan-out relay the first time a room
// is joined locally, so a second instance sharing the bus can reach
// connections on this process.
func (h *Hub) subscribeOnce(rID room.ID) {
	if h.bus == nil {
		return
	}
	h.mu.Lock()
	if h.subscribed[rID] {
		h.mu.Unlock()
		return
	}
	h.subscribed[rID] = true
	h.mu.Unlock()

	h.bus.Subscribe(context.Background(), string(rID), func(event string, payload json.RawMessage, senderConnID string) {
		r, ok := h.registry.Get(rID)
		if !ok {
			return
		}
		env := Envelope{Event: event, Payload: payload}
		data, err := json.Marshal(env)
		if err != nil {
			return
		}
		broadcastToExcept(r.RosterSnapshot(), room.ConnID(senderConnID), data)
	})
}
