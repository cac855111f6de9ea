package session

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/watchsync/core/internal/v1/auth"
	"github.com/watchsync/core/internal/v1/room"
)

// MockTokenValidator implements TokenValidator for testing.
type MockTokenValidator struct {
	UserID     string
	ShouldFail bool
}

func (m *MockTokenValidator) ValidateToken(tokenString string) (*auth.CustomClaims, error) {
	if m.ShouldFail {
		return nil, errAuthFailed
	}
	subject := m.UserID
	if subject == "" {
		subject = "test-user"
	}
	return &auth.CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	}, nil
}

var errAuthFailed = &mockAuthError{}

type mockAuthError struct{}

func (e *mockAuthError) Error() string { return "auth failed" }

// MockStore implements MetadataStore for testing.
type MockStore struct {
	Rooms          map[room.ID]room.Meta
	ClosedRooms    map[room.ID]bool
	AppendedEvents []string
}

func NewMockStore() *MockStore {
	return &MockStore{Rooms: make(map[room.ID]room.Meta), ClosedRooms: make(map[room.ID]bool)}
}

func (s *MockStore) GetRoomMeta(ctx context.Context, id room.ID) (*room.Meta, bool, error) {
	meta, ok := s.Rooms[id]
	if !ok {
		return nil, false, nil
	}
	return &meta, true, nil
}

func (s *MockStore) CloseRoom(ctx context.Context, id room.ID) error {
	s.ClosedRooms[id] = true
	return nil
}

func (s *MockStore) AddParticipant(ctx context.Context, id room.ID, userID room.UserID, role room.Role) {
}

func (s *MockStore) SetParticipantStatus(ctx context.Context, id room.ID, userID room.UserID, connected bool) {
}

func (s *MockStore) AppendEvent(ctx context.Context, id room.ID, userID room.UserID, eventType string, payload any) {
	s.AppendedEvents = append(s.AppendedEvents, eventType)
}

// fakeConn is an in-memory wsConnection for tests that never touches a
// socket. readPump/writePump are not exercised by these tests; handlers are
// invoked directly through Hub.dispatch.
type fakeConn struct{}

func (f *fakeConn) ReadMessage() (int, []byte, error)      { return 0, nil, nil }
func (f *fakeConn) WriteMessage(int, []byte) error          { return nil }
func (f *fakeConn) Close() error                            { return nil }
func (f *fakeConn) SetWriteDeadline(t time.Time) error       { return nil }
func (f *fakeConn) SetReadDeadline(t time.Time) error        { return nil }
func (f *fakeConn) SetPongHandler(h func(string) error)      {}

func newTestClient(userID string) *Client {
	return newClient(&fakeConn{}, room.ConnID("conn-"+userID), room.UserID(userID), time.Minute, time.Minute)
}

func newTestHub(store *MockStore) *Hub {
	return NewHub(&MockTokenValidator{}, store, nil, Config{GracePeriod: 50 * time.Millisecond})
}

// drainOne reads the next message queued for a client, failing the test if
// none arrives within the timeout.
func drainOne(c *Client) ([]byte, bool) {
	select {
	case data := <-c.send:
		return data, true
	case <-time.After(200 * time.Millisecond):
		return nil, false
	}
}
