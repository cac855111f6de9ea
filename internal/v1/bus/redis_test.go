package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestMain verifies Subscribe's relay goroutine always exits once its
// context is cancelled — the one long-lived goroutine this package spawns.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)

	return svc, mr
}

func TestNewService_ConnectsAndPings(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer svc.Close()

	assert.NotNil(t, svc.Client())
	assert.NoError(t, svc.Ping(context.Background()))
}

func TestPublish_DeliversEnvelopeOnRoomChannel(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer svc.Close()

	ctx := context.Background()
	roomID := "room-1"

	sub := svc.Client().Subscribe(ctx, channelName(roomID))
	defer sub.Close()
	time.Sleep(50 * time.Millisecond)

	payload := json.RawMessage(`{"foo":"bar"}`)
	require.NoError(t, svc.Publish(ctx, roomID, "test-event", payload, "sender-1"))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var env pubSubEnvelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	assert.Equal(t, "test-event", env.Event)
	assert.Equal(t, "sender-1", env.SenderConnID)
	assert.JSONEq(t, string(payload), string(env.Payload))
}

func TestSubscribe_RelaysMessagesToHandler(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roomID := "room-sub"
	received := make(chan string, 1)
	svc.Subscribe(ctx, roomID, func(event string, payload json.RawMessage, senderConnID string) {
		received <- event + "|" + senderConnID
	})

	time.Sleep(50 * time.Millisecond)

	data, _ := json.Marshal(pubSubEnvelope{Event: "hello", SenderConnID: "sender-2"})
	svc.Client().Publish(ctx, channelName(roomID), data)

	select {
	case got := <-received:
		assert.Equal(t, "hello|sender-2", got)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for relayed message")
	}
}

func TestPing_ReturnsErrorWhenRedisDown(t *testing.T) {
	svc, mr := newTestService(t)
	mr.Close()

	err := svc.Ping(context.Background())
	assert.Error(t, err)
}

func TestPublish_DegradesGracefullyWhenCircuitOpen(t *testing.T) {
	svc, mr := newTestService(t)
	defer svc.Close()
	mr.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_ = svc.Publish(ctx, "room-1", "event", json.RawMessage(`{}`), "sender")
	}

	// Whether the breaker is open or the call simply errors, Publish must
	// never panic and the caller's hot path is never blocked.
	err := svc.Publish(ctx, "room-1", "event", json.RawMessage(`{}`), "sender")
	_ = err
}

func TestPublish_NilServiceIsNoop(t *testing.T) {
	var svc *Service
	assert.NoError(t, svc.Publish(context.Background(), "room-1", "event", json.RawMessage(`{}`), "sender"))
	assert.Nil(t, svc.Client())
}

func TestSubscribe_NilServiceIsNoop(t *testing.T) {
	var svc *Service
	svc.Subscribe(context.Background(), "room-1", func(string, json.RawMessage, string) {
		t.Fatal("handler should never be called on a nil Service")
	})
}
