// Package bus implements the Signaling Hub's optional cross-instance
// fan-out path over Redis Pub/Sub. When no Service is wired, the Hub runs
// memory-only and fan-out only reaches connections on the local process.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/watchsync/core/internal/v1/metrics"
)

// pubSubEnvelope is the wire container moved between instances on a room's
// Redis channel.
type pubSubEnvelope struct {
	Event        string          `json:"event"`
	Payload      json.RawMessage `json:"payload"`
	SenderConnID string          `json:"senderConnId"`
}

// Service handles all interaction with the Redis cluster.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a Redis connection and verifies connectivity.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("connected to redis pub/sub", "addr", addr)
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

func channelName(roomID string) string {
	return "watchparty:room:" + roomID
}

// Publish broadcasts one signaling event to every other instance subscribed
// to roomID. A nil Service or an open circuit degrades to a no-op so the
// caller (the Hub) never blocks its hot path on Redis.
func (s *Service) Publish(ctx context.Context, roomID string, event string, payload json.RawMessage, senderConnID string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (any, error) {
		data, err := json.Marshal(pubSubEnvelope{Event: event, Payload: payload, SenderConnID: senderConnID})
		if err != nil {
			return nil, fmt.Errorf("marshaling pubsub envelope: %w", err)
		}
		return nil, s.client.Publish(ctx, channelName(roomID), data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			metrics.RedisOperationsTotal.WithLabelValues("publish", "circuit_open").Inc()
			return nil
		}
		metrics.RedisOperationsTotal.WithLabelValues("publish", "error").Inc()
		slog.Error("redis publish failed", "roomId", roomID, "error", err)
		return err
	}
	metrics.RedisOperationsTotal.WithLabelValues("publish", "ok").Inc()
	return nil
}

// Subscribe starts a background goroutine relaying messages published by
// other instances on roomID to handler, until ctx is cancelled. A nil
// Service is a no-op, matching single-instance mode.
func (s *Service) Subscribe(ctx context.Context, roomID string, handler func(event string, payload json.RawMessage, senderConnID string)) {
	if s == nil || s.client == nil {
		return
	}

	channel := channelName(roomID)
	pubsub := s.client.Subscribe(ctx, channel)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env pubSubEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					slog.Error("failed to unmarshal redis message", "error", err, "channel", channel)
					metrics.RedisOperationsTotal.WithLabelValues("receive", "error").Inc()
					continue
				}
				metrics.RedisOperationsTotal.WithLabelValues("receive", "ok").Inc()
				handler(env.Event, env.Payload, env.SenderConnID)
			}
		}
	}()
}

// Ping checks Redis connectivity. Used by health readiness checks.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
