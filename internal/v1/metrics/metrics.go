// Package metrics declares the Prometheus instrumentation surface, kept
// separate from business logic so the same metric can be touched from the
// admission, session, room, and store packages without import cycles.
//
// Naming convention: namespace_subsystem_name
//   - namespace: watchparty (application-level grouping)
//   - subsystem: signaling, room, admission, store, circuit_breaker,
//     rate_limit, redis (feature-level grouping)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the current number of live signaling
	// connections (Gauge - current state).
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchparty",
		Subsystem: "signaling",
		Name:      "connections_active",
		Help:      "Current number of active signaling connections",
	})

	// ActiveRooms tracks the current number of live Room Registry entries.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchparty",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms materialized in the Room Registry",
	})

	// RoomParticipants tracks the live participant count per room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watchparty",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of connections currently in each room",
	}, []string{"room_id"})

	// GraceTimerFirings counts Grace Timer Subsystem deferred actions that
	// actually ran (as opposed to no-oping because the host reconnected).
	GraceTimerFirings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchparty",
		Subsystem: "room",
		Name:      "grace_timer_firings_total",
		Help:      "Total Grace Timer Subsystem deferred actions that promoted a host or closed a room",
	})

	// SignalingEvents counts inbound events processed by the Signaling Hub.
	SignalingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchparty",
		Subsystem: "signaling",
		Name:      "events_total",
		Help:      "Total signaling events processed",
	}, []string{"event", "status"})

	// EventProcessingDuration tracks per-event dispatch latency.
	EventProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "watchparty",
		Subsystem: "signaling",
		Name:      "event_processing_seconds",
		Help:      "Time spent processing one inbound signaling event",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
	}, []string{"event"})

	// AdmissionRequests counts REST Admission Service calls by operation and
	// outcome.
	AdmissionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchparty",
		Subsystem: "admission",
		Name:      "requests_total",
		Help:      "Total Admission Service REST requests",
	}, []string{"operation", "status"})

	// StoreFallbackTotal counts operations that degraded to memory-only
	// because the Metadata Store was unavailable.
	StoreFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchparty",
		Subsystem: "store",
		Name:      "fallback_total",
		Help:      "Total operations that fell back to a degraded path because the metadata store was unavailable",
	}, []string{"operation"})

	// StoreOperationDuration tracks Metadata Store Adapter call latency.
	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "watchparty",
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Metadata Store Adapter operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// CircuitBreakerState tracks the bus circuit breaker's state.
	// 0: Closed (healthy), 1: Open (failing), 2: Half-Open (recovering).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watchparty",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts calls rejected while the circuit breaker
	// for a given service is open.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchparty",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total calls rejected while the circuit breaker was open",
	}, []string{"service"})

	// RateLimitExceeded counts requests rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchparty",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests that exceeded the rate limit",
	}, []string{"endpoint", "key_type"})

	// RateLimitRequests counts requests admitted by the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchparty",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total requests that passed the rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal counts bus Redis operations by outcome.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchparty",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis bus operations",
	}, []string{"operation", "status"})
)

// IncConnection records a new live signaling connection.
func IncConnection() {
	ActiveConnections.Inc()
}

// DecConnection records a closed signaling connection.
func DecConnection() {
	ActiveConnections.Dec()
}
