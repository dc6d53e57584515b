package metrics

import (
	"maps"
	"sync"
)

// Event names counted by the signaling relay.
const (
	WSAccepted         = "ws_accepted"
	WSRejectedShutdown = "ws_rejected_shutdown"
	WSIdleTimeout      = "ws_idle_timeout"

	Join             = "join"
	Leave            = "leave"
	Disconnect       = "disconnect"
	RoomCreated      = "room_created"
	RoomReclaimed    = "room_reclaimed"
	ParticipantTaken = "participant_taken"

	RouteOffer                = "route_offer"
	RouteAnswer               = "route_answer"
	RouteCandidate            = "route_candidate"
	RouteDroppedUnknownSender = "route_dropped_unknown_sender"
	RouteDroppedUnknownTarget = "route_dropped_unknown_target"

	BadMessage      = "bad_message"
	MessageTooLarge = "message_too_large"
	RateLimited     = "rate_limited"
	SlowConsumer    = "slow_consumer"
)

// Metrics is a concurrency-safe counter registry. A nil *Metrics discards
// everything, so components can take one optionally.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) { m.Add(name, 1) }

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.m)
}
