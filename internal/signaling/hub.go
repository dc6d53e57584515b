package signaling

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/room"
)

var (
	ErrHubClosed        = errors.New("signaling: hub closed")
	ErrParticipantTaken = errors.New("signaling: participant id already in use in room")
)

// Peer is the hub's handle on a live connection. Send must not block: it is
// called with the hub lock held.
type Peer interface {
	Send(msg Outbound)
	Close()
}

type HubConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// RejectDuplicateParticipants refuses a join whose participant ID is
	// already held by another connection in the same room. When false the
	// duplicates coexist and routing picks the earliest joined.
	RejectDuplicateParticipants bool
}

// Hub owns the room state and the set of attached peers. All membership
// changes and the notifications they cause happen under one lock, so every
// peer observes events in the order the state changed.
type Hub struct {
	log              *slog.Logger
	metrics          *metrics.Metrics
	rejectDuplicates bool

	mu     sync.RWMutex
	state  *room.State
	peers  map[room.ConnID]Peer
	closed bool
}

func NewHub(cfg HubConfig) *Hub {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:              log,
		metrics:          cfg.Metrics,
		rejectDuplicates: cfg.RejectDuplicateParticipants,
		state:            room.NewState(),
		peers:            make(map[room.ConnID]Peer),
	}
}

// Attach makes peer reachable as conn. The connection is not in any room
// until it joins.
func (h *Hub) Attach(conn room.ConnID, peer Peer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.peers[conn] = peer
	return nil
}

// Dispatch applies one decoded client event.
func (h *Hub) Dispatch(conn room.ConnID, ev Inbound) error {
	switch ev := ev.(type) {
	case JoinEvent:
		return h.Join(conn, ev.RoomID, ev.ParticipantID)
	case LeaveEvent:
		h.Leave(conn)
		return nil
	case OfferEvent:
		h.Route(conn, ev)
		return nil
	case AnswerEvent:
		h.Route(conn, ev)
		return nil
	case CandidateEvent:
		h.Route(conn, ev)
		return nil
	default:
		return errUnsupportedType
	}
}

type Stats struct {
	Connections  int `json:"connections"`
	Participants int `json:"participants"`
	Rooms        int `json:"rooms"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Connections:  len(h.peers),
		Participants: h.state.Registry.Len(),
		Rooms:        h.state.Directory.Len(),
	}
}

// Close detaches every peer and closes it. Each closed connection then runs
// its own disconnect path. Attach fails afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	peers := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
}

// sendLocked requires h.mu (read or write).
func (h *Hub) sendLocked(conn room.ConnID, msg Outbound) {
	if p, ok := h.peers[conn]; ok {
		p.Send(msg)
	}
}

func (h *Hub) sendAllLocked(conns []room.ConnID, msg Outbound) {
	for _, c := range conns {
		h.sendLocked(c, msg)
	}
}
