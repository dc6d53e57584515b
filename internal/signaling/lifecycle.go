package signaling

import (
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/room"
)

// Join places conn in roomID as participantID. Existing members are told
// individually; the joiner gets the pre-existing roster as one snapshot.
//
// A connection holds one identity at a time: joining again from a different
// identity leaves the previous room first. Re-joining with the identity
// already held only re-sends the roster.
func (h *Hub) Join(conn room.ConnID, roomID, participantID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	want := room.Identity{ParticipantID: participantID, RoomID: roomID}
	if cur, ok := h.state.Registry.Lookup(conn); ok && cur == want {
		h.sendLocked(conn, UsersInRoom{
			ParticipantIDs: h.state.ParticipantIDs(h.state.Directory.MembersExcept(roomID, conn)),
		})
		return nil
	}

	if h.rejectDuplicates {
		if holder, ok := h.state.Directory.Resolve(h.state.Registry, roomID, participantID); ok && holder != conn {
			h.metrics.Inc(metrics.ParticipantTaken)
			h.sendLocked(conn, ErrorMessage{
				Code:    "participant_taken",
				Message: "participant id already in use in this room",
			})
			return ErrParticipantTaken
		}
	}

	h.leaveLocked(conn)

	if !h.state.Directory.Has(roomID) {
		h.metrics.Inc(metrics.RoomCreated)
	}
	h.state.Directory.Join(roomID, conn)
	h.state.Registry.Register(conn, want)
	existing := h.state.Directory.MembersExcept(roomID, conn)

	h.sendAllLocked(existing, UserJoined{ParticipantID: participantID})
	h.sendLocked(conn, UsersInRoom{ParticipantIDs: h.state.ParticipantIDs(existing)})

	h.metrics.Inc(metrics.Join)
	h.log.Debug("participant joined",
		slog.String("conn_id", conn.String()),
		slog.String("room_id", roomID),
		slog.String("participant_id", participantID),
		slog.Int("room_size", len(existing)+1),
	)
	return nil
}

// Leave removes conn from its room and tells the remaining members. It is a
// no-op for a connection that has not joined or already left.
func (h *Hub) Leave(conn room.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.leaveLocked(conn) {
		h.metrics.Inc(metrics.Leave)
	}
}

// Disconnect is Leave for a connection whose transport has gone away; it
// also forgets the peer so nothing more is sent to it.
func (h *Hub) Disconnect(conn room.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, attached := h.peers[conn]
	delete(h.peers, conn)
	if h.leaveLocked(conn) || attached {
		h.metrics.Inc(metrics.Disconnect)
	}
}

func (h *Hub) leaveLocked(conn room.ConnID) bool {
	id, ok := h.state.Registry.Remove(conn)
	if !ok {
		return false
	}
	h.state.Directory.Leave(id.RoomID, conn)

	remaining := h.state.Directory.MembersExcept(id.RoomID, conn)
	if len(remaining) == 0 {
		h.metrics.Inc(metrics.RoomReclaimed)
	}
	h.sendAllLocked(remaining, UserLeft{ParticipantID: id.ParticipantID})

	h.log.Debug("participant left",
		slog.String("conn_id", conn.String()),
		slog.String("room_id", id.RoomID),
		slog.String("participant_id", id.ParticipantID),
		slog.Int("room_size", len(remaining)),
	)
	return true
}
