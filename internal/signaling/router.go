package signaling

import (
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/room"
)

// Route forwards ev from sender to the participant it targets within the
// sender's room. Events from connections that have not joined, and events
// for participants not in the room, are dropped without telling the sender.
// It reports whether the event was delivered to a peer.
func (h *Hub) Route(sender room.ConnID, ev Routed) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	from, ok := h.state.Registry.Lookup(sender)
	if !ok {
		h.metrics.Inc(metrics.RouteDroppedUnknownSender)
		return false
	}
	to, ok := h.state.Directory.Resolve(h.state.Registry, from.RoomID, ev.target())
	if !ok {
		h.metrics.Inc(metrics.RouteDroppedUnknownTarget)
		h.log.Debug("route target not in room",
			slog.String("room_id", from.RoomID),
			slog.String("from", from.ParticipantID),
			slog.String("to", ev.target()),
			slog.String("type", string(ev.inbound())),
		)
		return false
	}

	h.sendLocked(to, ev.deliver(from.ParticipantID))
	h.metrics.Inc(routeMetric(ev))
	return true
}

func routeMetric(ev Routed) string {
	switch ev.(type) {
	case OfferEvent:
		return metrics.RouteOffer
	case AnswerEvent:
		return metrics.RouteAnswer
	default:
		return metrics.RouteCandidate
	}
}
