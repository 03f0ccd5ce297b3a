package signaling

import (
	"encoding/json"
	"log/slog"

	"github.com/fractured-reality/master-server/internal/metrics"
	"github.com/fractured-reality/master-server/internal/protocol"
	"github.com/fractured-reality/master-server/internal/session"
)

// Relay forwards WebRTC session negotiation between clients. The server
// never inspects SDP or candidate payloads; it stamps the sender identity
// and passes them through untouched. A message addressed to a user with no
// live session is dropped without feedback, since candidates racing a
// disconnect are routine.
type Relay struct {
	registry *session.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewRelay(reg *session.Registry, logger *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{registry: reg, logger: logger, metrics: m}
}

// Offer relays an SDP offer to targetID, stamped with the sender's id and
// username.
func (r *Relay) Offer(fromID, fromUsername, targetID string, offer json.RawMessage) {
	r.deliver(targetID, protocol.WebRTCOffer(fromID, fromUsername, offer))
}

// Answer relays an SDP answer to targetID.
func (r *Relay) Answer(fromID, targetID string, answer json.RawMessage) {
	r.deliver(targetID, protocol.WebRTCAnswer(fromID, answer))
}

// Candidate relays an ICE candidate to targetID.
func (r *Relay) Candidate(fromID, targetID string, candidate json.RawMessage) {
	r.deliver(targetID, protocol.ICECandidate(fromID, candidate))
}

func (r *Relay) deliver(targetID string, evt protocol.Event) {
	peer, ok := r.registry.Lookup(targetID)
	if !ok {
		r.metrics.Inc(metrics.SignalDroppedOffline)
		r.logger.Debug("signal dropped: target offline",
			"targetId", targetID, "event", evt.Type)
		return
	}
	if err := peer.Send(evt); err != nil {
		r.logger.Warn("signal relay send failed",
			"targetId", targetID, "event", evt.Type, "error", err)
		return
	}
	r.metrics.Inc(metrics.SignalRelayed)
}
