// Package presence fans presence transitions out to the accepted friends of
// the user whose state changed.
package presence

import (
	"context"
	"log/slog"

	"github.com/fractured-reality/master-server/internal/metrics"
	"github.com/fractured-reality/master-server/internal/protocol"
	"github.com/fractured-reality/master-server/internal/session"
	"github.com/fractured-reality/master-server/internal/store"
)

// Notifier delivers friend_online/friend_offline fan-out and the
// point-to-point friend_request/friend_accepted pushes. Delivery is
// best-effort: offline friends are skipped, send failures are logged and do
// not abort the fan-out.
type Notifier struct {
	store    *store.Store
	registry *session.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewNotifier(st *store.Store, reg *session.Registry, logger *slog.Logger, m *metrics.Metrics) *Notifier {
	return &Notifier{store: st, registry: reg, logger: logger, metrics: m}
}

// UserOnline tells every online accepted friend of userID that userID came
// online. Callers must register the session first so a friend who reacts
// immediately can already reach the user.
func (n *Notifier) UserOnline(ctx context.Context, userID, username string) {
	n.metrics.Inc(metrics.PresenceOnline)
	n.fanOut(ctx, userID, protocol.FriendOnline(userID, username))
}

// UserOffline tells every online accepted friend of userID that userID went
// offline.
func (n *Notifier) UserOffline(ctx context.Context, userID string) {
	n.metrics.Inc(metrics.PresenceOffline)
	n.fanOut(ctx, userID, protocol.FriendOffline(userID))
}

func (n *Notifier) fanOut(ctx context.Context, userID string, evt protocol.Event) {
	friendIDs, err := n.store.AcceptedFriendIDs(ctx, userID)
	if err != nil {
		n.metrics.Inc(metrics.StoreFailure)
		n.logger.Error("presence fan-out aborted: friend query failed",
			"userId", userID, "error", err)
		return
	}

	delivered := 0
	for _, friendID := range friendIDs {
		peer, ok := n.registry.Lookup(friendID)
		if !ok {
			continue
		}
		if err := peer.Send(evt); err != nil {
			n.logger.Warn("presence notification send failed",
				"userId", userID, "friendId", friendID, "error", err)
			continue
		}
		delivered++
	}
	n.logger.Debug("presence fan-out",
		"userId", userID, "event", evt.Type,
		"friends", len(friendIDs), "delivered", delivered)
}

// NotifyFriendRequest pushes a friend_request event to toUserID if they are
// online. The request itself is already persisted; this is purely a nudge.
func (n *Notifier) NotifyFriendRequest(fromUserID, toUserID string) {
	n.metrics.Inc(metrics.FriendRequestSent)
	n.pointToPoint(toUserID, protocol.FriendRequest(fromUserID))
}

// NotifyFriendAccepted pushes a friend_accepted event to the original
// requester if they are online.
func (n *Notifier) NotifyFriendAccepted(byUserID, requesterID string) {
	n.metrics.Inc(metrics.FriendAccepted)
	n.pointToPoint(requesterID, protocol.FriendAccepted(byUserID))
}

func (n *Notifier) pointToPoint(toUserID string, evt protocol.Event) {
	peer, ok := n.registry.Lookup(toUserID)
	if !ok {
		return
	}
	if err := peer.Send(evt); err != nil {
		n.logger.Warn("friend notification send failed",
			"toUserId", toUserID, "event", evt.Type, "error", err)
	}
}
