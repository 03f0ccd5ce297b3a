package presence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fractured-reality/master-server/internal/metrics"
	"github.com/fractured-reality/master-server/internal/protocol"
	"github.com/fractured-reality/master-server/internal/session"
	"github.com/fractured-reality/master-server/internal/store"
)

type capturePeer struct {
	mu     sync.Mutex
	events []protocol.Event
	fail   bool
}

func (p *capturePeer) Send(event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("connection gone")
	}
	p.events = append(p.events, event.(protocol.Event))
	return nil
}

func (p *capturePeer) received() []protocol.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Event(nil), p.events...)
}

func newTestNotifier(t *testing.T) (*Notifier, *store.Store, *session.Registry) {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/presence.db")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := session.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewNotifier(st, reg, logger, metrics.New()), st, reg
}

func mustAcceptedFriends(t *testing.T, st *store.Store, a, b string) {
	t.Helper()
	ctx := context.Background()
	if err := st.CreateFriendRequest(ctx, a, b, time.Now().UnixMilli()); err != nil {
		t.Fatalf("CreateFriendRequest: %v", err)
	}
	if err := st.AcceptFriendRequest(ctx, a, b); err != nil {
		t.Fatalf("AcceptFriendRequest: %v", err)
	}
}

func mustCreateUser(t *testing.T, st *store.Store, id, username string) {
	t.Helper()
	u := store.User{ID: id, Username: username, PasswordHash: "x", CreatedAt: time.Now().UnixMilli()}
	if err := st.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", id, err)
	}
}

func TestUserOnlineReachesOnlyOnlineAcceptedFriends(t *testing.T) {
	n, st, reg := newTestNotifier(t)
	ctx := context.Background()

	mustCreateUser(t, st, "alice", "alice")
	mustCreateUser(t, st, "bob", "bob")
	mustCreateUser(t, st, "carol", "carol")
	mustCreateUser(t, st, "dave", "dave")

	mustAcceptedFriends(t, st, "alice", "bob")   // online friend
	mustAcceptedFriends(t, st, "carol", "alice") // offline friend, reverse direction
	// dave only has a pending request toward alice.
	if err := st.CreateFriendRequest(ctx, "dave", "alice", time.Now().UnixMilli()); err != nil {
		t.Fatalf("CreateFriendRequest: %v", err)
	}

	bob := &capturePeer{}
	dave := &capturePeer{}
	reg.Register("bob", "bob", bob)
	reg.Register("dave", "dave", dave)

	n.UserOnline(ctx, "alice", "alice")

	got := bob.received()
	if len(got) != 1 {
		t.Fatalf("bob received %d events, want 1", len(got))
	}
	if got[0].Type != protocol.TypeFriendOnline || got[0].UserID != "alice" || got[0].Username != "alice" {
		t.Errorf("bob got %+v", got[0])
	}
	if len(dave.received()) != 0 {
		t.Error("pending-only requester received a presence event")
	}
}

func TestUserOfflineFanOut(t *testing.T) {
	n, st, reg := newTestNotifier(t)

	mustCreateUser(t, st, "alice", "alice")
	mustCreateUser(t, st, "bob", "bob")
	mustAcceptedFriends(t, st, "alice", "bob")

	bob := &capturePeer{}
	reg.Register("bob", "bob", bob)

	n.UserOffline(context.Background(), "alice")

	got := bob.received()
	if len(got) != 1 || got[0].Type != protocol.TypeFriendOffline || got[0].UserID != "alice" {
		t.Fatalf("bob got %+v", got)
	}
	if got[0].Username != "" {
		t.Error("friend_offline should not carry a username")
	}
}

func TestFanOutSurvivesSendFailure(t *testing.T) {
	n, st, reg := newTestNotifier(t)

	mustCreateUser(t, st, "alice", "alice")
	mustCreateUser(t, st, "bob", "bob")
	mustCreateUser(t, st, "carol", "carol")
	mustAcceptedFriends(t, st, "alice", "bob")
	mustAcceptedFriends(t, st, "alice", "carol")

	bob := &capturePeer{fail: true}
	carol := &capturePeer{}
	reg.Register("bob", "bob", bob)
	reg.Register("carol", "carol", carol)

	n.UserOnline(context.Background(), "alice", "alice")

	if len(carol.received()) != 1 {
		t.Error("a failed send to one friend suppressed delivery to another")
	}
}

func TestPointToPointNotifications(t *testing.T) {
	n, _, reg := newTestNotifier(t)

	bob := &capturePeer{}
	reg.Register("bob", "bob", bob)

	n.NotifyFriendRequest("alice", "bob")
	n.NotifyFriendAccepted("bob", "alice") // alice offline: silently dropped

	got := bob.received()
	if len(got) != 1 {
		t.Fatalf("bob received %d events, want 1", len(got))
	}
	if got[0].Type != protocol.TypeFriendRequest || got[0].UserID != "alice" {
		t.Errorf("bob got %+v", got[0])
	}
}
