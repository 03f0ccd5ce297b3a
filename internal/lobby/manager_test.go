package lobby

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/fractured-reality/master-server/internal/metrics"
	"github.com/fractured-reality/master-server/internal/protocol"
	"github.com/fractured-reality/master-server/internal/store"
)

type capturePeer struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (p *capturePeer) Send(event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.(protocol.Event))
	return nil
}

func (p *capturePeer) received() []protocol.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Event(nil), p.events...)
}

func (p *capturePeer) last(t *testing.T) protocol.Event {
	t.Helper()
	evts := p.received()
	if len(evts) == 0 {
		t.Fatal("no events received")
	}
	return evts[len(evts)-1]
}

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/lobby.db")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	// Lobbies reference their host's user row, so the identities the tests
	// act as must exist.
	for id, username := range map[string]string{
		"h1": "hanna", "u1": "alice", "u2": "bob", "u3": "carol",
	} {
		seedUser(t, st, id, username)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(st, logger, metrics.New(), 5), st
}

func seedUser(t *testing.T, st *store.Store, id, username string) {
	t.Helper()
	err := st.CreateUser(context.Background(), store.User{
		ID: id, Username: username, PasswordHash: "x", CreatedAt: 1,
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
}

func createLobby(t *testing.T, m *Manager, p *capturePeer, userID, username string, maxPlayers int) string {
	t.Helper()
	m.Create(context.Background(), p, userID, username, maxPlayers)
	evt := p.last(t)
	if evt.Type != protocol.TypeLobbyCreated {
		t.Fatalf("create reply = %+v", evt)
	}
	return evt.LobbyID
}

func TestCreateAppliesDefaultMaxPlayers(t *testing.T) {
	m, st := newTestManager(t)
	host := &capturePeer{}

	id := createLobby(t, m, host, "h1", "hanna", 0)

	l, err := st.Lobby(context.Background(), id)
	if err != nil {
		t.Fatalf("Lobby: %v", err)
	}
	if l.MaxPlayers != 5 {
		t.Errorf("MaxPlayers = %d, want default 5", l.MaxPlayers)
	}
	if l.PlayerCount != 1 {
		t.Errorf("PlayerCount = %d, want 1 (the host)", l.PlayerCount)
	}
	if l.HostID != "h1" || l.HostUsername != "hanna" {
		t.Errorf("host = %q/%q", l.HostID, l.HostUsername)
	}
}

func TestJoinNotifiesExistingMembers(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	host := &capturePeer{}
	joiner := &capturePeer{}

	id := createLobby(t, m, host, "h1", "hanna", 4)
	m.Join(ctx, joiner, "u2", "bob", id)

	if evt := host.last(t); evt.Type != protocol.TypePlayerJoined || evt.UserID != "u2" || evt.Username != "bob" {
		t.Errorf("host broadcast = %+v", evt)
	}

	var joined, announced bool
	for _, evt := range joiner.received() {
		switch evt.Type {
		case protocol.TypeLobbyJoined:
			if evt.LobbyID != id || evt.HostID != "h1" {
				t.Errorf("joiner lobby_joined = %+v", evt)
			}
			joined = true
		case protocol.TypePlayerJoined:
			if evt.UserID != "u2" || evt.Username != "bob" {
				t.Errorf("joiner player_joined = %+v", evt)
			}
			announced = true
		}
	}
	if !joined {
		t.Error("joiner did not receive lobby_joined")
	}
	// player_joined goes to the whole lobby, the new arrival included.
	if !announced {
		t.Error("joiner did not receive its own player_joined")
	}
}

func TestJoinFullLobby(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	host := &capturePeer{}
	second := &capturePeer{}
	third := &capturePeer{}

	id := createLobby(t, m, host, "h1", "hanna", 2)
	m.Join(ctx, second, "u2", "bob", id)
	m.Join(ctx, third, "u3", "carol", id)

	if evt := third.last(t); evt.Type != protocol.TypeLobbyError || evt.Error != "Lobby is full" {
		t.Fatalf("third join reply = %+v", evt)
	}
	// The rejected joiner must not have been announced to members.
	for _, evt := range host.received() {
		if evt.Type == protocol.TypePlayerJoined && evt.UserID == "u3" {
			t.Error("rejected joiner was announced to the lobby")
		}
	}
}

func TestJoinUnknownLobby(t *testing.T) {
	m, _ := newTestManager(t)
	p := &capturePeer{}

	m.Join(context.Background(), p, "u1", "alice", "no-such-lobby")

	if evt := p.last(t); evt.Type != protocol.TypeLobbyError || evt.Error != "Lobby not found" {
		t.Fatalf("reply = %+v", evt)
	}
}

func TestSecondCreateRejected(t *testing.T) {
	m, _ := newTestManager(t)
	host := &capturePeer{}

	createLobby(t, m, host, "h1", "hanna", 4)
	m.Create(context.Background(), host, "h1", "hanna", 4)

	if evt := host.last(t); evt.Type != protocol.TypeLobbyError || evt.Error != "Already in a lobby" {
		t.Fatalf("second create reply = %+v", evt)
	}
}

func TestHostDisconnectClosesLobby(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	host := &capturePeer{}
	memberA := &capturePeer{}
	memberB := &capturePeer{}

	id := createLobby(t, m, host, "h1", "hanna", 4)
	m.Join(ctx, memberA, "u2", "bob", id)
	m.Join(ctx, memberB, "u3", "carol", id)

	m.HandleDisconnect(ctx, host, "h1")

	for name, p := range map[string]*capturePeer{"memberA": memberA, "memberB": memberB} {
		if evt := p.last(t); evt.Type != protocol.TypeLobbyClosed {
			t.Errorf("%s last event = %+v, want lobby_closed", name, evt)
		}
	}
	if _, err := st.Lobby(ctx, id); err != store.ErrNotFound {
		t.Errorf("lobby row still present after host disconnect: %v", err)
	}
}

func TestNonHostDisconnectKeepsLobbyOpen(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	host := &capturePeer{}
	joiner := &capturePeer{}

	id := createLobby(t, m, host, "h1", "hanna", 4)
	m.Join(ctx, joiner, "u2", "bob", id)

	m.HandleDisconnect(ctx, joiner, "u2")

	if _, err := st.Lobby(ctx, id); err != nil {
		t.Fatalf("lobby gone after non-host disconnect: %v", err)
	}
	for _, evt := range host.received() {
		if evt.Type == protocol.TypeLobbyClosed {
			t.Error("host received lobby_closed after a member left")
		}
	}

	// A later host disconnect still closes the lobby, and the departed
	// member gets nothing.
	before := len(joiner.received())
	m.HandleDisconnect(ctx, host, "h1")
	if len(joiner.received()) != before {
		t.Error("departed member still receives lobby broadcasts")
	}
}

func TestDisconnectWithoutLobbyIsNoOp(t *testing.T) {
	m, _ := newTestManager(t)
	p := &capturePeer{}
	m.HandleDisconnect(context.Background(), p, "u1")
	if len(p.received()) != 0 {
		t.Errorf("events = %+v, want none", p.received())
	}
}
