package session

import "testing"

type fakePeer struct {
	name string
}

func (p *fakePeer) Send(event any) error { return nil }

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	p := &fakePeer{name: "c1"}

	if _, ok := r.Lookup("u1"); ok {
		t.Fatal("Lookup before Register succeeded")
	}

	r.Register("u1", "alice", p)

	got, ok := r.Lookup("u1")
	if !ok || got != p {
		t.Fatalf("Lookup = %v, %v; want p, true", got, ok)
	}
	if !r.Online("u1") {
		t.Error("Online = false after Register")
	}
}

func TestLastAuthenticatedWins(t *testing.T) {
	r := NewRegistry()
	old := &fakePeer{name: "old"}
	fresh := &fakePeer{name: "fresh"}

	r.Register("u1", "alice", old)
	r.Register("u1", "alice", fresh)

	got, ok := r.Lookup("u1")
	if !ok || got != fresh {
		t.Fatalf("Lookup = %v, want the newer connection", got)
	}

	// The displaced connection disconnecting must not tear down the newer
	// session.
	if userID, ok := r.Unregister(old); ok {
		t.Fatalf("Unregister(old) = %q, true; want no binding", userID)
	}
	if !r.Online("u1") {
		t.Error("newer session was removed by the displaced connection")
	}
}

func TestUnregisterReturnsBoundUser(t *testing.T) {
	r := NewRegistry()
	p := &fakePeer{name: "c1"}
	r.Register("u1", "alice", p)

	userID, ok := r.Unregister(p)
	if !ok || userID != "u1" {
		t.Fatalf("Unregister = %q, %v; want u1, true", userID, ok)
	}
	if r.Online("u1") {
		t.Error("Online = true after Unregister")
	}

	// Idempotent.
	if _, ok := r.Unregister(p); ok {
		t.Error("second Unregister reported a binding")
	}
}

func TestReauthenticateOnSameConnection(t *testing.T) {
	r := NewRegistry()
	p := &fakePeer{name: "c1"}

	r.Register("u1", "alice", p)
	r.Register("u2", "bob", p)

	if r.Online("u1") {
		t.Error("old identity still online after re-authentication")
	}
	if got, ok := r.Lookup("u2"); !ok || got != p {
		t.Fatalf("Lookup(u2) = %v, %v", got, ok)
	}

	userID, ok := r.Unregister(p)
	if !ok || userID != "u2" {
		t.Fatalf("Unregister = %q, %v; want u2, true", userID, ok)
	}
}
