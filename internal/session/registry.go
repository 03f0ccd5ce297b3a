// Package session tracks which user identity is bound to which live
// connection. It is the single mutation surface for presence state; every
// outbound notification path resolves its target here.
package session

import "sync"

// Peer is the transport half of a session: something that can deliver a
// server-to-client event. Implementations must be comparable (the registry
// keys on them) and Send must be safe for concurrent use.
type Peer interface {
	Send(event any) error
}

type binding struct {
	peer     Peer
	username string
}

// Registry is the bidirectional mapping between authenticated users and
// their active connections.
//
// Invariants: at most one session per user identity, at most one user
// identity per connection. A newer authentication for the same user
// displaces the older connection's binding (last-authenticated-wins); the
// old connection is not closed, its identity mapping is simply orphaned.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]binding
	byPeer map[Peer]string
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]binding),
		byPeer: make(map[Peer]string),
	}
}

// Register installs the mapping userID <-> peer, displacing any prior
// session for userID and any prior identity bound to peer.
func (r *Registry) Register(userID, username string, p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byUser[userID]; ok && prev.peer != p {
		delete(r.byPeer, prev.peer)
	}
	if prevUser, ok := r.byPeer[p]; ok && prevUser != userID {
		delete(r.byUser, prevUser)
	}

	r.byUser[userID] = binding{peer: p, username: username}
	r.byPeer[p] = userID
}

// Lookup returns the connection currently bound to userID.
func (r *Registry) Lookup(userID string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	return b.peer, true
}

// Online reports whether userID has a live session.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// Unregister removes the binding for p and returns the user identity that
// had been bound, if any. Unregistering an unknown connection is a no-op.
//
// A connection whose identity was displaced by a newer authentication holds
// no binding anymore, so its disconnect must not tear down the newer
// session; only the user entry still pointing at p is removed.
func (r *Registry) Unregister(p Peer) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byPeer[p]
	if !ok {
		return "", false
	}
	delete(r.byPeer, p)
	if b, ok := r.byUser[userID]; ok && b.peer == p {
		delete(r.byUser, userID)
	}
	return userID, true
}
