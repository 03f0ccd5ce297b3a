package metrics

import "sync"

// Counter names. One name per observable event; the Prometheus handler
// exposes them all under a single metric with an `event` label.
const (
	WSConnections     = "ws_connections"
	AuthSuccess       = "auth_success"
	AuthFailure       = "auth_failure"
	PresenceOnline    = "presence_online_fanout"
	PresenceOffline   = "presence_offline_fanout"
	FriendRequestSent = "friend_request_notified"
	FriendAccepted    = "friend_accepted_notified"

	LobbyCreated      = "lobby_created"
	LobbyJoined       = "lobby_joined"
	LobbyJoinRejected = "lobby_join_rejected"
	LobbyClosed       = "lobby_closed"

	SignalRelayed        = "signal_relayed"
	SignalDroppedOffline = "signal_dropped_offline"

	DropReasonRateLimited = "rate_limited"
	StoreFailure          = "store_failure"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The master server is expected to plug into a real metrics backend
// eventually; this type keeps the core components observable and testable
// without one.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

// Inc is safe to call on a nil receiver so components can treat metrics as
// optional.
func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
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

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
