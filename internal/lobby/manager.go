// Package lobby manages game lobby lifecycle: creation, joins with an
// atomic capacity check, membership broadcasts, and host-disconnect close.
package lobby

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fractured-reality/master-server/internal/metrics"
	"github.com/fractured-reality/master-server/internal/protocol"
	"github.com/fractured-reality/master-server/internal/session"
	"github.com/fractured-reality/master-server/internal/store"
)

// Error strings surfaced to clients via lobby_error. These are part of the
// wire contract.
const (
	errLobbyNotFound  = "Lobby not found"
	errLobbyFull      = "Lobby is full"
	errCreateFailed   = "Failed to create lobby"
	errJoinFailed     = "Failed to join lobby"
	errAlreadyInLobby = "Already in a lobby"
)

// Manager owns the durable lobby rows and the in-memory membership needed
// for broadcasts. The capacity check lives in the database so that two
// racing joins against the last slot cannot both succeed; the membership
// maps only track which live connections to broadcast to.
type Manager struct {
	store             *store.Store
	logger            *slog.Logger
	metrics           *metrics.Metrics
	defaultMaxPlayers int

	mu      sync.Mutex
	members map[string]map[session.Peer]struct{} // lobbyID -> connections in it
	byPeer  map[session.Peer]string              // connection -> lobbyID
}

func NewManager(st *store.Store, logger *slog.Logger, m *metrics.Metrics, defaultMaxPlayers int) *Manager {
	return &Manager{
		store:             st,
		logger:            logger,
		metrics:           m,
		defaultMaxPlayers: defaultMaxPlayers,
		members:           make(map[string]map[session.Peer]struct{}),
		byPeer:            make(map[session.Peer]string),
	}
}

// Create makes a new lobby hosted by the caller and replies with
// lobby_created. maxPlayers <= 0 selects the server default.
func (m *Manager) Create(ctx context.Context, p session.Peer, userID, username string, maxPlayers int) {
	if maxPlayers <= 0 {
		maxPlayers = m.defaultMaxPlayers
	}

	m.mu.Lock()
	if _, ok := m.byPeer[p]; ok {
		m.mu.Unlock()
		m.sendError(p, errAlreadyInLobby)
		return
	}
	m.mu.Unlock()

	l := store.Lobby{
		ID:           uuid.NewString(),
		HostID:       userID,
		HostUsername: username,
		PlayerCount:  1,
		MaxPlayers:   maxPlayers,
		CreatedAt:    time.Now().UnixMilli(),
	}
	if err := m.store.CreateLobby(ctx, l); err != nil {
		m.metrics.Inc(metrics.StoreFailure)
		m.logger.Error("lobby create failed", "hostId", userID, "error", err)
		m.sendError(p, errCreateFailed)
		return
	}

	m.mu.Lock()
	m.members[l.ID] = map[session.Peer]struct{}{p: {}}
	m.byPeer[p] = l.ID
	m.mu.Unlock()

	m.metrics.Inc(metrics.LobbyCreated)
	m.logger.Info("lobby created",
		"lobbyId", l.ID, "hostId", userID, "maxPlayers", maxPlayers)
	m.send(p, protocol.LobbyCreated(l.ID, userID))
}

// Join adds the caller to an existing lobby. The free-slot check and the
// player_count increment happen in one database statement; on success the
// caller gets lobby_joined and every member, the new arrival included,
// gets player_joined.
func (m *Manager) Join(ctx context.Context, p session.Peer, userID, username, lobbyID string) {
	m.mu.Lock()
	if _, ok := m.byPeer[p]; ok {
		m.mu.Unlock()
		m.sendError(p, errAlreadyInLobby)
		return
	}
	m.mu.Unlock()

	if err := m.store.AddLobbyPlayer(ctx, lobbyID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			m.sendError(p, errLobbyNotFound)
		case errors.Is(err, store.ErrLobbyFull):
			m.metrics.Inc(metrics.LobbyJoinRejected)
			m.sendError(p, errLobbyFull)
		default:
			m.metrics.Inc(metrics.StoreFailure)
			m.logger.Error("lobby join failed", "lobbyId", lobbyID, "userId", userID, "error", err)
			m.sendError(p, errJoinFailed)
		}
		return
	}

	l, err := m.store.Lobby(ctx, lobbyID)
	if err != nil {
		// The slot was claimed but the lobby vanished before the read; the
		// host must have closed it concurrently.
		m.sendError(p, errLobbyNotFound)
		return
	}

	m.mu.Lock()
	peers := m.members[lobbyID]
	if peers == nil {
		peers = make(map[session.Peer]struct{})
		m.members[lobbyID] = peers
	}
	peers[p] = struct{}{}
	m.byPeer[p] = lobbyID
	all := make([]session.Peer, 0, len(peers))
	for member := range peers {
		all = append(all, member)
	}
	m.mu.Unlock()

	m.metrics.Inc(metrics.LobbyJoined)
	m.logger.Info("player joined lobby",
		"lobbyId", lobbyID, "userId", userID, "playerCount", l.PlayerCount)
	m.send(p, protocol.LobbyJoined(lobbyID, l.HostID))

	evt := protocol.PlayerJoined(userID, username)
	for _, member := range all {
		m.send(member, evt)
	}
}

// HandleDisconnect removes the departing connection from its lobby. If it
// was hosting, the lobby row is deleted and every remaining member gets
// lobby_closed; a non-host departure just stops the broadcasts.
func (m *Manager) HandleDisconnect(ctx context.Context, p session.Peer, userID string) {
	m.mu.Lock()
	lobbyID, ok := m.byPeer[p]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.byPeer, p)
	peers := m.members[lobbyID]
	delete(peers, p)
	m.mu.Unlock()

	deleted, err := m.store.DeleteLobby(ctx, lobbyID, userID)
	if err != nil {
		m.metrics.Inc(metrics.StoreFailure)
		m.logger.Error("lobby close failed", "lobbyId", lobbyID, "hostId", userID, "error", err)
		return
	}
	if !deleted {
		return
	}

	m.mu.Lock()
	remaining := m.members[lobbyID]
	delete(m.members, lobbyID)
	for other := range remaining {
		delete(m.byPeer, other)
	}
	m.mu.Unlock()

	m.metrics.Inc(metrics.LobbyClosed)
	m.logger.Info("lobby closed by host disconnect",
		"lobbyId", lobbyID, "hostId", userID, "remaining", len(remaining))
	evt := protocol.LobbyClosed()
	for other := range remaining {
		m.send(other, evt)
	}
}

// List returns all open lobbies, newest first.
func (m *Manager) List(ctx context.Context) ([]store.Lobby, error) {
	return m.store.ListLobbies(ctx)
}

func (m *Manager) send(p session.Peer, evt protocol.Event) {
	if err := p.Send(evt); err != nil {
		m.logger.Warn("lobby event send failed", "event", evt.Type, "error", err)
	}
}

func (m *Manager) sendError(p session.Peer, message string) {
	m.send(p, protocol.LobbyError(message))
}
