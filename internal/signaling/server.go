// Package signaling hosts the realtime WebSocket endpoint. One connection
// carries everything after authentication: presence transitions, lobby
// commands, and WebRTC negotiation relay.
package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/fractured-reality/master-server/internal/auth"
	"github.com/fractured-reality/master-server/internal/config"
	"github.com/fractured-reality/master-server/internal/lobby"
	"github.com/fractured-reality/master-server/internal/metrics"
	"github.com/fractured-reality/master-server/internal/presence"
	"github.com/fractured-reality/master-server/internal/protocol"
	"github.com/fractured-reality/master-server/internal/session"
	"github.com/fractured-reality/master-server/internal/store"
)

// Server upgrades connections at the realtime endpoint and runs one read
// loop per client. The first message must be authenticate; everything else
// before it closes the connection.
type Server struct {
	cfg      config.Config
	store    *store.Store
	registry *session.Registry
	presence *presence.Notifier
	lobbies  *lobby.Manager
	relay    *Relay
	tokens   *auth.TokenManager
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewServer(
	cfg config.Config,
	st *store.Store,
	reg *session.Registry,
	pres *presence.Notifier,
	lobbies *lobby.Manager,
	relay *Relay,
	tokens *auth.TokenManager,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		registry: reg,
		presence: pres,
		lobbies:  lobbies,
		relay:    relay,
		tokens:   tokens,
		logger:   logger,
		metrics:  m,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(cfg.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin.
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.metrics.Inc(metrics.WSConnections)
	client := newWSClient(conn)
	defer client.close()

	conn.SetReadLimit(s.cfg.MaxMessageBytes)

	// Until authentication completes, the read deadline is the auth window.
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSAuthTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	})

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MaxMessagesPerSecond), s.cfg.MaxMessagesPerSecond)

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(client, pingDone)

	var userID, username string
	authenticated := false

	defer func() {
		if !authenticated {
			return
		}
		ctx := context.Background()
		s.lobbies.HandleDisconnect(ctx, client, userID)
		// A connection displaced by a newer login holds no registry binding
		// anymore; only the connection that still owns the session emits the
		// offline fan-out.
		if _, ok := s.registry.Unregister(client); ok {
			s.presence.UserOffline(ctx, userID)
			s.logger.Info("user disconnected", "userId", userID)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !authenticated && isTimeout(err) {
				client.closeWith(websocket.ClosePolicyViolation, "authentication timeout")
			}
			return
		}

		if !limiter.Allow() {
			s.metrics.Inc(metrics.DropReasonRateLimited)
			client.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.logger.Debug("rejecting malformed message", "error", err)
			client.closeWith(websocket.CloseUnsupportedData, "invalid message")
			return
		}

		if !authenticated {
			if msg.Type != protocol.TypeAuthenticate {
				client.closeWith(websocket.ClosePolicyViolation, "authentication required")
				return
			}
			userID, username, err = s.authenticate(r.Context(), msg)
			if err != nil {
				s.metrics.Inc(metrics.AuthFailure)
				s.logger.Info("ws authentication failed", "error", err)
				client.closeWith(websocket.ClosePolicyViolation, "authentication failed")
				return
			}
			authenticated = true
			s.metrics.Inc(metrics.AuthSuccess)
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))

			s.registry.Register(userID, username, client)
			if err := client.Send(protocol.Authenticated(userID)); err != nil {
				return
			}
			// Fan out only after the registry holds the new session, so a
			// friend reacting immediately can already reach this user.
			s.presence.UserOnline(context.Background(), userID, username)
			s.logger.Info("user authenticated", "userId", userID, "username", username)
			continue
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
		s.dispatch(client, userID, username, msg)
	}
}

func (s *Server) dispatch(client *wsClient, userID, username string, msg *protocol.ClientMessage) {
	ctx := context.Background()
	switch msg.Type {
	case protocol.TypeAuthenticate:
		// Already authenticated; a second authenticate is a protocol error.
		client.closeWith(websocket.ClosePolicyViolation, "already authenticated")
	case protocol.TypeCreateLobby:
		s.lobbies.Create(ctx, client, userID, username, msg.MaxPlayers)
	case protocol.TypeJoinLobby:
		s.lobbies.Join(ctx, client, userID, username, msg.LobbyID)
	case protocol.TypeWebRTCOffer:
		s.relay.Offer(userID, username, msg.TargetID, msg.Offer)
	case protocol.TypeWebRTCAnswer:
		s.relay.Answer(userID, msg.TargetID, msg.Answer)
	case protocol.TypeICECandidate:
		s.relay.Candidate(userID, msg.TargetID, msg.Candidate)
	}
}

// authenticate resolves the session identity from the authenticate message.
// With AUTH_MODE=jwt the identity comes from verified token claims and the
// message's userId/username fields are ignored; with AUTH_MODE=none the
// client-declared identity is trusted as-is.
func (s *Server) authenticate(ctx context.Context, msg *protocol.ClientMessage) (userID, username string, err error) {
	switch s.cfg.AuthMode {
	case config.AuthModeJWT:
		if msg.Token == "" {
			return "", "", errors.New("missing token")
		}
		claims, err := s.tokens.Verify(msg.Token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID, claims.Username, nil
	default:
		if msg.UserID == "" {
			return "", "", errors.New("missing userId")
		}
		username := msg.Username
		if username == "" {
			if u, err := s.store.UserByID(ctx, msg.UserID); err == nil {
				username = u.Username
			}
		}
		return msg.UserID, username, nil
	}
}

func (s *Server) pingLoop(client *wsClient, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.WSPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := client.ping(); err != nil {
				return
			}
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
