// Package api implements the REST surface: account registration and login,
// the friends workflow, and lobby listing. Realtime pushes triggered by
// REST actions (friend_request, friend_accepted) go through the presence
// notifier.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fractured-reality/master-server/internal/auth"
	"github.com/fractured-reality/master-server/internal/httpserver"
	"github.com/fractured-reality/master-server/internal/metrics"
	"github.com/fractured-reality/master-server/internal/presence"
	"github.com/fractured-reality/master-server/internal/session"
	"github.com/fractured-reality/master-server/internal/store"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 20
	minPasswordLen = 6
)

// Handlers carries the dependencies of the REST endpoints. Tokens is nil
// unless login should mint session tokens.
type Handlers struct {
	Store    *store.Store
	Hasher   *auth.PasswordHasher
	Tokens   *auth.TokenManager
	Registry *session.Registry
	Presence *presence.Notifier
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Register installs the REST routes on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/register", h.handleRegister)
	mux.HandleFunc("POST /api/login", h.handleLogin)
	mux.HandleFunc("GET /api/friends/{userId}", h.handleListFriends)
	mux.HandleFunc("POST /api/friends/add", h.handleAddFriend)
	mux.HandleFunc("POST /api/friends/respond", h.handleRespondFriend)
	mux.HandleFunc("GET /api/lobbies", h.handleListLobbies)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (h *Handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password required")
		return
	}
	if len(req.Username) < minUsernameLen || len(req.Username) > maxUsernameLen {
		writeError(w, http.StatusBadRequest, "Username must be 3-20 characters")
		return
	}
	if len(req.Password) < minPasswordLen {
		writeError(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	hash, err := h.Hasher.Hash(req.Password)
	if err != nil {
		h.Logger.Error("password hash failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	u := store.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UnixMilli(),
	}
	if err := h.Store.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Username already exists")
			return
		}
		h.Metrics.Inc(metrics.StoreFailure)
		h.Logger.Error("register failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	h.Logger.Info("user registered", "userId", u.ID, "username", u.Username)
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    userPayload{ID: u.ID, Username: u.Username},
	})
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password required")
		return
	}

	u, err := h.Store.UserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "Invalid username or password")
			return
		}
		h.Metrics.Inc(metrics.StoreFailure)
		h.Logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	if !h.Hasher.Verify(req.Password, u.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	resp := map[string]any{
		"success": true,
		"user":    userPayload{ID: u.ID, Username: u.Username},
	}
	if h.Tokens != nil {
		token, err := h.Tokens.Mint(u.ID, u.Username)
		if err != nil {
			h.Logger.Error("token mint failed", "userId", u.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "Server error")
			return
		}
		resp["token"] = token
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

type friendPayload struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Status      string `json:"status"`
	RequestType string `json:"requestType"`
	Online      bool   `json:"online"`
}

func (h *Handlers) handleListFriends(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	entries, err := h.Store.ListFriends(r.Context(), userID)
	if err != nil {
		h.Metrics.Inc(metrics.StoreFailure)
		h.Logger.Error("list friends failed", "userId", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	friends := make([]friendPayload, 0, len(entries))
	for _, e := range entries {
		friends = append(friends, friendPayload{
			ID:          e.UserID,
			Username:    e.Username,
			Status:      e.Status,
			RequestType: e.RequestType,
			Online:      h.Registry.Online(e.UserID),
		})
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"friends": friends})
}

type addFriendRequest struct {
	UserID         string `json:"userId"`
	FriendUsername string `json:"friendUsername"`
}

func (h *Handlers) handleAddFriend(w http.ResponseWriter, r *http.Request) {
	var req addFriendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || req.FriendUsername == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	friend, err := h.Store.UserByUsername(r.Context(), req.FriendUsername)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.Metrics.Inc(metrics.StoreFailure)
		h.Logger.Error("add friend failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	if friend.ID == req.UserID {
		writeError(w, http.StatusBadRequest, "Cannot add yourself as friend")
		return
	}

	err = h.Store.CreateFriendRequest(r.Context(), req.UserID, friend.ID, time.Now().UnixMilli())
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Friend request already exists")
			return
		}
		h.Metrics.Inc(metrics.StoreFailure)
		h.Logger.Error("add friend failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	h.Presence.NotifyFriendRequest(req.UserID, friend.ID)
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

type respondFriendRequest struct {
	UserID   string `json:"userId"`
	FriendID string `json:"friendId"`
	Accept   *bool  `json:"accept"`
}

// handleRespondFriend accepts or rejects a pending request. userId is the
// responder, friendId the original requester; a rejection deletes the edge.
func (h *Handlers) handleRespondFriend(w http.ResponseWriter, r *http.Request) {
	var req respondFriendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || req.FriendID == "" || req.Accept == nil {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	if *req.Accept {
		err := h.Store.AcceptFriendRequest(r.Context(), req.FriendID, req.UserID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.Metrics.Inc(metrics.StoreFailure)
			h.Logger.Error("accept friend failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Server error")
			return
		}
		if err == nil {
			h.Presence.NotifyFriendAccepted(req.UserID, req.FriendID)
		}
	} else {
		if err := h.Store.DeleteFriendEdge(r.Context(), req.FriendID, req.UserID); err != nil {
			h.Metrics.Inc(metrics.StoreFailure)
			h.Logger.Error("reject friend failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Server error")
			return
		}
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

type lobbyPayload struct {
	ID           string `json:"id"`
	HostID       string `json:"hostId"`
	HostUsername string `json:"hostUsername"`
	PlayerCount  int    `json:"playerCount"`
	MaxPlayers   int    `json:"maxPlayers"`
	CreatedAt    int64  `json:"createdAt"`
}

func (h *Handlers) handleListLobbies(w http.ResponseWriter, r *http.Request) {
	lobbies, err := h.Store.ListLobbies(r.Context())
	if err != nil {
		h.Metrics.Inc(metrics.StoreFailure)
		h.Logger.Error("list lobbies failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	out := make([]lobbyPayload, 0, len(lobbies))
	for _, l := range lobbies {
		out = append(out, lobbyPayload{
			ID:           l.ID,
			HostID:       l.HostID,
			HostUsername: l.HostUsername,
			PlayerCount:  l.PlayerCount,
			MaxPlayers:   l.MaxPlayers,
			CreatedAt:    l.CreatedAt,
		})
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"lobbies": out})
}

func writeError(w http.ResponseWriter, status int, message string) {
	httpserver.WriteJSON(w, status, map[string]any{"error": message})
}
