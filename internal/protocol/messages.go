// Package protocol defines the JSON messages exchanged over the realtime
// WebSocket. Every frame, in either direction, is an object with a "type"
// field; the remaining fields depend on the type.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Client-to-server message types.
const (
	TypeAuthenticate = "authenticate"
	TypeCreateLobby  = "create_lobby"
	TypeJoinLobby    = "join_lobby"
	TypeWebRTCOffer  = "webrtc_offer"
	TypeWebRTCAnswer = "webrtc_answer"
	TypeICECandidate = "webrtc_ice_candidate"
)

// Server-to-client message types.
const (
	TypeAuthenticated  = "authenticated"
	TypeFriendOnline   = "friend_online"
	TypeFriendOffline  = "friend_offline"
	TypeFriendRequest  = "friend_request"
	TypeFriendAccepted = "friend_accepted"
	TypeLobbyCreated   = "lobby_created"
	TypeLobbyJoined    = "lobby_joined"
	TypeLobbyError     = "lobby_error"
	TypePlayerJoined   = "player_joined"
	TypeLobbyClosed    = "lobby_closed"
)

// ClientMessage is the decoded form of one inbound frame. Signaling payloads
// stay raw so they can be relayed without re-encoding.
type ClientMessage struct {
	Type string `json:"type"`

	// authenticate
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`

	// create_lobby / join_lobby
	LobbyID    string `json:"lobbyId,omitempty"`
	MaxPlayers int    `json:"maxPlayers,omitempty"`

	// webrtc_offer / webrtc_answer / ice_candidate
	TargetID  string          `json:"targetId,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// ParseClientMessage decodes and structurally validates one inbound frame.
// Unknown types, unknown fields, and missing required fields are rejected
// here, before any handler runs.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	switch msg.Type {
	case TypeAuthenticate:
		if msg.UserID == "" && msg.Token == "" {
			return nil, fmt.Errorf("%s: missing userId", msg.Type)
		}
	case TypeCreateLobby:
		// maxPlayers is optional; the server applies its default.
		if msg.MaxPlayers < 0 {
			return nil, fmt.Errorf("%s: negative maxPlayers", msg.Type)
		}
	case TypeJoinLobby:
		if msg.LobbyID == "" {
			return nil, fmt.Errorf("%s: missing lobbyId", msg.Type)
		}
	case TypeWebRTCOffer:
		if msg.TargetID == "" {
			return nil, fmt.Errorf("%s: missing targetId", msg.Type)
		}
		if len(msg.Offer) == 0 {
			return nil, fmt.Errorf("%s: missing offer", msg.Type)
		}
	case TypeWebRTCAnswer:
		if msg.TargetID == "" {
			return nil, fmt.Errorf("%s: missing targetId", msg.Type)
		}
		if len(msg.Answer) == 0 {
			return nil, fmt.Errorf("%s: missing answer", msg.Type)
		}
	case TypeICECandidate:
		if msg.TargetID == "" {
			return nil, fmt.Errorf("%s: missing targetId", msg.Type)
		}
		if len(msg.Candidate) == 0 {
			return nil, fmt.Errorf("%s: missing candidate", msg.Type)
		}
	case "":
		return nil, fmt.Errorf("missing type")
	default:
		return nil, fmt.Errorf("unknown type %q", msg.Type)
	}
	return &msg, nil
}

// Event is one outbound frame. Constructors below build the exact shapes
// clients expect; the zero-value fields are omitted from the wire form.
type Event struct {
	Type string `json:"type"`

	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`

	LobbyID string `json:"lobbyId,omitempty"`
	HostID  string `json:"hostId,omitempty"`

	FromID       string          `json:"fromId,omitempty"`
	FromUsername string          `json:"fromUsername,omitempty"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`

	Error string `json:"error,omitempty"`
}

func Authenticated(userID string) Event {
	return Event{Type: TypeAuthenticated, UserID: userID}
}

func FriendOnline(userID, username string) Event {
	return Event{Type: TypeFriendOnline, UserID: userID, Username: username}
}

func FriendOffline(userID string) Event {
	return Event{Type: TypeFriendOffline, UserID: userID}
}

func FriendRequest(fromUserID string) Event {
	return Event{Type: TypeFriendRequest, UserID: fromUserID}
}

func FriendAccepted(byUserID string) Event {
	return Event{Type: TypeFriendAccepted, UserID: byUserID}
}

func LobbyCreated(lobbyID, hostID string) Event {
	return Event{Type: TypeLobbyCreated, LobbyID: lobbyID, HostID: hostID}
}

func LobbyJoined(lobbyID, hostID string) Event {
	return Event{Type: TypeLobbyJoined, LobbyID: lobbyID, HostID: hostID}
}

func LobbyError(message string) Event {
	return Event{Type: TypeLobbyError, Error: message}
}

func PlayerJoined(userID, username string) Event {
	return Event{Type: TypePlayerJoined, UserID: userID, Username: username}
}

func LobbyClosed() Event {
	return Event{Type: TypeLobbyClosed}
}

// WebRTCOffer carries fromUsername so the receiver can label the incoming
// connection without a directory lookup.
func WebRTCOffer(fromID, fromUsername string, offer json.RawMessage) Event {
	return Event{Type: TypeWebRTCOffer, FromID: fromID, FromUsername: fromUsername, Offer: offer}
}

func WebRTCAnswer(fromID string, answer json.RawMessage) Event {
	return Event{Type: TypeWebRTCAnswer, FromID: fromID, Answer: answer}
}

func ICECandidate(fromID string, candidate json.RawMessage) Event {
	return Event{Type: TypeICECandidate, FromID: fromID, Candidate: candidate}
}
