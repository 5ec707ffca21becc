package model

import (
	"encoding/json"
	"errors"
	"time"
)

// MaxRoomIDLen bounds client-supplied room identifiers.
const MaxRoomIDLen = 10

var ErrInvalidRoomID = errors.New("invalid room id")

// NormalizeRoomID upper-cases a client-supplied room identifier and validates
// it: 1 to 10 characters, A-Z and 0-9 only.
func NormalizeRoomID(raw string) (string, error) {
	if raw == "" || len(raw) > MaxRoomIDLen {
		return "", ErrInvalidRoomID
	}
	id := make([]byte, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", ErrInvalidRoomID
		}
		id[i] = c
	}
	return string(id), nil
}

// Connection roles, fixed at join time.
const (
	RoleHost     = "host"
	RoleListener = "listener"
)

// Inbound message types (client to server).
const (
	TypeJoinRoom     = "join-room"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeMuteStream   = "mute-stream"
	TypeUnmuteStream = "unmute-stream"
)

// Outbound message types (server to client).
const (
	TypeHostJoined           = "host-joined"
	TypeListenerJoined       = "listener-joined"
	TypeHostConnected        = "host-connected"
	TypeHostDisconnected     = "host-disconnected"
	TypeListenerLeft         = "listener-left"
	TypeListenerCountUpdated = "listener-count-updated"
	TypeHostMuted            = "host-muted"
	TypeHostUnmuted          = "host-unmuted"
	TypeError                = "error"
)

// Message is the websocket envelope for every inbound and outbound event.
// Payload shape depends on Type; signaling payloads stay opaque.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	Role   string `json:"role"`
}

// OfferPayload doubles as the inbound (To set) and outbound (From set) shape.
type OfferPayload struct {
	To    string          `json:"to,omitempty"`
	From  string          `json:"from,omitempty"`
	Offer json.RawMessage `json:"offer"`
}

type AnswerPayload struct {
	To     string          `json:"to,omitempty"`
	From   string          `json:"from,omitempty"`
	Answer json.RawMessage `json:"answer"`
}

type ICECandidatePayload struct {
	To        string          `json:"to,omitempty"`
	From      string          `json:"from,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
}

type HostJoinedPayload struct {
	RoomID string `json:"roomId"`
}

// ListenerJoinedSelfPayload is sent to the listener that just joined.
type ListenerJoinedSelfPayload struct {
	RoomID string `json:"roomId"`
}

// ListenerJoinedPayload is sent to the host when a listener arrives. Same
// event name as the self variant, different shape; clients expect both.
type ListenerJoinedPayload struct {
	ListenerID string `json:"listenerId"`
}

type ListenerLeftPayload struct {
	ListenerID string `json:"listenerId"`
}

type ListenerCountPayload struct {
	Count int `json:"count"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Session is the core's record of a joined connection. Role and RoomID never
// change for the life of the connection.
type Session struct {
	ID     string
	Role   string
	RoomID string
}

// RoomView is the read-only REST projection of a room.
type RoomView struct {
	RoomID        string    `json:"room_id"`
	HasHost       bool      `json:"has_host"`
	ListenerCount int       `json:"listener_count"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// RoomSummary is one row of the active-rooms listing.
type RoomSummary struct {
	RoomID        string    `json:"room_id"`
	ListenerCount int       `json:"listener_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// Wire connects one websocket connection to the core: RX carries parsed
// inbound messages, TX carries outbound messages for the write pump.
type Wire struct {
	RX chan Message
	TX chan Message
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Message),
		TX: make(chan Message),
	}
}
