package protocol

import "encoding/json"

// Message is the envelope for every websocket message between a client and the
// hub. Only the fields relevant to Type are set.
type Message struct {
	Type string `json:"type"`

	// join
	RoomID string `json:"roomId,omitempty"`
	Name   string `json:"name,omitempty"`

	// joined
	ClientID ParticipantID `json:"clientId,omitempty"`
	// An empty, non-nil snapshot is sent as [] so a first joiner still sees
	// the key.
	Participants []ParticipantInfo `json:"participants,omitzero"`

	// peer-joined, peer-left, hand
	ID ParticipantID `json:"id,omitempty"`

	// point-to-point signals; From is always stamped by the hub
	To        ParticipantID   `json:"to,omitempty"`
	From      ParticipantID   `json:"from,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// hand
	Up *bool `json:"up,omitempty"`

	// chat
	MsgID  string `json:"msgId,omitempty"`
	Author string `json:"author,omitempty"`
	Text   string `json:"text,omitempty"`
	TS     int64  `json:"ts,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// ParticipantInfo is one entry of a membership snapshot.
type ParticipantInfo struct {
	ID         ParticipantID `json:"id"`
	Name       string        `json:"name"`
	HandRaised bool          `json:"handRaised,omitempty"`
}

// Client to hub.
const (
	TypeJoin  = "join"
	TypeLeave = "leave"
)

// Relayed point-to-point. A renegotiate asks the initiator of a link to send
// a fresh offer; only the initiator ever offers.
const (
	TypeOffer       = "offer"
	TypeAnswer      = "answer"
	TypeICE         = "ice"
	TypeRenegotiate = "renegotiate"
)

// Broadcast to the rest of the room.
const (
	TypeHand = "hand"
	TypeChat = "chat"
)

// Hub to client.
const (
	TypeJoined     = "joined"
	TypePeerJoined = "peer-joined"
	TypePeerLeft   = "peer-left"
	TypeError      = "error"
)

// IsRelay reports whether t is forwarded verbatim to a single recipient.
func IsRelay(t string) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICE, TypeRenegotiate:
		return true
	}
	return false
}

// Bool returns a pointer to v, for Message.Up.
func Bool(v bool) *bool {
	return &v
}
