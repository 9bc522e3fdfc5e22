package protocol

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// ParticipantIDLength is the width of every hub-assigned participant id.
const ParticipantIDLength = 32

// ParticipantID identifies a participant within a room. Ids are compared
// byte-wise, so every implementation derives the same ordering (and therefore
// the same roles) from the same pair of ids.
type ParticipantID string

// NewParticipantID returns a fresh fixed-width id (lowercase hex of a random UUID).
func NewParticipantID() ParticipantID {
	u := uuid.New()
	return ParticipantID(hex.EncodeToString(u[:]))
}

// Compare returns -1, 0 or +1 comparing id with other byte-wise.
func (id ParticipantID) Compare(other ParticipantID) int {
	return strings.Compare(string(id), string(other))
}

// Less reports whether id orders before other.
func (id ParticipantID) Less(other ParticipantID) bool {
	return id.Compare(other) < 0
}

// Valid reports whether id has the hub's fixed-width hex format.
func (id ParticipantID) Valid() bool {
	if len(id) != ParticipantIDLength {
		return false
	}
	_, err := hex.DecodeString(string(id))
	return err == nil && strings.ToLower(string(id)) == string(id)
}

// Short returns the first eight characters, for display.
func (id ParticipantID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}

func (id ParticipantID) String() string {
	return string(id)
}

// Role is a participant's fixed role on one link.
type Role int

const (
	RoleResponder Role = iota
	RoleInitiator
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// RoleFor returns the local role on the (local, remote) link: the smaller id
// initiates.
func RoleFor(local, remote ParticipantID) Role {
	if local.Less(remote) {
		return RoleInitiator
	}
	return RoleResponder
}

// IsPolite reports whether the local side yields to an offer sent by from.
// It is derived per offer and never stored.
func IsPolite(local, from ParticipantID) bool {
	return from.Compare(local) > 0
}
