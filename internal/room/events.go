package room

import (
	"github.com/Sharif2023/StudyNest-sub001/internal/chat"
	"github.com/Sharif2023/StudyNest-sub001/internal/media"
	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// Event is anything the session reports to its consumer.
type Event interface {
	event()
}

type PeerJoined struct {
	Participant Participant
}

// PeerLeft tells the consumer to drop every track of ID.
type PeerLeft struct {
	ID protocol.ParticipantID
}

type ICEStateChanged struct {
	ID    protocol.ParticipantID
	State webrtc.ICEConnectionState
}

type TrackAdded struct {
	ID    protocol.ParticipantID
	Track media.RemoteTrack
}

type HandChanged struct {
	ID protocol.ParticipantID
	Up bool
}

// Via names the path a chat message arrived on.
type Via int

const (
	ViaLocal Via = iota
	ViaDataChannel
	ViaHub
)

func (v Via) String() string {
	switch v {
	case ViaDataChannel:
		return "datachannel"
	case ViaHub:
		return "hub"
	default:
		return "local"
	}
}

// ChatReceived is emitted once per delivery path. The same Message.ID can
// arrive on both the data channel and the hub.
type ChatReceived struct {
	From    protocol.ParticipantID
	Message chat.Message
	Via     Via
}

// MediaDegraded reports a local capture failure. The session carries on.
type MediaDegraded struct {
	Source media.Source
	Err    error
}

type ServerError struct {
	Message string
}

// Disconnected is emitted once when the hub connection ends.
type Disconnected struct{}

func (PeerJoined) event()      {}
func (PeerLeft) event()        {}
func (ICEStateChanged) event() {}
func (TrackAdded) event()      {}
func (HandChanged) event()     {}
func (ChatReceived) event()    {}
func (MediaDegraded) event()   {}
func (ServerError) event()     {}
func (Disconnected) event()    {}
