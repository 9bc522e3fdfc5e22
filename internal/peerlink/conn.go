package peerlink

import (
	"github.com/Sharif2023/StudyNest-sub001/internal/chat"
	"github.com/Sharif2023/StudyNest-sub001/internal/media"
	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// Conn is the peer connection a Link drives. The pion implementation lives in
// pion.go; peerlinktest provides an in-memory one.
type Conn interface {
	SignalingState() webrtc.SignalingState
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	HasRemoteDescription() bool

	// Rollback discards the pending local offer, returning to stable.
	Rollback() error
	AddICECandidate(c webrtc.ICECandidateInit) error

	// AddTransceiver creates the sendrecv transceiver for slot.
	AddTransceiver(slot media.Slot) (Sender, error)
	// Transceivers lists the kinds of every transceiver in m-line order.
	Transceivers() []webrtc.RTPCodecType

	CreateDataChannel(label string) (chat.Transport, error)
	Close() error
}

// Sender is one transceiver's sending half.
type Sender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// Handlers receive connection events. They may be called from any goroutine.
type Handlers struct {
	ICECandidate      func(c webrtc.ICECandidateInit)
	ICEState          func(s webrtc.ICEConnectionState)
	NegotiationNeeded func()
	Track             func(t media.RemoteTrack)
	DataChannel       func(t chat.Transport)
}

// Factory opens a Conn between local and remote.
type Factory func(local, remote protocol.ParticipantID, h Handlers) (Conn, error)

// layoutIntact reports whether kinds is exactly the fixed slot layout.
func layoutIntact(kinds []webrtc.RTPCodecType) bool {
	if len(kinds) != len(media.Slots) {
		return false
	}
	for i, slot := range media.Slots {
		if kinds[i] != slot.Kind() {
			return false
		}
	}
	return true
}
