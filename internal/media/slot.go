package media

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// Slot is one of the three fixed transceivers every link carries, in
// m-line order.
type Slot int

const (
	SlotUnknown Slot = iota - 1
	SlotAudio
	SlotCamera
	SlotScreen
)

// Slots lists the fixed layout in creation order.
var Slots = [...]Slot{SlotAudio, SlotCamera, SlotScreen}

func (s Slot) String() string {
	switch s {
	case SlotAudio:
		return "audio"
	case SlotCamera:
		return "camera"
	case SlotScreen:
		return "screen"
	default:
		return "unknown"
	}
}

// Kind is the media kind the slot's transceiver is created with.
func (s Slot) Kind() webrtc.RTPCodecType {
	if s == SlotAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// SlotAt maps a transceiver index to its slot.
func SlotAt(i int) Slot {
	if i < 0 || i >= len(Slots) {
		return SlotUnknown
	}
	return Slots[i]
}

// Source is what a remote track shows.
type Source int

const (
	SourceMicrophone Source = iota
	SourceCamera
	SourceScreen
)

func (s Source) String() string {
	switch s {
	case SourceCamera:
		return "camera"
	case SourceScreen:
		return "screen"
	default:
		return "microphone"
	}
}

// screenMarker tags the stream and track ids of screen captures.
const screenMarker = "screen"

// Classify decides whether an incoming track is camera or screen. The slot
// the track arrived on decides; the stream/track id marker only corroborates,
// and is consulted alone when the slot is unknown.
//
// A track swapped onto a sender after negotiation is never announced with its
// own ids. Over pion its stream and track ids arrive empty, so a late screen
// share is classified by slot alone and corroborated is false.
func Classify(slot Slot, streamID, trackID string) (src Source, corroborated bool) {
	tagged := strings.Contains(strings.ToLower(streamID), screenMarker) ||
		strings.Contains(strings.ToLower(trackID), screenMarker)

	switch slot {
	case SlotAudio:
		return SourceMicrophone, !tagged
	case SlotCamera:
		return SourceCamera, !tagged
	case SlotScreen:
		return SourceScreen, tagged
	}

	if tagged {
		return SourceScreen, false
	}
	return SourceCamera, false
}

// RemoteTrack is a track received from a remote participant.
type RemoteTrack struct {
	Slot         Slot
	Source       Source
	Corroborated bool
	ID           string
	StreamID     string
	Kind         webrtc.RTPCodecType
	Codec        string

	// Track is nil for in-memory connections.
	Track *webrtc.TrackRemote
}
