package media

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// LocalTrack is a sample track with an enabled flag. Muting drops samples
// instead of replacing the track, so senders and SDP stay untouched.
type LocalTrack struct {
	*webrtc.TrackLocalStaticSample
	source  Source
	enabled atomic.Bool
}

// NewLocalTrack creates a VP8 video or Opus audio track. Screen tracks carry
// the screen marker in both ids.
func NewLocalTrack(source Source, kind webrtc.RTPCodecType) (*LocalTrack, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	if kind == webrtc.RTPCodecTypeAudio {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}

	prefix := "cam"
	if source == SourceScreen {
		prefix = screenMarker
	}
	streamID := fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
	trackID := fmt.Sprintf("%s-%s", prefix, kind)

	t, err := webrtc.NewTrackLocalStaticSample(codec, trackID, streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", trackID, err)
	}

	lt := &LocalTrack{TrackLocalStaticSample: t, source: source}
	lt.enabled.Store(true)
	return lt, nil
}

func (t *LocalTrack) Source() Source { return t.source }

func (t *LocalTrack) SetEnabled(on bool) { t.enabled.Store(on) }

func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

// WriteSample forwards s unless the track is disabled.
func (t *LocalTrack) WriteSample(s media.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.TrackLocalStaticSample.WriteSample(s)
}
