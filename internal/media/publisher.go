package media

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"
)

var ErrStopped = errors.New("publisher stopped")

// Sink is a link's fixed set of senders.
type Sink interface {
	ReplaceTrack(slot Slot, track webrtc.TrackLocal) error
}

// Publisher owns the single camera and screen captures and fans them out to
// every attached link. Tracks are shared by reference; nothing here ever adds
// or removes a transceiver.
type Publisher struct {
	mu       sync.Mutex
	capturer Capturer
	camera   *Bundle
	screen   *Bundle
	sinks    map[string]Sink
	muted    map[webrtc.RTPCodecType]bool
	stopped  bool
	log      *slog.Logger
}

func NewPublisher(c Capturer, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		capturer: c,
		sinks:    make(map[string]Sink),
		muted:    make(map[webrtc.RTPCodecType]bool),
		log:      log.With("component", "media"),
	}
}

// StartCamera acquires camera and microphone once. Callers treat failure as
// non-fatal and carry on without local tracks.
func (p *Publisher) StartCamera(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if p.camera != nil {
		return nil
	}

	b, err := p.capturer.Capture(ctx, SourceCamera)
	if err != nil {
		return err
	}
	p.camera = b
	for _, track := range []*LocalTrack{b.Audio, b.Video} {
		if track != nil {
			track.SetEnabled(!p.muted[track.Kind()])
		}
	}

	if b.Audio != nil {
		p.fanout(SlotAudio, b.Audio)
	}
	if b.Video != nil {
		p.fanout(SlotCamera, b.Video)
	}
	return nil
}

// Attach puts the current bundle onto s's slots. Empty slots are left alone.
func (p *Publisher) Attach(id string, s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sinks[id] = s
	if p.camera != nil && p.camera.Audio != nil {
		p.replace(id, s, SlotAudio, p.camera.Audio)
	}
	if p.camera != nil && p.camera.Video != nil {
		p.replace(id, s, SlotCamera, p.camera.Video)
	}
	if p.screen != nil {
		p.replace(id, s, SlotScreen, p.screen.Video)
	}
}

// Detach forgets the sink registered under id.
func (p *Publisher) Detach(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sinks, id)
}

// SetMuted flips the enabled flag of the existing track of kind.
func (p *Publisher) SetMuted(kind webrtc.RTPCodecType, muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.muted[kind] = muted
	if p.camera == nil {
		return
	}
	track := p.camera.Video
	if kind == webrtc.RTPCodecTypeAudio {
		track = p.camera.Audio
	}
	if track != nil {
		track.SetEnabled(!muted)
	}
}

func (p *Publisher) Muted(kind webrtc.RTPCodecType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted[kind]
}

// StartScreenShare captures the screen and places it on every screen slot.
func (p *Publisher) StartScreenShare(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if p.screen != nil {
		return nil
	}

	b, err := p.capturer.Capture(ctx, SourceScreen)
	if err != nil {
		return err
	}
	if b.Video == nil {
		b.Stop()
		return ErrNoDevice
	}
	p.screen = b
	p.fanout(SlotScreen, b.Video)
	return nil
}

// StopScreenShare clears every screen slot and ends the capture.
func (p *Publisher) StopScreenShare() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.screen == nil {
		return
	}
	p.fanout(SlotScreen, nil)
	p.screen.Stop()
	p.screen = nil
}

func (p *Publisher) Sharing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screen != nil
}

// HasCamera reports whether a camera capture is running.
func (p *Publisher) HasCamera() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.camera != nil
}

// Stop ends every capture. Safe to call more than once.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	p.camera.Stop()
	p.screen.Stop()
	p.camera, p.screen = nil, nil
	p.sinks = make(map[string]Sink)
}

// fanout must be called with p.mu held. Sinks are visited in id order.
func (p *Publisher) fanout(slot Slot, track webrtc.TrackLocal) {
	ids := make([]string, 0, len(p.sinks))
	for id := range p.sinks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p.replace(id, p.sinks[id], slot, track)
	}
}

func (p *Publisher) replace(id string, s Sink, slot Slot, track webrtc.TrackLocal) {
	if err := s.ReplaceTrack(slot, track); err != nil {
		p.log.Warn("replace track failed", "peer", id, "slot", slot, "error", err)
	}
}
