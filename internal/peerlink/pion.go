package peerlink

import (
	"fmt"
	"log/slog"

	"github.com/Sharif2023/StudyNest-sub001/internal/chat"
	"github.com/Sharif2023/StudyNest-sub001/internal/logging"
	"github.com/Sharif2023/StudyNest-sub001/internal/media"
	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// PionConfig configures real peer connections.
type PionConfig struct {
	ICEServers []webrtc.ICEServer
	ForceRelay bool

	// IncludeLoopback gathers 127.0.0.1 candidates; used by loopback tests.
	IncludeLoopback bool

	Log *slog.Logger
}

// NewPionFactory builds a pion API with the default codecs and interceptors
// and returns a Factory opening connections from it.
func NewPionFactory(cfg PionConfig) (Factory, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{LoggerFactory: logging.NewPionFactory(log)}
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	pcConfig := webrtc.Configuration{ICEServers: cfg.ICEServers}
	if cfg.ForceRelay {
		pcConfig.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}

	return func(local, remote protocol.ParticipantID, h Handlers) (Conn, error) {
		pc, err := api.NewPeerConnection(pcConfig)
		if err != nil {
			return nil, err
		}
		c := &pionConn{pc: pc}
		c.wire(h)
		return c, nil
	}, nil
}

type pionConn struct {
	pc *webrtc.PeerConnection
}

func (c *pionConn) wire(h Handlers) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		// nil marks the end of gathering; trickle needs no terminator.
		if cand != nil && h.ICECandidate != nil {
			h.ICECandidate(cand.ToJSON())
		}
	})
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		if h.ICEState != nil {
			h.ICEState(s)
		}
	})
	c.pc.OnNegotiationNeeded(func() {
		if h.NegotiationNeeded != nil {
			h.NegotiationNeeded()
		}
	})
	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if h.Track == nil {
			return
		}
		slot := c.slotOf(receiver)
		src, corroborated := media.Classify(slot, track.StreamID(), track.ID())
		h.Track(media.RemoteTrack{
			Slot:         slot,
			Source:       src,
			Corroborated: corroborated,
			ID:           track.ID(),
			StreamID:     track.StreamID(),
			Kind:         track.Kind(),
			Codec:        track.Codec().MimeType,
			Track:        track,
		})
	})
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if h.DataChannel != nil {
			h.DataChannel(dc)
		}
	})
}

// slotOf maps a receiver to the slot of the transceiver that owns it. Remote
// m-lines bind to the pre-created transceivers in creation order.
func (c *pionConn) slotOf(receiver *webrtc.RTPReceiver) media.Slot {
	for i, t := range c.pc.GetTransceivers() {
		if t.Receiver() == receiver {
			return media.SlotAt(i)
		}
	}
	return media.SlotUnknown
}

func (c *pionConn) SignalingState() webrtc.SignalingState { return c.pc.SignalingState() }

func (c *pionConn) CreateOffer() (webrtc.SessionDescription, error) { return c.pc.CreateOffer(nil) }

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) { return c.pc.CreateAnswer(nil) }

func (c *pionConn) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *pionConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *pionConn) HasRemoteDescription() bool { return c.pc.RemoteDescription() != nil }

// Rollback needs the pending offer's SDP; pion rejects an empty rollback. pion
// also has no transition from have-local-offer back to stable, so in practice
// this fails with ErrRollbackUnsupported. Links therefore never let both ends
// offer.
func (c *pionConn) Rollback() error {
	pending := c.pc.PendingLocalDescription()
	if pending == nil {
		return ErrNoPendingOffer
	}
	err := c.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeRollback,
		SDP:  pending.SDP,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRollbackUnsupported, err)
	}
	return nil
}

func (c *pionConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(cand)
}

func (c *pionConn) AddTransceiver(slot media.Slot) (Sender, error) {
	t, err := c.pc.AddTransceiverFromKind(slot.Kind(), webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return nil, err
	}
	return t.Sender(), nil
}

func (c *pionConn) Transceivers() []webrtc.RTPCodecType {
	ts := c.pc.GetTransceivers()
	kinds := make([]webrtc.RTPCodecType, len(ts))
	for i, t := range ts {
		kinds[i] = t.Kind()
	}
	return kinds
}

func (c *pionConn) CreateDataChannel(label string) (chat.Transport, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return dc, nil
}

func (c *pionConn) Close() error { return c.pc.Close() }
