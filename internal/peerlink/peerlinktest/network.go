// Package peerlinktest provides an in-memory peer connection for tests. It
// models the JSEP signaling state machine, pairs the two ends of each link,
// and reports connectivity, tracks and data channels once both ends have
// completed an offer/answer exchange.
package peerlinktest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Sharif2023/StudyNest-sub001/internal/chat"
	"github.com/Sharif2023/StudyNest-sub001/internal/media"
	"github.com/Sharif2023/StudyNest-sub001/internal/peerlink"
	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
	"github.com/pion/webrtc/v4"
)

var (
	ErrInvalidState = errors.New("invalid signaling state")
	ErrClosed       = errors.New("connection closed")
	ErrNoRemote     = errors.New("no remote description")
)

type key struct{ local, remote protocol.ParticipantID }

// Network holds every fake connection created through its Factory. All conn
// state sits behind the network's single mutex; handlers are always invoked
// after it is released.
type Network struct {
	mu       sync.Mutex
	conns    map[key]*Conn
	port     int
	rollback bool
}

func NewNetwork() *Network {
	return &Network{conns: make(map[key]*Conn), port: 40000}
}

// AllowRollback lets conns discard a pending local offer. By default they
// refuse, as pion does.
func (n *Network) AllowRollback() {
	n.mu.Lock()
	n.rollback = true
	n.mu.Unlock()
}

// Factory opens conns on n.
func (n *Network) Factory() peerlink.Factory {
	return func(local, remote protocol.ParticipantID, h peerlink.Handlers) (peerlink.Conn, error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		c := &Conn{
			net:    n,
			local:  local,
			remote: remote,
			h:      h,
			state:  webrtc.SignalingStateStable,
		}
		n.conns[key{local, remote}] = c
		return c, nil
	}
}

// Conn returns the conn local opened towards remote, or nil.
func (n *Network) Conn(local, remote protocol.ParticipantID) *Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conns[key{local, remote}]
}

// Conn is one end of a fake peer connection.
type Conn struct {
	net           *Network
	local, remote protocol.ParticipantID
	h             peerlink.Handlers

	state      webrtc.SignalingState
	senders    []*sender
	channel    *Channel
	hasRemote  bool
	remoteApp  bool
	exchanged  bool
	connected  bool
	closed     bool
	version    int
	offers     []string
	candidates []webrtc.ICECandidateInit
}

func (c *Conn) peer() *Conn { return c.net.conns[key{c.remote, c.local}] }

// Offers returns every offer SDP this conn created, in order.
func (c *Conn) Offers() []string {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return append([]string(nil), c.offers...)
}

// Candidates returns the remote candidates that were applied.
func (c *Conn) Candidates() []webrtc.ICECandidateInit {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.candidates...)
}

// Connected reports whether both ends have completed an exchange.
func (c *Conn) Connected() bool {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.connected
}

func (c *Conn) SignalingState() webrtc.SignalingState {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.state
}

func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	c.version++
	sdp := c.sdp()
	c.offers = append(c.offers, sdp)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}, nil
}

func (c *Conn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if c.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer in %s: %w", c.state, ErrInvalidState)
	}
	c.version++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: c.sdp()}, nil
}

func (c *Conn) SetLocalDescription(d webrtc.SessionDescription) error {
	c.net.mu.Lock()
	if c.closed {
		c.net.mu.Unlock()
		return ErrClosed
	}
	switch {
	case d.Type == webrtc.SDPTypeOffer && c.state == webrtc.SignalingStateStable:
		c.state = webrtc.SignalingStateHaveLocalOffer
	case d.Type == webrtc.SDPTypeAnswer && c.state == webrtc.SignalingStateHaveRemoteOffer:
		c.state = webrtc.SignalingStateStable
		c.exchanged = true
	default:
		state := c.state
		c.net.mu.Unlock()
		return fmt.Errorf("set local %s in %s: %w", d.Type, state, ErrInvalidState)
	}
	c.net.port++
	cand := webrtc.ICECandidateInit{
		Candidate: fmt.Sprintf("candidate:1 1 udp 2130706431 127.0.0.1 %d typ host", c.net.port),
	}
	calls := c.net.connectLocked(c)
	c.net.mu.Unlock()

	if c.h.ICECandidate != nil {
		c.h.ICECandidate(cand)
	}
	run(calls)
	return nil
}

func (c *Conn) SetRemoteDescription(d webrtc.SessionDescription) error {
	c.net.mu.Lock()
	if c.closed {
		c.net.mu.Unlock()
		return ErrClosed
	}
	switch {
	case d.Type == webrtc.SDPTypeOffer && c.state == webrtc.SignalingStateStable:
		c.state = webrtc.SignalingStateHaveRemoteOffer
		c.remoteApp = strings.Contains(d.SDP, "m=application")
	case d.Type == webrtc.SDPTypeAnswer && c.state == webrtc.SignalingStateHaveLocalOffer:
		c.state = webrtc.SignalingStateStable
		c.exchanged = true
	default:
		state := c.state
		c.net.mu.Unlock()
		return fmt.Errorf("set remote %s in %s: %w", d.Type, state, ErrInvalidState)
	}
	c.hasRemote = true
	calls := c.net.connectLocked(c)
	c.net.mu.Unlock()

	run(calls)
	return nil
}

func (c *Conn) HasRemoteDescription() bool {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.hasRemote
}

func (c *Conn) Rollback() error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if c.state != webrtc.SignalingStateHaveLocalOffer {
		return peerlink.ErrNoPendingOffer
	}
	if !c.net.rollback {
		return fmt.Errorf("%w: %s to stable: %w", peerlink.ErrRollbackUnsupported, c.state, ErrInvalidState)
	}
	c.state = webrtc.SignalingStateStable
	return nil
}

func (c *Conn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.hasRemote {
		return ErrNoRemote
	}
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *Conn) AddTransceiver(slot media.Slot) (peerlink.Sender, error) {
	c.net.mu.Lock()
	if c.closed {
		c.net.mu.Unlock()
		return nil, ErrClosed
	}
	s := &sender{conn: c, slot: slot, kind: slot.Kind()}
	c.senders = append(c.senders, s)
	stable := c.state == webrtc.SignalingStateStable
	c.net.mu.Unlock()

	if stable && c.h.NegotiationNeeded != nil {
		c.h.NegotiationNeeded()
	}
	return s, nil
}

func (c *Conn) Transceivers() []webrtc.RTPCodecType {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	kinds := make([]webrtc.RTPCodecType, len(c.senders))
	for i, s := range c.senders {
		kinds[i] = s.kind
	}
	return kinds
}

// AddRawTransceiver appends a transceiver outside the fixed layout.
func (c *Conn) AddRawTransceiver(kind webrtc.RTPCodecType) {
	c.net.mu.Lock()
	c.senders = append(c.senders, &sender{conn: c, slot: media.SlotUnknown, kind: kind})
	c.net.mu.Unlock()
	if c.h.NegotiationNeeded != nil {
		c.h.NegotiationNeeded()
	}
}

func (c *Conn) CreateDataChannel(label string) (chat.Transport, error) {
	c.net.mu.Lock()
	if c.closed {
		c.net.mu.Unlock()
		return nil, ErrClosed
	}
	c.channel = &Channel{label: label, state: webrtc.DataChannelStateConnecting}
	stable := c.state == webrtc.SignalingStateStable
	c.net.mu.Unlock()

	if stable && c.h.NegotiationNeeded != nil {
		c.h.NegotiationNeeded()
	}
	return c.channel, nil
}

func (c *Conn) Close() error {
	c.net.mu.Lock()
	if c.closed {
		c.net.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.state = webrtc.SignalingStateClosed
	var calls []func()
	if c.channel != nil {
		calls = append(calls, c.channel.closeBoth)
	}
	if p := c.peer(); p != nil && !p.closed && p.connected {
		p.connected = false
		if p.h.ICEState != nil {
			h := p.h.ICEState
			calls = append(calls, func() { h(webrtc.ICEConnectionStateDisconnected) })
		}
	}
	c.net.mu.Unlock()

	run(calls)
	return nil
}

// sdp renders one m-line per transceiver, plus the application m-line once
// either side has a data channel.
func (c *Conn) sdp() string {
	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\no=- 1 %d IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n", c.version)
	mid := 0
	for _, s := range c.senders {
		fmt.Fprintf(&b, "m=%s 9 UDP/TLS/RTP/SAVPF 96\r\na=mid:%d\r\na=sendrecv\r\n", s.kind, mid)
		mid++
	}
	if c.channel != nil || c.remoteApp {
		fmt.Fprintf(&b, "m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\na=mid:%d\r\n", mid)
	}
	return b.String()
}

// connectLocked pairs c with its peer once both have finished an exchange and
// returns the handler calls to make after unlocking.
func (n *Network) connectLocked(c *Conn) []func() {
	p := c.peer()
	if p == nil || c.connected || p.closed || !c.exchanged || !p.exchanged {
		return nil
	}
	c.connected, p.connected = true, true

	var calls []func()
	for _, end := range []*Conn{c, p} {
		if h := end.h.ICEState; h != nil {
			calls = append(calls,
				func() { h(webrtc.ICEConnectionStateChecking) },
				func() { h(webrtc.ICEConnectionStateConnected) })
		}
	}
	for _, pair := range [][2]*Conn{{c, p}, {p, c}} {
		owner, other := pair[0], pair[1]
		if owner.channel == nil || owner.channel.paired() {
			continue
		}
		remote := &Channel{label: owner.channel.label, state: webrtc.DataChannelStateConnecting, peer: owner.channel}
		owner.channel.setPeer(remote)
		if h := other.h.DataChannel; h != nil {
			calls = append(calls, func() { h(remote) })
		}
		local := owner.channel
		calls = append(calls, local.markOpen, remote.markOpen)
	}
	for _, pair := range [][2]*Conn{{c, p}, {p, c}} {
		for _, s := range pair[0].senders {
			if call := s.deliverLocked(pair[1]); call != nil {
				calls = append(calls, call)
			}
		}
	}
	return calls
}

func run(calls []func()) {
	for _, f := range calls {
		f()
	}
}

// MLines counts the m-lines of an SDP.
func MLines(sdp string) int {
	n := 0
	for _, line := range strings.Split(sdp, "\r\n") {
		if strings.HasPrefix(line, "m=") {
			n++
		}
	}
	return n
}

type sender struct {
	conn  *Conn
	slot  media.Slot
	kind  webrtc.RTPCodecType
	track webrtc.TrackLocal
}

func (s *sender) ReplaceTrack(track webrtc.TrackLocal) error {
	n := s.conn.net
	n.mu.Lock()
	if s.conn.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	if track != nil && track.Kind() != s.kind {
		n.mu.Unlock()
		return fmt.Errorf("%s track on %s sender", track.Kind(), s.kind)
	}
	s.track = track
	var call func()
	if s.conn.connected {
		call = s.deliverLocked(s.conn.peer())
	}
	n.mu.Unlock()

	if call != nil {
		call()
	}
	return nil
}

// deliverLocked builds the remote track event the peer sees for s's track.
func (s *sender) deliverLocked(p *Conn) func() {
	if s.track == nil || p == nil || p.h.Track == nil {
		return nil
	}
	src, corroborated := media.Classify(s.slot, s.track.StreamID(), s.track.ID())
	rt := media.RemoteTrack{
		Slot:         s.slot,
		Source:       src,
		Corroborated: corroborated,
		ID:           s.track.ID(),
		StreamID:     s.track.StreamID(),
		Kind:         s.track.Kind(),
	}
	h := p.h.Track
	return func() { h(rt) }
}

// Channel is one end of a fake data channel.
type Channel struct {
	label string
	peer  *Channel

	mu        sync.Mutex
	state     webrtc.DataChannelState
	onOpen    func()
	onClose   func()
	onMessage func(webrtc.DataChannelMessage)
}

func (ch *Channel) Label() string { return ch.label }

func (ch *Channel) ReadyState() webrtc.DataChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *Channel) Send(data []byte) error {
	ch.mu.Lock()
	open, peer := ch.state == webrtc.DataChannelStateOpen, ch.peer
	ch.mu.Unlock()
	if !open || peer == nil {
		return ErrClosed
	}

	peer.mu.Lock()
	f := peer.onMessage
	peer.mu.Unlock()
	if f != nil {
		f(webrtc.DataChannelMessage{Data: append([]byte(nil), data...)})
	}
	return nil
}

func (ch *Channel) OnOpen(f func()) {
	ch.mu.Lock()
	ch.onOpen = f
	ch.mu.Unlock()
}

func (ch *Channel) OnClose(f func()) {
	ch.mu.Lock()
	ch.onClose = f
	ch.mu.Unlock()
}

func (ch *Channel) OnMessage(f func(webrtc.DataChannelMessage)) {
	ch.mu.Lock()
	ch.onMessage = f
	ch.mu.Unlock()
}

func (ch *Channel) Close() error {
	ch.closeBoth()
	return nil
}

func (ch *Channel) markOpen() {
	ch.mu.Lock()
	if ch.state != webrtc.DataChannelStateConnecting {
		ch.mu.Unlock()
		return
	}
	ch.state = webrtc.DataChannelStateOpen
	f := ch.onOpen
	ch.mu.Unlock()
	if f != nil {
		f()
	}
}

func (ch *Channel) markClosed() {
	ch.mu.Lock()
	if ch.state == webrtc.DataChannelStateClosed {
		ch.mu.Unlock()
		return
	}
	ch.state = webrtc.DataChannelStateClosed
	f := ch.onClose
	ch.mu.Unlock()
	if f != nil {
		f()
	}
}

func (ch *Channel) closeBoth() {
	ch.markClosed()
	ch.mu.Lock()
	peer := ch.peer
	ch.mu.Unlock()
	if peer != nil {
		peer.markClosed()
	}
}

func (ch *Channel) paired() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.peer != nil
}

func (ch *Channel) setPeer(peer *Channel) {
	ch.mu.Lock()
	ch.peer = peer
	ch.mu.Unlock()
}
