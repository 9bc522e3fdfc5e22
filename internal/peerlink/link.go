package peerlink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Sharif2023/StudyNest-sub001/internal/chat"
	"github.com/Sharif2023/StudyNest-sub001/internal/logging"
	"github.com/Sharif2023/StudyNest-sub001/internal/media"
	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
	"github.com/pion/webrtc/v4"
)

const inboxSize = 128

// Signaler carries offers, answers and candidates to the hub.
type Signaler interface {
	SendMessage(msg *protocol.Message) error
}

// Hooks report link events upward. They run on the link's goroutine (Chat on
// the transport's) and must not block or call back into the link.
type Hooks struct {
	ICEState func(remote protocol.ParticipantID, s webrtc.ICEConnectionState)
	Track    func(remote protocol.ParticipantID, t media.RemoteTrack)
	Chat     func(remote protocol.ParticipantID, m chat.Message)
}

// Config describes one link.
type Config struct {
	Local    protocol.ParticipantID
	Remote   protocol.ParticipantID
	Factory  Factory
	Signaler Signaler
	Hooks    Hooks
	Log      *slog.Logger
}

// Counters are cumulative negotiation statistics.
type Counters struct {
	OffersSent            int
	OffersApplied         int
	AnswersSent           int
	AnswersApplied        int
	RenegotiationRequests int
	Rollbacks             int
	IgnoredOffers         int
	StaleAnswers          int
	SkippedNegotiations   int
	BufferedCandidates    int
	CandidateErrors       int
	NegotiationErrors     int
}

// Status is a point-in-time copy of a link's state.
type Status struct {
	Remote         protocol.ParticipantID
	Role           protocol.Role
	SignalingState webrtc.SignalingState
	ICEState       webrtc.ICEConnectionState
	Transceivers   int
	ChatOpen       bool
	Counters
}

// state is mutated only by the link's actor goroutine.
type state struct {
	makingOffer  bool
	ignoreOffer  bool
	negotiating  bool
	offerPending bool // an offer was wanted while not stable
	pending      []webrtc.ICECandidateInit
	ice          webrtc.ICEConnectionState
	counters     Counters
}

type (
	signalEvent       struct{ msg *protocol.Message }
	negotiateEvent    struct{}
	renegotiateEvent  struct{}
	needEvent         struct{}
	iceStateEvent     struct{ state webrtc.ICEConnectionState }
	localICEEvent     struct{ c webrtc.ICECandidateInit }
	trackEvent        struct{ t media.RemoteTrack }
	replaceTrackEvent struct {
		slot  media.Slot
		track webrtc.TrackLocal
		reply chan error
	}
)

// Link is the connection to one remote participant. All negotiation runs on a
// single actor goroutine fed by an inbox.
type Link struct {
	local, remote protocol.ParticipantID
	role          protocol.Role

	conn     Conn
	senders  map[media.Slot]Sender
	chat     *chat.Channel
	signaler Signaler
	hooks    Hooks

	inbox   chan any
	done    chan struct{}
	stopped chan struct{}
	started atomic.Bool

	st state

	statusMu sync.RWMutex
	status   Status

	closeOnce sync.Once
	log       *slog.Logger
}

// New opens the connection. Call Start to create the transceivers and run it.
func New(cfg Config) (*Link, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	l := &Link{
		local:    cfg.Local,
		remote:   cfg.Remote,
		role:     protocol.RoleFor(cfg.Local, cfg.Remote),
		senders:  make(map[media.Slot]Sender, len(media.Slots)),
		signaler: cfg.Signaler,
		hooks:    cfg.Hooks,
		inbox:    make(chan any, inboxSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		st:       state{ice: webrtc.ICEConnectionStateNew},
	}
	l.log = log.With("peer", cfg.Remote.Short(), "role", l.role)
	l.chat = chat.NewChannel(func(m chat.Message) {
		if l.hooks.Chat != nil {
			l.hooks.Chat(l.remote, m)
		}
	}, l.log)

	conn, err := cfg.Factory(cfg.Local, cfg.Remote, Handlers{
		ICECandidate:      func(c webrtc.ICECandidateInit) { l.post(localICEEvent{c}) },
		ICEState:          func(s webrtc.ICEConnectionState) { l.post(iceStateEvent{s}) },
		NegotiationNeeded: func() { l.post(needEvent{}) },
		Track:             func(t media.RemoteTrack) { l.post(trackEvent{t}) },
		DataChannel:       l.acceptChannel,
	})
	if err != nil {
		return nil, newError("open connection", cfg.Remote, err)
	}
	l.conn = conn
	l.publish()
	return l, nil
}

func (l *Link) Remote() protocol.ParticipantID { return l.remote }

func (l *Link) Role() protocol.Role { return l.role }

// Start creates the fixed transceivers, and the chat channel on the initiator
// side, then starts the actor.
func (l *Link) Start() error {
	for _, slot := range media.Slots {
		sender, err := l.conn.AddTransceiver(slot)
		if err != nil {
			return newError("add "+slot.String()+" transceiver", l.remote, err)
		}
		l.senders[slot] = sender
	}

	if l.role == protocol.RoleInitiator {
		dc, err := l.conn.CreateDataChannel(chat.Label)
		if err != nil {
			return newError("create data channel", l.remote, err)
		}
		l.chat.Attach(dc)
	}

	l.started.Store(true)
	go l.run()
	return nil
}

// Negotiate tells the link that local media is attached. The initiator then
// makes its first offer; the responder keeps waiting for one.
func (l *Link) Negotiate() { l.post(negotiateEvent{}) }

// Renegotiate asks for a fresh offer. The initiator makes it; the responder
// relays the request, since only the initiator offers on a link.
func (l *Link) Renegotiate() { l.post(renegotiateEvent{}) }

// Deliver hands a relayed offer, answer or candidate to the link.
func (l *Link) Deliver(msg *protocol.Message) { l.post(signalEvent{msg}) }

// ReplaceTrack puts track on slot's existing sender.
func (l *Link) ReplaceTrack(slot media.Slot, track webrtc.TrackLocal) error {
	reply := make(chan error, 1)
	if !l.post(replaceTrackEvent{slot: slot, track: track, reply: reply}) {
		return ErrLinkClosed
	}
	select {
	case err := <-reply:
		return err
	case <-l.done:
		return ErrLinkClosed
	}
}

// SendChat sends m over the data channel, queueing it until the channel opens.
func (l *Link) SendChat(m chat.Message) error {
	return l.chat.Send(m)
}

// Status returns a snapshot of the link.
func (l *Link) Status() Status {
	l.statusMu.RLock()
	s := l.status
	l.statusMu.RUnlock()
	// The transport opens on its own goroutine, not through the inbox.
	s.ChatOpen = l.chat.Open()
	return s
}

// Close stops the actor, then closes the data channel and the connection.
// Safe to call more than once.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		if l.started.Load() {
			<-l.stopped
		}
		l.chat.Close()
		err = l.conn.Close()

		l.statusMu.Lock()
		l.status.ICEState = webrtc.ICEConnectionStateClosed
		l.statusMu.Unlock()
		l.log.Debug("link closed")
	})
	return err
}

func (l *Link) post(ev any) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.inbox <- ev:
		return true
	case <-l.done:
		return false
	}
}

func (l *Link) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.done:
			return
		case ev := <-l.inbox:
			l.handle(ev)
			l.publish()
		}
	}
}

func (l *Link) handle(ev any) {
	switch ev := ev.(type) {
	case signalEvent:
		l.handleSignal(ev.msg)

	case negotiateEvent:
		if l.role == protocol.RoleInitiator {
			l.st.negotiating = true
			l.makeOffer("initial")
		}

	case renegotiateEvent:
		if l.role == protocol.RoleInitiator {
			l.makeOffer("manual")
			return
		}
		if l.send(&protocol.Message{Type: protocol.TypeRenegotiate, To: l.remote}) {
			l.st.counters.RenegotiationRequests++
			l.log.Debug("asked initiator to renegotiate")
		}

	case needEvent:
		l.handleNegotiationNeeded()

	case iceStateEvent:
		l.st.ice = ev.state
		l.log.Debug("ice state", "state", ev.state)
		if l.hooks.ICEState != nil {
			l.hooks.ICEState(l.remote, ev.state)
		}

	case localICEEvent:
		data, err := json.Marshal(ev.c)
		if err != nil {
			return
		}
		l.send(&protocol.Message{Type: protocol.TypeICE, To: l.remote, Candidate: data})

	case trackEvent:
		if l.hooks.Track != nil {
			l.hooks.Track(l.remote, ev.t)
		}

	case replaceTrackEvent:
		sender, ok := l.senders[ev.slot]
		if !ok {
			ev.reply <- newError("replace track", l.remote, ErrLayoutChanged)
			return
		}
		if err := sender.ReplaceTrack(ev.track); err != nil {
			ev.reply <- newError("replace "+ev.slot.String()+" track", l.remote, err)
			return
		}
		ev.reply <- nil
	}
}

// acceptChannel runs on the transport's goroutine so the message handler is in
// place before the first frame can arrive.
func (l *Link) acceptChannel(t chat.Transport) {
	if t.Label() != chat.Label {
		l.log.Debug("ignoring data channel", "label", t.Label())
		return
	}
	l.chat.Attach(t)
}

// handleNegotiationNeeded acts only on the initiator, and only while the
// transceiver layout is still the fixed three slots.
func (l *Link) handleNegotiationNeeded() {
	switch {
	case l.role != protocol.RoleInitiator:
	case !l.st.negotiating:
		// Start has not finished attaching media; Negotiate will offer.
	case !layoutIntact(l.conn.Transceivers()):
		l.log.Warn("negotiation needed with altered transceiver layout, ignoring")
	default:
		l.makeOffer("negotiation-needed")
		return
	}
	l.st.counters.SkippedNegotiations++
}

// makeOffer offers now if stable, otherwise once the current exchange ends.
func (l *Link) makeOffer(reason string) {
	if l.conn.SignalingState() != webrtc.SignalingStateStable {
		l.log.Debug("offer deferred, not stable", "reason", reason, "state", l.conn.SignalingState())
		l.st.counters.SkippedNegotiations++
		l.st.offerPending = true
		return
	}

	l.st.makingOffer = true
	defer func() { l.st.makingOffer = false }()

	offer, err := l.conn.CreateOffer()
	if err != nil {
		l.fail("create offer", err)
		return
	}
	if l.conn.SignalingState() != webrtc.SignalingStateStable {
		l.st.counters.SkippedNegotiations++
		l.st.offerPending = true
		return
	}
	if err := l.conn.SetLocalDescription(offer); err != nil {
		l.fail("set local offer", err)
		return
	}

	if l.sendDescription(protocol.TypeOffer, offer) {
		l.st.counters.OffersSent++
		l.log.Debug("offer sent", "reason", reason)
	}
}

func (l *Link) offerIfPending() {
	if !l.st.offerPending || l.conn.SignalingState() != webrtc.SignalingStateStable {
		return
	}
	l.st.offerPending = false
	l.makeOffer("deferred")
}

func (l *Link) handleSignal(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeRenegotiate:
		switch {
		case l.role != protocol.RoleInitiator:
			l.log.Debug("ignoring renegotiate request as responder")
		case !l.st.negotiating:
			// The initial offer is still to come.
		default:
			l.makeOffer("requested")
		}

	case protocol.TypeOffer, protocol.TypeAnswer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(msg.SDP, &desc); err != nil || desc.SDP == "" {
			l.log.Debug("ignoring malformed description", "type", msg.Type)
			return
		}
		if desc.Type == webrtc.SDPTypeOffer {
			l.handleOffer(desc)
		} else if desc.Type == webrtc.SDPTypeAnswer {
			l.handleAnswer(desc)
		}

	case protocol.TypeICE:
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Candidate, &c); err != nil {
			l.log.Debug("ignoring malformed candidate")
			return
		}
		l.handleCandidate(c)
	}
}

func (l *Link) handleOffer(offer webrtc.SessionDescription) {
	collision := l.st.makingOffer || l.conn.SignalingState() != webrtc.SignalingStateStable
	polite := protocol.IsPolite(l.local, l.remote)

	l.st.ignoreOffer = !polite && collision
	if l.st.ignoreOffer {
		l.st.counters.IgnoredOffers++
		l.log.Debug("glare: ignoring offer as impolite peer")
		return
	}

	// Only a remote that ignores the initiator role offers into our own
	// offer. pion cannot roll back, so there the offer is dropped.
	if collision && l.conn.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if err := l.conn.Rollback(); err != nil {
			l.fail("rollback", err)
			return
		}
		l.st.counters.Rollbacks++
		l.st.offerPending = true
		l.log.Debug("glare: rolled back local offer as polite peer")
	}

	if err := l.conn.SetRemoteDescription(offer); err != nil {
		l.fail("set remote offer", err)
		return
	}
	l.st.counters.OffersApplied++
	l.st.negotiating = true
	l.flushCandidates()

	answer, err := l.conn.CreateAnswer()
	if err != nil {
		l.fail("create answer", err)
		return
	}
	if err := l.conn.SetLocalDescription(answer); err != nil {
		l.fail("set local answer", err)
		return
	}
	if l.sendDescription(protocol.TypeAnswer, answer) {
		l.st.counters.AnswersSent++
	}
	l.offerIfPending()
}

func (l *Link) handleAnswer(answer webrtc.SessionDescription) {
	if l.conn.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		l.st.counters.StaleAnswers++
		l.log.Debug("dropping stale answer", "state", l.conn.SignalingState())
		return
	}
	if err := l.conn.SetRemoteDescription(answer); err != nil {
		l.fail("set remote answer", err)
		return
	}
	l.st.counters.AnswersApplied++
	l.flushCandidates()
	l.offerIfPending()
}

func (l *Link) handleCandidate(c webrtc.ICECandidateInit) {
	if !l.conn.HasRemoteDescription() {
		l.st.pending = append(l.st.pending, c)
		l.st.counters.BufferedCandidates++
		return
	}
	if err := l.conn.AddICECandidate(c); err != nil {
		if l.st.ignoreOffer {
			return
		}
		l.st.counters.CandidateErrors++
		l.log.Debug("add ice candidate failed", logging.Err(err))
	}
}

func (l *Link) flushCandidates() {
	pending := l.st.pending
	l.st.pending = nil
	for _, c := range pending {
		if err := l.conn.AddICECandidate(c); err != nil && !l.st.ignoreOffer {
			l.st.counters.CandidateErrors++
			l.log.Debug("add buffered ice candidate failed", logging.Err(err))
		}
	}
}

func (l *Link) sendDescription(typ string, desc webrtc.SessionDescription) bool {
	data, err := json.Marshal(desc)
	if err != nil {
		l.fail("encode "+typ, err)
		return false
	}
	return l.send(&protocol.Message{Type: typ, To: l.remote, SDP: data})
}

func (l *Link) send(msg *protocol.Message) bool {
	if err := l.signaler.SendMessage(msg); err != nil {
		l.log.Debug("signal not sent", "type", msg.Type, logging.Err(err))
		return false
	}
	return true
}

func (l *Link) fail(op string, err error) {
	l.st.counters.NegotiationErrors++
	l.log.Warn("negotiation step failed", logging.Err(newError(op, l.remote, err)))
}

func (l *Link) publish() {
	s := Status{
		Remote:         l.remote,
		Role:           l.role,
		SignalingState: l.conn.SignalingState(),
		ICEState:       l.st.ice,
		Transceivers:   len(l.conn.Transceivers()),
		Counters:       l.st.counters,
	}
	l.statusMu.Lock()
	l.status = s
	l.statusMu.Unlock()
}

func (s Status) String() string {
	return fmt.Sprintf("%s %s sig=%s ice=%s offers=%d/%d rollbacks=%d ignored=%d",
		s.Remote.Short(), s.Role, s.SignalingState, s.ICEState,
		s.OffersSent, s.OffersApplied, s.Rollbacks, s.IgnoredOffers)
}
