package peerlink_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Sharif2023/StudyNest-sub001/internal/chat"
	"github.com/Sharif2023/StudyNest-sub001/internal/logging"
	"github.com/Sharif2023/StudyNest-sub001/internal/media"
	"github.com/Sharif2023/StudyNest-sub001/internal/peerlink"
	"github.com/Sharif2023/StudyNest-sub001/internal/peerlink/peerlinktest"
	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
	"github.com/pion/webrtc/v4"
)

const (
	idA protocol.ParticipantID = "a1"
	idB protocol.ParticipantID = "b1"
)

type remoteTrack struct {
	from protocol.ParticipantID
	t    media.RemoteTrack
}

type harness struct {
	t      *testing.T
	net    *peerlinktest.Network
	relay  *peerlinktest.Relay
	tracks chan remoteTrack
	chats  chan chat.Message
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:      t,
		net:    peerlinktest.NewNetwork(),
		relay:  peerlinktest.NewRelay(),
		tracks: make(chan remoteTrack, 32),
		chats:  make(chan chat.Message, 32),
	}
}

// open creates and starts the link local keeps towards remote.
func (h *harness) open(local, remote protocol.ParticipantID) *peerlink.Link {
	h.t.Helper()
	l, err := peerlink.New(peerlink.Config{
		Local:    local,
		Remote:   remote,
		Factory:  h.net.Factory(),
		Signaler: h.relay.Signaler(local),
		Hooks: peerlink.Hooks{
			Track: func(from protocol.ParticipantID, t media.RemoteTrack) {
				select {
				case h.tracks <- remoteTrack{from, t}:
				default:
				}
			},
			Chat: func(_ protocol.ParticipantID, m chat.Message) {
				select {
				case h.chats <- m:
				default:
				}
			},
		},
		Log: logging.Discard(),
	})
	if err != nil {
		h.t.Fatalf("New: %v", err)
	}
	h.relay.Register(local, l)
	if err := l.Start(); err != nil {
		h.t.Fatalf("Start: %v", err)
	}
	h.t.Cleanup(func() { l.Close() })
	return l
}

// pair opens a1 and b1 and runs the initial negotiation to completion.
func (h *harness) pair() (a, b *peerlink.Link) {
	h.t.Helper()
	a, b = h.open(idA, idB), h.open(idB, idA)
	a.Negotiate()
	b.Negotiate()
	waitConnected(h.t, a, b)
	return a, b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitConnected(t *testing.T, links ...*peerlink.Link) {
	t.Helper()
	for _, l := range links {
		waitFor(t, "connected link to "+l.Remote().String(), func() bool {
			s := l.Status()
			return s.ICEState == webrtc.ICEConnectionStateConnected &&
				s.SignalingState == webrtc.SignalingStateStable &&
				s.ChatOpen
		})
	}
}

func waitStable(t *testing.T, links ...*peerlink.Link) {
	t.Helper()
	for _, l := range links {
		waitFor(t, "stable link to "+l.Remote().String(), func() bool {
			return l.Status().SignalingState == webrtc.SignalingStateStable
		})
	}
}

func (h *harness) nextTrack() remoteTrack {
	h.t.Helper()
	select {
	case rt := <-h.tracks:
		return rt
	case <-time.After(3 * time.Second):
		h.t.Fatal("no remote track")
		return remoteTrack{}
	}
}

func (h *harness) nextChat() chat.Message {
	h.t.Helper()
	select {
	case m := <-h.chats:
		return m
	case <-time.After(3 * time.Second):
		h.t.Fatal("no chat message")
		return chat.Message{}
	}
}

func TestInitiatorOffersOnce(t *testing.T) {
	h := newHarness(t)
	a, b := h.open(idA, idB), h.open(idB, idA)

	if a.Role() != protocol.RoleInitiator || b.Role() != protocol.RoleResponder {
		t.Fatalf("roles = %s/%s", a.Role(), b.Role())
	}

	early := chat.NewMessage("ada", "queued before open")
	if err := a.SendChat(early); err != nil {
		t.Fatalf("SendChat: %v", err)
	}

	a.Negotiate()
	b.Negotiate()
	waitConnected(t, a, b)

	if got := h.nextChat(); got.ID != early.ID || got.Text != early.Text {
		t.Fatalf("chat = %+v", got)
	}

	time.Sleep(50 * time.Millisecond)
	sa, sb := a.Status(), b.Status()
	if sa.OffersSent != 1 || sb.OffersSent != 0 {
		t.Fatalf("offers sent a=%d b=%d", sa.OffersSent, sb.OffersSent)
	}
	if h.relay.Sent(protocol.TypeOffer) != 1 || h.relay.Sent(protocol.TypeAnswer) != 1 {
		t.Fatalf("relay saw %d offers, %d answers", h.relay.Sent(protocol.TypeOffer), h.relay.Sent(protocol.TypeAnswer))
	}
	if sb.OffersApplied != 1 || sa.AnswersApplied != 1 {
		t.Fatalf("applied: b offers=%d a answers=%d", sb.OffersApplied, sa.AnswersApplied)
	}
	if sa.Transceivers != 3 || sb.Transceivers != 3 {
		t.Fatalf("transceivers a=%d b=%d", sa.Transceivers, sb.Transceivers)
	}
	if sa.NegotiationErrors+sb.NegotiationErrors != 0 {
		t.Fatalf("negotiation errors: %s / %s", sa, sb)
	}

	select {
	case m := <-h.chats:
		t.Fatalf("queued chat delivered twice: %+v", m)
	default:
	}
}

func TestScreenShareArrivesOnScreenSlot(t *testing.T) {
	h := newHarness(t)
	a, _ := h.pair()

	screen, err := media.NewLocalTrack(media.SourceScreen, webrtc.RTPCodecTypeVideo)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.ReplaceTrack(media.SlotScreen, screen); err != nil {
		t.Fatalf("ReplaceTrack: %v", err)
	}

	rt := h.nextTrack()
	if rt.from != idA {
		t.Fatalf("track from %s", rt.from)
	}
	if rt.t.Slot != media.SlotScreen || rt.t.Source != media.SourceScreen || !rt.t.Corroborated {
		t.Fatalf("remote track = %+v", rt.t)
	}
	if got := a.Status().OffersSent; got != 1 {
		t.Fatalf("replacing a track renegotiated: %d offers", got)
	}
}

func TestSimultaneousRenegotiationOnlyInitiatorOffers(t *testing.T) {
	h := newHarness(t)
	a, b := h.pair()
	before := a.Status()

	h.relay.Hold()
	a.Renegotiate()
	b.Renegotiate()
	waitFor(t, "offer and request in flight", func() bool {
		return h.relay.Sent(protocol.TypeOffer) == 2 && h.relay.Sent(protocol.TypeRenegotiate) == 1
	})
	h.relay.Release()

	waitFor(t, "both renegotiations answered", func() bool {
		return a.Status().AnswersApplied == before.AnswersApplied+2
	})
	waitStable(t, a, b)

	sa, sb := a.Status(), b.Status()
	if sa.OffersSent != before.OffersSent+2 || sb.OffersSent != 0 {
		t.Fatalf("offers sent a=%d b=%d", sa.OffersSent, sb.OffersSent)
	}
	if sb.RenegotiationRequests != 1 || sb.AnswersSent != 3 {
		t.Fatalf("b: requests=%d answers=%d", sb.RenegotiationRequests, sb.AnswersSent)
	}
	// a1 had its own offer out when b1's request arrived.
	if sa.SkippedNegotiations != before.SkippedNegotiations+1 {
		t.Fatalf("a deferred %d offers", sa.SkippedNegotiations-before.SkippedNegotiations)
	}
	if sa.Rollbacks+sb.Rollbacks+sa.IgnoredOffers+sb.IgnoredOffers != 0 {
		t.Fatalf("offers collided: %s / %s", sa, sb)
	}
	if sa.NegotiationErrors+sb.NegotiationErrors != 0 {
		t.Fatalf("negotiation errors a=%d b=%d", sa.NegotiationErrors, sb.NegotiationErrors)
	}
}

func foreignOffer(t *testing.T) *protocol.Message {
	t.Helper()
	sdp, err := json.Marshal(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 96\r\na=mid:0\r\n",
	})
	if err != nil {
		t.Fatal(err)
	}
	return &protocol.Message{Type: protocol.TypeOffer, From: idB, To: idA, SDP: sdp}
}

func TestPoliteInitiatorRollsBackForeignOffer(t *testing.T) {
	h := newHarness(t)
	h.net.AllowRollback()
	a, _ := h.pair()
	before := a.Status()

	h.relay.Hold()
	a.Renegotiate()
	waitFor(t, "local offer", func() bool {
		return a.Status().SignalingState == webrtc.SignalingStateHaveLocalOffer
	})
	a.Deliver(foreignOffer(t))

	waitFor(t, "foreign offer answered", func() bool {
		return a.Status().AnswersSent == before.AnswersSent+1
	})
	waitFor(t, "withdrawn offer made again", func() bool {
		return a.Status().OffersSent == before.OffersSent+2
	})
	s := a.Status()
	if s.Rollbacks != 1 || s.OffersApplied != before.OffersApplied+1 || s.NegotiationErrors != 0 {
		t.Fatalf("a: %s errors=%d", s, s.NegotiationErrors)
	}
}

func TestForeignOfferWithoutRollbackIsDropped(t *testing.T) {
	h := newHarness(t)
	a, _ := h.pair()
	before := a.Status()

	h.relay.Hold()
	a.Renegotiate()
	waitFor(t, "local offer", func() bool {
		return a.Status().SignalingState == webrtc.SignalingStateHaveLocalOffer
	})
	a.Deliver(foreignOffer(t))

	waitFor(t, "failed rollback", func() bool {
		return a.Status().NegotiationErrors == 1
	})
	s := a.Status()
	if s.Rollbacks != 0 || s.OffersApplied != before.OffersApplied || s.AnswersSent != before.AnswersSent {
		t.Fatalf("a: %s", s)
	}
	if s.SignalingState != webrtc.SignalingStateHaveLocalOffer {
		t.Fatalf("own offer lost: %s", s.SignalingState)
	}

	err := h.net.Conn(idA, idB).Rollback()
	if !errors.Is(err, peerlink.ErrRollbackUnsupported) {
		t.Fatalf("Rollback = %v", err)
	}
}

func TestLayoutStaysFixedAcrossRenegotiation(t *testing.T) {
	h := newHarness(t)
	a, b := h.pair()

	for i := range 4 {
		screen, err := media.NewLocalTrack(media.SourceScreen, webrtc.RTPCodecTypeVideo)
		if err != nil {
			t.Fatal(err)
		}
		if err := a.ReplaceTrack(media.SlotScreen, screen); err != nil {
			t.Fatal(err)
		}
		a.Renegotiate()
		waitFor(t, "renegotiation", func() bool { return a.Status().AnswersApplied == i+2 })
		if err := a.ReplaceTrack(media.SlotScreen, nil); err != nil {
			t.Fatal(err)
		}
	}
	b.Renegotiate()
	waitFor(t, "responder renegotiation", func() bool { return a.Status().AnswersApplied == 6 })
	waitStable(t, a, b)
	if s := b.Status(); s.OffersSent != 0 || s.RenegotiationRequests != 1 {
		t.Fatalf("responder offered: %s requests=%d", s, s.RenegotiationRequests)
	}

	for _, c := range []*peerlinktest.Conn{h.net.Conn(idA, idB), h.net.Conn(idB, idA)} {
		for i, sdp := range c.Offers() {
			if n := peerlinktest.MLines(sdp); n != 4 {
				t.Fatalf("offer %d has %d m-lines", i, n)
			}
		}
	}
	if a.Status().Transceivers != 3 || b.Status().Transceivers != 3 {
		t.Fatal("transceiver count changed")
	}
}

func TestNegotiationNeededIgnoredWhenLayoutAltered(t *testing.T) {
	h := newHarness(t)
	a, _ := h.pair()
	before := a.Status()

	h.net.Conn(idA, idB).AddRawTransceiver(webrtc.RTPCodecTypeVideo)
	waitFor(t, "skipped negotiation", func() bool {
		return a.Status().SkippedNegotiations > before.SkippedNegotiations
	})
	if got := a.Status().OffersSent; got != before.OffersSent {
		t.Fatalf("offered with altered layout: %d", got)
	}
}

func candidateMessage(from protocol.ParticipantID, cand string) *protocol.Message {
	data, _ := json.Marshal(webrtc.ICECandidateInit{Candidate: cand})
	return &protocol.Message{Type: protocol.TypeICE, From: from, To: idB, Candidate: data}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	h := newHarness(t)
	a, b := h.open(idA, idB), h.open(idB, idA)

	const early = "candidate:9 1 udp 1 127.0.0.1 9 typ host"
	b.Deliver(candidateMessage(idA, early))
	waitFor(t, "buffered candidate", func() bool { return b.Status().BufferedCandidates == 1 })
	if n := len(h.net.Conn(idB, idA).Candidates()); n != 0 {
		t.Fatalf("%d candidates applied without a remote description", n)
	}

	a.Negotiate()
	waitConnected(t, a, b)

	var found bool
	for _, c := range h.net.Conn(idB, idA).Candidates() {
		found = found || c.Candidate == early
	}
	if !found {
		t.Fatal("buffered candidate was never applied")
	}
	if b.Status().CandidateErrors != 0 {
		t.Fatalf("candidate errors: %d", b.Status().CandidateErrors)
	}
}

func TestMalformedAndStaleSignalsIgnored(t *testing.T) {
	h := newHarness(t)
	a, _ := h.pair()
	before := a.Status()

	a.Deliver(&protocol.Message{Type: protocol.TypeOffer, From: idB, SDP: json.RawMessage(`{"type":"offer"}`)})
	a.Deliver(&protocol.Message{Type: protocol.TypeICE, From: idB, Candidate: json.RawMessage(`"nope"`)})
	answer, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"})
	a.Deliver(&protocol.Message{Type: protocol.TypeAnswer, From: idB, SDP: answer})

	waitFor(t, "stale answer", func() bool { return a.Status().StaleAnswers == 1 })
	s := a.Status()
	if s.OffersApplied != before.OffersApplied || s.NegotiationErrors != 0 || s.CandidateErrors != 0 {
		t.Fatalf("status after junk: %s", s)
	}
}

func TestSignalsAfterCloseAreDropped(t *testing.T) {
	h := newHarness(t)
	a, b := h.pair()

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	b.Deliver(candidateMessage(idA, "candidate:1 1 udp 1 127.0.0.1 1 typ host"))
	b.Renegotiate()
	if err := b.ReplaceTrack(media.SlotAudio, nil); !errors.Is(err, peerlink.ErrLinkClosed) {
		t.Fatalf("ReplaceTrack after close: %v", err)
	}
	if s := b.Status(); s.ICEState != webrtc.ICEConnectionStateClosed || s.ChatOpen {
		t.Fatalf("closed status: %s", s)
	}

	waitFor(t, "peer sees disconnect", func() bool {
		return a.Status().ICEState == webrtc.ICEConnectionStateDisconnected
	})
	if err := a.SendChat(chat.NewMessage("ada", "anyone?")); err == nil {
		// The message is queued behind a closed transport and never delivered.
		select {
		case m := <-h.chats:
			t.Fatalf("delivered after close: %+v", m)
		case <-time.After(20 * time.Millisecond):
		}
	}
}
