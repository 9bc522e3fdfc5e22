package room

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sharif2023/StudyNest-sub001/internal/hub"
	"github.com/Sharif2023/StudyNest-sub001/internal/logging"
	"github.com/Sharif2023/StudyNest-sub001/internal/media"
	"github.com/Sharif2023/StudyNest-sub001/internal/peerlink/peerlinktest"
	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
	"github.com/Sharif2023/StudyNest-sub001/internal/server"
	"github.com/Sharif2023/StudyNest-sub001/internal/signaling"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

var (
	idA = protocol.ParticipantID(strings.Repeat("a", protocol.ParticipantIDLength))
	idB = protocol.ParticipantID(strings.Repeat("b", protocol.ParticipantIDLength))
	idC = protocol.ParticipantID(strings.Repeat("c", protocol.ParticipantIDLength))
)

type stubCapturer struct{}

func (stubCapturer) Capture(_ context.Context, source media.Source) (*media.Bundle, error) {
	video, err := media.NewLocalTrack(source, webrtc.RTPCodecTypeVideo)
	if err != nil {
		return nil, err
	}
	var audio *media.LocalTrack
	if source == media.SourceCamera {
		if audio, err = media.NewLocalTrack(source, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, err
		}
	}
	return media.NewBundle(video, audio, nil), nil
}

// startHub serves a real hub that hands out idA, idB, idC in order.
func startHub(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var mu sync.Mutex
	ids := []protocol.ParticipantID{idA, idB, idC}
	gen := func() protocol.ParticipantID {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		ids = ids[1:]
		return id
	}

	log := logging.Discard()
	h := hub.New(hub.WithLogger(log), hub.WithIDGenerator(gen))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(server.SetupRouter(server.NewRoomController(h, nil, log), nil, log))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func connect(t *testing.T, url string, net *peerlinktest.Network, capturer media.Capturer) *Session {
	t.Helper()
	c := signaling.NewClient(url, logging.Discard())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s := New(c, Config{Factory: net.Factory(), Capturer: capturer, Log: logging.Discard()})
	t.Cleanup(func() { s.Leave() })
	return s
}

func join(t *testing.T, s *Session, room, name string) {
	t.Helper()
	if err := s.Join(context.Background(), room, name); err != nil {
		t.Fatalf("Join(%s): %v", name, err)
	}
}

// waitEvent discards events until match accepts one.
func waitEvent(t *testing.T, s *Session, what string, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
			return nil
		}
	}
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

func allConnected(s *Session, want int) bool {
	statuses := s.Statuses()
	if len(statuses) != want {
		return false
	}
	for _, st := range statuses {
		if st.ICEState != webrtc.ICEConnectionStateConnected || !st.ChatOpen ||
			st.SignalingState != webrtc.SignalingStateStable {
			return false
		}
	}
	return true
}

func TestSessionEndToEnd(t *testing.T) {
	url := startHub(t)
	net := peerlinktest.NewNetwork()

	a := connect(t, url, net, stubCapturer{})
	join(t, a, "algorithms", "ada")
	if a.Self() != idA || len(a.Participants()) != 0 {
		t.Fatalf("a joined as %s with %d others", a.Self(), len(a.Participants()))
	}

	b := connect(t, url, net, stubCapturer{})
	join(t, b, "algorithms", "bob")
	if ps := b.Participants(); len(ps) != 1 || ps[0].ID != idA || ps[0].Name != "ada" {
		t.Fatalf("b snapshot = %+v", ps)
	}
	waitEvent(t, a, "peer-joined", func(ev Event) bool {
		pj, ok := ev.(PeerJoined)
		return ok && pj.Participant.ID == idB && pj.Participant.Name == "bob"
	})
	waitFor(t, "mesh connected", func() bool { return allConnected(a, 1) && allConnected(b, 1) })

	// Camera tracks were attached before the first offer.
	waitEvent(t, b, "camera track", func(ev Event) bool {
		ta, ok := ev.(TrackAdded)
		return ok && ta.ID == idA && ta.Track.Source == media.SourceCamera
	})

	if err := a.StartScreenShare(); err != nil {
		t.Fatalf("StartScreenShare: %v", err)
	}
	ev := waitEvent(t, b, "screen track", func(ev Event) bool {
		ta, ok := ev.(TrackAdded)
		return ok && ta.Track.Source == media.SourceScreen
	})
	if ta := ev.(TrackAdded); ta.Track.Slot != media.SlotScreen || ta.ID != idA {
		t.Fatalf("screen track = %+v", ta)
	}
	if ps := b.Participants(); !ps[0].Screen || !ps[0].Camera {
		t.Fatalf("b's view of a = %+v", ps[0])
	}
	if sa, sb := a.Statuses()[0], b.Statuses()[0]; sa.OffersSent != 1 || sb.OffersSent != 0 {
		t.Fatalf("offers a=%d b=%d", sa.OffersSent, sb.OffersSent)
	}

	m, err := a.SendChat("hello study group")
	if err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	waitEvent(t, a, "local echo", func(ev Event) bool {
		cr, ok := ev.(ChatReceived)
		return ok && cr.Via == ViaLocal && cr.Message.ID == m.ID
	})
	seen := map[Via]bool{}
	for len(seen) < 2 {
		ev := waitEvent(t, b, "chat on both paths", func(ev Event) bool {
			cr, ok := ev.(ChatReceived)
			return ok && cr.Message.ID == m.ID
		})
		cr := ev.(ChatReceived)
		if cr.From != idA || cr.Message.Author != "ada" || cr.Message.Text != m.Text {
			t.Fatalf("chat via %s = %+v", cr.Via, cr)
		}
		seen[cr.Via] = true
	}
	if !seen[ViaDataChannel] || !seen[ViaHub] {
		t.Fatalf("paths seen: %v", seen)
	}

	if err := b.RaiseHand(true); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, a, "hand", func(ev Event) bool {
		hc, ok := ev.(HandChanged)
		return ok && hc.ID == idB && hc.Up
	})
	if !a.Participants()[0].HandRaised || !b.HandRaised() {
		t.Fatal("hand state not recorded")
	}

	if err := a.Renegotiate("bbbb"); err != nil {
		t.Fatalf("Renegotiate: %v", err)
	}
	waitFor(t, "renegotiation", func() bool {
		st := a.Statuses()[0]
		return st.AnswersApplied == 2 && st.SignalingState == webrtc.SignalingStateStable
	})
	if err := a.Renegotiate("zz"); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("unknown prefix: %v", err)
	}

	if err := b.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := b.Leave(); err != nil {
		t.Fatalf("second Leave: %v", err)
	}
	waitEvent(t, a, "peer-left", func(ev Event) bool {
		pl, ok := ev.(PeerLeft)
		return ok && pl.ID == idB
	})
	if len(a.Participants()) != 0 || len(a.Statuses()) != 0 {
		t.Fatal("link to b survived peer-left")
	}
	if _, err := b.SendChat("still here?"); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("chat after leave: %v", err)
	}
}

func TestThreeWayMesh(t *testing.T) {
	url := startHub(t)
	net := peerlinktest.NewNetwork()

	sessions := make([]*Session, 3)
	for i, name := range []string{"ada", "bob", "cy"} {
		sessions[i] = connect(t, url, net, stubCapturer{})
		join(t, sessions[i], "mesh", name)
	}
	for _, s := range sessions {
		waitFor(t, "mesh of three", func() bool { return allConnected(s, 2) })
	}

	for _, s := range sessions {
		for _, st := range s.Statuses() {
			want := protocol.RoleFor(s.Self(), st.Remote)
			if st.Role != want {
				t.Fatalf("%s -> %s role %s, want %s", s.Self().Short(), st.Remote.Short(), st.Role, want)
			}
			if st.Role == protocol.RoleResponder && st.OffersSent != 0 {
				t.Fatalf("responder %s offered", s.Self().Short())
			}
		}
	}
}

func TestJoinWithoutCameraDegrades(t *testing.T) {
	url := startHub(t)
	s := connect(t, url, peerlinktest.NewNetwork(), nil)
	join(t, s, "quiet", "ada")

	ev := waitEvent(t, s, "media degraded", func(ev Event) bool {
		_, ok := ev.(MediaDegraded)
		return ok
	})
	if md := ev.(MediaDegraded); !errors.Is(md.Err, media.ErrNoDevice) || md.Source != media.SourceCamera {
		t.Fatalf("degraded = %+v", md)
	}
}

func TestJoinRejectedByHub(t *testing.T) {
	url := startHub(t)
	s := connect(t, url, peerlinktest.NewNetwork(), stubCapturer{})
	if err := s.Join(context.Background(), "", "ada"); !errors.Is(err, ErrJoinRejected) {
		t.Fatalf("Join without room: %v", err)
	}
}

type fakeSignaler struct {
	mu        sync.Mutex
	sent      []*protocol.Message
	in        chan *protocol.Message
	closeOnce sync.Once
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{in: make(chan *protocol.Message, 8)}
}

func (f *fakeSignaler) SendMessage(msg *protocol.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaler) Incoming() <-chan *protocol.Message { return f.in }

func (f *fakeSignaler) Close() error {
	f.closeOnce.Do(func() { close(f.in) })
	return nil
}

func TestSignalsFromUnknownPeersAreDropped(t *testing.T) {
	s := New(newFakeSignaler(), Config{Factory: peerlinktest.NewNetwork().Factory(), Log: logging.Discard()})

	s.handle(&protocol.Message{Type: protocol.TypeICE, From: idC, Candidate: []byte(`{"candidate":""}`)})
	s.handle(&protocol.Message{Type: protocol.TypeAnswer, From: idC})
	s.handle(&protocol.Message{Type: protocol.TypePeerLeft, ID: idC})
	s.handle(&protocol.Message{Type: protocol.TypeHand, ID: idC, Up: protocol.Bool(true)})

	if got := s.DroppedSignals(); got != 2 {
		t.Fatalf("dropped = %d", got)
	}
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event %T", ev)
	default:
	}
}

func TestOperationsRequireJoin(t *testing.T) {
	sig := newFakeSignaler()
	s := New(sig, Config{Factory: peerlinktest.NewNetwork().Factory(), Log: logging.Discard()})

	if err := s.RaiseHand(true); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("RaiseHand: %v", err)
	}
	if _, err := s.SendChat("hi"); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("SendChat: %v", err)
	}
	if _, err := s.SendChat("   "); !errors.Is(err, ErrEmptyChat) {
		t.Fatalf("blank SendChat: %v", err)
	}
	if err := s.StartScreenShare(); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("StartScreenShare: %v", err)
	}

	if err := s.Leave(); err != nil {
		t.Fatal(err)
	}
	if err := s.Join(context.Background(), "r", "ada"); err == nil {
		t.Fatal("join after leave succeeded")
	}
	if len(sig.sent) != 0 {
		t.Fatalf("sent %d messages without joining", len(sig.sent))
	}
}

func TestJoinIgnoresNoiseBeforeJoined(t *testing.T) {
	sig := newFakeSignaler()
	sig.in <- &protocol.Message{Type: protocol.TypeChat, Text: "early"}
	sig.in <- &protocol.Message{
		Type:         protocol.TypeJoined,
		ClientID:     idB,
		Participants: []protocol.ParticipantInfo{{ID: idA, Name: "ada", HandRaised: true}},
	}

	s := New(sig, Config{
		Factory:  peerlinktest.NewNetwork().Factory(),
		Capturer: stubCapturer{},
		Log:      logging.Discard(),
	})
	t.Cleanup(func() { s.Leave() })
	join(t, s, "r", "bob")

	ps := s.Participants()
	if len(ps) != 1 || ps[0].ID != idA || !ps[0].HandRaised {
		t.Fatalf("participants = %+v", ps)
	}
	if st := s.Statuses(); len(st) != 1 || st[0].Role != protocol.RoleResponder {
		t.Fatalf("statuses = %+v", st)
	}
	if sig.sent[0].Type != protocol.TypeJoin || sig.sent[0].RoomID != "r" {
		t.Fatalf("first message = %+v", sig.sent[0])
	}
}

// droppingHub answers the first join with a snapshot holding idB, then hangs
// up.
func droppingHub(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg protocol.Message
		if conn.ReadJSON(&msg) != nil {
			return
		}
		conn.WriteJSON(protocol.Message{
			Type:         protocol.TypeJoined,
			ClientID:     idA,
			Participants: []protocol.ParticipantInfo{{ID: idB, Name: "bob"}},
		})
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestChatAndLeaveAfterHubDrop(t *testing.T) {
	s := connect(t, droppingHub(t), peerlinktest.NewNetwork(), stubCapturer{})
	join(t, s, "r", "ada")

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not notice the hub hanging up")
	}

	done := make(chan error, 1)
	go func() {
		for i := range 200 {
			if _, err := s.SendChat("still here?"); err != nil {
				done <- fmt.Errorf("chat %d: %w", i, err)
				return
			}
		}
		done <- s.Leave()
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("chat or leave blocked after the hub dropped")
	}
}
