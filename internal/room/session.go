// Package room runs one participant's side of a study room: it joins through
// the hub, keeps one peer link per remote participant and fans local media
// and chat out over them.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Sharif2023/StudyNest-sub001/internal/chat"
	"github.com/Sharif2023/StudyNest-sub001/internal/logging"
	"github.com/Sharif2023/StudyNest-sub001/internal/media"
	"github.com/Sharif2023/StudyNest-sub001/internal/peerlink"
	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
	"github.com/pion/webrtc/v4"
)

const (
	eventBuffer        = 256
	defaultJoinTimeout = 10 * time.Second
)

var (
	ErrNotJoined      = errors.New("not in a room")
	ErrAlreadyJoined  = errors.New("already joined")
	ErrJoinRejected   = errors.New("join rejected")
	ErrDisconnected   = errors.New("signaling connection closed")
	ErrUnknownPeer    = errors.New("no such participant")
	ErrAmbiguousPeer  = errors.New("participant prefix is ambiguous")
	ErrEmptyChat      = errors.New("empty chat message")
	errSessionStopped = errors.New("session stopped")
)

// Signaler is the hub connection; *signaling.Client implements it.
type Signaler interface {
	SendMessage(msg *protocol.Message) error
	Incoming() <-chan *protocol.Message
	Close() error
}

// Config holds the session's collaborators.
type Config struct {
	Factory     peerlink.Factory
	Capturer    media.Capturer
	JoinTimeout time.Duration
	Log         *slog.Logger
}

// Participant is the session's view of a remote member.
type Participant struct {
	ID         protocol.ParticipantID
	Name       string
	HandRaised bool
	ICEState   webrtc.ICEConnectionState
	Audio      bool
	Camera     bool
	Screen     bool
}

// Session is a joined room. Methods are safe for concurrent use.
type Session struct {
	cfg       Config
	sig       Signaler
	publisher *media.Publisher

	// ctx bounds local captures; cancelled by Leave.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	self         protocol.ParticipantID
	name         string
	roomID       string
	joined       bool
	left         bool
	handUp       bool
	links        map[protocol.ParticipantID]*peerlink.Link
	participants map[protocol.ParticipantID]*Participant
	dropped      int

	events    chan Event
	loopDone  chan struct{}
	leaveOnce sync.Once
	log       *slog.Logger
}

// New returns a session that will talk through sig once joined.
func New(sig Signaler, cfg Config) *Session {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Capturer == nil {
		cfg.Capturer = &media.FileCapturer{Log: cfg.Log}
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:          cfg,
		sig:          sig,
		publisher:    media.NewPublisher(cfg.Capturer, cfg.Log),
		ctx:          ctx,
		cancel:       cancel,
		links:        make(map[protocol.ParticipantID]*peerlink.Link),
		participants: make(map[protocol.ParticipantID]*Participant),
		events:       make(chan Event, eventBuffer),
		loopDone:     make(chan struct{}),
		log:          cfg.Log.With("component", "room"),
	}
}

// Join enters roomID as name, waits for the membership snapshot and opens a
// link to every member already present.
func (s *Session) Join(ctx context.Context, roomID, name string) error {
	s.mu.Lock()
	switch {
	case s.left:
		s.mu.Unlock()
		return errSessionStopped
	case s.joined:
		s.mu.Unlock()
		return ErrAlreadyJoined
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.JoinTimeout)
	defer cancel()

	if err := s.sig.SendMessage(&protocol.Message{Type: protocol.TypeJoin, RoomID: roomID, Name: name}); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	var reply *protocol.Message
	for reply == nil {
		select {
		case msg, ok := <-s.sig.Incoming():
			if !ok {
				return ErrDisconnected
			}
			switch msg.Type {
			case protocol.TypeJoined:
				reply = msg
			case protocol.TypeError:
				return fmt.Errorf("%w: %s", ErrJoinRejected, msg.Error)
			default:
				s.log.Debug("ignoring message before joined", "type", msg.Type)
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for joined: %w", ctx.Err())
		}
	}

	s.mu.Lock()
	s.self = reply.ClientID
	s.roomID = roomID
	s.name = name
	s.joined = true
	s.log = s.log.With("self", reply.ClientID.Short(), "room", roomID)
	s.mu.Unlock()

	s.log.Info("joined room", "participants", len(reply.Participants))

	// Camera first so the snapshot links offer with tracks already in place.
	if err := s.publisher.StartCamera(s.ctx); err != nil {
		s.log.Warn("continuing without camera", logging.Err(err))
		s.emit(MediaDegraded{Source: media.SourceCamera, Err: err})
	}

	for _, p := range reply.Participants {
		s.addPeer(p)
	}

	go s.run()
	return nil
}

// Self is the id the hub assigned, empty before Join.
func (s *Session) Self() protocol.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Events delivers session events. Events are dropped, with a warning, if the
// consumer falls more than a buffer behind.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when the hub connection has ended.
func (s *Session) Done() <-chan struct{} { return s.loopDone }

// DroppedSignals counts offers, answers and candidates from senders with no
// link.
func (s *Session) DroppedSignals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Participants returns the remote members sorted by id.
func (s *Session) Participants() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

// Statuses snapshots every link, sorted by remote id.
func (s *Session) Statuses() []peerlink.Status {
	links := s.linkList()
	out := make([]peerlink.Status, len(links))
	for i, l := range links {
		out[i] = l.Status()
	}
	return out
}

func (s *Session) SetMuted(kind webrtc.RTPCodecType, muted bool) {
	s.publisher.SetMuted(kind, muted)
}

func (s *Session) Muted(kind webrtc.RTPCodecType) bool {
	return s.publisher.Muted(kind)
}

// StartScreenShare captures the screen and puts it on every link's screen
// slot. No renegotiation happens.
func (s *Session) StartScreenShare() error {
	if err := s.requireJoined(); err != nil {
		return err
	}
	if err := s.publisher.StartScreenShare(s.ctx); err != nil {
		s.emit(MediaDegraded{Source: media.SourceScreen, Err: err})
		return fmt.Errorf("start screen share: %w", err)
	}
	return nil
}

func (s *Session) StopScreenShare() {
	s.publisher.StopScreenShare()
}

func (s *Session) Sharing() bool { return s.publisher.Sharing() }

// RaiseHand broadcasts the hand state to the room.
func (s *Session) RaiseHand(up bool) error {
	if err := s.requireJoined(); err != nil {
		return err
	}
	if err := s.sig.SendMessage(&protocol.Message{Type: protocol.TypeHand, Up: protocol.Bool(up)}); err != nil {
		return fmt.Errorf("send hand: %w", err)
	}
	s.mu.Lock()
	s.handUp = up
	s.mu.Unlock()
	return nil
}

func (s *Session) HandRaised() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handUp
}

// SendChat sends text on every link's data channel and through the hub, then
// echoes it locally. Receivers see each message once per path.
func (s *Session) SendChat(text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, ErrEmptyChat
	}
	if err := s.requireJoined(); err != nil {
		return chat.Message{}, err
	}

	s.mu.Lock()
	m := chat.NewMessage(s.name, text)
	self := s.self
	s.mu.Unlock()

	for _, l := range s.linkList() {
		if err := l.SendChat(m); err != nil {
			s.log.Debug("data channel chat not sent", "peer", l.Remote().Short(), logging.Err(err))
		}
	}

	err := s.sig.SendMessage(&protocol.Message{
		Type:   protocol.TypeChat,
		MsgID:  m.ID,
		Author: m.Author,
		Text:   m.Text,
		TS:     m.TS,
	})
	if err != nil {
		s.log.Debug("hub chat not sent", logging.Err(err))
	}

	s.emit(ChatReceived{From: self, Message: m, Via: ViaLocal})
	return m, nil
}

// Renegotiate asks the link whose remote id starts with prefix for a fresh
// offer.
func (s *Session) Renegotiate(prefix string) error {
	if prefix == "" {
		return ErrUnknownPeer
	}

	var match *peerlink.Link
	for _, l := range s.linkList() {
		if !strings.HasPrefix(string(l.Remote()), prefix) {
			continue
		}
		if match != nil {
			return fmt.Errorf("%w: %q", ErrAmbiguousPeer, prefix)
		}
		match = l
	}
	if match == nil {
		return fmt.Errorf("%w: %q", ErrUnknownPeer, prefix)
	}
	match.Renegotiate()
	return nil
}

// Leave tells the hub and closes the hub connection, then closes every link and
// stops local media. Safe to call more than once.
func (s *Session) Leave() error {
	var err error
	s.leaveOnce.Do(func() {
		s.mu.Lock()
		joined := s.joined
		s.left = true
		s.joined = false
		links := s.links
		s.links = make(map[protocol.ParticipantID]*peerlink.Link)
		s.participants = make(map[protocol.ParticipantID]*Participant)
		s.mu.Unlock()

		if joined {
			if sendErr := s.sig.SendMessage(&protocol.Message{Type: protocol.TypeLeave}); sendErr != nil {
				s.log.Debug("leave not sent", logging.Err(sendErr))
			}
		}
		// Closed before the links so their actors never wait on the hub.
		err = s.sig.Close()

		for id, l := range links {
			s.publisher.Detach(string(id))
			l.Close()
		}
		s.publisher.Stop()
		s.cancel()

		if joined {
			<-s.loopDone
		}
		s.log.Info("left room")
	})
	return err
}

func (s *Session) run() {
	defer close(s.loopDone)
	for msg := range s.sig.Incoming() {
		s.handle(msg)
	}
	s.emit(Disconnected{})
}

func (s *Session) handle(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypePeerJoined:
		s.addPeer(protocol.ParticipantInfo{ID: msg.ID, Name: msg.Name})

	case protocol.TypePeerLeft:
		s.removePeer(msg.ID)

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICE, protocol.TypeRenegotiate:
		s.mu.Lock()
		l, ok := s.links[msg.From]
		if !ok {
			s.dropped++
		}
		s.mu.Unlock()
		if !ok {
			s.log.Debug("dropping signal from unknown peer", "type", msg.Type, "from", msg.From.Short())
			return
		}
		l.Deliver(msg)

	case protocol.TypeHand:
		up := msg.Up != nil && *msg.Up
		s.mu.Lock()
		p, ok := s.participants[msg.ID]
		if ok {
			p.HandRaised = up
		}
		s.mu.Unlock()
		if ok {
			s.emit(HandChanged{ID: msg.ID, Up: up})
		}

	case protocol.TypeChat:
		s.emit(ChatReceived{
			From: msg.From,
			Via:  ViaHub,
			Message: chat.Message{
				ID:     msg.MsgID,
				Author: msg.Author,
				Text:   msg.Text,
				TS:     msg.TS,
			},
		})

	case protocol.TypeError:
		s.log.Warn("hub error", "error", msg.Error)
		s.emit(ServerError{Message: msg.Error})

	default:
		s.log.Debug("ignoring message", "type", msg.Type)
	}
}

// addPeer opens, starts and attaches the link to info.ID, then lets it
// negotiate. A second call for the same id is a no-op.
func (s *Session) addPeer(info protocol.ParticipantInfo) {
	if info.ID == "" {
		return
	}

	s.mu.Lock()
	if _, ok := s.links[info.ID]; ok || s.left || info.ID == s.self {
		s.mu.Unlock()
		return
	}
	link, err := peerlink.New(peerlink.Config{
		Local:    s.self,
		Remote:   info.ID,
		Factory:  s.cfg.Factory,
		Signaler: s.sig,
		Hooks: peerlink.Hooks{
			ICEState: s.onICEState,
			Track:    s.onTrack,
			Chat:     s.onChat,
		},
		Log: s.log,
	})
	if err == nil {
		if err = link.Start(); err != nil {
			link.Close()
		}
	}
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("could not open link", logging.Err(err))
		return
	}
	p := &Participant{
		ID:         info.ID,
		Name:       info.Name,
		HandRaised: info.HandRaised,
		ICEState:   webrtc.ICEConnectionStateNew,
	}
	s.links[info.ID] = link
	s.participants[info.ID] = p
	snapshot := *p
	s.mu.Unlock()

	// Attach waits on the link's actor, so it runs without s.mu held.
	s.publisher.Attach(string(info.ID), link)
	link.Negotiate()

	s.log.Debug("link opened", "peer", info.ID.Short(), "role", link.Role())
	s.emit(PeerJoined{Participant: snapshot})
}

func (s *Session) removePeer(id protocol.ParticipantID) {
	s.mu.Lock()
	l, ok := s.links[id]
	delete(s.links, id)
	delete(s.participants, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.publisher.Detach(string(id))
	l.Close()
	s.log.Debug("link closed", "peer", id.Short())
	s.emit(PeerLeft{ID: id})
}

func (s *Session) onICEState(remote protocol.ParticipantID, state webrtc.ICEConnectionState) {
	s.mu.Lock()
	if p, ok := s.participants[remote]; ok {
		p.ICEState = state
	}
	s.mu.Unlock()
	s.emit(ICEStateChanged{ID: remote, State: state})
}

func (s *Session) onTrack(remote protocol.ParticipantID, t media.RemoteTrack) {
	s.mu.Lock()
	if p, ok := s.participants[remote]; ok {
		switch t.Source {
		case media.SourceMicrophone:
			p.Audio = true
		case media.SourceScreen:
			p.Screen = true
		default:
			p.Camera = true
		}
	}
	s.mu.Unlock()
	s.emit(TrackAdded{ID: remote, Track: t})
}

func (s *Session) onChat(remote protocol.ParticipantID, m chat.Message) {
	s.emit(ChatReceived{From: remote, Message: m, Via: ViaDataChannel})
}

// emit never blocks: link hooks call it and Leave waits for those links.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event buffer full, dropping event", "event", fmt.Sprintf("%T", ev))
	}
}

func (s *Session) requireJoined() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return ErrNotJoined
	}
	return nil
}

func (s *Session) linkList() []*peerlink.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	links := make([]*peerlink.Link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Remote().Less(links[j].Remote()) })
	return links
}
