package hub

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Sharif2023/StudyNest-sub001/internal/logging"
	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
)

// ErrStopped is returned by queries issued after Run has returned.
var ErrStopped = errors.New("hub stopped")

const defaultNotifyTimeout = 3 * time.Second

type envelope struct {
	client *Client
	msg    *protocol.Message
}

// Hub is the central brain of the signaling server. A single goroutine (Run)
// owns every room and client; everything else talks to it over channels.
type Hub struct {
	registry *Registry
	clients  map[*Client]struct{}

	registerCh   chan *Client
	unregisterCh chan *Client
	inbound      chan envelope
	queries      chan chan []RoomInfo
	done         chan struct{}

	newID         func() protocol.ParticipantID
	notifier      Notifier
	notifyTimeout time.Duration
	log           *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

func WithLogger(log *slog.Logger) Option {
	return func(h *Hub) { h.log = log }
}

// WithNotifier sets the meeting-registry notifier fired on join and leave.
func WithNotifier(n Notifier, timeout time.Duration) Option {
	return func(h *Hub) {
		h.notifier = n
		if timeout > 0 {
			h.notifyTimeout = timeout
		}
	}
}

// WithIDGenerator overrides participant id assignment.
func WithIDGenerator(gen func() protocol.ParticipantID) Option {
	return func(h *Hub) { h.newID = gen }
}

// New creates a Hub. Call Run to start it.
func New(opts ...Option) *Hub {
	h := &Hub{
		registry:      NewRegistry(),
		clients:       make(map[*Client]struct{}),
		registerCh:    make(chan *Client),
		unregisterCh:  make(chan *Client),
		inbound:       make(chan envelope, 64),
		queries:       make(chan chan []RoomInfo),
		done:          make(chan struct{}),
		newID:         protocol.NewParticipantID,
		notifier:      NopNotifier{},
		notifyTimeout: defaultNotifyTimeout,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("component", "hub")
	return h
}

func (h *Hub) register(c *Client) {
	select {
	case h.registerCh <- c:
	case <-h.done:
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.unregisterCh <- c:
	case <-h.done:
	}
}

// dispatch hands msg to the loop. It reports false once the hub has stopped.
func (h *Hub) dispatch(c *Client, msg *protocol.Message) bool {
	select {
	case h.inbound <- envelope{client: c, msg: msg}:
		return true
	case <-h.done:
		return false
	}
}

// Snapshot returns a copy of every room, taken on the hub loop.
func (h *Hub) Snapshot(ctx context.Context) ([]RoomInfo, error) {
	reply := make(chan []RoomInfo, 1)
	select {
	case h.queries <- reply:
	case <-h.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case rooms := <-reply:
		return rooms, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Room returns one room's snapshot.
func (h *Hub) Room(ctx context.Context, roomID string) (RoomInfo, bool, error) {
	rooms, err := h.Snapshot(ctx)
	if err != nil {
		return RoomInfo{}, false, err
	}
	for _, r := range rooms {
		if r.ID == roomID {
			return r, true, nil
		}
	}
	return RoomInfo{}, false, nil
}

// Run starts the hub's main processing loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.shutdown(c)
			}
			h.log.Info("hub stopped")
			return

		case c := <-h.registerCh:
			h.clients[c] = struct{}{}
			h.log.Debug("client registered", "clients", len(h.clients))

		case c := <-h.unregisterCh:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			h.leaveRoom(c)
			delete(h.clients, c)
			h.shutdown(c)
			h.log.Debug("client unregistered", "clients", len(h.clients))

		case env := <-h.inbound:
			if _, ok := h.clients[env.client]; !ok || env.client.evicted {
				continue
			}
			h.handle(env.client, env.msg)

		case reply := <-h.queries:
			reply <- h.registry.Snapshot()
		}
	}
}

func (h *Hub) handle(c *Client, msg *protocol.Message) {
	log := h.log.With("type", msg.Type, "room", c.roomID, "from", c.id.Short())

	switch msg.Type {
	case protocol.TypeJoin:
		h.join(c, msg)

	case protocol.TypeLeave:
		h.leaveRoom(c)

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICE, protocol.TypeRenegotiate:
		if !h.requireRoom(c) {
			return
		}
		target, ok := h.registry.Lookup(c.roomID, msg.To)
		if !ok || target.ID == c.id {
			log.Debug("relay target absent", "to", msg.To.Short())
			return
		}
		fwd := *msg
		fwd.From = c.id
		h.deliver(target.client, &fwd)

	case protocol.TypeHand:
		if !h.requireRoom(c) {
			return
		}
		up := msg.Up != nil && *msg.Up
		h.registry.SetHand(c.roomID, c.id, up)
		h.broadcast(c, &protocol.Message{
			Type: protocol.TypeHand,
			ID:   c.id,
			Up:   protocol.Bool(up),
		})

	case protocol.TypeChat:
		if !h.requireRoom(c) {
			return
		}
		h.broadcast(c, &protocol.Message{
			Type:   protocol.TypeChat,
			From:   c.id,
			MsgID:  msg.MsgID,
			Author: msg.Author,
			Text:   msg.Text,
			TS:     msg.TS,
		})

	default:
		log.Debug("unknown message type")
	}
}

func (h *Hub) join(c *Client, msg *protocol.Message) {
	if c.roomID != "" {
		h.deliver(c, &protocol.Message{Type: protocol.TypeError, Error: "already joined a room"})
		return
	}
	if msg.RoomID == "" {
		h.deliver(c, &protocol.Message{Type: protocol.TypeError, Error: "roomId is required"})
		return
	}

	roomID := msg.RoomID
	p := &Participant{ID: h.newID(), Name: msg.Name, client: c}
	others := h.registry.Join(roomID, p)
	c.roomID, c.id = roomID, p.ID

	h.log.Info("participant joined", "room", roomID, "id", p.ID.Short(), "name", p.Name, "others", len(others))

	h.deliver(c, &protocol.Message{
		Type:         protocol.TypeJoined,
		RoomID:       roomID,
		ClientID:     p.ID,
		Participants: others,
	})
	h.broadcast(c, &protocol.Message{Type: protocol.TypePeerJoined, ID: p.ID, Name: p.Name})
	h.notify("join", roomID, p)
}

// leaveRoom removes c from its room, if any, and tells the rest of the room.
func (h *Hub) leaveRoom(c *Client) {
	if c.roomID == "" {
		return
	}
	roomID := c.roomID
	p, deleted := h.registry.Leave(roomID, c.id)
	c.roomID, c.id = "", ""
	if p == nil {
		return
	}

	h.log.Info("participant left", "room", roomID, "id", p.ID.Short())
	for _, other := range h.registry.Others(roomID, p.ID) {
		h.deliver(other.client, &protocol.Message{Type: protocol.TypePeerLeft, ID: p.ID})
	}
	if deleted {
		h.log.Info("room deleted", "room", roomID)
	}
	h.notify("leave", roomID, p)
}

func (h *Hub) requireRoom(c *Client) bool {
	if c.roomID != "" {
		return true
	}
	h.deliver(c, &protocol.Message{Type: protocol.TypeError, Error: "join a room first"})
	return false
}

func (h *Hub) broadcast(from *Client, msg *protocol.Message) {
	for _, p := range h.registry.Others(from.roomID, from.id) {
		h.deliver(p.client, msg)
	}
}

// deliver queues msg for c without blocking; a full queue evicts c.
func (h *Hub) deliver(c *Client, msg *protocol.Message) {
	if c == nil || c.evicted || c.sendClosed {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.log.Warn("evicting slow client", "room", c.roomID, "id", c.id.Short())
		c.evicted = true
		h.leaveRoom(c)
		h.shutdown(c)
	}
}

// shutdown closes c's outbound queue once; its write pump then closes the socket.
func (h *Hub) shutdown(c *Client) {
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
	if c.evicted {
		c.close()
	}
}

func (h *Hub) notify(event, roomID string, p *Participant) {
	occ := Occupancy{
		Event:         event,
		RoomID:        roomID,
		ParticipantID: p.ID,
		Name:          p.Name,
		Occupancy:     h.registry.Occupancy(roomID),
	}
	n, timeout, log := h.notifier, h.notifyTimeout, h.log

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := n.Notify(ctx, occ); err != nil {
			log.Warn("meeting registry notify failed", "room", occ.RoomID, "event", occ.Event, logging.Err(err))
		}
	}()
}
