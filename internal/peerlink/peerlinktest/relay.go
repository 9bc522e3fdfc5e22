package peerlinktest

import (
	"sync"

	"github.com/Sharif2023/StudyNest-sub001/internal/peerlink"
	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
)

// Deliverer accepts relayed signals; *peerlink.Link implements it.
type Deliverer interface {
	Deliver(msg *protocol.Message)
}

// Relay is an in-memory stand-in for the hub's relay. It stamps From and can
// hold traffic so that two offers cross in flight.
type Relay struct {
	mu    sync.Mutex
	peers map[protocol.ParticipantID]Deliverer
	held  bool
	queue []*protocol.Message
	sent  map[string]int
}

func NewRelay() *Relay {
	return &Relay{
		peers: make(map[protocol.ParticipantID]Deliverer),
		sent:  make(map[string]int),
	}
}

// Register routes messages addressed to id into d.
func (r *Relay) Register(id protocol.ParticipantID, d Deliverer) {
	r.mu.Lock()
	r.peers[id] = d
	r.mu.Unlock()
}

// Signaler returns the endpoint a link owned by from sends through.
func (r *Relay) Signaler(from protocol.ParticipantID) peerlink.Signaler {
	return endpoint{relay: r, from: from}
}

// Hold queues every message until Release.
func (r *Relay) Hold() {
	r.mu.Lock()
	r.held = true
	r.mu.Unlock()
}

// Release delivers the queued messages in order and stops holding. Replies
// produced while draining are queued behind what was already held.
func (r *Relay) Release() {
	for {
		r.mu.Lock()
		queue := r.queue
		r.queue = nil
		if len(queue) == 0 {
			r.held = false
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		for _, msg := range queue {
			r.deliver(msg)
		}
	}
}

// Sent counts the messages of type typ that passed through the relay.
func (r *Relay) Sent(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[typ]
}

func (r *Relay) route(msg *protocol.Message) {
	r.mu.Lock()
	r.sent[msg.Type]++
	if r.held {
		r.queue = append(r.queue, msg)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.deliver(msg)
}

func (r *Relay) deliver(msg *protocol.Message) {
	r.mu.Lock()
	d := r.peers[msg.To]
	r.mu.Unlock()
	if d != nil {
		d.Deliver(msg)
	}
}

type endpoint struct {
	relay *Relay
	from  protocol.ParticipantID
}

func (e endpoint) SendMessage(msg *protocol.Message) error {
	out := *msg
	out.From = e.from
	e.relay.route(&out)
	return nil
}
