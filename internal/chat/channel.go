package chat

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Label is the data channel label used for chat.
const Label = "chat"

var ErrChannelClosed = errors.New("chat channel closed")

// Transport is the slice of *webrtc.DataChannel the chat channel needs.
type Transport interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	Send(data []byte) error
	OnOpen(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
	OnClose(f func())
	Close() error
}

// Channel is a per-link chat channel. Messages sent before the transport opens
// are queued in order and flushed exactly once when it does.
type Channel struct {
	mu        sync.Mutex
	transport Transport
	open      bool
	closed    bool
	queue     [][]byte

	onMessage func(Message)
	log       *slog.Logger
}

// NewChannel returns a detached channel. onMessage is called from the
// transport's goroutine for each decoded message.
func NewChannel(onMessage func(Message), log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	if onMessage == nil {
		onMessage = func(Message) {}
	}
	return &Channel{onMessage: onMessage, log: log}
}

// Attach binds t. If t is already open the queue is flushed immediately.
func (c *Channel) Attach(t Transport) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.Close()
		return
	}
	c.transport = t
	c.mu.Unlock()

	t.OnOpen(c.flush)
	t.OnClose(func() {
		c.mu.Lock()
		c.open = false
		c.mu.Unlock()
	})
	t.OnMessage(func(msg webrtc.DataChannelMessage) {
		m, err := Decode(msg.Data, msg.IsString)
		if err != nil {
			c.log.Debug("dropping undecodable chat frame", "error", err, "bytes", len(msg.Data))
			return
		}
		c.onMessage(m)
	})

	if t.ReadyState() == webrtc.DataChannelStateOpen {
		c.flush()
	}
}

func (c *Channel) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open || c.closed || c.transport == nil {
		return
	}
	c.open = true

	for i, data := range c.queue {
		if err := c.transport.Send(data); err != nil {
			// Keep the unsent tail, in order, for the next open.
			c.log.Warn("flushing queued chat failed", "error", err, "requeued", len(c.queue)-i)
			c.queue = c.queue[i:]
			c.open = false
			return
		}
	}
	c.queue = nil
}

// Send delivers m now if the channel is open, otherwise queues it.
func (c *Channel) Send(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}
	if !c.open {
		c.queue = append(c.queue, data)
		return nil
	}
	return c.transport.Send(data)
}

// Open reports whether the transport has opened.
func (c *Channel) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Queued returns the number of messages waiting for open.
func (c *Channel) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Close drops the queue and closes the transport. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.open = false
	c.queue = nil
	t := c.transport
	c.mu.Unlock()

	if t == nil {
		return nil
	}
	return t.Close()
}
