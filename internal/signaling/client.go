package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/Sharif2023/StudyNest-sub001/internal/dns"
	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	queueSize      = 64
)

var (
	// ErrClosed is returned by SendMessage after Close.
	ErrClosed = errors.New("signaling client closed")
	// ErrConnectionLost is returned by SendMessage once either pump has exited.
	ErrConnectionLost = errors.New("signaling connection lost")
)

// Client manages the WebSocket connection to the hub.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	incoming  chan *protocol.Message
	outgoing  chan *protocol.Message
	done      chan struct{}
	closeOnce sync.Once
	dead      chan struct{}
	deadOnce  sync.Once
	log       *slog.Logger
}

// NewClient creates a new signaling client.
func NewClient(serverURL string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		serverURL: serverURL,
		incoming:  make(chan *protocol.Message, queueSize),
		outgoing:  make(chan *protocol.Message, queueSize),
		done:      make(chan struct{}),
		dead:      make(chan struct{}),
		log:       log.With("component", "signaling"),
	}
}

// Connect establishes the WebSocket connection and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = dns.DialContext

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", u.Host, err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	c.log.Debug("connected", "url", u.Redacted())
	return nil
}

// readPump reads messages from the WebSocket connection. Incoming is closed
// when it returns.
func (c *Client) readPump() {
	defer func() {
		c.markDead()
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read loop ended", "error", err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("ignoring malformed message", "bytes", len(data))
			continue
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.markDead()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.log.Debug("write failed", "type", message.Type, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// Drain what was queued before Close, e.g. a final leave.
			for {
				select {
				case message := <-c.outgoing:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if c.conn.WriteJSON(message) != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

// markDead records that the connection is gone so senders stop waiting on a
// queue nobody drains.
func (c *Client) markDead() {
	c.deadOnce.Do(func() { close(c.dead) })
}

// SendMessage queues msg for the hub. It never blocks once the client is
// closed or the connection has dropped.
func (c *Client) SendMessage(msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case <-c.dead:
		return ErrConnectionLost
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.dead:
		return ErrConnectionLost
	}
}

// Incoming returns the channel of messages from the hub. It is closed when
// the connection ends.
func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Close closes the WebSocket connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}
