package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP with three media sections
	// plus a data channel fits comfortably.
	maxMessageSize = 64 * 1024

	// sendBuffer bounds a client's outbound queue; a client that falls this far
	// behind is evicted rather than stalling the hub.
	sendBuffer = 256
)

// Client is a wrapper for a single websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// send is written only by the hub loop and closed by it on unregister.
	send chan *protocol.Message

	// Set and read only on the hub loop.
	roomID     string
	id         protocol.ParticipantID
	evicted    bool
	sendClosed bool

	closeOnce sync.Once
	log       *slog.Logger
}

// NewClient wraps conn. Call Serve to start its pumps.
func NewClient(h *Hub, conn *websocket.Conn) *Client {
	log := h.log
	if conn != nil {
		log = log.With("remote", conn.RemoteAddr().String())
	}
	return &Client{
		hub:  h,
		conn: conn,
		send: make(chan *protocol.Message, sendBuffer),
		log:  log,
	}
}

// Serve registers the client and runs its read and write pumps. It returns
// immediately.
func (c *Client) Serve() {
	c.hub.register(c)
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("read failed", "error", err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.log.Debug("ignoring malformed message", "bytes", len(data))
			continue
		}

		if !c.hub.dispatch(c, &msg) {
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.log.Debug("write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
