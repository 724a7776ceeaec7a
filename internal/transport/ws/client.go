package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait     = 10 * time.Second
	sendQueueSize = 32
)

// Client is one live websocket connection. It holds nothing that outlives
// the connection: a queue, an id for logging, and the two pump goroutines.
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	remoteIP string

	mu     sync.Mutex // guards send against close while readPump enqueues
	closed bool
	send   chan ServerMessage
}

func newClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   id,
		hub:  hub,
		conn: conn,
		send: make(chan ServerMessage, sendQueueSize),
	}
}

// enqueue hands a message to the client's write pump. Returns false when the
// queue is full, which the hub treats as a dead or hopelessly slow client.
func (c *Client) enqueue(msg ServerMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// closeSend shuts the send queue, letting writePump drain and finish.
// Safe to call more than once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump parses inbound commands and dispatches them until the connection
// drops. Runs in its own goroutine; command handling may block on the
// coordinator without affecting other clients.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Str("client", c.id).Err(err).Msg("Unexpected websocket closure")
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			log.Debug().Str("client", c.id).Str("raw", string(raw)).Msg("Unparseable command")
			c.enqueue(ServerMessage{Type: MsgError, Payload: "unparseable command"})
			continue
		}

		c.hub.handleCommand(c, cmd)
	}
}

// writePump drains the send queue onto the wire, in order. One goroutine per
// client; a write failure ends the connection.
func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		data, err := json.Marshal(msg)
		if err != nil {
			log.Error().Err(err).Str("client", c.id).Msg("Message marshal failed")
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	// Queue closed by the hub: say goodbye properly.
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
