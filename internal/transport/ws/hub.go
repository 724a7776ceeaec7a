// Package ws is the websocket transport: one hub fanning system state out
// to every connected client, and routing client commands back in.
package ws

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"

	"github.com/miloaudio/milo/internal/domain/device"
	"github.com/miloaudio/milo/internal/domain/source"
)

// Controller is the slice of the switching coordinator the transport needs.
type Controller interface {
	SelectSource(target source.Source) error
	Disconnect() error
	SetOutputMode(mode source.OutputMode) error
	SetEqualizer(on bool) error
	SetVolume(v int) error
	Snapshot() source.SystemState
}

// helloPayload carries device identity in the first message on a new
// connection, so clients can tell hubs apart before any state arrives.
type helloPayload struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	ServiceName string `json:"serviceName"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS layer on the HTTP surface; the
	// websocket endpoint accepts whatever made it past it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// DefaultMaxExternalClients bounds concurrent remote connections. Local
// clients are exempt.
const DefaultMaxExternalClients = 8

// Hub owns the set of connected clients. All membership changes and all
// fan-out happen on the Run goroutine, so every client observes the state
// snapshot first and every later delta in publication order.
type Hub struct {
	ctrl    Controller
	ident   device.Info
	limiter *connLimiter

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan ServerMessage
}

// NewHub builds a hub over the given controller.
func NewHub(ctrl Controller, identity device.Info) *Hub {
	return &Hub{
		ctrl:       ctrl,
		ident:      identity,
		limiter:    newConnLimiter(DefaultMaxExternalClients),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan ServerMessage, 64),
	}
}

// Run serializes client membership and message fan-out. It returns when
// ctx is done, closing every client queue on the way out.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				c.closeSend()
				delete(h.clients, c)
			}
			return

		case c := <-h.register:
			if evicted := h.limiter.add(c, c.remoteIP); evicted != nil && h.clients[evicted] {
				delete(h.clients, evicted)
				evicted.closeSend()
				log.Warn().Str("client", evicted.id).Msg("Evicting oldest external client")
			}
			h.clients[c] = true
			// Snapshot before any delta. Both fit comfortably in a
			// fresh client's queue, so these cannot fail.
			c.enqueue(ServerMessage{Type: MsgHello, Payload: helloPayload{
				UUID:        h.ident.UUID,
				Name:        h.ident.Name,
				ServiceName: h.ident.ServiceName,
			}})
			c.enqueue(ServerMessage{Type: MsgPushState, Payload: h.ctrl.Snapshot()})
			log.Info().Str("client", c.id).Int("clients", len(h.clients)).Msg("Client connected")

		case c := <-h.unregister:
			h.limiter.remove(c)
			if h.clients[c] {
				delete(h.clients, c)
				c.closeSend()
				log.Info().Str("client", c.id).Int("clients", len(h.clients)).Msg("Client disconnected")
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.enqueue(msg) {
					// A full queue means the client stopped draining.
					// Drop it rather than stall or skip its deltas.
					delete(h.clients, c)
					c.closeSend()
					log.Warn().Str("client", c.id).Msg("Dropping slow client")
				}
			}
		}
	}
}

// BroadcastState publishes a state snapshot to every connected client.
// The coordinator calls this after each state change.
func (h *Hub) BroadcastState(st source.SystemState) {
	h.broadcast <- ServerMessage{Type: MsgPushState, Payload: st}
}

// Notify forwards a side-channel event to every connected client. It is
// multiplexed on the state transport but is not part of system state.
func (h *Hub) Notify(p NotifyPayload) {
	h.broadcast <- ServerMessage{Type: MsgNotify, Payload: p}
}

// handleCommand maps a client command onto the controller. Success is
// acknowledged implicitly by the resulting state broadcast; failures go
// back to the issuing client only.
func (h *Hub) handleCommand(c *Client, cmd Command) {
	var err error

	switch cmd.Type {
	case CmdSetSource:
		src, perr := source.Parse(cmd.Source)
		if perr != nil {
			err = perr
			break
		}
		err = h.ctrl.SelectSource(src)

	case CmdDisconnectSource:
		err = h.ctrl.Disconnect()

	case CmdSetVolume:
		if cmd.Volume == nil {
			err = errMissingField("volume")
			break
		}
		err = h.ctrl.SetVolume(*cmd.Volume)

	case CmdSetOutputMode:
		mode, perr := source.ParseMode(cmd.Mode)
		if perr != nil {
			err = perr
			break
		}
		err = h.ctrl.SetOutputMode(mode)

	case CmdSetEqualizer:
		if cmd.Enabled == nil {
			err = errMissingField("enabled")
			break
		}
		err = h.ctrl.SetEqualizer(*cmd.Enabled)

	case CmdGetState:
		c.enqueue(ServerMessage{Type: MsgPushState, Payload: h.ctrl.Snapshot()})
		return

	default:
		err = errUnknownCommand(cmd.Type)
	}

	if err != nil {
		log.Debug().Str("client", c.id).Str("command", cmd.Type).Err(err).Msg("Command rejected")
		c.enqueue(ServerMessage{Type: MsgError, Payload: err.Error()})
	}
}

func errMissingField(name string) error {
	return fmt.Errorf("missing field %q", name)
}

func errUnknownCommand(typ string) error {
	return fmt.Errorf("unknown command %q", typ)
}

// ServeWS upgrades an HTTP request and hands the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := newClient(xid.New().String(), h, conn)
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		c.remoteIP = host
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}
