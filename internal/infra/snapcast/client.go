// Package snapcast is a minimal JSON-RPC client for the Snapcast control
// port, covering the group volume surface the volume controller needs.
package snapcast

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	dialTimeout    = 5 * time.Second
	requestTimeout = 5 * time.Second
)

// request is a JSON-RPC 2.0 request. Snapcast frames messages with newlines.
type request struct {
	ID      int            `json:"id"`
	JSONRpc string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type response struct {
	ID      *int            `json:"id"`
	JSONRpc string          `json:"jsonrpc"`
	Result  map[string]any  `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"` // set on notifications
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client talks to one Snapcast server and addresses one group by name.
// All room clients of that group are scaled together so every room stays
// consistent with the hub's logical volume.
type Client struct {
	addr  string
	group string

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID int
}

// NewClient creates a client for the Snapcast control port (default 1705).
func NewClient(host string, port int, group string) *Client {
	return &Client{
		addr:   fmt.Sprintf("%s:%d", host, port),
		group:  group,
		nextID: 1,
	}
}

// Connect dials the control port. Safe to call again after a failure.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("snapcast dial %s: %w", c.addr, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	log.Info().Str("addr", c.addr).Str("group", c.group).Msg("Connected to Snapcast server")
	return nil
}

// Close closes the control connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// call performs one request/response round trip. Server-initiated
// notifications arriving in between are skipped; they carry no id.
func (c *Client) call(method string, params map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(); err != nil {
		return nil, err
	}

	id := c.nextID
	c.nextID++

	data, err := json.Marshal(request{ID: id, JSONRpc: "2.0", Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	data = append(data, '\n')

	if err := c.conn.SetWriteDeadline(time.Now().Add(requestTimeout)); err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(data); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("snapcast write: %w", err)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(requestTimeout)); err != nil {
		return nil, err
	}
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			c.dropLocked()
			return nil, fmt.Errorf("snapcast read: %w", err)
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			log.Warn().Err(err).Msg("Unparseable Snapcast message, skipping")
			continue
		}
		if resp.ID == nil || *resp.ID != id {
			// Notification or stale reply.
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("snapcast rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
}

// groupClientIDs fetches the server status and returns the ids of every
// client in the configured group. Matching is by group name first, falling
// back to group id for servers without named groups.
func (c *Client) groupClientIDs() ([]string, error) {
	status, err := c.call("Server.GetStatus", nil)
	if err != nil {
		return nil, err
	}

	server, _ := status["server"].(map[string]any)
	groups, _ := server["groups"].([]any)
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			continue
		}
		if getString(group, "name") != c.group && getString(group, "id") != c.group {
			continue
		}
		clientsRaw, _ := group["clients"].([]any)
		ids := make([]string, 0, len(clientsRaw))
		for _, cl := range clientsRaw {
			client, ok := cl.(map[string]any)
			if !ok {
				continue
			}
			if id := getString(client, "id"); id != "" {
				ids = append(ids, id)
			}
		}
		return ids, nil
	}
	return nil, fmt.Errorf("snapcast group %q not found", c.group)
}

// SetGroupVolume sets every client of the configured group to the given
// percentage. Snapcast has no group-level volume call, so the group scales
// by setting each member client.
func (c *Client) SetGroupVolume(percent int) error {
	ids, err := c.groupClientIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		_, err := c.call("Client.SetVolume", map[string]any{
			"id": id,
			"volume": map[string]any{
				"percent": percent,
			},
		})
		if err != nil {
			return fmt.Errorf("set volume on client %s: %w", id, err)
		}
	}
	log.Debug().Int("percent", percent).Int("clients", len(ids)).Msg("Snapcast group volume set")
	return nil
}

// SetGroupMute mutes or unmutes the whole group in one call.
func (c *Client) SetGroupMute(mute bool) error {
	status, err := c.call("Server.GetStatus", nil)
	if err != nil {
		return err
	}
	server, _ := status["server"].(map[string]any)
	groups, _ := server["groups"].([]any)
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			continue
		}
		if getString(group, "name") != c.group && getString(group, "id") != c.group {
			continue
		}
		_, err := c.call("Group.SetMute", map[string]any{
			"id":   getString(group, "id"),
			"mute": mute,
		})
		return err
	}
	return fmt.Errorf("snapcast group %q not found", c.group)
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
