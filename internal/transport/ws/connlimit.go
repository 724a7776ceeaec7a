package ws

import "sync"

// connLimiter bounds the number of concurrent non-localhost connections.
// Local clients (the on-device UI) are always allowed. When a new external
// client exceeds the limit, the oldest external client is evicted; the
// newcomer always wins.
type connLimiter struct {
	mu          sync.Mutex
	maxExternal int
	external    []*Client // oldest first
	ips         map[*Client]string
}

func newConnLimiter(maxExternal int) *connLimiter {
	return &connLimiter{
		maxExternal: maxExternal,
		ips:         make(map[*Client]string),
	}
}

// add registers a new connection and returns the client to evict, if any.
func (cl *connLimiter) add(c *Client, remoteIP string) (evicted *Client) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.ips[c]; exists {
		return nil
	}
	cl.ips[c] = remoteIP

	if isLocalIP(remoteIP) {
		return nil
	}

	cl.external = append(cl.external, c)
	if len(cl.external) > cl.maxExternal {
		evicted = cl.external[0]
		cl.external = cl.external[1:]
		delete(cl.ips, evicted)
	}
	return evicted
}

// remove unregisters a connection when a client disconnects.
func (cl *connLimiter) remove(c *Client) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	ip, exists := cl.ips[c]
	if !exists {
		return
	}
	delete(cl.ips, c)

	if isLocalIP(ip) {
		return
	}
	for i, other := range cl.external {
		if other == c {
			cl.external = append(cl.external[:i], cl.external[i+1:]...)
			break
		}
	}
}

// isLocalIP returns true if the IP address is localhost.
func isLocalIP(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1"
}
