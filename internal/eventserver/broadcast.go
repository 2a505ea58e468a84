package eventserver

import "sync"

const broadcastChannelSize = 256

// hub tracks connected WebSocket clients and fans broadcast messages out to
// all of them. When a client's send buffer is full the message is dropped
// for that client (which stays registered) rather than blocking the
// broadcaster — a slow reader must not stall event delivery
// for everyone else.
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	send chan []byte
}

func newHub() *hub {
	return &hub{clients: map[*client]struct{}{}}
}

func (h *hub) register() *client {
	c := &client{send: make(chan []byte, broadcastChannelSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcast sends data to every registered client's buffer, dropping it for
// clients whose buffer is already full.
func (h *hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}
