package ws

import (
	"encoding/json"
	"sync"
)

// Client represents a single WebSocket connection with donor context.
type Client struct {
	DonorID string
	Role    string
	Send    chan []byte
	Hub     *Hub // set by Register so Close() can unregister
	mu      sync.Mutex
	closed  bool
}

func NewClient(donorID, role string) *Client {
	return &Client{DonorID: donorID, Role: role, Send: make(chan []byte, 64)}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
	if c.Hub != nil {
		c.Hub.unregister(c)
	}
}

// Hub maintains the set of active clients and fans payment updates out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	// donorID -> clients (one donor can have multiple connections)
	byDonor map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		byDonor: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.Hub = h
	h.clients[c] = struct{}{}
	if h.byDonor[c.DonorID] == nil {
		h.byDonor[c.DonorID] = make(map[*Client]struct{})
	}
	h.byDonor[c.DonorID][c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	if m := h.byDonor[c.DonorID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byDonor, c.DonorID)
		}
	}
}

// BroadcastToDonor sends payload to every connection of donorID and returns
// how many clients it was queued for. Slow clients are skipped.
func (h *Hub) BroadcastToDonor(donorID string, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	h.mu.RLock()
	m := h.byDonor[donorID]
	clients := make([]*Client, 0, len(m))
	for c := range m {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return send(clients, data)
}

// BroadcastToRole sends payload to every connection authenticated with role.
func (h *Hub) BroadcastToRole(role string, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	h.mu.RLock()
	clients := make([]*Client, 0)
	for c := range h.clients {
		if c.Role == role {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()
	return send(clients, data)
}

func send(clients []*Client, data []byte) int {
	n := 0
	for _, c := range clients {
		c.mu.Lock()
		if !c.closed {
			select {
			case c.Send <- data:
				n++
			default:
			}
		}
		c.mu.Unlock()
	}
	return n
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
