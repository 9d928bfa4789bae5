package hub

import (
	"sync"

	"github.com/kstaniek/go-canusb-server/internal/can"
	"github.com/kstaniek/go-canusb-server/internal/logging"
	"github.com/kstaniek/go-canusb-server/internal/metrics"
)

// BackpressurePolicy decides what happens to a client whose queue is full.
type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

func (p BackpressurePolicy) String() string {
	if p == PolicyKick {
		return "kick"
	}
	return "drop"
}

// ParsePolicy maps "drop" and "kick" to a policy.
func ParsePolicy(s string) (BackpressurePolicy, bool) {
	switch s {
	case "drop":
		return PolicyDrop, true
	case "kick":
		return PolicyKick, true
	}
	return PolicyDrop, false
}

// Client is one TCP consumer of bus traffic.
type Client struct {
	Out       chan can.Frame
	Closed    chan struct{}
	closeOnce sync.Once
}

// NewClient allocates a client with a queue of buf frames.
func NewClient(buf int) *Client {
	return &Client{Out: make(chan can.Frame, buf), Closed: make(chan struct{})}
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Closed) })
}

// Tap receives every broadcast frame synchronously; it must not block.
type Tap func(can.Frame)

// Hub fans frames received from the bus out to clients and taps.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	taps       []Tap
	OutBufSize int
	Policy     BackpressurePolicy
}

func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// AddTap registers fn for all future broadcasts.
func (h *Hub) AddTap(fn Tap) {
	h.mu.Lock()
	h.taps = append(h.taps, fn)
	h.mu.Unlock()
}

func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(cur)
	if cur == 1 {
		logging.L().Info("clients_first_connected")
	}
}

// Remove unregisters and closes a client; safe to call more than once.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	cur := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetHubClients(cur)
	if existed && cur == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Broadcast hands fr to every tap and queues it for every client, applying
// the backpressure policy to clients whose queue is full.
func (h *Hub) Broadcast(fr can.Frame) {
	h.mu.RLock()
	taps := h.taps
	h.mu.RUnlock()
	for _, tap := range taps {
		tap(fr)
	}

	clients := h.Snapshot()
	depth := 0
	for _, c := range clients {
		if l := len(c.Out); l > depth {
			depth = l
		}
		select {
		case c.Out <- fr:
			continue
		default:
		}
		if h.Policy == PolicyKick {
			metrics.IncHubKick()
			c.Close() // writer exits; the server removes the client
		} else {
			metrics.IncHubDrop()
		}
	}
	metrics.SetQueueDepthMax(depth)
}

// Snapshot returns a copy of the current client set.
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); defer h.mu.RUnlock(); return len(h.clients) }
