package transport

import (
	"math/rand/v2"
	"sync"
)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithDuplication delivers every datagram twice.
func WithDuplication() HubOption {
	return func(h *Hub) {
		h.duplicate = true
	}
}

// WithReordering shuffles each drained queue with a generator seeded by seed.
func WithReordering(seed uint64) HubOption {
	return func(h *Hub) {
		h.reorderSeed = seed
		h.reorder = true
	}
}

// WithInboxLimit bounds each endpoint's per-channel queue.
func WithInboxLimit(limit int) HubOption {
	return func(h *Hub) {
		h.limit = limit
	}
}

// Hub connects in-process endpoints. A datagram sent by one endpoint is
// delivered to every other endpoint.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[int]*Loopback
	nextID    int

	limit       int
	duplicate   bool
	reorder     bool
	reorderSeed uint64
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{endpoints: make(map[int]*Loopback), limit: 4096}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join attaches a new endpoint.
func (h *Hub) Join() *Loopback {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	lb := &Loopback{hub: h, id: id, inbox: NewInbox(h.limit)}
	if h.reorder {
		lb.rng = rand.New(rand.NewPCG(h.reorderSeed, uint64(id)))
	}
	h.endpoints[id] = lb
	return lb
}

// Len returns the number of attached endpoints.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.endpoints)
}

func (h *Hub) broadcast(from int, ch Channel, b []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, lb := range h.endpoints {
		if id == from {
			continue
		}
		lb.inbox.Deliver(ch, b)
		if h.duplicate {
			lb.inbox.Deliver(ch, b)
		}
	}
}

func (h *Hub) leave(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.endpoints, id)
}

// Loopback is one hub endpoint.
type Loopback struct {
	hub   *Hub
	id    int
	inbox *Inbox

	mu     sync.Mutex
	rng    *rand.Rand
	closed bool
}

// SendUnordered delivers b to every other endpoint on the hub.
func (l *Loopback) SendUnordered(b []byte, ch Channel) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}
	l.hub.broadcast(l.id, ch, b)
	return nil
}

// ReceiveQueue drains what arrived on ch.
func (l *Loopback) ReceiveQueue(ch Channel) [][]byte {
	out := l.inbox.Drain(ch)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rng != nil {
		l.rng.Shuffle(len(out), func(i, j int) {
			out[i], out[j] = out[j], out[i]
		})
	}
	return out
}

// Dropped returns how many datagrams on ch did not fit the inbox.
func (l *Loopback) Dropped(ch Channel) uint64 {
	return l.inbox.Dropped(ch)
}

// Close detaches the endpoint from its hub.
func (l *Loopback) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	l.hub.leave(l.id)
	return nil
}
