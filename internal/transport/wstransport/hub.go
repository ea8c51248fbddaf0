package wstransport

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/OCAP2/physync/internal/transport"
)

// Hub accepts WebSocket peers and relays every frame a peer sends to all
// other peers. The hub is itself a Transport for the process hosting it.
type Hub struct {
	upgrader ws.Upgrader
	inbox    *transport.Inbox
	logger   *slog.Logger

	mu     sync.RWMutex
	peers  map[*peer]struct{}
	closed bool
}

type peer struct {
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func (p *peer) stop() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// NewHub creates a hub whose own inbox holds limit datagrams per channel.
func NewHub(limit int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: ws.Upgrader{
			ReadBufferSize:  maxFrame,
			WriteBufferSize: maxFrame,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		inbox:  transport.NewInbox(limit),
		logger: logger.With("transport", "websocket-hub"),
		peers:  make(map[*peer]struct{}),
	}
}

const maxFrame = 64 * 1024

// ServeHTTP upgrades the request and serves the peer until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxFrame)

	p := &peer{conn: conn, sendCh: make(chan []byte, sendChSize), done: make(chan struct{})}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.peers[p] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("peer connected", "remote", r.RemoteAddr)

	go h.writeLoop(p)
	h.readLoop(p)

	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
	p.stop()
	h.logger.Info("peer disconnected", "remote", r.RemoteAddr)
}

// Peers returns the number of connected peers.
func (h *Hub) Peers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// SendUnordered sends b to every connected peer.
func (h *Hub) SendUnordered(b []byte, ch transport.Channel) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return transport.ErrClosed
	}
	h.relay(nil, transport.Frame(ch, b))
	return nil
}

// ReceiveQueue drains what peers sent on ch.
func (h *Hub) ReceiveQueue(ch transport.Channel) [][]byte {
	return h.inbox.Drain(ch)
}

// Close disconnects every peer.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		_ = p.conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseGoingAway, ""),
			time.Now().Add(writeWait))
		p.stop()
	}
	return nil
}

func (h *Hub) relay(from *peer, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.peers {
		if p == from {
			continue
		}
		select {
		case p.sendCh <- frame:
		default:
			h.logger.Warn("peer send channel full, dropping message")
		}
	}
}

func (h *Hub) readLoop(p *peer) {
	for {
		kind, msg, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != ws.BinaryMessage {
			continue
		}
		ch, payload, err := transport.Unframe(msg)
		if err != nil {
			h.logger.Debug("dropping frame", "error", err)
			continue
		}
		h.inbox.Deliver(ch, payload)
		h.relay(p, msg)
	}
}

func (h *Hub) writeLoop(p *peer) {
	for {
		select {
		case <-p.done:
			return
		case data := <-p.sendCh:
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				p.stop()
				return
			}
			if err := p.conn.WriteMessage(ws.BinaryMessage, data); err != nil {
				p.stop()
				return
			}
		}
	}
}
