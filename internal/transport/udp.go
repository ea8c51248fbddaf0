package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

const maxDatagram = 64 * 1024

// UDP sends one framed datagram per message to every known peer. Peers are
// configured up front or learned from the first datagram they send.
type UDP struct {
	conn   net.PacketConn
	inbox  *Inbox
	logger *slog.Logger

	mu     sync.RWMutex
	peers  map[string]net.Addr
	closed bool

	wg sync.WaitGroup
}

// ListenUDP binds addr and starts the receive goroutine.
func ListenUDP(addr string, peers []string, limit int, logger *slog.Logger) (*UDP, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	u := &UDP{
		conn:   conn,
		inbox:  NewInbox(limit),
		logger: logger.With("transport", "udp", "local", conn.LocalAddr().String()),
		peers:  make(map[string]net.Addr),
	}
	for _, p := range peers {
		if err := u.AddPeer(p); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	u.wg.Add(1)
	go u.readLoop()
	return u, nil
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// AddPeer resolves addr and adds it to the send set.
func (u *UDP) AddPeer(addr string) error {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve peer %s: %w", addr, err)
	}
	u.mu.Lock()
	u.peers[ua.String()] = ua
	u.mu.Unlock()
	return nil
}

// Peers returns the number of known peers.
func (u *UDP) Peers() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.peers)
}

// SendUnordered writes b to every peer. Per-peer write failures are joined.
func (u *UDP) SendUnordered(b []byte, ch Channel) error {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.closed {
		return ErrClosed
	}

	frame := Frame(ch, b)
	var errs []error
	for _, p := range u.peers {
		if _, err := u.conn.WriteTo(frame, p); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// ReceiveQueue drains what arrived on ch.
func (u *UDP) ReceiveQueue(ch Channel) [][]byte {
	return u.inbox.Drain(ch)
}

// Close stops the receive goroutine and releases the socket.
func (u *UDP) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.mu.Unlock()

	err := u.conn.Close()
	u.wg.Wait()
	return err
}

func (u *UDP) readLoop() {
	defer u.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := u.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			u.logger.Warn("udp read failed", "error", err)
			continue
		}

		ch, payload, err := Unframe(buf[:n])
		if err != nil {
			u.logger.Debug("dropping datagram", "from", from.String(), "error", err)
			continue
		}

		u.learn(from)
		if !u.inbox.Deliver(ch, payload) {
			u.logger.Debug("inbox full", "channel", ch.String())
		}
	}
}

func (u *UDP) learn(from net.Addr) {
	key := from.String()
	u.mu.RLock()
	_, known := u.peers[key]
	u.mu.RUnlock()
	if known {
		return
	}
	u.mu.Lock()
	u.peers[key] = from
	u.mu.Unlock()
	u.logger.Info("peer learned", "peer", key)
}
