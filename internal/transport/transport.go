// Package transport moves opaque datagrams between session participants.
package transport

import (
	"errors"
	"fmt"

	"github.com/OCAP2/physync/internal/queue"
)

// ErrClosed is returned when sending on a closed transport.
var ErrClosed = errors.New("transport closed")

// Channel separates traffic classes on one transport.
type Channel uint8

const (
	// ChannelSync carries SYNC messages.
	ChannelSync Channel = iota
	// ChannelInput carries CLIENT_INPUT messages.
	ChannelInput
	// ChannelControl carries join snapshots and session control.
	ChannelControl

	channelCount
)

func (c Channel) String() string {
	switch c {
	case ChannelSync:
		return "sync"
	case ChannelInput:
		return "input"
	case ChannelControl:
		return "control"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c < channelCount
}

// Channels lists every channel in drain order.
func Channels() []Channel {
	return []Channel{ChannelControl, ChannelSync, ChannelInput}
}

// Transport sends without blocking and buffers what it receives until the
// simulation goroutine drains it.
type Transport interface {
	SendUnordered(b []byte, ch Channel) error
	ReceiveQueue(ch Channel) [][]byte
	Close() error
}

// Inbox holds received datagrams per channel. Receive goroutines push,
// the simulation goroutine drains.
type Inbox struct {
	queues [channelCount]*queue.Queue[[]byte]
}

// NewInbox creates an inbox holding at most limit datagrams per channel.
func NewInbox(limit int) *Inbox {
	in := &Inbox{}
	for i := range in.queues {
		in.queues[i] = queue.New[[]byte](limit)
	}
	return in
}

// Deliver stores a copy of b. Unknown channels are rejected.
func (in *Inbox) Deliver(ch Channel, b []byte) bool {
	if !ch.Valid() {
		return false
	}
	return in.queues[ch].Push(append([]byte(nil), b...))
}

// Drain returns and removes everything received on ch.
func (in *Inbox) Drain(ch Channel) [][]byte {
	if !ch.Valid() {
		return nil
	}
	return in.queues[ch].Drain()
}

// Dropped returns how many datagrams on ch were rejected for lack of room.
func (in *Inbox) Dropped(ch Channel) uint64 {
	if !ch.Valid() {
		return 0
	}
	return in.queues[ch].Dropped()
}

// Frame prefixes b with its channel byte for stream and datagram carriers.
func Frame(ch Channel, b []byte) []byte {
	out := make([]byte, 1+len(b))
	out[0] = byte(ch)
	copy(out[1:], b)
	return out
}

// Unframe splits a framed datagram.
func Unframe(f []byte) (Channel, []byte, error) {
	if len(f) == 0 {
		return 0, nil, errors.New("empty frame")
	}
	ch := Channel(f[0])
	if !ch.Valid() {
		return 0, nil, fmt.Errorf("unknown channel %d", f[0])
	}
	return ch, f[1:], nil
}
