package session

import (
	"errors"
	"fmt"

	"github.com/OCAP2/physync/internal/codec"
	"github.com/OCAP2/physync/pkg/core"
)

// ErrBadControl is returned for control messages that cannot be decoded.
var ErrBadControl = errors.New("bad control message")

type controlKind byte

const (
	controlHello    controlKind = 1
	controlSnapshot controlKind = 2
	controlLeave    controlKind = 3
)

func (k controlKind) String() string {
	switch k {
	case controlHello:
		return "hello"
	case controlSnapshot:
		return "snapshot"
	case controlLeave:
		return "leave"
	default:
		return fmt.Sprintf("control(%d)", byte(k))
	}
}

// hello announces a participant and asks the authority for a join snapshot.
type hello struct {
	Participant core.ParticipantID
	Role        core.Role
	Name        string
}

// control is a decoded control message. Which fields are set depends on Kind.
type control struct {
	Kind     controlKind
	Hello    hello
	Target   core.ParticipantID
	Snapshot []byte
	From     core.ParticipantID
}

func writeString(w *codec.Writer, s string) {
	w.Uint32(uint32(len(s)))
	w.Raw([]byte(s))
}

func readString(r *codec.Reader) string {
	n := r.Uint32()
	if int(n) > r.Remaining() {
		r.Skip(int(n))
		return ""
	}
	return string(r.Raw(int(n)))
}

func encodeHello(h hello) []byte {
	w := codec.NewWriter(16 + len(h.Role) + len(h.Name))
	w.Raw([]byte{byte(controlHello)})
	w.Uint32(uint32(h.Participant))
	writeString(w, string(h.Role))
	writeString(w, h.Name)
	return w.Bytes()
}

// encodeSnapshot addresses a join snapshot to target.
func encodeSnapshot(target core.ParticipantID, snapshot []byte) []byte {
	w := codec.NewWriter(9 + len(snapshot))
	w.Raw([]byte{byte(controlSnapshot)})
	w.Uint32(uint32(target))
	w.Uint32(uint32(len(snapshot)))
	w.Raw(snapshot)
	return w.Bytes()
}

func encodeLeave(from core.ParticipantID) []byte {
	w := codec.NewWriter(5)
	w.Raw([]byte{byte(controlLeave)})
	w.Uint32(uint32(from))
	return w.Bytes()
}

func decodeControl(msg []byte) (control, error) {
	if len(msg) == 0 {
		return control{}, fmt.Errorf("%w: empty", ErrBadControl)
	}
	c := control{Kind: controlKind(msg[0])}
	r := codec.NewReader(msg[1:])

	switch c.Kind {
	case controlHello:
		c.Hello.Participant = core.ParticipantID(r.Uint32())
		role := readString(r)
		c.Hello.Name = readString(r)
		if r.Err() != nil {
			break
		}
		parsed, err := core.ParseRole(role)
		if err != nil {
			return control{}, fmt.Errorf("%w: %v", ErrBadControl, err)
		}
		c.Hello.Role = parsed
	case controlSnapshot:
		c.Target = core.ParticipantID(r.Uint32())
		n := r.Uint32()
		if int(n) > r.Remaining() {
			return control{}, fmt.Errorf("%w: snapshot length %d exceeds %d", ErrBadControl, n, r.Remaining())
		}
		c.Snapshot = r.Raw(int(n))
	case controlLeave:
		c.From = core.ParticipantID(r.Uint32())
	default:
		return control{}, fmt.Errorf("%w: %s", ErrBadControl, c.Kind)
	}

	if err := r.Err(); err != nil {
		return control{}, fmt.Errorf("%w: %s: %v", ErrBadControl, c.Kind, err)
	}
	return c, nil
}
