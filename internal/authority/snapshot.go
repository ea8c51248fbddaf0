package authority

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/OCAP2/physync/internal/codec"
	"github.com/OCAP2/physync/pkg/core"
)

const (
	envelopeRaw byte = 0
	envelopeLZ4 byte = 1
)

// ErrBadSnapshot is returned for join snapshots that cannot be decoded.
var ErrBadSnapshot = errors.New("bad join snapshot")

// Snapshot is what a joining participant needs to catch up: who simulates,
// where the simulation clock stands, and the current state of every body.
type Snapshot struct {
	Authority    core.ParticipantID
	Start        time.Time
	Tick         uint32
	TickDuration float32
	Sync         []byte
}

// BuildJoinSnapshot encodes s with this resolver's authority id. When
// compress is set the body is LZ4-framed.
func (r *Resolver) BuildJoinSnapshot(s Snapshot, compress bool) ([]byte, error) {
	s.Authority = r.authority
	if r.IsAuthority() && s.Authority == core.NoParticipant {
		return nil, fmt.Errorf("%w: authority has no participant id", ErrBadSnapshot)
	}

	w := codec.NewWriter(24 + len(s.Sync))
	w.Uint32(uint32(s.Authority))
	w.Uint64(uint64(s.Start.UnixNano()))
	w.Uint32(s.Tick)
	w.Float32(s.TickDuration)
	w.Uint32(uint32(len(s.Sync)))
	w.Raw(s.Sync)

	if !compress {
		return append([]byte{envelopeRaw}, w.Bytes()...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(envelopeLZ4)
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(w.Bytes()); err != nil {
		return nil, fmt.Errorf("compress join snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress join snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// ApplyJoinSnapshot decodes b and adopts its authority id.
func (r *Resolver) ApplyJoinSnapshot(b []byte) (Snapshot, error) {
	s, err := DecodeSnapshot(b)
	if err != nil {
		return Snapshot{}, err
	}
	r.SetAuthorityID(s.Authority)
	return s, nil
}

// DecodeSnapshot parses a join snapshot envelope.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	if len(b) == 0 {
		return Snapshot{}, fmt.Errorf("%w: empty", ErrBadSnapshot)
	}

	body := b[1:]
	switch b[0] {
	case envelopeRaw:
	case envelopeLZ4:
		raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: decompress: %v", ErrBadSnapshot, err)
		}
		body = raw
	default:
		return Snapshot{}, fmt.Errorf("%w: envelope %d", ErrBadSnapshot, b[0])
	}

	rd := codec.NewReader(body)
	s := Snapshot{
		Authority:    core.ParticipantID(rd.Uint32()),
		Start:        time.Unix(0, int64(rd.Uint64())),
		Tick:         rd.Uint32(),
		TickDuration: rd.Float32(),
	}
	n := int(rd.Uint32())
	if sync := rd.Raw(n); sync != nil {
		s.Sync = append([]byte(nil), sync...)
	}
	if err := rd.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	return s, nil
}
