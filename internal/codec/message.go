package codec

import (
	"errors"
	"fmt"

	"github.com/OCAP2/physync/pkg/core"
)

// ErrProtocolMismatch is returned when a message was produced by a
// different replication policy than the one decoding it.
var ErrProtocolMismatch = errors.New("protocol mismatch")

// MessageKind is the leading field of every physics datagram.
type MessageKind uint32

const (
	KindSync        MessageKind = 1
	KindClientInput MessageKind = 2
)

func (k MessageKind) String() string {
	switch k {
	case KindSync:
		return "sync"
	case KindClientInput:
		return "client_input"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// PolicyTag identifies the replication policy that produced a message.
type PolicyTag uint32

const (
	PolicyFull         PolicyTag = 1
	PolicyChanged      PolicyTag = 2
	PolicyVelocity     PolicyTag = 3
	PolicyAcceleration PolicyTag = 4
	PolicyPeriodic     PolicyTag = 5
	PolicyInput        PolicyTag = 6
)

var policyNames = map[PolicyTag]string{
	PolicyFull:         "full",
	PolicyChanged:      "changed",
	PolicyVelocity:     "velocity",
	PolicyAcceleration: "acceleration",
	PolicyPeriodic:     "periodic",
	PolicyInput:        "input",
}

func (t PolicyTag) String() string {
	if name, ok := policyNames[t]; ok {
		return name
	}
	return fmt.Sprintf("policy(%d)", uint32(t))
}

// ParsePolicy maps a policy name to its tag.
func ParsePolicy(name string) (PolicyTag, error) {
	for tag, n := range policyNames {
		if n == name {
			return tag, nil
		}
	}
	return 0, fmt.Errorf("unknown replication policy: %q", name)
}

// HeaderSize is the size of the common message header.
const HeaderSize = 3 * sizeUint32

// Header is the common prefix of every physics datagram.
type Header struct {
	Kind   MessageKind
	Policy PolicyTag
	Tick   uint32
}

func writeHeader(w *Writer, h Header) {
	w.Uint32(uint32(h.Kind))
	w.Uint32(uint32(h.Policy))
	w.Uint32(h.Tick)
}

func readHeader(r *Reader) (Header, error) {
	h := Header{
		Kind:   MessageKind(r.Uint32()),
		Policy: PolicyTag(r.Uint32()),
		Tick:   r.Uint32(),
	}
	return h, r.Err()
}

// PeekHeader decodes the header without consuming the message.
func PeekHeader(msg []byte) (Header, error) {
	return readHeader(NewReader(msg))
}

// Shape describes the per-body payload of a policy.
type Shape struct {
	Velocity     bool
	Acceleration bool
	Seed         bool
}

// ShapeFor returns the payload shape used by a policy.
func ShapeFor(tag PolicyTag) Shape {
	switch tag {
	case PolicyVelocity, PolicyPeriodic:
		return Shape{Velocity: true}
	case PolicyAcceleration:
		return Shape{Velocity: true, Acceleration: true}
	case PolicyInput:
		return Shape{Velocity: true, Seed: true}
	default:
		return Shape{}
	}
}

// PayloadSize is the number of bytes following the body id of one entry.
func (s Shape) PayloadSize() int {
	n := sizeVec3 + sizeQuat
	if s.Velocity {
		n += 2 * sizeVec3
	}
	if s.Acceleration {
		n += sizeVec3
	}
	return n
}

// EntrySize is the full size of one entry including its body id.
func (s Shape) EntrySize() int {
	return sizeUint64 + s.PayloadSize()
}

// SyncEncoder builds one SYNC message.
type SyncEncoder struct {
	w       *Writer
	shape   Shape
	entries int
}

// NewSyncEncoder starts a SYNC message for the given policy and tick. The
// seed is written only for policies whose shape carries one.
func NewSyncEncoder(tag PolicyTag, tick uint32, seed uint64) *SyncEncoder {
	shape := ShapeFor(tag)
	w := NewWriter(HeaderSize + sizeUint64 + 8*shape.EntrySize())
	writeHeader(w, Header{Kind: KindSync, Policy: tag, Tick: tick})
	if shape.Seed {
		w.Uint64(seed)
	}
	return &SyncEncoder{w: w, shape: shape}
}

// Add appends one body entry.
func (e *SyncEncoder) Add(s core.RigidBodyState) {
	e.w.Uint64(uint64(s.Body))
	e.w.Vec3(s.Position)
	e.w.Quat(s.Orientation)
	if e.shape.Velocity {
		e.w.Vec3(s.LinearVelocity)
		e.w.Vec3(s.AngularVelocity)
	}
	if e.shape.Acceleration {
		e.w.Vec3(s.Acceleration)
	}
	e.entries++
}

// Entries returns the number of entries added.
func (e *SyncEncoder) Entries() int {
	return e.entries
}

// Bytes returns the encoded message.
func (e *SyncEncoder) Bytes() []byte {
	return e.w.Bytes()
}

// EncodeSync encodes a whole batch.
func EncodeSync(tag PolicyTag, batch core.SyncBatch) []byte {
	enc := NewSyncEncoder(tag, batch.Tick, batch.Seed)
	for _, s := range batch.Entries {
		enc.Add(s)
	}
	return enc.Bytes()
}

// SyncDecoder walks the entries of one SYNC message.
type SyncDecoder struct {
	r      *Reader
	shape  Shape
	Header Header
	Seed   uint64
}

// NewSyncDecoder validates the header against the expected policy.
// A tag mismatch yields ErrProtocolMismatch and no entries.
func NewSyncDecoder(msg []byte, expect PolicyTag) (*SyncDecoder, error) {
	r := NewReader(msg)
	h, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("decoding sync header: %w", err)
	}
	if h.Kind != KindSync {
		return nil, fmt.Errorf("%w: expected %s message, got %s", ErrProtocolMismatch, KindSync, h.Kind)
	}
	if h.Policy != expect {
		return nil, fmt.Errorf("%w: expected policy %s, got %s", ErrProtocolMismatch, expect, h.Policy)
	}
	d := &SyncDecoder{r: r, shape: ShapeFor(expect), Header: h}
	if d.shape.Seed {
		d.Seed = r.Uint64()
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("decoding sync seed: %w", err)
		}
	}
	return d, nil
}

// More reports whether another entry may follow.
func (d *SyncDecoder) More() bool {
	return !d.r.Finished()
}

// NextID reads the body id of the next entry.
func (d *SyncDecoder) NextID() (core.BodyID, error) {
	id := core.BodyID(d.r.Uint64())
	return id, d.r.Err()
}

// ReadPayload reads the payload of the entry whose id was just read.
func (d *SyncDecoder) ReadPayload(id core.BodyID) (core.RigidBodyState, error) {
	s := core.RigidBodyState{
		Body:        id,
		Tick:        d.Header.Tick,
		Position:    d.r.Vec3(),
		Orientation: d.r.Quat(),
	}
	if d.shape.Velocity {
		s.LinearVelocity = d.r.Vec3()
		s.AngularVelocity = d.r.Vec3()
	}
	if d.shape.Acceleration {
		s.Acceleration = d.r.Vec3()
		s.HasAcceleration = true
	}
	return s, d.r.Err()
}

// SkipPayload consumes the payload of an entry that will not be applied.
// The width always matches the policy's per-body payload.
func (d *SyncDecoder) SkipPayload() error {
	d.r.Skip(d.shape.PayloadSize())
	return d.r.Err()
}

// Batch returns an empty batch carrying the header tick and seed.
func (d *SyncDecoder) Batch() core.SyncBatch {
	return core.SyncBatch{Tick: d.Header.Tick, Seed: d.Seed, HasSeed: d.shape.Seed}
}

// DecodeSync decodes a whole SYNC message. Entries rejected by known are
// skipped and counted. On a truncated buffer the complete entries decoded so
// far are returned together with an ErrMalformedPayload error.
func DecodeSync(msg []byte, expect PolicyTag, known func(core.BodyID) bool) (batch core.SyncBatch, skipped []core.BodyID, err error) {
	d, err := NewSyncDecoder(msg, expect)
	if err != nil {
		return core.SyncBatch{}, nil, err
	}
	batch = d.Batch()
	for d.More() {
		id, err := d.NextID()
		if err != nil {
			return batch, skipped, err
		}
		if known != nil && !known(id) {
			skipped = append(skipped, id)
			if err := d.SkipPayload(); err != nil {
				return batch, skipped, err
			}
			continue
		}
		s, err := d.ReadPayload(id)
		if err != nil {
			return batch, skipped, err
		}
		batch.Entries = append(batch.Entries, s)
	}
	return batch, skipped, nil
}
