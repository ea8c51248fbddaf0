package codec

import (
	"encoding/hex"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/physync/pkg/core"
)

func sampleState(id core.BodyID, tick uint32, shape Shape) core.RigidBodyState {
	s := core.RigidBodyState{
		Body:        id,
		Tick:        tick,
		Position:    mgl32.Vec3{1.5, -2.25, 3},
		Orientation: mgl32.QuatRotate(0.7, mgl32.Vec3{0, 1, 0}),
	}
	if shape.Velocity {
		s.LinearVelocity = mgl32.Vec3{0.1, 0.2, -0.3}
		s.AngularVelocity = mgl32.Vec3{0, 0.5, 0}
	}
	if shape.Acceleration {
		s.Acceleration = mgl32.Vec3{0, -9.81, 0}
		s.HasAcceleration = true
	}
	return s
}

func TestSync_RoundTripEveryPolicy(t *testing.T) {
	for _, tag := range []PolicyTag{PolicyFull, PolicyChanged, PolicyVelocity, PolicyAcceleration, PolicyPeriodic, PolicyInput} {
		t.Run(tag.String(), func(t *testing.T) {
			shape := ShapeFor(tag)
			batch := core.SyncBatch{
				Tick:    77,
				Seed:    0xDEADBEEF,
				HasSeed: shape.Seed,
				Entries: []core.RigidBodyState{
					sampleState(core.NewBodyID(1, 2, 3), 77, shape),
					sampleState(core.NewBodyID(4, 5, 6), 77, shape),
				},
			}
			if !shape.Seed {
				batch.Seed = 0
			}

			msg := EncodeSync(tag, batch)
			assert.Len(t, msg, HeaderSize+boolInt(shape.Seed)*8+2*shape.EntrySize())

			got, skipped, err := DecodeSync(msg, tag, nil)
			require.NoError(t, err)
			assert.Empty(t, skipped)
			assert.Equal(t, batch, got)
		})
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestShape_PayloadSizes(t *testing.T) {
	assert.Equal(t, 28, ShapeFor(PolicyFull).PayloadSize())
	assert.Equal(t, 28, ShapeFor(PolicyChanged).PayloadSize())
	assert.Equal(t, 52, ShapeFor(PolicyVelocity).PayloadSize())
	assert.Equal(t, 64, ShapeFor(PolicyAcceleration).PayloadSize())
	assert.Equal(t, 52, ShapeFor(PolicyPeriodic).PayloadSize())
	assert.Equal(t, 52, ShapeFor(PolicyInput).PayloadSize())
	assert.Equal(t, 72, ShapeFor(PolicyAcceleration).EntrySize())
}

func TestDecodeSync_UnknownBodyKeepsCursorAligned(t *testing.T) {
	for _, tag := range []PolicyTag{PolicyFull, PolicyVelocity, PolicyAcceleration, PolicyInput} {
		t.Run(tag.String(), func(t *testing.T) {
			shape := ShapeFor(tag)
			unknown := core.NewBodyID(9, 9, 9)
			batch := core.SyncBatch{Tick: 10, Entries: []core.RigidBodyState{sampleState(unknown, 10, shape)}}
			for i := uint32(1); i <= 3; i++ {
				batch.Entries = append(batch.Entries, sampleState(core.NewBodyID(0, 0, i), 10, shape))
			}

			msg := EncodeSync(tag, batch)
			got, skipped, err := DecodeSync(msg, tag, func(id core.BodyID) bool { return id != unknown })
			require.NoError(t, err)
			assert.Equal(t, []core.BodyID{unknown}, skipped)
			require.Len(t, got.Entries, 3)
			assert.Equal(t, batch.Entries[1:], got.Entries)
		})
	}
}

func TestDecodeSync_PolicyMismatch(t *testing.T) {
	msg := EncodeSync(PolicyVelocity, core.SyncBatch{Tick: 1, Entries: []core.RigidBodyState{sampleState(1, 1, ShapeFor(PolicyVelocity))}})

	got, _, err := DecodeSync(msg, PolicyAcceleration, nil)
	require.ErrorIs(t, err, ErrProtocolMismatch)
	assert.Empty(t, got.Entries)
}

func TestDecodeSync_KindMismatch(t *testing.T) {
	msg, err := EncodeClientInput(PolicyFull, core.MethodCall{Body: 1, Method: core.MethodSetActive})
	require.NoError(t, err)

	_, _, err = DecodeSync(msg, PolicyFull, nil)
	require.ErrorIs(t, err, ErrProtocolMismatch)
}

func TestDecodeSync_TruncatedPayload(t *testing.T) {
	shape := ShapeFor(PolicyVelocity)
	batch := core.SyncBatch{Tick: 3, Entries: []core.RigidBodyState{
		sampleState(1, 3, shape),
		sampleState(2, 3, shape),
	}}
	msg := EncodeSync(PolicyVelocity, batch)

	got, _, err := DecodeSync(msg[:len(msg)-5], PolicyVelocity, nil)
	require.ErrorIs(t, err, ErrMalformedPayload)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, batch.Entries[0], got.Entries[0])
}

func TestDecodeSync_TruncatedHeader(t *testing.T) {
	_, _, err := DecodeSync([]byte{0, 0, 0, 1, 0}, PolicyFull, nil)
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestPeekHeader(t *testing.T) {
	msg := EncodeSync(PolicyPeriodic, core.SyncBatch{Tick: 1234})

	h, err := PeekHeader(msg)
	require.NoError(t, err)
	assert.Equal(t, Header{Kind: KindSync, Policy: PolicyPeriodic, Tick: 1234}, h)
}

func TestParsePolicy(t *testing.T) {
	tag, err := ParsePolicy("acceleration")
	require.NoError(t, err)
	assert.Equal(t, PolicyAcceleration, tag)

	_, err = ParsePolicy("teleport")
	require.Error(t, err)
}

func TestClientInput_RoundTripEveryMethod(t *testing.T) {
	args := core.MethodArgs{
		Flag: true,
		Transform: core.Transform{
			Position:    mgl32.Vec3{1, 2, 3},
			Orientation: mgl32.QuatRotate(1, mgl32.Vec3{1, 0, 0}),
		},
		Mass:             12.5,
		Vector:           mgl32.Vec3{0, 10, 0},
		Position:         mgl32.Vec3{0.5, 0, 0},
		Relative:         true,
		RelativePosition: true,
	}

	expected := map[core.Method]core.MethodArgs{
		core.MethodSetActive:          {Flag: true},
		core.MethodSetVisible:         {Flag: true},
		core.MethodSetFixed:           {Flag: true},
		core.MethodSetGravityMode:     {Flag: true},
		core.MethodSetTransformation:  {Flag: true, Transform: args.Transform},
		core.MethodSetMass:            {Mass: 12.5},
		core.MethodAddForce:           {Vector: args.Vector, Relative: true},
		core.MethodAddTorque:          {Vector: args.Vector, Relative: true},
		core.MethodSetLinearVelocity:  {Vector: args.Vector, Relative: true},
		core.MethodSetAngularVelocity: {Vector: args.Vector, Relative: true},
		core.MethodAddForceAtPosition: {Vector: args.Vector, Position: args.Position, Relative: true, RelativePosition: true},
		core.MethodSetForce:           {Vector: args.Vector},
		core.MethodSetTorque:          {Vector: args.Vector},
		core.MethodSetStaticForce:     {Vector: args.Vector},
		core.MethodSetStaticTorque:    {Vector: args.Vector},
	}

	for method, want := range expected {
		t.Run(method.String(), func(t *testing.T) {
			call := core.MethodCall{Tick: 40, Body: core.NewBodyID(2, 0, 7), Method: method, Args: args}
			msg, err := EncodeClientInput(PolicyInput, call)
			require.NoError(t, err)

			got, err := DecodeClientInput(msg, PolicyInput)
			require.NoError(t, err)
			assert.Equal(t, uint32(40), got.Tick)
			assert.Equal(t, call.Body, got.Body)
			assert.Equal(t, method, got.Method)
			assert.Equal(t, want, got.Args)
		})
	}
}

func TestEncodeClientInput_UnknownMethod(t *testing.T) {
	_, err := EncodeClientInput(PolicyFull, core.MethodCall{Body: 1, Method: core.MethodUnknown})
	require.Error(t, err)
}

func TestDecodeClientInput_Errors(t *testing.T) {
	msg, err := EncodeClientInput(PolicyFull, core.MethodCall{Body: 1, Method: core.MethodSetMass, Args: core.MethodArgs{Mass: 2}})
	require.NoError(t, err)

	_, err = DecodeClientInput(msg, PolicyInput)
	require.ErrorIs(t, err, ErrProtocolMismatch)

	_, err = DecodeClientInput(msg[:len(msg)-1], PolicyFull)
	require.ErrorIs(t, err, ErrMalformedPayload)

	bogus := append([]byte(nil), msg...)
	bogus[23] = 99 // method tag low byte
	_, err = DecodeClientInput(bogus, PolicyFull)
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestWireFormat_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)

	sync := EncodeSync(PolicyFull, core.SyncBatch{
		Tick: 7,
		Entries: []core.RigidBodyState{{
			Body:        42,
			Position:    mgl32.Vec3{1, 2, 3},
			Orientation: mgl32.QuatIdent(),
		}},
	})
	g.Assert(t, "full_sync", []byte(hex.EncodeToString(sync)+"\n"))

	input, err := EncodeClientInput(PolicyFull, core.MethodCall{
		Tick:   9,
		Body:   42,
		Method: core.MethodAddForce,
		Args:   core.MethodArgs{Vector: mgl32.Vec3{0, 10, 0}, Relative: true},
	})
	require.NoError(t, err)
	g.Assert(t, "client_input_add_force", []byte(hex.EncodeToString(input)+"\n"))
}

func TestReader_StickyError(t *testing.T) {
	r := NewReader([]byte{1, 2})
	assert.Equal(t, uint32(0), r.Uint32())
	require.ErrorIs(t, r.Err(), ErrMalformedPayload)
	assert.True(t, r.Finished())
	assert.Equal(t, uint64(0), r.Uint64())
	assert.False(t, r.Bool())
}
