package codec

import (
	"fmt"

	"github.com/OCAP2/physync/pkg/core"
)

// EncodeClientInput encodes a CLIENT_INPUT message forwarding call to the
// authoritative participant.
func EncodeClientInput(tag PolicyTag, call core.MethodCall) ([]byte, error) {
	w := NewWriter(HeaderSize + sizeUint64 + sizeUint32 + 2*sizeVec3 + sizeQuat + 2)
	writeHeader(w, Header{Kind: KindClientInput, Policy: tag, Tick: call.Tick})
	w.Uint64(uint64(call.Body))
	w.Uint32(uint32(call.Method))

	a := call.Args
	switch call.Method {
	case core.MethodSetActive, core.MethodSetVisible, core.MethodSetFixed, core.MethodSetGravityMode:
		w.Bool(a.Flag)
	case core.MethodSetTransformation:
		w.Vec3(a.Transform.Position)
		w.Quat(a.Transform.Orientation)
		w.Bool(a.Flag)
	case core.MethodSetMass:
		w.Float32(a.Mass)
	case core.MethodAddForce, core.MethodAddTorque, core.MethodSetLinearVelocity, core.MethodSetAngularVelocity:
		w.Vec3(a.Vector)
		w.Bool(a.Relative)
	case core.MethodAddForceAtPosition:
		w.Vec3(a.Vector)
		w.Vec3(a.Position)
		w.Bool(a.Relative)
		w.Bool(a.RelativePosition)
	case core.MethodSetForce, core.MethodSetTorque, core.MethodSetStaticForce, core.MethodSetStaticTorque:
		w.Vec3(a.Vector)
	default:
		return nil, fmt.Errorf("cannot encode method %d", uint32(call.Method))
	}
	return w.Bytes(), nil
}

// DecodeClientInput decodes a CLIENT_INPUT message produced by the
// expected policy.
func DecodeClientInput(msg []byte, expect PolicyTag) (core.MethodCall, error) {
	r := NewReader(msg)
	h, err := readHeader(r)
	if err != nil {
		return core.MethodCall{}, fmt.Errorf("decoding client input header: %w", err)
	}
	if h.Kind != KindClientInput {
		return core.MethodCall{}, fmt.Errorf("%w: expected %s message, got %s", ErrProtocolMismatch, KindClientInput, h.Kind)
	}
	if h.Policy != expect {
		return core.MethodCall{}, fmt.Errorf("%w: expected policy %s, got %s", ErrProtocolMismatch, expect, h.Policy)
	}

	call := core.MethodCall{
		Tick:   h.Tick,
		Body:   core.BodyID(r.Uint64()),
		Method: core.Method(r.Uint32()),
	}

	a := &call.Args
	switch call.Method {
	case core.MethodSetActive, core.MethodSetVisible, core.MethodSetFixed, core.MethodSetGravityMode:
		a.Flag = r.Bool()
	case core.MethodSetTransformation:
		a.Transform.Position = r.Vec3()
		a.Transform.Orientation = r.Quat()
		a.Flag = r.Bool()
	case core.MethodSetMass:
		a.Mass = r.Float32()
	case core.MethodAddForce, core.MethodAddTorque, core.MethodSetLinearVelocity, core.MethodSetAngularVelocity:
		a.Vector = r.Vec3()
		a.Relative = r.Bool()
	case core.MethodAddForceAtPosition:
		a.Vector = r.Vec3()
		a.Position = r.Vec3()
		a.Relative = r.Bool()
		a.RelativePosition = r.Bool()
	case core.MethodSetForce, core.MethodSetTorque, core.MethodSetStaticForce, core.MethodSetStaticTorque:
		a.Vector = r.Vec3()
	default:
		if r.Err() == nil {
			return core.MethodCall{}, fmt.Errorf("%w: unknown method %d", ErrMalformedPayload, uint32(call.Method))
		}
	}
	if err := r.Err(); err != nil {
		return core.MethodCall{}, fmt.Errorf("decoding %s arguments: %w", call.Method, err)
	}
	return call, nil
}
