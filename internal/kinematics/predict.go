// Package kinematics holds the extrapolation and blending math shared by
// every replication policy.
package kinematics

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/OCAP2/physync/pkg/core"
)

// angleEpsilon is the rotation below which no rotation is applied, since the
// axis of a near-zero rotation is undefined.
const angleEpsilon = 1e-6

// Elapsed converts a tick difference to seconds. It is negative when to
// precedes from.
func Elapsed(from, to uint32, tickDuration float32) float32 {
	return float32(int64(to)-int64(from)) * tickDuration
}

// Predict extrapolates state to targetTick. Position uses constant velocity,
// plus constant acceleration when the state carries one.
func Predict(state core.RigidBodyState, targetTick uint32, tickDuration float32) core.Transform {
	return Extrapolate(state, Elapsed(state.Tick, targetTick, tickDuration))
}

// Extrapolate advances state by dt seconds.
func Extrapolate(state core.RigidBodyState, dt float32) core.Transform {
	pos := state.Position.Add(state.LinearVelocity.Mul(dt))
	if state.HasAcceleration {
		pos = pos.Add(state.Acceleration.Mul(0.5 * dt * dt))
	}
	return core.Transform{
		Position:    pos,
		Orientation: Rotate(state.Orientation, state.AngularVelocity, dt),
	}
}

// Rotate applies angular velocity w for dt seconds to ori.
func Rotate(ori mgl32.Quat, w mgl32.Vec3, dt float32) mgl32.Quat {
	change := w.Mul(dt)
	angle := change.Len()
	if angle < angleEpsilon {
		return ori
	}
	delta := mgl32.QuatRotate(angle, change.Mul(1/angle))
	return ori.Mul(delta).Normalize()
}

// AngleBetween returns the rotation angle in radians between a and b.
func AngleBetween(a, b mgl32.Quat) float32 {
	d := a.Mul(b.Inverse())
	w := math.Abs(float64(d.W) / float64(d.Len()))
	if w > 1 {
		w = 1
	}
	return float32(2 * math.Acos(w))
}

// DeadBand holds the thresholds under which a discrepancy is not worth
// transmitting.
type DeadBand struct {
	Linear  float32
	Angular float32
}

// Contains reports whether current is still close enough to predicted.
func (d DeadBand) Contains(current, predicted core.Transform) bool {
	if current.Position.Sub(predicted.Position).Len() > d.Linear {
		return false
	}
	return AngleBetween(current.Orientation, predicted.Orientation) <= d.Angular
}
