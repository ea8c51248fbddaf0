package kinematics

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/OCAP2/physync/pkg/core"
)

// Algorithm selects how a receiver moves a body onto newly received state.
type Algorithm int

const (
	Snapping Algorithm = iota
	Linear
	Quadratic
)

func (a Algorithm) String() string {
	switch a {
	case Snapping:
		return "snapping"
	case Linear:
		return "linear"
	case Quadratic:
		return "quadratic"
	default:
		return "unknown"
	}
}

// ParseAlgorithm resolves a convergence algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	for _, a := range []Algorithm{Snapping, Linear, Quadratic} {
		if a.String() == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown convergence algorithm: %q", name)
}

// Convergence is an in-progress blend toward newly received state.
type Convergence struct {
	StartTick uint32
	Start     core.Transform
	Dest      core.Transform

	// Velocities at StartTick, used by the quadratic blend.
	LinearVelocity  mgl32.Vec3
	AngularVelocity mgl32.Vec3
}

// Progress returns the elapsed fraction of a window of the given length in
// seconds. A non-positive window is complete immediately.
func Progress(startTick, now uint32, tickDuration, window float32) float32 {
	if window <= 0 {
		return 1
	}
	p := Elapsed(startTick, now, tickDuration) / window
	if p < 0 {
		return 0
	}
	return p
}

// Blend interpolates between start and dest. p is clamped to [0,1].
func Blend(start, dest core.Transform, p float32) core.Transform {
	switch {
	case p <= 0:
		return start
	case p >= 1:
		return dest
	}
	return core.Transform{
		Position:    Lerp(start.Position, dest.Position, p),
		Orientation: Slerp(start.Orientation, dest.Orientation, p),
	}
}

// Lerp interpolates linearly between a and b.
func Lerp(a, b mgl32.Vec3, p float32) mgl32.Vec3 {
	return a.Add(b.Sub(a).Mul(p))
}

// Slerp interpolates along the shortest arc between a and b.
func Slerp(a, b mgl32.Quat, p float32) mgl32.Quat {
	if a.Dot(b) < 0 {
		b = b.Scale(-1)
	}
	return mgl32.QuatSlerp(a, b, p).Normalize()
}

// At returns the blended pose of c at tick now, and false once the window
// has elapsed.
func (c Convergence) At(now uint32, tickDuration, window float32) (core.Transform, bool) {
	p := Progress(c.StartTick, now, tickDuration, window)
	if p >= 1 {
		return core.Transform{}, false
	}
	return Blend(c.Start, c.Dest, p), true
}

// LinearToward blends from the recorded start pose toward where the body
// will be at the end of the window if it keeps its current velocities.
func (c Convergence) LinearToward(body core.RigidBodyState, now uint32, tickDuration, window float32) (core.Transform, bool) {
	p := Progress(c.StartTick, now, tickDuration, window)
	if p >= 1 {
		return core.Transform{}, false
	}
	remaining := window - Elapsed(c.StartTick, now, tickDuration)
	future := Extrapolate(body, remaining)
	return Blend(c.Start, future, p), true
}

// QuadraticToward blends from the extrapolated start pose (using the
// velocities recorded at StartTick) toward the body's current pose.
func (c Convergence) QuadraticToward(current core.Transform, now uint32, tickDuration, window float32) (core.Transform, bool) {
	p := Progress(c.StartTick, now, tickDuration, window)
	if p >= 1 {
		return core.Transform{}, false
	}
	remaining := window - Elapsed(c.StartTick, now, tickDuration)
	from := Extrapolate(core.RigidBodyState{
		Position:        c.Start.Position,
		Orientation:     c.Start.Orientation,
		LinearVelocity:  c.LinearVelocity,
		AngularVelocity: c.AngularVelocity,
	}, remaining)
	return Blend(from, current, p), true
}
