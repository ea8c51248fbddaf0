package engine

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/OCAP2/physync/internal/kinematics"
	"github.com/OCAP2/physync/pkg/core"
)

// BodyConfig is the initial state of a body added to a World.
type BodyConfig struct {
	Transform       core.Transform
	LinearVelocity  mgl32.Vec3
	AngularVelocity mgl32.Vec3
	Mass            float32
	Fixed           bool
	NoGravity       bool
}

// RigidBody is a body of the reference world.
type RigidBody struct {
	world *World
	id    core.BodyID

	transform core.Transform
	visual    core.Transform
	linVel    mgl32.Vec3
	angVel    mgl32.Vec3

	mass         float32
	force        mgl32.Vec3
	torque       mgl32.Vec3
	staticForce  mgl32.Vec3
	staticTorque mgl32.Vec3

	active    bool
	visible   bool
	fixed     bool
	gravity   bool
	restTicks int
}

var _ Owned = (*RigidBody)(nil)

func (b *RigidBody) ID() core.BodyID {
	return b.id
}

func (b *RigidBody) Transform() core.Transform {
	return b.transform
}

func (b *RigidBody) LinearVelocity() mgl32.Vec3 {
	return b.linVel
}

func (b *RigidBody) AngularVelocity() mgl32.Vec3 {
	return b.angVel
}

func (b *RigidBody) IsActive() bool {
	return b.active
}

func (b *RigidBody) IsFixed() bool {
	return b.fixed
}

func (b *RigidBody) IsVisible() bool {
	return b.visible
}

func (b *RigidBody) Mass() float32 {
	return b.mass
}

func (b *RigidBody) VisualTransform() core.Transform {
	return b.visual
}

// SetTransform moves the body and its visual pose.
func (b *RigidBody) SetTransform(t core.Transform) {
	b.transform = t
	b.visual = t
}

// SetVisualTransform overrides the rendered pose until the next step.
func (b *RigidBody) SetVisualTransform(t core.Transform) {
	b.visual = t
}

// SetLinearVelocity sets the linear velocity and wakes a moving body.
func (b *RigidBody) SetLinearVelocity(v mgl32.Vec3) {
	b.linVel = v
	b.wakeIfMoving()
}

// SetAngularVelocity sets the angular velocity and wakes a moving body.
func (b *RigidBody) SetAngularVelocity(w mgl32.Vec3) {
	b.angVel = w
	b.wakeIfMoving()
}

func (b *RigidBody) wakeIfMoving() {
	if b.linVel.Len() > 0 || b.angVel.Len() > 0 {
		b.wake()
	}
}

func (b *RigidBody) wake() {
	if b.fixed {
		return
	}
	b.active = true
	b.restTicks = 0
}

// Request hands call to the world's input listener and then applies it.
// It must be called on the simulation goroutine.
func (b *RigidBody) Request(call core.MethodCall) error {
	call.Body = b.id
	if !call.Method.Valid() {
		return fmt.Errorf("%s on %s: %w", call.Method, b.id, ErrUnsupportedMethod)
	}
	if b.world.listener != nil {
		b.world.listener.HandleBodyInput(call)
	}
	return b.Apply(call)
}

// Apply performs call on this body without notifying anyone.
func (b *RigidBody) Apply(call core.MethodCall) error {
	a := call.Args
	switch call.Method {
	case core.MethodSetActive:
		if a.Flag {
			b.wake()
		} else {
			b.active = false
		}
	case core.MethodSetVisible:
		b.visible = a.Flag
	case core.MethodSetTransformation:
		b.SetTransform(a.Transform)
		b.wake()
	case core.MethodSetMass:
		if a.Mass <= 0 {
			return fmt.Errorf("mass %v on %s: %w", a.Mass, b.id, ErrUnsupportedMethod)
		}
		b.mass = a.Mass
	case core.MethodAddForce:
		b.force = b.force.Add(b.direction(a.Vector, a.Relative))
		b.wake()
	case core.MethodAddTorque:
		b.torque = b.torque.Add(b.direction(a.Vector, a.Relative))
		b.wake()
	case core.MethodAddForceAtPosition:
		f := b.direction(a.Vector, a.Relative)
		p := a.Position
		if a.RelativePosition {
			p = b.transform.Orientation.Rotate(p).Add(b.transform.Position)
		}
		arm := p.Sub(b.transform.Position)
		b.force = b.force.Add(f)
		b.torque = b.torque.Add(arm.Cross(f))
		b.wake()
	case core.MethodSetForce:
		b.force = a.Vector
		b.wake()
	case core.MethodSetTorque:
		b.torque = a.Vector
		b.wake()
	case core.MethodSetStaticForce:
		b.staticForce = a.Vector
		b.wake()
	case core.MethodSetStaticTorque:
		b.staticTorque = a.Vector
		b.wake()
	case core.MethodSetLinearVelocity:
		b.SetLinearVelocity(b.direction(a.Vector, a.Relative))
	case core.MethodSetAngularVelocity:
		b.SetAngularVelocity(b.direction(a.Vector, a.Relative))
	case core.MethodSetFixed:
		b.fixed = a.Flag
		if a.Flag {
			b.active = false
			b.linVel = mgl32.Vec3{}
			b.angVel = mgl32.Vec3{}
		}
	case core.MethodSetGravityMode:
		b.gravity = a.Flag
		b.wake()
	default:
		return fmt.Errorf("%s on %s: %w", call.Method, b.id, ErrUnsupportedMethod)
	}
	return nil
}

// direction rotates v into world space when it is expressed in body space.
func (b *RigidBody) direction(v mgl32.Vec3, relative bool) mgl32.Vec3 {
	if relative {
		return b.transform.Orientation.Rotate(v)
	}
	return v
}

// integrate advances the body by dt seconds with explicit Euler.
func (b *RigidBody) integrate(dt float32, w *World) {
	defer func() {
		b.force = mgl32.Vec3{}
		b.torque = mgl32.Vec3{}
	}()
	if b.fixed || !b.active {
		b.visual = b.transform
		return
	}

	force := b.force.Add(b.staticForce)
	if w.noise > 0 {
		force = force.Add(mgl32.Vec3{w.jitter(), w.jitter(), w.jitter()})
	}
	accel := force.Mul(1 / b.mass)
	if b.gravity {
		accel = accel.Add(w.gravity)
	}
	alpha := b.torque.Add(b.staticTorque).Mul(1 / b.mass)

	b.linVel = b.linVel.Add(accel.Mul(dt)).Mul(w.damping)
	b.angVel = b.angVel.Add(alpha.Mul(dt)).Mul(w.damping)

	b.transform.Position = b.transform.Position.Add(b.linVel.Mul(dt))
	b.transform.Orientation = kinematics.Rotate(b.transform.Orientation, b.angVel, dt)
	b.visual = b.transform

	if w.sleepTicks <= 0 {
		return
	}
	if b.linVel.Len() < w.sleepThreshold && b.angVel.Len() < w.sleepThreshold {
		b.restTicks++
		if b.restTicks >= w.sleepTicks {
			b.active = false
			b.linVel = mgl32.Vec3{}
			b.angVel = mgl32.Vec3{}
		}
		return
	}
	b.restTicks = 0
}
