// Package engine is the boundary between replication and the physics
// engine. It also carries a reference kinematic world that integrates
// velocities and forces without collision handling.
package engine

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/OCAP2/physync/pkg/core"
)

var (
	// ErrNoSuchBody is returned when a call targets a body the world does not hold.
	ErrNoSuchBody = errors.New("no such body")
	// ErrUnsupportedMethod is returned for method tags outside the method table.
	ErrUnsupportedMethod = errors.New("unsupported method")
)

// Body is the per-body view replication needs from the engine.
type Body interface {
	ID() core.BodyID
	Transform() core.Transform
	SetTransform(core.Transform)
	LinearVelocity() mgl32.Vec3
	SetLinearVelocity(mgl32.Vec3)
	AngularVelocity() mgl32.Vec3
	SetAngularVelocity(mgl32.Vec3)
	IsActive() bool
	IsFixed() bool
	// SetVisualTransform moves the rendered pose only; the simulated pose
	// is left alone.
	SetVisualTransform(core.Transform)
}

// Owned is a body that accepts method calls. Apply mutates the local body
// only. Request hands the call to the injected input listener first and
// then applies it.
type Owned interface {
	Body
	Apply(call core.MethodCall) error
	Request(call core.MethodCall) error
}

// InputListener is told about every requested mutation before it is applied.
type InputListener interface {
	HandleBodyInput(call core.MethodCall)
}

// ListenerFunc adapts a function to InputListener.
type ListenerFunc func(call core.MethodCall)

// HandleBodyInput calls f.
func (f ListenerFunc) HandleBodyInput(call core.MethodCall) {
	f(call)
}

// Relay is an InputListener whose target can be swapped after the world is
// built. The world is created before the strategy that listens to it, so
// the world gets the relay and the strategy is attached later.
type Relay struct {
	target InputListener
}

// Attach sets the listener calls are forwarded to. nil detaches.
func (r *Relay) Attach(l InputListener) {
	r.target = l
}

// HandleBodyInput forwards call to the attached listener, if any.
func (r *Relay) HandleBodyInput(call core.MethodCall) {
	if r.target != nil {
		r.target.HandleBodyInput(call)
	}
}
