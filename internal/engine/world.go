package engine

import (
	"fmt"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/OCAP2/physync/pkg/core"
)

// World is the reference kinematic simulation. It is not safe for
// concurrent use; everything runs on the simulation goroutine.
type World struct {
	bodies map[core.BodyID]*RigidBody
	order  []core.BodyID

	listener InputListener

	gravity        mgl32.Vec3
	damping        float32
	noise          float32
	sleepThreshold float32
	sleepTicks     int

	seed uint64
	rng  *rand.Rand
}

// Option configures a World.
type Option func(*World)

// WithListener injects the listener told about every Request.
func WithListener(l InputListener) Option {
	return func(w *World) { w.listener = l }
}

// WithGravity sets the gravity acceleration.
func WithGravity(g mgl32.Vec3) Option {
	return func(w *World) { w.gravity = g }
}

// WithDamping sets the per-step velocity retention factor in (0,1].
func WithDamping(d float32) Option {
	return func(w *World) {
		if d > 0 && d <= 1 {
			w.damping = d
		}
	}
}

// WithSleep deactivates bodies slower than threshold for ticks steps.
// ticks <= 0 disables deactivation.
func WithSleep(threshold float32, ticks int) Option {
	return func(w *World) {
		w.sleepThreshold = threshold
		w.sleepTicks = ticks
	}
}

// WithNoise adds a seeded random force of up to amplitude per axis to every
// active body each step.
func WithNoise(amplitude float32) Option {
	return func(w *World) { w.noise = amplitude }
}

// WithSeed sets the initial RNG seed.
func WithSeed(seed uint64) Option {
	return func(w *World) { w.seed = seed }
}

// NewWorld creates an empty world.
func NewWorld(opts ...Option) *World {
	w := &World{
		bodies:         make(map[core.BodyID]*RigidBody),
		gravity:        mgl32.Vec3{0, -9.81, 0},
		damping:        1,
		sleepThreshold: 0.01,
		sleepTicks:     50,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.SetSeed(w.seed)
	return w
}

// Add creates a body. Adding an existing id fails.
func (w *World) Add(id core.BodyID, cfg BodyConfig) (*RigidBody, error) {
	if _, ok := w.bodies[id]; ok {
		return nil, fmt.Errorf("add %s: already present", id)
	}
	mass := cfg.Mass
	if mass <= 0 {
		mass = 1
	}
	t := cfg.Transform
	if t.Orientation == (mgl32.Quat{}) {
		t.Orientation = mgl32.QuatIdent()
	}
	b := &RigidBody{
		world:     w,
		id:        id,
		transform: t,
		visual:    t,
		linVel:    cfg.LinearVelocity,
		angVel:    cfg.AngularVelocity,
		mass:      mass,
		active:    !cfg.Fixed,
		visible:   true,
		fixed:     cfg.Fixed,
		gravity:   !cfg.NoGravity,
	}
	w.bodies[id] = b
	w.order = append(w.order, id)
	return b, nil
}

// Remove deletes a body and reports whether it existed.
func (w *World) Remove(id core.BodyID) bool {
	if _, ok := w.bodies[id]; !ok {
		return false
	}
	delete(w.bodies, id)
	for i, o := range w.order {
		if o == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	return true
}

// Body looks up a body.
func (w *World) Body(id core.BodyID) (Body, bool) {
	b, ok := w.bodies[id]
	if !ok {
		return nil, false
	}
	return b, true
}

// RigidBody looks up a body with its method surface.
func (w *World) RigidBody(id core.BodyID) (*RigidBody, bool) {
	b, ok := w.bodies[id]
	return b, ok
}

// IDs returns every body id in insertion order.
func (w *World) IDs() []core.BodyID {
	out := make([]core.BodyID, len(w.order))
	copy(out, w.order)
	return out
}

// Len returns the number of bodies.
func (w *World) Len() int {
	return len(w.order)
}

// Invoke applies call to its target body without notifying the listener.
func (w *World) Invoke(call core.MethodCall) error {
	b, ok := w.bodies[call.Body]
	if !ok {
		return fmt.Errorf("%s on %s: %w", call.Method, call.Body, ErrNoSuchBody)
	}
	return b.Apply(call)
}

// Step integrates every body by dt seconds and advances the RNG seed.
func (w *World) Step(dt float32) {
	for _, id := range w.order {
		w.bodies[id].integrate(dt, w)
	}
	w.SetSeed(nextSeed(w.seed))
}

// Seed returns the seed the RNG was last reset to.
func (w *World) Seed() uint64 {
	return w.seed
}

// SetSeed resets the RNG so that every participant stepping from the same
// seed draws the same numbers.
func (w *World) SetSeed(seed uint64) {
	w.seed = seed
	w.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Rand returns the world's deterministic RNG.
func (w *World) Rand() *rand.Rand {
	return w.rng
}

func (w *World) jitter() float32 {
	return (w.rng.Float32()*2 - 1) * w.noise
}

// nextSeed is one splitmix64 step.
func nextSeed(s uint64) uint64 {
	s += 0x9e3779b97f4a7c15
	z := s
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
