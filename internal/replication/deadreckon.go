package replication

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/OCAP2/physync/internal/clock"
	"github.com/OCAP2/physync/internal/engine"
	"github.com/OCAP2/physync/internal/kinematics"
	"github.com/OCAP2/physync/pkg/core"
)

// deadReckoning sends a body only when the receivers' extrapolation of
// the last sent state has drifted out of the dead-band. Receivers
// extrapolate every tick and blend corrections in over the convergence
// window. With acceleration set the sent state also carries the
// finite-difference acceleration of the last step.
type deadReckoning struct {
	*base
	acceleration bool
	idle         *inactivity

	lastSent     map[core.BodyID]core.RigidBodyState
	lastVelocity map[core.BodyID]mgl32.Vec3

	pending     *clock.Pending
	remote      map[core.BodyID]core.RigidBodyState
	convergence map[core.BodyID]kinematics.Convergence
}

func newDeadReckoning(b *base, acceleration bool) *deadReckoning {
	return &deadReckoning{
		base:         b,
		acceleration: acceleration,
		idle:         newInactivity(b.cfg.InactiveRetries),
		lastSent:     make(map[core.BodyID]core.RigidBodyState),
		lastVelocity: make(map[core.BodyID]mgl32.Vec3),
		pending:      clock.NewPending(),
		remote:       make(map[core.BodyID]core.RigidBodyState),
		convergence:  make(map[core.BodyID]kinematics.Convergence),
	}
}

func (s *deadReckoning) BeforeStep() {
	tick := s.clock.Tick()

	if s.acceleration {
		for _, id := range s.authority.LocalBodies() {
			if body, ok := s.engine.Body(id); ok {
				s.lastVelocity[id] = body.LinearVelocity()
			}
		}
	}

	for _, batch := range s.pending.Due(tick) {
		for _, st := range batch.Entries {
			s.apply(st, tick)
		}
	}

	next := tick + 1
	for _, id := range s.authority.RemoteBodies() {
		st, ok := s.remote[id]
		if !ok {
			continue
		}
		body, ok := s.engine.Body(id)
		if !ok {
			continue
		}
		pose := kinematics.Predict(st, next, s.cfg.TickDuration)
		if conv, ok := s.convergence[id]; ok {
			if blended, running := conv.At(next, s.cfg.TickDuration, s.cfg.ConvergenceTime); running {
				pose = blended
			} else {
				delete(s.convergence, id)
			}
		}
		body.SetTransform(pose)
		body.SetLinearVelocity(st.LinearVelocity)
		body.SetAngularVelocity(st.AngularVelocity)
	}
}

// apply adopts st as the latest known state of a remote body at local tick now.
func (s *deadReckoning) apply(st core.RigidBodyState, now uint32) {
	body, ok := s.engine.Body(st.Body)
	if !ok || !s.fresh(st.Body, st.Tick) {
		return
	}
	s.remote[st.Body] = st

	if s.cfg.Convergence == kinematics.Snapping || s.cfg.ConvergenceTime <= 0 {
		delete(s.convergence, st.Body)
		return
	}
	end := now + uint32(s.cfg.ConvergenceTime/s.cfg.TickDuration+0.5)
	s.convergence[st.Body] = kinematics.Convergence{
		StartTick: now,
		Start:     body.Transform(),
		Dest:      kinematics.Predict(st, end, s.cfg.TickDuration),
	}
}

func (s *deadReckoning) AfterStep() {
	tick := s.clock.Tick()
	var entries []core.RigidBodyState

	for _, id := range s.authority.LocalBodies() {
		body, ok := s.engine.Body(id)
		if !ok {
			continue
		}
		st := s.capture(body, tick)

		if !active(body) {
			if s.idle.shouldSend(id, false) {
				st = st.AtRest()
				st.HasAcceleration = s.acceleration
				entries = append(entries, st)
				s.lastSent[id] = st
			}
			continue
		}
		s.idle.shouldSend(id, true)

		if prev, ok := s.lastSent[id]; ok {
			predicted := kinematics.Predict(prev, tick, s.cfg.TickDuration)
			if s.cfg.DeadBand.Contains(st.Transform(), predicted) {
				continue
			}
		}
		entries = append(entries, st)
		s.lastSent[id] = st
	}

	s.sendBatch(s.newBatch(tick, entries))
	s.finishStep()
}

// capture reads body at tick, adding the acceleration over the last step
// when the policy carries one.
func (s *deadReckoning) capture(body engine.Body, tick uint32) core.RigidBodyState {
	st := s.stateOf(body, tick)
	if !s.acceleration {
		return st
	}
	st.HasAcceleration = true
	if prev, ok := s.lastVelocity[body.ID()]; ok {
		st.Acceleration = st.LinearVelocity.Sub(prev).Mul(1 / s.cfg.TickDuration)
	}
	return st
}

func (s *deadReckoning) HandleSync(msg []byte) {
	batch, ok := s.decode(msg)
	if !ok {
		return
	}
	s.pending.Push(s.observeClock(batch.Tick), batch)
}

func (s *deadReckoning) NeedsPhysicsCalculation() bool {
	return false
}

func (s *deadReckoning) Forget(body core.BodyID) {
	s.forget(body)
	s.idle.forget(body)
	delete(s.lastSent, body)
	delete(s.lastVelocity, body)
	delete(s.remote, body)
	delete(s.convergence, body)
}

func (s *deadReckoning) Close() {
	s.reset()
	s.idle.reset()
	s.pending.Clear()
	clear(s.lastSent)
	clear(s.lastVelocity)
	clear(s.remote)
	clear(s.convergence)
}
