package replication

import (
	"github.com/OCAP2/physync/internal/kinematics"
	"github.com/OCAP2/physync/pkg/core"
)

// periodic broadcasts the full state of every local body every
// UpdateInterval ticks. Receivers simulate on their own between updates and
// hide each correction by blending the rendered pose only.
type periodic struct {
	*base
	stepsUntilUpdate int
	convergence      map[core.BodyID]kinematics.Convergence
}

func newPeriodic(b *base) *periodic {
	return &periodic{
		base:             b,
		stepsUntilUpdate: b.cfg.UpdateInterval,
		convergence:      make(map[core.BodyID]kinematics.Convergence),
	}
}

func (s *periodic) BeforeStep() {}

func (s *periodic) AfterStep() {
	tick := s.clock.Tick()

	s.stepsUntilUpdate--
	if s.stepsUntilUpdate <= 0 {
		s.stepsUntilUpdate = max(s.cfg.UpdateInterval, 1)
		s.sendBatch(s.newBatch(tick, s.localStates(tick)))
	}

	s.blend(tick)
	s.finishStep()
}

// blend writes the visual pose of every converging remote body.
func (s *periodic) blend(tick uint32) {
	window := s.cfg.ConvergenceTime
	for id, conv := range s.convergence {
		body, ok := s.engine.Body(id)
		if !ok {
			delete(s.convergence, id)
			continue
		}
		var (
			pose    core.Transform
			running bool
		)
		switch s.cfg.Convergence {
		case kinematics.Quadratic:
			pose, running = conv.QuadraticToward(body.Transform(), tick, s.cfg.TickDuration, window)
		default:
			pose, running = conv.LinearToward(s.stateOf(body, tick), tick, s.cfg.TickDuration, window)
		}
		if !running {
			delete(s.convergence, id)
			continue
		}
		body.SetVisualTransform(pose)
	}
}

func (s *periodic) HandleSync(msg []byte) {
	batch, ok := s.decode(msg)
	if !ok {
		return
	}
	if s.cfg.Convergence == kinematics.Snapping || s.cfg.ConvergenceTime <= 0 {
		snapAll(s.base, batch, true)
		return
	}

	now := s.clock.Tick()
	for _, st := range batch.Entries {
		body, ok := s.engine.Body(st.Body)
		if !ok || !s.fresh(st.Body, st.Tick) {
			continue
		}
		start := body.Transform()
		s.convergence[st.Body] = kinematics.Convergence{
			StartTick:       now,
			Start:           start,
			LinearVelocity:  body.LinearVelocity(),
			AngularVelocity: body.AngularVelocity(),
		}
		body.SetTransform(st.Transform())
		body.SetLinearVelocity(st.LinearVelocity)
		body.SetAngularVelocity(st.AngularVelocity)
		body.SetVisualTransform(start)
	}
}

func (s *periodic) NeedsPhysicsCalculation() bool {
	return true
}

func (s *periodic) Forget(body core.BodyID) {
	s.forget(body)
	delete(s.convergence, body)
}

func (s *periodic) Close() {
	s.reset()
	clear(s.convergence)
}
