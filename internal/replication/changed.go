package replication

import "github.com/OCAP2/physync/pkg/core"

// changed sends moving bodies every tick and bodies at rest only until
// their resend budget runs out; receivers snap.
type changed struct {
	*base
	idle *inactivity
}

func newChanged(b *base) *changed {
	return &changed{base: b, idle: newInactivity(b.cfg.InactiveRetries)}
}

func (s *changed) BeforeStep() {}

func (s *changed) AfterStep() {
	tick := s.clock.Tick()
	var entries []core.RigidBodyState
	for _, id := range s.authority.LocalBodies() {
		body, ok := s.engine.Body(id)
		if !ok {
			continue
		}
		if !s.idle.shouldSend(id, active(body)) {
			continue
		}
		entries = append(entries, s.stateOf(body, tick))
	}
	s.sendBatch(s.newBatch(tick, entries))
	s.finishStep()
}

func (s *changed) HandleSync(msg []byte) {
	batch, ok := s.decode(msg)
	if !ok {
		return
	}
	snapAll(s.base, batch, false)
}

func (s *changed) NeedsPhysicsCalculation() bool {
	return false
}

func (s *changed) Forget(body core.BodyID) {
	s.forget(body)
	s.idle.forget(body)
}

func (s *changed) Close() {
	s.reset()
	s.idle.reset()
}
