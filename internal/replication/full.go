package replication

import "github.com/OCAP2/physync/pkg/core"

// full sends the pose of every local body every tick; receivers snap.
type full struct {
	*base
}

func newFull(b *base) *full {
	return &full{base: b}
}

func (s *full) BeforeStep() {}

func (s *full) AfterStep() {
	tick := s.clock.Tick()
	s.sendBatch(s.newBatch(tick, s.localStates(tick)))
	s.finishStep()
}

func (s *full) HandleSync(msg []byte) {
	batch, ok := s.decode(msg)
	if !ok {
		return
	}
	snapAll(s.base, batch, false)
}

func (s *full) NeedsPhysicsCalculation() bool {
	return false
}

func (s *full) Forget(body core.BodyID) {
	s.forget(body)
}

func (s *full) Close() {
	s.reset()
}

// snapAll moves every fresh entry's body straight onto the received state.
func snapAll(b *base, batch core.SyncBatch, withVelocity bool) int {
	applied := 0
	for _, st := range batch.Entries {
		body, ok := b.engine.Body(st.Body)
		if !ok || !b.fresh(st.Body, st.Tick) {
			continue
		}
		body.SetTransform(st.Transform())
		if withVelocity {
			body.SetLinearVelocity(st.LinearVelocity)
			body.SetAngularVelocity(st.AngularVelocity)
		}
		applied++
	}
	return applied
}
