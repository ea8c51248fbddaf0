package replication

import (
	"github.com/OCAP2/physync/internal/clock"
	"github.com/OCAP2/physync/pkg/core"
)

// inputDriven relies on every participant running the same deterministic
// simulation. Bodies touched by input are sent soon after the input, and
// everything is resent on a slow period. Each message carries the RNG seed
// so receivers resume from the same random sequence.
type inputDriven struct {
	*base

	frequentTimer float32
	periodicTimer float32
	modified      []core.BodyID
	isModified    map[core.BodyID]bool

	pending *clock.Pending

	// tick of the newest batch whose seed was applied
	seededTick uint32
	seeded     bool
}

func newInputDriven(b *base) *inputDriven {
	return &inputDriven{
		base:          b,
		frequentTimer: b.cfg.InputUpdateInterval,
		periodicTimer: b.cfg.FullUpdateInterval,
		isModified:    make(map[core.BodyID]bool),
		pending:       clock.NewPending(),
	}
}

func (s *inputDriven) markModified(body core.BodyID) {
	if !s.authority.IsLocal(body) || s.isModified[body] {
		return
	}
	s.isModified[body] = true
	s.modified = append(s.modified, body)
}

func (s *inputDriven) clearModified() {
	s.modified = s.modified[:0]
	clear(s.isModified)
}

// HandleBodyInput forwards input on remote bodies and remembers local ones
// for the next partial update.
func (s *inputDriven) HandleBodyInput(call core.MethodCall) {
	s.markModified(call.Body)
	s.base.HandleBodyInput(call)
}

// HandleClientInput applies forwarded input and marks the body modified.
func (s *inputDriven) HandleClientInput(msg []byte) {
	if call, ok := s.applyClientInput(msg); ok {
		s.markModified(call.Body)
	}
}

func (s *inputDriven) BeforeStep() {
	for _, batch := range s.pending.Due(s.clock.Tick()) {
		if batch.HasSeed && (!s.seeded || batch.Tick > s.seededTick) {
			s.engine.SetSeed(batch.Seed)
			s.seededTick, s.seeded = batch.Tick, true
		}
		snapAll(s.base, batch, true)
	}
}

func (s *inputDriven) AfterStep() {
	tick := s.clock.Tick()
	s.frequentTimer -= s.cfg.TickDuration
	s.periodicTimer -= s.cfg.TickDuration

	switch {
	case s.periodicTimer <= 0:
		s.sendBatch(s.newBatch(tick, s.localStates(tick)))
		s.periodicTimer = s.cfg.FullUpdateInterval
		s.frequentTimer = s.cfg.InputUpdateInterval
		s.clearModified()
	case len(s.modified) > 0 && s.frequentTimer <= 0:
		entries := make([]core.RigidBodyState, 0, len(s.modified))
		for _, id := range s.modified {
			if body, ok := s.engine.Body(id); ok {
				entries = append(entries, s.stateOf(body, tick))
			}
		}
		s.sendBatch(s.newBatch(tick, entries))
		s.frequentTimer = s.cfg.InputUpdateInterval
		s.clearModified()
	}

	s.finishStep()
}

func (s *inputDriven) HandleSync(msg []byte) {
	batch, ok := s.decode(msg)
	if !ok {
		return
	}
	s.pending.Push(s.observeClock(batch.Tick), batch)
}

func (s *inputDriven) NeedsPhysicsCalculation() bool {
	return true
}

func (s *inputDriven) Forget(body core.BodyID) {
	s.forget(body)
	if s.isModified[body] {
		delete(s.isModified, body)
		for i, id := range s.modified {
			if id == body {
				s.modified = append(s.modified[:i], s.modified[i+1:]...)
				break
			}
		}
	}
}

func (s *inputDriven) Close() {
	s.reset()
	s.pending.Clear()
	s.clearModified()
	s.seeded = false
}
