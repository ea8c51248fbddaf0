package clock

import (
	"sort"

	"github.com/OCAP2/physync/pkg/core"
)

// Pending buffers sync batches that are not yet due. It is used only on the
// simulation goroutine.
type Pending struct {
	immediate []core.SyncBatch
	scheduled map[uint32]core.SyncBatch
}

// NewPending creates an empty buffer.
func NewPending() *Pending {
	return &Pending{scheduled: make(map[uint32]core.SyncBatch)}
}

// Push files batch according to the governor's decision.
func (p *Pending) Push(obs Observation, batch core.SyncBatch) {
	if obs.Action.Immediate() {
		p.PushImmediate(batch)
		return
	}
	p.Schedule(batch)
}

// PushImmediate queues batch for the next Due call.
func (p *Pending) PushImmediate(batch core.SyncBatch) {
	p.immediate = append(p.immediate, batch)
}

// Schedule holds batch until the local tick reaches batch.Tick. Batches for
// the same tick are merged.
func (p *Pending) Schedule(batch core.SyncBatch) {
	if existing, ok := p.scheduled[batch.Tick]; ok {
		existing.Merge(batch)
		p.scheduled[batch.Tick] = existing
		return
	}
	p.scheduled[batch.Tick] = batch
}

// Due removes and returns the batches to apply at tick, ordered by their
// tick: all immediate batches, every scheduled batch whose tick has already
// passed, and the batch scheduled for tick itself.
func (p *Pending) Due(tick uint32) []core.SyncBatch {
	due := p.immediate
	p.immediate = nil

	for key, batch := range p.scheduled {
		if key <= tick {
			due = append(due, batch)
			delete(p.scheduled, key)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Tick < due[j].Tick
	})
	return due
}

// Scheduled reports whether a batch is held for tick.
func (p *Pending) Scheduled(tick uint32) bool {
	_, ok := p.scheduled[tick]
	return ok
}

// Len returns the number of buffered batches.
func (p *Pending) Len() int {
	return len(p.immediate) + len(p.scheduled)
}

// Clear discards everything without applying it.
func (p *Pending) Clear() {
	p.immediate = nil
	clear(p.scheduled)
}
