// Package worker moves recording traffic off the simulation goroutine:
// batches and bandwidth samples are dispatched as events and persisted by
// buffered handlers.
package worker

import (
	"errors"
	"fmt"
	"time"

	"github.com/OCAP2/physync/internal/bandwidth"
	"github.com/OCAP2/physync/internal/codec"
	"github.com/OCAP2/physync/internal/dispatcher"
	"github.com/OCAP2/physync/internal/replication"
	"github.com/OCAP2/physync/internal/storage"
	"github.com/OCAP2/physync/pkg/core"
)

// ErrUnexpectedPayload is returned when an event carries the wrong type.
var ErrUnexpectedPayload = errors.New("unexpected event payload")

// Manager persists recording events to a storage backend and forwards
// bandwidth samples to additional sinks.
type Manager struct {
	backend storage.Backend
	sinks   []bandwidth.Sink
}

// NewManager creates a worker manager. backend may be nil when only sinks
// are wanted.
func NewManager(backend storage.Backend, sinks ...bandwidth.Sink) *Manager {
	return &Manager{
		backend: backend,
		sinks:   sinks,
	}
}

// RegisterHandlers registers the recording handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Every sent or applied batch - high volume, buffered
	d.Register(dispatcher.KindRecordBatch, m.handleBatch, dispatcher.Buffered(10000), dispatcher.Logged())
	// One sample per second - buffered
	d.Register(dispatcher.KindRecordBandwidth, m.handleBandwidth, dispatcher.Buffered(100), dispatcher.Logged())
}

func (m *Manager) handleBatch(e dispatcher.Event) error {
	rec, ok := e.Payload.(*core.BatchRecord)
	if !ok {
		return fmt.Errorf("%s: %w: %T", e.Kind, ErrUnexpectedPayload, e.Payload)
	}
	if m.backend == nil {
		return nil
	}
	if err := m.backend.RecordBatch(rec); err != nil {
		return fmt.Errorf("failed to record batch at tick %d: %w", rec.Tick, err)
	}
	return nil
}

func (m *Manager) handleBandwidth(e dispatcher.Event) error {
	s, ok := e.Payload.(bandwidth.Sample)
	if !ok {
		return fmt.Errorf("%s: %w: %T", e.Kind, ErrUnexpectedPayload, e.Payload)
	}
	for _, sink := range m.sinks {
		sink.RecordBandwidth(s)
	}
	if m.backend == nil {
		return nil
	}
	if err := m.backend.RecordBandwidth(s); err != nil {
		return fmt.Errorf("failed to record bandwidth sample %d: %w", s.Index, err)
	}
	return nil
}

// Recorder turns simulation-side observations into dispatcher events.
// It implements replication.BatchObserver and bandwidth.Sink.
type Recorder struct {
	d      *dispatcher.Dispatcher
	logger dispatcher.Logger
}

var (
	_ replication.BatchObserver = (*Recorder)(nil)
	_ bandwidth.Sink            = (*Recorder)(nil)
)

// NewRecorder creates a recorder dispatching to d.
func NewRecorder(d *dispatcher.Dispatcher, logger dispatcher.Logger) *Recorder {
	return &Recorder{d: d, logger: logger}
}

// ObserveBatch copies batch into a record event.
func (r *Recorder) ObserveBatch(tag codec.PolicyTag, dir replication.Direction, batch core.SyncBatch) {
	states := make([]core.RigidBodyState, len(batch.Entries))
	copy(states, batch.Entries)
	r.dispatch(dispatcher.Event{
		Kind: dispatcher.KindRecordBatch,
		Tick: batch.Tick,
		Payload: &core.BatchRecord{
			Tick:      batch.Tick,
			Direction: dir.String(),
			Strategy:  tag.String(),
			Seed:      batch.Seed,
			States:    states,
			Recorded:  time.Now(),
		},
	})
}

// RecordBandwidth forwards a completed bandwidth sample.
func (r *Recorder) RecordBandwidth(s bandwidth.Sample) {
	r.dispatch(dispatcher.Event{
		Kind:    dispatcher.KindRecordBandwidth,
		Tick:    s.Tick,
		Payload: s,
	})
}

func (r *Recorder) dispatch(e dispatcher.Event) {
	if err := r.d.Dispatch(e); err != nil && r.logger != nil {
		r.logger.Debug("recording event not dispatched", "kind", e.Kind, "tick", e.Tick, "error", err)
	}
}
