// internal/storage/memory/memory.go
package memory

import (
	"errors"
	"sort"
	"sync"

	"github.com/OCAP2/physync/internal/bandwidth"
	"github.com/OCAP2/physync/internal/config"
	"github.com/OCAP2/physync/pkg/core"
)

// ErrNoSession is returned when recording outside StartSession/EndSession.
var ErrNoSession = errors.New("no session started")

// BodyRecord groups every recorded state of one body.
type BodyRecord struct {
	Body   core.BodyID
	States []StateRecord
}

// StateRecord is one body state with the direction it travelled.
type StateRecord struct {
	Direction string
	State     core.RigidBodyState
}

// Backend keeps a session in memory and exports it to JSON when it ends.
type Backend struct {
	cfg     config.MemoryConfig
	session *core.Session

	bodies     map[core.BodyID]*BodyRecord
	batches    int
	samples    []bandwidth.Sample
	lastTick   uint32
	lastExport string

	mu sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:    cfg,
		bodies: make(map[core.BodyID]*BodyRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartSession begins recording and discards anything recorded before.
func (b *Backend) StartSession(s core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session = &s
	b.bodies = make(map[core.BodyID]*BodyRecord)
	b.batches = 0
	b.samples = nil
	b.lastTick = 0
	return nil
}

// RecordBatch stores every state of r under its body.
func (b *Backend) RecordBatch(r *core.BatchRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return ErrNoSession
	}

	for _, st := range r.States {
		rec, ok := b.bodies[st.Body]
		if !ok {
			rec = &BodyRecord{Body: st.Body}
			b.bodies[st.Body] = rec
		}
		rec.States = append(rec.States, StateRecord{Direction: r.Direction, State: st})
	}
	b.batches++
	b.lastTick = max(b.lastTick, r.Tick)
	return nil
}

// RecordBandwidth stores one bandwidth sample.
func (b *Backend) RecordBandwidth(s bandwidth.Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return ErrNoSession
	}
	b.samples = append(b.samples, s)
	return nil
}

// EndSession exports the session and stops recording.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return ErrNoSession
	}
	err := b.exportJSON()
	b.session = nil
	return err
}

// ExportedFilePath returns the file written by the last EndSession.
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExport
}

// Batches returns how many batches were recorded in the current session.
func (b *Backend) Batches() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.batches
}

// Body returns a copy of the states recorded for id.
func (b *Backend) Body(id core.BodyID) (BodyRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.bodies[id]
	if !ok {
		return BodyRecord{}, false
	}
	return BodyRecord{Body: rec.Body, States: append([]StateRecord(nil), rec.States...)}, true
}

// Samples returns a copy of the recorded bandwidth samples.
func (b *Backend) Samples() []bandwidth.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]bandwidth.Sample(nil), b.samples...)
}

func (b *Backend) sortedBodies() []*BodyRecord {
	out := make([]*BodyRecord, 0, len(b.bodies))
	for _, rec := range b.bodies {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Body < out[j].Body })
	return out
}
