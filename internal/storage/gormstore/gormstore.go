// Package gormstore records sessions through gorm into sqlite or postgres.
package gormstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/OCAP2/physync/internal/bandwidth"
	"github.com/OCAP2/physync/internal/database"
	"github.com/OCAP2/physync/pkg/core"
)

// ErrNoSession is returned when recording outside StartSession/EndSession.
var ErrNoSession = errors.New("no session started")

const defaultFlushSize = 256

// Option configures a Backend.
type Option func(*Backend)

// WithFlushSize sets how many batch rows are buffered before an insert.
func WithFlushSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.flushSize = n
		}
	}
}

// WithDump snapshots a sqlite database to path every interval and on Close.
func WithDump(path string, interval time.Duration) Option {
	return func(b *Backend) {
		b.dumpPath = path
		b.dumpInterval = interval
	}
}

// Backend implements storage.Backend on a gorm connection.
type Backend struct {
	db  *gorm.DB
	mgr *database.Manager
	log zerolog.Logger

	flushSize    int
	dumpPath     string
	dumpInterval time.Duration

	mu      sync.Mutex
	session *SessionRow
	pending []BatchRow

	stop chan struct{}
	wg   sync.WaitGroup
}

// New wraps db.
func New(db *gorm.DB, mgr *database.Manager, opts ...Option) *Backend {
	b := &Backend{
		db:        db,
		mgr:       mgr,
		log:       mgr.Logger.With().Str("backend", db.Dialector.Name()).Logger(),
		flushSize: defaultFlushSize,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.db
}

// Init migrates the schema and starts the dump loop when configured.
func (b *Backend) Init() error {
	if err := b.db.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	if b.dumpPath != "" && b.dumpInterval > 0 {
		b.wg.Add(1)
		go b.dumpLoop()
	}
	return nil
}

// Close flushes pending rows, stops the dump loop, writes a final dump and
// closes the connection.
func (b *Backend) Close() error {
	select {
	case <-b.stop:
		return nil
	default:
	}
	close(b.stop)
	b.wg.Wait()

	var errs []error
	b.mu.Lock()
	if err := b.flushLocked(); err != nil {
		errs = append(errs, err)
	}
	b.mu.Unlock()

	if b.dumpPath != "" {
		if err := b.mgr.DumpToDisk(b.db, b.dumpPath); err != nil {
			errs = append(errs, err)
		}
	}
	if err := database.Close(b.db); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StartSession inserts the session row.
func (b *Backend) StartSession(s core.Session) error {
	row := &SessionRow{
		ID:           s.ID,
		Name:         s.Name,
		Participant:  uint32(s.Participant),
		Role:         string(s.Role),
		Strategy:     s.Strategy,
		TickDuration: s.TickDuration,
		StartedAt:    s.Started.UTC(),
	}
	if err := b.db.Create(row).Error; err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	b.mu.Lock()
	b.session = row
	b.pending = b.pending[:0]
	b.mu.Unlock()
	b.log.Info().Str("session", s.ID).Str("strategy", s.Strategy).Msg("Recording session")
	return nil
}

// RecordBatch buffers r and inserts once the flush size is reached.
func (b *Backend) RecordBatch(r *core.BatchRecord) error {
	states, err := encodeStates(r.States)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return ErrNoSession
	}

	recorded := r.Recorded
	if recorded.IsZero() {
		recorded = time.Now()
	}
	b.pending = append(b.pending, BatchRow{
		SessionID:  b.session.ID,
		Tick:       r.Tick,
		Direction:  r.Direction,
		Strategy:   r.Strategy,
		Seed:       int64(r.Seed),
		Bodies:     len(r.States),
		States:     states,
		RecordedAt: recorded.UTC(),
	})
	b.session.Batches++
	if len(b.pending) >= b.flushSize {
		return b.flushLocked()
	}
	return nil
}

// RecordBandwidth inserts one sample.
func (b *Backend) RecordBandwidth(s bandwidth.Sample) error {
	b.mu.Lock()
	session := b.session
	b.mu.Unlock()
	if session == nil {
		return ErrNoSession
	}

	row := &BandwidthRow{
		SessionID:      session.ID,
		Strategy:       s.Strategy,
		SampleIndex:    s.Index,
		Tick:           s.Tick,
		BytesPerSecond: s.BytesPerSecond,
	}
	if err := b.db.Create(row).Error; err != nil {
		return fmt.Errorf("record bandwidth: %w", err)
	}
	return nil
}

// EndSession flushes buffered rows and stamps the session end.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return ErrNoSession
	}

	if err := b.flushLocked(); err != nil {
		return err
	}
	now := time.Now().UTC()
	err := b.db.Model(&SessionRow{}).Where("id = ?", b.session.ID).
		Updates(map[string]any{"ended_at": now, "batches": b.session.Batches}).Error
	b.session = nil
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Flush inserts every buffered row.
func (b *Backend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked()
}

func (b *Backend) flushLocked() error {
	if len(b.pending) == 0 {
		return nil
	}
	start := time.Now()
	if err := b.db.CreateInBatches(b.pending, b.flushSize).Error; err != nil {
		return fmt.Errorf("insert %d batches: %w", len(b.pending), err)
	}
	b.log.Debug().Int("rows", len(b.pending)).Dur("duration", time.Since(start)).Msg("Flushed batches")
	b.pending = b.pending[:0]
	return nil
}

func (b *Backend) dumpLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.dumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.log.Error().Err(err).Msg("Error flushing before dump")
			}
			if err := b.mgr.DumpToDisk(b.db, b.dumpPath); err != nil {
				b.log.Error().Err(err).Msg("Error dumping to disk")
			}
		}
	}
}

func encodeStates(states []core.RigidBodyState) (datatypes.JSON, error) {
	out := make([]stateJSON, len(states))
	for i, s := range states {
		out[i] = stateJSON{
			Body: uint64(s.Body),
			Tick: s.Tick,
			Pos:  s.Position,
			Ori:  [4]float32{s.Orientation.V[0], s.Orientation.V[1], s.Orientation.V[2], s.Orientation.W},
			Lin:  s.LinearVelocity,
			Ang:  s.AngularVelocity,
		}
		if s.HasAcceleration {
			acc := [3]float32(s.Acceleration)
			out[i].Acc = &acc
		}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode states: %w", err)
	}
	return datatypes.JSON(raw), nil
}

// DecodeStates parses the States column of a BatchRow.
func DecodeStates(raw datatypes.JSON) ([]core.RigidBodyState, error) {
	var in []stateJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode states: %w", err)
	}
	out := make([]core.RigidBodyState, len(in))
	for i, s := range in {
		out[i] = core.RigidBodyState{
			Body:            core.BodyID(s.Body),
			Tick:            s.Tick,
			Position:        s.Pos,
			LinearVelocity:  s.Lin,
			AngularVelocity: s.Ang,
		}
		out[i].Orientation.V = [3]float32{s.Ori[0], s.Ori[1], s.Ori[2]}
		out[i].Orientation.W = s.Ori[3]
		if s.Acc != nil {
			out[i].Acceleration = *s.Acc
			out[i].HasAcceleration = true
		}
	}
	return out, nil
}
