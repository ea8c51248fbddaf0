package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/OCAP2/physync/internal/clock"
	"github.com/OCAP2/physync/internal/codec"
	"github.com/OCAP2/physync/internal/engine"
	"github.com/OCAP2/physync/internal/transport"
	"github.com/OCAP2/physync/pkg/core"
)

type noopMeter struct{}

func (noopMeter) CountBytes(int) {}
func (noopMeter) StepFinished()  {}

// base carries what every policy shares: the wire plumbing, client input
// forwarding, per-body freshness and rate-limited error reporting.
type base struct {
	tag   codec.PolicyTag
	shape codec.Shape
	cfg   Config

	engine    Engine
	authority Authority
	clock     *clock.Governor
	transport Sender
	meter     Meter
	observer  BatchObserver
	logger    *slog.Logger

	lastApplied map[core.BodyID]uint32

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
	errCount metric.Int64Counter
}

func newBase(tag codec.PolicyTag, deps Deps) (*base, error) {
	b := &base{
		tag:         tag,
		shape:       codec.ShapeFor(tag),
		cfg:         deps.Config,
		engine:      deps.Engine,
		authority:   deps.Authority,
		clock:       deps.Clock,
		transport:   deps.Transport,
		meter:       deps.Meter,
		observer:    deps.Observer,
		logger:      deps.Logger,
		lastApplied: make(map[core.BodyID]uint32),
		limiters:    make(map[string]*rate.Limiter),
	}
	if b.meter == nil {
		b.meter = noopMeter{}
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("strategy", tag.String())

	var err error
	b.errCount, err = meter().Int64Counter(
		"replication.errors",
		metric.WithDescription("Replication errors by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating error counter: %w", err)
	}
	return b, nil
}

// Tag returns the policy tag.
func (b *base) Tag() codec.PolicyTag {
	return b.tag
}

// report counts err and logs it, at most a few times per second per kind.
func (b *base) report(err error, args ...any) {
	kind := errorKind(err)
	b.errCount.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("strategy", b.tag.String()),
	))

	b.limMu.Lock()
	lim, ok := b.limiters[kind]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Second), 5)
		b.limiters[kind] = lim
	}
	allow := lim.Allow()
	b.limMu.Unlock()

	if allow {
		b.logger.Warn(err.Error(), append(args, "kind", kind, "tick", b.clock.Tick())...)
	}
}

// fresh reports whether a state for body at tick is newer than anything
// applied so far, and records it if so.
func (b *base) fresh(body core.BodyID, tick uint32) bool {
	if last, ok := b.lastApplied[body]; ok && tick <= last {
		return false
	}
	b.lastApplied[body] = tick
	return true
}

func (b *base) forget(body core.BodyID) {
	delete(b.lastApplied, body)
}

func (b *base) reset() {
	clear(b.lastApplied)
}

func (b *base) stateOf(body engine.Body, tick uint32) core.RigidBodyState {
	t := body.Transform()
	return core.RigidBodyState{
		Body:            body.ID(),
		Tick:            tick,
		Position:        t.Position,
		Orientation:     t.Orientation,
		LinearVelocity:  body.LinearVelocity(),
		AngularVelocity: body.AngularVelocity(),
	}
}

// active reports whether body is moving under simulation.
func active(body engine.Body) bool {
	return body.IsActive() && !body.IsFixed()
}

// localStates captures every local body at tick.
func (b *base) localStates(tick uint32) []core.RigidBodyState {
	ids := b.authority.LocalBodies()
	out := make([]core.RigidBodyState, 0, len(ids))
	for _, id := range ids {
		body, ok := b.engine.Body(id)
		if !ok {
			continue
		}
		out = append(out, b.stateOf(body, tick))
	}
	return out
}

func (b *base) newBatch(tick uint32, entries []core.RigidBodyState) core.SyncBatch {
	batch := core.SyncBatch{Tick: tick, Entries: entries}
	if b.shape.Seed {
		batch.Seed = b.engine.Seed()
		batch.HasSeed = true
	}
	return batch
}

// sendBatch transmits batch unless it is empty.
func (b *base) sendBatch(batch core.SyncBatch) {
	if len(batch.Entries) == 0 {
		return
	}
	msg := codec.EncodeSync(b.tag, batch)
	b.send(msg, transport.ChannelSync)
	if b.observer != nil {
		b.observer.ObserveBatch(b.tag, Outbound, batch)
	}
}

func (b *base) send(msg []byte, ch transport.Channel) {
	if err := b.transport.SendUnordered(msg, ch); err != nil {
		b.logger.Debug("send failed", "channel", ch.String(), "error", err)
		return
	}
	b.meter.CountBytes(len(msg))
}

// SyncMessage encodes every local body at the current tick.
func (b *base) SyncMessage() []byte {
	return codec.EncodeSync(b.tag, b.newBatch(b.clock.Tick(), b.localStates(b.clock.Tick())))
}

// decode parses a SYNC message and keeps only entries for known remote
// bodies. ok is false when nothing in the message can be used.
func (b *base) decode(msg []byte) (core.SyncBatch, bool) {
	batch, skipped, err := codec.DecodeSync(msg, b.tag, b.authority.Known)
	if errors.Is(err, ErrProtocolMismatch) {
		b.report(err)
		return core.SyncBatch{}, false
	}
	if err != nil {
		b.report(err, "decoded", len(batch.Entries))
	}
	for _, id := range skipped {
		b.report(fmt.Errorf("%w: %s", ErrUnknownBody, id), "body", id.String())
	}

	kept := batch.Entries[:0]
	for _, s := range batch.Entries {
		if b.authority.IsLocal(s.Body) {
			continue
		}
		kept = append(kept, s)
	}
	batch.Entries = kept

	if b.observer != nil && len(kept) > 0 {
		b.observer.ObserveBatch(b.tag, Inbound, batch)
	}
	return batch, len(kept) > 0 || batch.HasSeed
}

// observeClock feeds a remote tick to the governor and reports anomalies.
func (b *base) observeClock(remote uint32) clock.Observation {
	obs := b.clock.Observe(remote)
	switch obs.Action {
	case clock.Warp, clock.Decelerate:
		b.report(fmt.Errorf("%w: %s", ErrClockAnomaly, obs.Action),
			"local", obs.Local, "remote", obs.Remote, "rate", b.clock.Rate())
	case clock.Accelerate:
		b.logger.Debug("clock behind", "local", obs.Local, "remote", obs.Remote)
	}
	return obs
}

// HandleBodyInput forwards a mutation of a body this participant does not
// own to the authority.
func (b *base) HandleBodyInput(call core.MethodCall) {
	if b.authority.IsAuthority() || b.authority.IsLocal(call.Body) {
		return
	}
	call.Tick = b.clock.Tick()
	msg, err := codec.EncodeClientInput(b.tag, call)
	if err != nil {
		b.report(fmt.Errorf("%w: %v", ErrRejectedInput, err), "body", call.Body.String())
		return
	}
	b.send(msg, transport.ChannelInput)
}

// applyClientInput runs forwarded input on the authority and returns the
// call when it was applied.
func (b *base) applyClientInput(msg []byte) (core.MethodCall, bool) {
	if !b.authority.IsAuthority() {
		return core.MethodCall{}, false
	}
	call, err := codec.DecodeClientInput(msg, b.tag)
	if err != nil {
		b.report(err)
		return core.MethodCall{}, false
	}
	if !b.authority.IsLocal(call.Body) {
		b.report(fmt.Errorf("%w: %s", ErrUnknownBody, call.Body), "method", call.Method.String())
		return core.MethodCall{}, false
	}
	if err := b.engine.Invoke(call); err != nil {
		b.report(fmt.Errorf("%w: %v", ErrRejectedInput, err), "body", call.Body.String())
		return core.MethodCall{}, false
	}
	return call, true
}

// HandleClientInput applies forwarded input on the authority.
func (b *base) HandleClientInput(msg []byte) {
	b.applyClientInput(msg)
}

// finishStep closes the bandwidth sample for this tick.
func (b *base) finishStep() {
	b.meter.StepFinished()
}
