// Package session drives one participant: it owns the simulation world,
// the authority table, the clock governor and the replication strategy, and
// steps them in a fixed order once per tick.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/physync/internal/authority"
	"github.com/OCAP2/physync/internal/bandwidth"
	"github.com/OCAP2/physync/internal/clock"
	"github.com/OCAP2/physync/internal/dispatcher"
	"github.com/OCAP2/physync/internal/engine"
	"github.com/OCAP2/physync/internal/monitor"
	"github.com/OCAP2/physync/internal/participant"
	"github.com/OCAP2/physync/internal/replication"
	"github.com/OCAP2/physync/internal/storage"
	"github.com/OCAP2/physync/internal/transport"
	"github.com/OCAP2/physync/internal/worker"
	"github.com/OCAP2/physync/pkg/core"
)

// helloRetryTicks is how long a joining participant waits for a snapshot
// before asking again.
const helloRetryTicks = 100

// StepListener is called once per tick, after authority changes are
// applied and before the strategy runs.
type StepListener interface {
	OnStep(tick uint32)
}

// StepFunc adapts a function to StepListener.
type StepFunc func(tick uint32)

// OnStep calls f.
func (f StepFunc) OnStep(tick uint32) {
	f(tick)
}

// Dependencies holds the collaborators of a Host. Only Transport is required.
type Dependencies struct {
	Transport transport.Transport
	// Storage records sessions, batches and bandwidth samples.
	Storage storage.Backend
	// Sinks receive every bandwidth sample off the simulation goroutine.
	Sinks  []bandwidth.Sink
	Logger *slog.Logger
	// DispatchLogger defaults to Logger.
	DispatchLogger dispatcher.Logger
	World          []engine.Option
}

// Host is one participant of a replicated simulation. Step, Run and every
// method that changes the world must be called from one goroutine; Status
// and LogState may be called from anywhere.
type Host struct {
	cfg    Config
	logger *slog.Logger

	world     *engine.World
	auth      *authority.Resolver
	gov       *clock.Governor
	strat     replication.Strategy
	meter     *bandwidth.Meter
	disp      *dispatcher.Dispatcher
	tr        transport.Transport
	store     storage.Backend
	directory *participant.Directory
	session   core.Session

	listeners []StepListener
	stepped   int
	joined    bool
	helloWait int

	statusMu sync.RWMutex
	status   monitor.Status

	closeOnce sync.Once
	closeErr  error

	attrs    metric.MeasurementOption
	steps    metric.Int64Counter
	rate     metric.Float64Gauge
	controls metric.Int64Counter
}

// New wires a Host and starts its recording session.
func New(cfg Config, deps Dependencies) (*Host, error) {
	if deps.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dlog := deps.DispatchLogger
	if dlog == nil {
		dlog = logger
	}

	h := &Host{
		cfg:       cfg,
		logger:    logger.With("participant", uint32(cfg.Participant), "role", string(cfg.Role)),
		auth:      authority.New(cfg.Role),
		gov:       clock.NewGovernor(cfg.Clock),
		tr:        deps.Transport,
		store:     deps.Storage,
		directory: participant.NewDirectory(participant.Info{ID: cfg.Participant, Name: cfg.Name, Role: cfg.Role}),
		joined:    cfg.Role.Simulates(),
		attrs: metric.WithAttributes(
			attribute.String("role", string(cfg.Role)),
			attribute.String("strategy", cfg.Strategy.String()),
		),
	}
	if cfg.Role.Simulates() {
		h.auth.SetAuthorityID(cfg.Participant)
	}

	if err := h.initMetrics(); err != nil {
		return nil, err
	}

	var err error
	h.disp, err = dispatcher.New(dlog)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	recorder := worker.NewRecorder(h.disp, dlog)
	worker.NewManager(deps.Storage, deps.Sinks...).RegisterHandlers(h.disp)

	h.meter, err = bandwidth.New(cfg.Strategy.String(), cfg.tickSeconds(),
		bandwidth.WithSink(recorder),
		bandwidth.WithDumpDir(cfg.Bandwidth.Dir),
		bandwidth.WithWindow(cfg.Bandwidth.Window),
		bandwidth.WithLogger(h.logger),
	)
	if err != nil {
		h.disp.Close()
		return nil, err
	}

	relay := &engine.Relay{}
	worldOpts := append([]engine.Option{engine.WithListener(relay), engine.WithSeed(cfg.Seed)}, deps.World...)
	h.world = engine.NewWorld(worldOpts...)

	rcfg := cfg.Replication
	rcfg.TickDuration = cfg.tickSeconds()
	h.strat, err = replication.New(cfg.Strategy, replication.Deps{
		Engine:    h.world,
		Authority: h.auth,
		Clock:     h.gov,
		Transport: deps.Transport,
		Meter:     h.meter,
		Observer:  recorder,
		Logger:    h.logger,
		Config:    rcfg,
	})
	if err != nil {
		h.disp.Close()
		return nil, err
	}
	relay.Attach(h.strat)
	h.auth.OnRemove(func(id core.BodyID) {
		h.strat.Forget(id)
		h.world.Remove(id)
	})
	h.auth.OnSpawnError(func(id core.BodyID, err error) {
		h.logger.Warn("Queued body not added", "body", id.String(), "error", err)
	})

	h.disp.Register(dispatcher.KindSync, h.handleSync)
	h.disp.Register(dispatcher.KindInput, h.handleInput)
	h.disp.Register(dispatcher.KindControl, h.handleControl, dispatcher.Logged())

	h.session = core.Session{
		ID:           uuid.NewString(),
		Name:         cfg.Name,
		Participant:  cfg.Participant,
		Role:         cfg.Role,
		Strategy:     cfg.Strategy.String(),
		TickDuration: cfg.tickSeconds(),
		Started:      time.Now(),
	}
	if h.store != nil {
		if err := h.store.StartSession(h.session); err != nil {
			h.strat.Close()
			h.disp.Close()
			return nil, fmt.Errorf("starting recording session: %w", err)
		}
	}
	h.updateStatus()

	h.logger.Info("Session created",
		"session", h.session.ID,
		"strategy", cfg.Strategy.String(),
		"tickDuration", cfg.TickDuration)
	return h, nil
}

func (h *Host) initMetrics() error {
	mt := meter()
	var err error

	h.steps, err = mt.Int64Counter(
		"session.steps",
		metric.WithDescription("Simulation steps taken"),
	)
	if err != nil {
		return fmt.Errorf("creating steps counter: %w", err)
	}

	h.rate, err = mt.Float64Gauge(
		"clock.rate",
		metric.WithDescription("Simulation timer rate multiplier"),
	)
	if err != nil {
		return fmt.Errorf("creating clock rate gauge: %w", err)
	}

	h.controls, err = mt.Int64Counter(
		"session.control.messages",
		metric.WithDescription("Control messages handled"),
	)
	if err != nil {
		return fmt.Errorf("creating control counter: %w", err)
	}
	return nil
}

// Session returns the recording session descriptor.
func (h *Host) Session() core.Session {
	return h.session
}

// Logger returns the session logger.
func (h *Host) Logger() *slog.Logger {
	return h.logger
}

// World returns the simulation world.
func (h *Host) World() *engine.World {
	return h.world
}

// Authority returns the authority table.
func (h *Host) Authority() *authority.Resolver {
	return h.auth
}

// Clock returns the clock governor.
func (h *Host) Clock() *clock.Governor {
	return h.gov
}

// Meter returns the bandwidth meter.
func (h *Host) Meter() *bandwidth.Meter {
	return h.meter
}

// Directory returns the known participants.
func (h *Host) Directory() *participant.Directory {
	return h.directory
}

// Joined reports whether the participant has caught up with the authority.
func (h *Host) Joined() bool {
	return h.joined
}

// AddStepListener registers l to run every tick.
func (h *Host) AddStepListener(l StepListener) {
	h.listeners = append(h.listeners, l)
}

// EnqueueBody schedules a body to enter the world and the authority table
// at the start of the next tick. It may be called from any goroutine.
func (h *Host) EnqueueBody(id core.BodyID, cfg engine.BodyConfig) {
	h.auth.Enqueue(id, func() error {
		_, err := h.world.Add(id, cfg)
		return err
	})
}

// AddBody creates a body and registers it with the authority table. It must
// run on the simulation goroutine.
func (h *Host) AddBody(id core.BodyID, cfg engine.BodyConfig) error {
	if _, err := h.world.Add(id, cfg); err != nil {
		return err
	}
	h.auth.Add(id)
	return nil
}

// RemoveBody removes a body at the start of the next tick.
func (h *Host) RemoveBody(id core.BodyID) {
	h.auth.EnqueueRemove(id)
}

// Request mutates a body the way game code does: the change is forwarded
// to the authority when this participant does not own the body, then
// applied locally.
func (h *Host) Request(call core.MethodCall) error {
	body, ok := h.world.RigidBody(call.Body)
	if !ok {
		return fmt.Errorf("%s on %s: %w", call.Method, call.Body, engine.ErrNoSuchBody)
	}
	return body.Request(call)
}

// Step advances the simulation by one tick.
func (h *Host) Step() {
	h.drain()
	h.auth.OnTick()
	h.maybeHello()

	tick := h.gov.Tick()
	for _, l := range h.listeners {
		l.OnStep(tick)
	}

	h.strat.BeforeStep()
	if h.auth.IsAuthority() || h.strat.NeedsPhysicsCalculation() {
		h.world.Step(h.cfg.tickSeconds())
	}
	h.gov.Advance()
	h.strat.AfterStep()

	h.stepped++
	ctx := context.Background()
	h.steps.Add(ctx, 1, h.attrs)
	h.rate.Record(ctx, h.gov.Rate(), h.attrs)
	h.updateStatus()
}

// Steps returns the number of ticks stepped so far.
func (h *Host) Steps() int {
	return h.stepped
}

// drain routes everything received since the last tick through the
// dispatcher, control traffic first.
func (h *Host) drain() {
	for _, ch := range transport.Channels() {
		kind := kindFor(ch)
		for _, msg := range h.tr.ReceiveQueue(ch) {
			err := h.disp.Dispatch(dispatcher.Event{
				Kind:    kind,
				Tick:    h.gov.Tick(),
				Payload: msg,
			})
			if err != nil {
				h.logger.Debug("inbound message dropped", "channel", ch.String(), "error", err)
			}
		}
	}
}

func kindFor(ch transport.Channel) string {
	switch ch {
	case transport.ChannelSync:
		return dispatcher.KindSync
	case transport.ChannelInput:
		return dispatcher.KindInput
	default:
		return dispatcher.KindControl
	}
}

func payloadBytes(e dispatcher.Event) ([]byte, error) {
	b, ok := e.Payload.([]byte)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %T", e.Kind, worker.ErrUnexpectedPayload, e.Payload)
	}
	return b, nil
}

func (h *Host) handleSync(e dispatcher.Event) error {
	msg, err := payloadBytes(e)
	if err != nil {
		return err
	}
	h.strat.HandleSync(msg)
	return nil
}

func (h *Host) handleInput(e dispatcher.Event) error {
	msg, err := payloadBytes(e)
	if err != nil {
		return err
	}
	h.strat.HandleClientInput(msg)
	return nil
}

func (h *Host) handleControl(e dispatcher.Event) error {
	msg, err := payloadBytes(e)
	if err != nil {
		return err
	}
	c, err := decodeControl(msg)
	if err != nil {
		return err
	}
	h.controls.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("role", string(h.cfg.Role)),
		attribute.String("kind", c.Kind.String()),
	))

	switch c.Kind {
	case controlHello:
		return h.handleHello(c.Hello)
	case controlSnapshot:
		return h.handleSnapshot(c.Target, c.Snapshot)
	case controlLeave:
		if h.directory.Leave(c.From) {
			h.logger.Info("Participant left", "id", uint32(c.From))
		}
	}
	return nil
}

// maybeHello asks the authority for a join snapshot until one arrives.
func (h *Host) maybeHello() {
	if h.joined {
		return
	}
	if h.helloWait > 0 {
		h.helloWait--
		return
	}
	h.helloWait = helloRetryTicks
	self := h.directory.Self()
	msg := encodeHello(hello{Participant: self.ID, Role: self.Role, Name: self.Name})
	if err := h.tr.SendUnordered(msg, transport.ChannelControl); err != nil {
		h.logger.Debug("hello not sent", "error", err)
	}
}

func (h *Host) handleHello(in hello) error {
	if in.Participant == h.cfg.Participant {
		return nil
	}
	if err := h.directory.Join(participant.Info{ID: in.Participant, Name: in.Name, Role: in.Role}); err != nil {
		return err
	}
	h.logger.Info("Participant joined", "id", uint32(in.Participant), "name", in.Name, "peerRole", string(in.Role))
	if !h.auth.IsAuthority() {
		return nil
	}

	snap, err := h.auth.BuildJoinSnapshot(authority.Snapshot{
		Start:        h.session.Started,
		Tick:         h.gov.Tick(),
		TickDuration: h.cfg.tickSeconds(),
		Sync:         h.strat.SyncMessage(),
	}, h.cfg.CompressJoin)
	if err != nil {
		return fmt.Errorf("building join snapshot for %d: %w", in.Participant, err)
	}
	if err := h.tr.SendUnordered(encodeSnapshot(in.Participant, snap), transport.ChannelControl); err != nil {
		return fmt.Errorf("sending join snapshot to %d: %w", in.Participant, err)
	}
	return nil
}

func (h *Host) handleSnapshot(target core.ParticipantID, b []byte) error {
	if h.joined || target != h.cfg.Participant {
		return nil
	}
	snap, err := h.auth.ApplyJoinSnapshot(b)
	if err != nil {
		return err
	}
	if snap.TickDuration != h.cfg.tickSeconds() {
		h.logger.Warn("Tick duration differs from authority",
			"local", h.cfg.tickSeconds(), "authority", snap.TickDuration)
	}

	h.gov.Warp(snap.Tick)
	h.gov.Reset()
	h.strat.HandleSync(snap.Sync)
	if err := h.directory.Join(participant.Info{ID: snap.Authority, Role: core.RoleServer}); err != nil {
		return err
	}
	h.joined = true
	h.logger.Info("Joined session",
		"authority", uint32(snap.Authority),
		"tick", snap.Tick,
		"authorityStarted", snap.Start)
	return nil
}

func (h *Host) updateStatus() {
	st := monitor.Status{
		SessionID:      h.session.ID,
		Role:           string(h.cfg.Role),
		Strategy:       h.cfg.Strategy.String(),
		Tick:           h.gov.Tick(),
		Rate:           h.gov.Rate(),
		Joined:         h.joined,
		LocalBodies:    len(h.auth.LocalBodies()),
		RemoteBodies:   len(h.auth.RemoteBodies()),
		Participants:   h.directory.Len(),
		BytesPerSecond: h.meter.Last(),
	}
	h.statusMu.Lock()
	h.status = st
	h.statusMu.Unlock()
}

// Status returns the state as of the last completed tick.
func (h *Host) Status() monitor.Status {
	h.statusMu.RLock()
	defer h.statusMu.RUnlock()
	return h.status
}

// LogState supplies live attributes for every log record.
func (h *Host) LogState(context.Context) []slog.Attr {
	return []slog.Attr{
		slog.String("strategy", h.cfg.Strategy.String()),
		slog.Any("tick", h.gov.Tick()),
	}
}

// Close stops the strategy, reports bandwidth, drains recording and ends
// the recording session. It does not close the transport.
func (h *Host) Close() error {
	h.closeOnce.Do(func() {
		if !h.auth.IsAuthority() {
			_ = h.tr.SendUnordered(encodeLeave(h.cfg.Participant), transport.ChannelControl)
		}
		h.strat.Close()

		var errs []error
		if err := h.meter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing bandwidth meter: %w", err))
		}
		h.disp.Close()
		if h.store != nil {
			if err := h.store.EndSession(); err != nil {
				errs = append(errs, fmt.Errorf("ending recording session: %w", err))
			}
		}
		h.closeErr = errors.Join(errs...)
		h.logger.Info("Session closed", "session", h.session.ID, "steps", h.stepped)
	})
	return h.closeErr
}
