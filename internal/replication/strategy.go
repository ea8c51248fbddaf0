// Package replication implements the interchangeable policies that decide
// what body state each participant transmits and how received state is
// applied.
package replication

import (
	"fmt"
	"log/slog"

	"github.com/OCAP2/physync/internal/clock"
	"github.com/OCAP2/physync/internal/codec"
	"github.com/OCAP2/physync/internal/engine"
	"github.com/OCAP2/physync/internal/kinematics"
	"github.com/OCAP2/physync/internal/transport"
	"github.com/OCAP2/physync/pkg/core"
)

// Strategy is one replication policy bound to a participant. Every method
// runs on the simulation goroutine.
type Strategy interface {
	engine.InputListener

	Tag() codec.PolicyTag
	BeforeStep()
	AfterStep()
	HandleSync(msg []byte)
	HandleClientInput(msg []byte)
	NeedsPhysicsCalculation() bool
	// SyncMessage encodes every local body for a joining participant.
	SyncMessage() []byte
	// Forget drops per-body state of a removed body.
	Forget(body core.BodyID)
	Close()
}

// Engine is the simulation surface strategies read and write.
type Engine interface {
	Body(id core.BodyID) (engine.Body, bool)
	Invoke(call core.MethodCall) error
	Seed() uint64
	SetSeed(seed uint64)
}

// Authority answers who owns each body.
type Authority interface {
	IsAuthority() bool
	IsLocal(body core.BodyID) bool
	Known(body core.BodyID) bool
	LocalBodies() []core.BodyID
	RemoteBodies() []core.BodyID
}

// Sender hands encoded messages to the transport.
type Sender interface {
	SendUnordered(b []byte, ch transport.Channel) error
}

// Meter counts transmitted bytes per tick.
type Meter interface {
	CountBytes(n int)
	StepFinished()
}

// Direction says whether an observed batch was sent or applied.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "out"
	}
	return "in"
}

// BatchObserver is notified of every batch sent or accepted from the wire.
type BatchObserver interface {
	ObserveBatch(tag codec.PolicyTag, dir Direction, batch core.SyncBatch)
}

// Config holds the tunables shared by the policies.
type Config struct {
	TickDuration float32
	DeadBand     kinematics.DeadBand
	// InactiveRetries is how many times a body that came to rest is still sent.
	InactiveRetries int
	// ConvergenceTime is the blend window in seconds.
	ConvergenceTime float32
	Convergence     kinematics.Algorithm
	// UpdateInterval is the periodic broadcast spacing in ticks.
	UpdateInterval int
	// FullUpdateInterval is the input-driven full broadcast spacing in seconds.
	FullUpdateInterval float32
	// InputUpdateInterval is the minimum spacing of input-driven partial
	// updates in seconds.
	InputUpdateInterval float32
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		TickDuration:        0.01,
		DeadBand:            kinematics.DeadBand{Linear: 0.05, Angular: 0.05},
		InactiveRetries:     3,
		ConvergenceTime:     0.1,
		Convergence:         kinematics.Linear,
		UpdateInterval:      10,
		FullUpdateInterval:  1,
		InputUpdateInterval: 0.05,
	}
}

// Deps wires a strategy to the rest of the participant.
type Deps struct {
	Engine    Engine
	Authority Authority
	Clock     *clock.Governor
	Transport Sender
	Meter     Meter
	Observer  BatchObserver
	Logger    *slog.Logger
	Config    Config
}

// New builds the strategy for tag.
func New(tag codec.PolicyTag, deps Deps) (Strategy, error) {
	if deps.Engine == nil || deps.Authority == nil || deps.Clock == nil || deps.Transport == nil {
		return nil, fmt.Errorf("replication %s: engine, authority, clock and transport are required", tag)
	}
	if deps.Config.TickDuration <= 0 {
		return nil, fmt.Errorf("replication %s: tick duration must be positive", tag)
	}

	b, err := newBase(tag, deps)
	if err != nil {
		return nil, err
	}

	switch tag {
	case codec.PolicyFull:
		return newFull(b), nil
	case codec.PolicyChanged:
		return newChanged(b), nil
	case codec.PolicyVelocity:
		return newDeadReckoning(b, false), nil
	case codec.PolicyAcceleration:
		return newDeadReckoning(b, true), nil
	case codec.PolicyPeriodic:
		return newPeriodic(b), nil
	case codec.PolicyInput:
		return newInputDriven(b), nil
	default:
		return nil, fmt.Errorf("replication: unknown policy %s", tag)
	}
}
