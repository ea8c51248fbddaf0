// Package clock reconciles the local simulation tick and rate against the
// ticks observed in remote sync messages.
package clock

import (
	"math"
	"sync/atomic"
)

// Config holds the governor thresholds and rate factors.
type Config struct {
	WarpThreshold uint32  // remote lead beyond which the local tick jumps
	LeadThreshold uint32  // remote lead beyond which the local clock speeds up
	SpeedUp       float64 // rate while lagging
	SlowDown      float64 // rate while leading
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		WarpThreshold: 20,
		LeadThreshold: 2,
		SpeedUp:       1.05,
		SlowDown:      0.5,
	}
}

// Action is what the governor did in response to a remote tick.
type Action int

const (
	// Hold keeps the batch until the local tick reaches it.
	Hold Action = iota
	// Accelerate speeds up the local clock and holds the batch.
	Accelerate
	// Warp jumps the local tick to the remote tick and applies immediately.
	Warp
	// Decelerate slows the local clock and applies the late batch immediately.
	Decelerate
)

func (a Action) String() string {
	switch a {
	case Hold:
		return "hold"
	case Accelerate:
		return "accelerate"
	case Warp:
		return "warp"
	case Decelerate:
		return "decelerate"
	default:
		return "unknown"
	}
}

// Immediate reports whether a batch observed with this action must be
// applied at the next tick instead of at its own tick.
func (a Action) Immediate() bool {
	return a == Warp || a == Decelerate
}

// Anomaly reports whether the action corrected a clock discrepancy.
func (a Action) Anomaly() bool {
	return a != Hold
}

// Observation records one governor decision.
type Observation struct {
	Action Action
	Local  uint32
	Remote uint32
}

// Governor owns the shared simulation tick counter and timer rate.
// The tick is written only by the simulation goroutine; readers on other
// goroutines see it through atomics.
type Governor struct {
	cfg  Config
	tick atomic.Uint32
	rate atomic.Uint64
}

// NewGovernor creates a governor starting at tick 0 with rate 1.
func NewGovernor(cfg Config) *Governor {
	g := &Governor{cfg: cfg}
	g.rate.Store(math.Float64bits(1))
	return g
}

// Tick returns the current local tick.
func (g *Governor) Tick() uint32 {
	return g.tick.Load()
}

// Advance increments the local tick and returns the new value.
func (g *Governor) Advance() uint32 {
	return g.tick.Add(1)
}

// Warp sets the local tick.
func (g *Governor) Warp(tick uint32) {
	g.tick.Store(tick)
}

// Rate returns the timer rate multiplier.
func (g *Governor) Rate() float64 {
	return math.Float64frombits(g.rate.Load())
}

func (g *Governor) setRate(r float64) {
	g.rate.Store(math.Float64bits(r))
}

// Observe classifies remote tick T against the local tick L and adjusts
// the clock:
//
//	T > L+warp   warp L to T, apply now
//	T > L+lead   speed up, hold until T
//	T < L        slow down, apply now
//	otherwise    rate back to 1, hold until T
func (g *Governor) Observe(remote uint32) Observation {
	local := g.Tick()
	obs := Observation{Local: local, Remote: remote}

	switch {
	case uint64(remote) > uint64(local)+uint64(g.cfg.WarpThreshold):
		g.Warp(remote)
		g.setRate(1)
		obs.Action = Warp
	case uint64(remote) > uint64(local)+uint64(g.cfg.LeadThreshold):
		g.setRate(g.cfg.SpeedUp)
		obs.Action = Accelerate
	case remote < local:
		g.setRate(g.cfg.SlowDown)
		obs.Action = Decelerate
	default:
		g.setRate(1)
		obs.Action = Hold
	}
	return obs
}

// Reset returns the rate to 1 without touching the tick.
func (g *Governor) Reset() {
	g.setRate(1)
}
