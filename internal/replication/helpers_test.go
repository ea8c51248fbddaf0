package replication

import (
	"io"
	"log/slog"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/physync/internal/authority"
	"github.com/OCAP2/physync/internal/clock"
	"github.com/OCAP2/physync/internal/codec"
	"github.com/OCAP2/physync/internal/engine"
	"github.com/OCAP2/physync/internal/transport"
	"github.com/OCAP2/physync/pkg/core"
)

type sent struct {
	msg []byte
	ch  transport.Channel
}

type captureTransport struct {
	out []sent
}

func (c *captureTransport) SendUnordered(b []byte, ch transport.Channel) error {
	c.out = append(c.out, sent{msg: append([]byte(nil), b...), ch: ch})
	return nil
}

func (c *captureTransport) take(ch transport.Channel) [][]byte {
	var msgs [][]byte
	var rest []sent
	for _, s := range c.out {
		if s.ch == ch {
			msgs = append(msgs, s.msg)
		} else {
			rest = append(rest, s)
		}
	}
	c.out = rest
	return msgs
}

type countingMeter struct {
	bytes int
	steps int
}

func (m *countingMeter) CountBytes(n int) { m.bytes += n }
func (m *countingMeter) StepFinished()    { m.steps++ }

type peer struct {
	world *engine.World
	auth  *authority.Resolver
	clock *clock.Governor
	out   *captureTransport
	meter *countingMeter
	strat Strategy
	cfg   Config
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TickDuration = 0.01
	return cfg
}

func newPeer(t *testing.T, tag codec.PolicyTag, role core.Role, cfg Config, bodies map[core.BodyID]engine.BodyConfig) *peer {
	t.Helper()
	relay := &engine.Relay{}
	p := &peer{
		world: engine.NewWorld(
			engine.WithListener(relay),
			engine.WithGravity(mgl32.Vec3{}),
			engine.WithSleep(0, 0),
			engine.WithSeed(1),
		),
		auth:  authority.New(role),
		clock: clock.NewGovernor(clock.DefaultConfig()),
		out:   &captureTransport{},
		meter: &countingMeter{},
		cfg:   cfg,
	}
	if role.Simulates() {
		p.auth.SetAuthorityID(1)
	}
	for id, bc := range bodies {
		_, err := p.world.Add(id, bc)
		require.NoError(t, err)
		p.auth.Add(id)
	}

	strat, err := New(tag, Deps{
		Engine:    p.world,
		Authority: p.auth,
		Clock:     p.clock,
		Transport: p.out,
		Meter:     p.meter,
		Logger:    quietLogger(),
		Config:    cfg,
	})
	require.NoError(t, err)
	relay.Attach(strat)
	p.auth.OnRemove(strat.Forget)
	p.strat = strat
	return p
}

// step runs one tick in the same order as the session host.
func (p *peer) step() {
	p.auth.OnTick()
	p.strat.BeforeStep()
	if p.auth.IsAuthority() || p.strat.NeedsPhysicsCalculation() {
		p.world.Step(p.cfg.TickDuration)
	}
	p.clock.Advance()
	p.strat.AfterStep()
}

// deliver hands everything p sent to each receiver.
func (p *peer) deliver(to ...*peer) {
	syncs := p.out.take(transport.ChannelSync)
	inputs := p.out.take(transport.ChannelInput)
	for _, r := range to {
		for _, m := range syncs {
			r.strat.HandleSync(m)
		}
		for _, m := range inputs {
			r.strat.HandleClientInput(m)
		}
	}
}

func (p *peer) body(t *testing.T, id core.BodyID) *engine.RigidBody {
	t.Helper()
	b, ok := p.world.RigidBody(id)
	require.True(t, ok)
	return b
}

func decodeAll(t *testing.T, tag codec.PolicyTag, msgs [][]byte) []core.SyncBatch {
	t.Helper()
	out := make([]core.SyncBatch, 0, len(msgs))
	for _, m := range msgs {
		batch, _, err := codec.DecodeSync(m, tag, nil)
		require.NoError(t, err)
		out = append(out, batch)
	}
	return out
}

func at(x, y, z float32) engine.BodyConfig {
	return engine.BodyConfig{Transform: core.Transform{Position: mgl32.Vec3{x, y, z}, Orientation: mgl32.QuatIdent()}}
}

func moving(vx float32) engine.BodyConfig {
	return engine.BodyConfig{
		Transform:      core.IdentityTransform(),
		LinearVelocity: mgl32.Vec3{vx, 0, 0},
	}
}
