package replication

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/physync/internal/codec"
	"github.com/OCAP2/physync/internal/engine"
	"github.com/OCAP2/physync/internal/kinematics"
	"github.com/OCAP2/physync/internal/transport"
	"github.com/OCAP2/physync/pkg/core"
)

func fixed() engine.BodyConfig {
	return engine.BodyConfig{Transform: core.IdentityTransform(), Fixed: true}
}

func entryCounts(t *testing.T, tag codec.PolicyTag, msgs [][]byte) map[core.BodyID]int {
	t.Helper()
	counts := map[core.BodyID]int{}
	for _, b := range decodeAll(t, tag, msgs) {
		for _, e := range b.Entries {
			counts[e.Body]++
		}
	}
	return counts
}

func TestChanged_MovingAlwaysRestingUntilBudget(t *testing.T) {
	bodies := map[core.BodyID]engine.BodyConfig{1: moving(1), 2: fixed()}
	server := newPeer(t, codec.PolicyChanged, core.RoleServer, testConfig(), bodies)

	for i := 0; i < 6; i++ {
		server.step()
	}

	counts := entryCounts(t, codec.PolicyChanged, server.out.take(transport.ChannelSync))
	assert.Equal(t, 6, counts[1])
	assert.Equal(t, 3, counts[2])
}

func TestChanged_WakingRefillsBudget(t *testing.T) {
	server := newPeer(t, codec.PolicyChanged, core.RoleServer, testConfig(), map[core.BodyID]engine.BodyConfig{1: fixed()})
	for i := 0; i < 5; i++ {
		server.step()
	}
	server.out.take(transport.ChannelSync)

	b := server.body(t, 1)
	require.NoError(t, b.Apply(core.MethodCall{Method: core.MethodSetFixed, Args: core.MethodArgs{Flag: false}}))
	require.NoError(t, b.Apply(core.MethodCall{Method: core.MethodSetActive, Args: core.MethodArgs{Flag: true}}))
	server.step()
	require.NoError(t, b.Apply(core.MethodCall{Method: core.MethodSetFixed, Args: core.MethodArgs{Flag: true}}))
	for i := 0; i < 5; i++ {
		server.step()
	}

	counts := entryCounts(t, codec.PolicyChanged, server.out.take(transport.ChannelSync))
	assert.Equal(t, 4, counts[1])
}

func TestVelocity_DeadBandSuppressesPredictableMotion(t *testing.T) {
	server := newPeer(t, codec.PolicyVelocity, core.RoleServer, testConfig(), map[core.BodyID]engine.BodyConfig{1: moving(1)})

	server.step()
	server.step()
	server.step()
	sent := server.out.take(transport.ChannelSync)
	require.Len(t, sent, 1)

	server.body(t, 1).SetLinearVelocity(mgl32.Vec3{20, 0, 0})
	server.step()

	sent = server.out.take(transport.ChannelSync)
	require.Len(t, sent, 1)
	batch := decodeAll(t, codec.PolicyVelocity, sent)[0]
	assert.Equal(t, uint32(4), batch.Tick)
	assert.Equal(t, mgl32.Vec3{20, 0, 0}, batch.Entries[0].LinearVelocity)
}

func TestVelocity_RestingBodySentWithZeroVelocityThenSuppressed(t *testing.T) {
	server := newPeer(t, codec.PolicyVelocity, core.RoleServer, testConfig(), map[core.BodyID]engine.BodyConfig{1: fixed()})

	for i := 0; i < 8; i++ {
		server.step()
	}

	sent := server.out.take(transport.ChannelSync)
	require.Len(t, sent, 3)
	for _, b := range decodeAll(t, codec.PolicyVelocity, sent) {
		assert.Equal(t, mgl32.Vec3{}, b.Entries[0].LinearVelocity)
	}
}

func TestVelocity_ReceiverDeadReckonsScenario(t *testing.T) {
	cfg := testConfig()
	cfg.TickDuration = 0.02
	cfg.Convergence = kinematics.Snapping
	client := newPeer(t, codec.PolicyVelocity, core.RoleClient, cfg, map[core.BodyID]engine.BodyConfig{42: at(0, 0, 0)})
	client.clock.Warp(50)

	client.strat.HandleSync(codec.EncodeSync(codec.PolicyVelocity, core.SyncBatch{Tick: 50, Entries: []core.RigidBodyState{{
		Body:           42,
		Orientation:    mgl32.QuatIdent(),
		LinearVelocity: mgl32.Vec3{1, 0, 0},
	}}}))

	for client.clock.Tick() < 53 {
		client.step()
	}

	assert.InDelta(t, 0.06, client.body(t, 42).Transform().Position.X(), 1e-5)
}

func TestVelocity_FarAheadBatchWarpsAndAppliesNow(t *testing.T) {
	cfg := testConfig()
	cfg.Convergence = kinematics.Snapping
	client := newPeer(t, codec.PolicyVelocity, core.RoleClient, cfg, map[core.BodyID]engine.BodyConfig{1: at(0, 0, 0)})
	client.clock.Warp(100)

	client.strat.HandleSync(codec.EncodeSync(codec.PolicyVelocity, core.SyncBatch{Tick: 130, Entries: []core.RigidBodyState{
		{Body: 1, Position: mgl32.Vec3{7, 0, 0}, Orientation: mgl32.QuatIdent()},
	}}))

	assert.Equal(t, uint32(130), client.clock.Tick())
	client.strat.BeforeStep()
	assert.InDelta(t, 7, client.body(t, 1).Transform().Position.X(), 1e-6)
}

func TestVelocity_SlightlyAheadBatchWaitsForItsTick(t *testing.T) {
	cfg := testConfig()
	cfg.Convergence = kinematics.Snapping
	client := newPeer(t, codec.PolicyVelocity, core.RoleClient, cfg, map[core.BodyID]engine.BodyConfig{1: at(0, 0, 0)})
	client.clock.Warp(100)

	client.strat.HandleSync(codec.EncodeSync(codec.PolicyVelocity, core.SyncBatch{Tick: 102, Entries: []core.RigidBodyState{
		{Body: 1, Position: mgl32.Vec3{7, 0, 0}, Orientation: mgl32.QuatIdent()},
	}}))

	client.step()
	client.step()
	assert.Equal(t, mgl32.Vec3{}, client.body(t, 1).Transform().Position)

	client.step()
	assert.InDelta(t, 7, client.body(t, 1).Transform().Position.X(), 1e-6)
}

func TestVelocity_LinearConvergenceBlendsWithoutOvershoot(t *testing.T) {
	cfg := testConfig()
	cfg.Convergence = kinematics.Linear
	cfg.ConvergenceTime = 0.1
	client := newPeer(t, codec.PolicyVelocity, core.RoleClient, cfg, map[core.BodyID]engine.BodyConfig{1: at(0, 0, 0)})
	client.clock.Warp(10)

	client.strat.HandleSync(codec.EncodeSync(codec.PolicyVelocity, core.SyncBatch{Tick: 10, Entries: []core.RigidBodyState{
		{Body: 1, Position: mgl32.Vec3{1, 0, 0}, Orientation: mgl32.QuatIdent()},
	}}))

	client.step()
	assert.InDelta(t, 0.1, client.body(t, 1).Transform().Position.X(), 1e-4)

	prev := float32(0.1)
	for i := 0; i < 12; i++ {
		client.step()
		x := client.body(t, 1).Transform().Position.X()
		assert.GreaterOrEqual(t, x+1e-5, prev)
		assert.LessOrEqual(t, x, float32(1)+1e-5)
		prev = x
	}
	assert.InDelta(t, 1, prev, 1e-5)
}

func TestVelocity_ServerAndClientEndToEnd(t *testing.T) {
	cfg := testConfig()
	server := newPeer(t, codec.PolicyVelocity, core.RoleServer, cfg, map[core.BodyID]engine.BodyConfig{1: moving(1)})
	client := newPeer(t, codec.PolicyVelocity, core.RoleClient, cfg, map[core.BodyID]engine.BodyConfig{1: at(0, 0, 0)})

	for i := 0; i < 50; i++ {
		server.step()
		server.deliver(client)
		client.step()
	}

	got := client.body(t, 1).Transform().Position
	want := server.body(t, 1).Transform().Position
	assert.InDelta(t, want.X(), got.X(), float64(cfg.DeadBand.Linear)+1e-3)
}

func TestAcceleration_SendsFiniteDifference(t *testing.T) {
	server := newPeer(t, codec.PolicyAcceleration, core.RoleServer, testConfig(), map[core.BodyID]engine.BodyConfig{1: at(0, 0, 0)})
	b := server.body(t, 1)

	server.step()
	server.out.take(transport.ChannelSync)

	require.NoError(t, b.Apply(core.MethodCall{Method: core.MethodSetStaticForce, Args: core.MethodArgs{Vector: mgl32.Vec3{0, -100, 0}}}))
	for i := 0; i < 5; i++ {
		server.step()
	}

	batches := decodeAll(t, codec.PolicyAcceleration, server.out.take(transport.ChannelSync))
	require.NotEmpty(t, batches)
	last := batches[len(batches)-1].Entries[0]
	assert.True(t, last.HasAcceleration)
	assert.InDelta(t, -100, last.Acceleration.Y(), 1e-2)
}

func TestAcceleration_DeadBandSuppressesPredictableMotion(t *testing.T) {
	server := newPeer(t, codec.PolicyAcceleration, core.RoleServer, testConfig(), map[core.BodyID]engine.BodyConfig{1: moving(1)})

	server.step()
	server.step()
	server.step()
	sent := server.out.take(transport.ChannelSync)
	require.Len(t, sent, 1)

	server.body(t, 1).SetLinearVelocity(mgl32.Vec3{20, 0, 0})
	server.step()

	counts := entryCounts(t, codec.PolicyAcceleration, server.out.take(transport.ChannelSync))
	assert.Equal(t, map[core.BodyID]int{1: 1}, counts)

	server.step()
	server.step()
	assert.Empty(t, server.out.take(transport.ChannelSync))
}

func TestPeriodic_SendsEveryInterval(t *testing.T) {
	cfg := testConfig()
	cfg.UpdateInterval = 5
	server := newPeer(t, codec.PolicyPeriodic, core.RoleServer, cfg, map[core.BodyID]engine.BodyConfig{1: moving(1), 2: fixed()})

	for i := 0; i < 12; i++ {
		server.step()
	}

	batches := decodeAll(t, codec.PolicyPeriodic, server.out.take(transport.ChannelSync))
	require.Len(t, batches, 2)
	assert.Equal(t, uint32(5), batches[0].Tick)
	assert.Equal(t, uint32(10), batches[1].Tick)
	assert.Len(t, batches[0].Entries, 2)
	assert.True(t, server.strat.NeedsPhysicsCalculation())
}

func TestPeriodic_LinearBlendMovesVisualOnly(t *testing.T) {
	cfg := testConfig()
	cfg.Convergence = kinematics.Linear
	cfg.ConvergenceTime = 0.1
	client := newPeer(t, codec.PolicyPeriodic, core.RoleClient, cfg, map[core.BodyID]engine.BodyConfig{1: at(0, 0, 0)})

	client.strat.HandleSync(codec.EncodeSync(codec.PolicyPeriodic, core.SyncBatch{Tick: 0, Entries: []core.RigidBodyState{
		{Body: 1, Position: mgl32.Vec3{1, 0, 0}, Orientation: mgl32.QuatIdent()},
	}}))
	client.step()

	b := client.body(t, 1)
	assert.InDelta(t, 1, b.Transform().Position.X(), 1e-6)
	assert.InDelta(t, 0.1, b.VisualTransform().Position.X(), 1e-4)

	for i := 0; i < 12; i++ {
		client.step()
	}
	assert.Equal(t, b.Transform(), b.VisualTransform())
}

func TestPeriodic_QuadraticBlendStartsFromExtrapolatedPose(t *testing.T) {
	cfg := testConfig()
	cfg.Convergence = kinematics.Quadratic
	cfg.ConvergenceTime = 0.1
	client := newPeer(t, codec.PolicyPeriodic, core.RoleClient, cfg, map[core.BodyID]engine.BodyConfig{1: at(0, 0, 0)})

	client.strat.HandleSync(codec.EncodeSync(codec.PolicyPeriodic, core.SyncBatch{Tick: 0, Entries: []core.RigidBodyState{
		{Body: 1, Position: mgl32.Vec3{1, 0, 0}, Orientation: mgl32.QuatIdent()},
	}}))
	client.step()

	b := client.body(t, 1)
	// the body was at rest, so the start pose does not move and the blend is 10% of the way
	assert.InDelta(t, 0.1, b.VisualTransform().Position.X(), 1e-4)
}

func TestPeriodic_SnappingSetsVelocities(t *testing.T) {
	cfg := testConfig()
	cfg.Convergence = kinematics.Snapping
	client := newPeer(t, codec.PolicyPeriodic, core.RoleClient, cfg, map[core.BodyID]engine.BodyConfig{1: at(0, 0, 0)})

	client.strat.HandleSync(codec.EncodeSync(codec.PolicyPeriodic, core.SyncBatch{Tick: 3, Entries: []core.RigidBodyState{
		{Body: 1, Position: mgl32.Vec3{1, 0, 0}, Orientation: mgl32.QuatIdent(), LinearVelocity: mgl32.Vec3{0, 2, 0}},
	}}))

	b := client.body(t, 1)
	assert.Equal(t, mgl32.Vec3{0, 2, 0}, b.LinearVelocity())
	assert.Equal(t, b.Transform(), b.VisualTransform())
}

func TestInputDriven_PartialUpdateAfterInputCarriesSeed(t *testing.T) {
	server := newPeer(t, codec.PolicyInput, core.RoleServer, testConfig(), map[core.BodyID]engine.BodyConfig{1: at(0, 0, 0), 2: at(5, 0, 0)})

	server.step()
	assert.Empty(t, server.out.take(transport.ChannelSync))

	require.NoError(t, server.body(t, 1).Request(core.MethodCall{
		Method: core.MethodSetLinearVelocity,
		Args:   core.MethodArgs{Vector: mgl32.Vec3{1, 0, 0}},
	}))

	var msgs [][]byte
	var seed uint64
	for i := 0; i < 10 && len(msgs) == 0; i++ {
		server.step()
		msgs = server.out.take(transport.ChannelSync)
		seed = server.world.Seed()
	}
	require.Len(t, msgs, 1)

	batch := decodeAll(t, codec.PolicyInput, msgs)[0]
	require.Len(t, batch.Entries, 1)
	assert.Equal(t, core.BodyID(1), batch.Entries[0].Body)
	assert.True(t, batch.HasSeed)
	assert.Equal(t, seed, batch.Seed)
}

func TestInputDriven_PeriodicFullUpdate(t *testing.T) {
	cfg := testConfig()
	cfg.FullUpdateInterval = 0.1
	server := newPeer(t, codec.PolicyInput, core.RoleServer, cfg, map[core.BodyID]engine.BodyConfig{1: at(0, 0, 0), 2: at(5, 0, 0)})

	for i := 0; i < 25; i++ {
		server.step()
	}

	batches := decodeAll(t, codec.PolicyInput, server.out.take(transport.ChannelSync))
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Entries, 2)
}

func TestInputDriven_ReceiverSeedsBeforeApplying(t *testing.T) {
	client := newPeer(t, codec.PolicyInput, core.RoleClient, testConfig(), map[core.BodyID]engine.BodyConfig{1: at(0, 0, 0)})
	client.clock.Warp(20)

	client.strat.HandleSync(codec.EncodeSync(codec.PolicyInput, core.SyncBatch{Tick: 21, Seed: 0xfeed, HasSeed: true, Entries: []core.RigidBodyState{
		{Body: 1, Position: mgl32.Vec3{2, 0, 0}, Orientation: mgl32.QuatIdent(), LinearVelocity: mgl32.Vec3{1, 0, 0}},
	}}))

	client.strat.BeforeStep()
	assert.Equal(t, mgl32.Vec3{}, client.body(t, 1).Transform().Position)

	client.clock.Advance()
	client.strat.BeforeStep()
	assert.Equal(t, uint64(0xfeed), client.world.Seed())
	assert.InDelta(t, 2, client.body(t, 1).Transform().Position.X(), 1e-6)
	assert.Equal(t, mgl32.Vec3{1, 0, 0}, client.body(t, 1).LinearVelocity())
}

func TestInputDriven_ClientInputMarksBodyModified(t *testing.T) {
	bodies := map[core.BodyID]engine.BodyConfig{1: at(0, 0, 0), 2: at(1, 0, 0)}
	server := newPeer(t, codec.PolicyInput, core.RoleServer, testConfig(), bodies)
	client := newPeer(t, codec.PolicyInput, core.RoleClient, testConfig(), bodies)

	require.NoError(t, client.body(t, 2).Request(core.MethodCall{
		Method: core.MethodAddForce,
		Args:   core.MethodArgs{Vector: mgl32.Vec3{0, 50, 0}},
	}))
	client.deliver(server)

	var batches []core.SyncBatch
	for i := 0; i < 10 && len(batches) == 0; i++ {
		server.step()
		batches = decodeAll(t, codec.PolicyInput, server.out.take(transport.ChannelSync))
	}
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Entries, 1)
	assert.Equal(t, core.BodyID(2), batches[0].Entries[0].Body)
	assert.Positive(t, batches[0].Entries[0].LinearVelocity.Y())
}

func TestClose_ClearsPendingBatches(t *testing.T) {
	cfg := testConfig()
	cfg.Convergence = kinematics.Snapping
	client := newPeer(t, codec.PolicyVelocity, core.RoleClient, cfg, map[core.BodyID]engine.BodyConfig{1: at(0, 0, 0)})
	client.strat.HandleSync(codec.EncodeSync(codec.PolicyVelocity, core.SyncBatch{Tick: 1, Entries: []core.RigidBodyState{
		{Body: 1, Position: mgl32.Vec3{3, 0, 0}, Orientation: mgl32.QuatIdent()},
	}}))

	client.strat.Close()
	client.step()
	client.step()

	assert.Equal(t, mgl32.Vec3{}, client.body(t, 1).Transform().Position)
}

// assertDuplicateIgnored feeds msg to two identical receivers, replays it to
// one of them after a few ticks and expects both to end in the same state.
func assertDuplicateIgnored(t *testing.T, tag codec.PolicyTag, cfg Config, start uint32, msg []byte) {
	t.Helper()
	bodies := map[core.BodyID]engine.BodyConfig{1: at(0, 0, 0)}
	once := newPeer(t, tag, core.RoleClient, cfg, bodies)
	twice := newPeer(t, tag, core.RoleClient, cfg, bodies)

	for _, p := range []*peer{once, twice} {
		p.clock.Warp(start)
		p.world.SetSeed(1)
		p.strat.HandleSync(msg)
		for i := 0; i < 5; i++ {
			p.step()
		}
	}

	twice.strat.HandleSync(msg)
	once.step()
	twice.step()
	once.step()
	twice.step()

	assert.Equal(t, once.body(t, 1).Transform(), twice.body(t, 1).Transform())
	assert.Equal(t, once.body(t, 1).LinearVelocity(), twice.body(t, 1).LinearVelocity())
	assert.Equal(t, once.world.Seed(), twice.world.Seed())
}

func TestDuplicateBatchIsIgnored(t *testing.T) {
	state := core.RigidBodyState{
		Body:           1,
		Position:       mgl32.Vec3{2, 0, 0},
		Orientation:    mgl32.QuatIdent(),
		LinearVelocity: mgl32.Vec3{1, 0, 0},
	}
	snapping := testConfig()
	snapping.Convergence = kinematics.Snapping
	linear := testConfig()
	linear.Convergence = kinematics.Linear

	tests := []struct {
		name string
		tag  codec.PolicyTag
		cfg  Config
		seed bool
	}{
		{"full", codec.PolicyFull, testConfig(), false},
		{"velocity snapping", codec.PolicyVelocity, snapping, false},
		{"velocity linear", codec.PolicyVelocity, linear, false},
		{"acceleration", codec.PolicyAcceleration, snapping, false},
		{"periodic snapping", codec.PolicyPeriodic, snapping, false},
		{"periodic linear", codec.PolicyPeriodic, linear, false},
		{"input", codec.PolicyInput, testConfig(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := core.SyncBatch{Tick: 21, Entries: []core.RigidBodyState{state}}
			if tt.seed {
				batch.Seed, batch.HasSeed = 0xfeed, true
			}
			assertDuplicateIgnored(t, tt.tag, tt.cfg, 20, codec.EncodeSync(tt.tag, batch))
		})
	}
}

func TestInputDriven_DuplicateDoesNotRewindSeed(t *testing.T) {
	client := newPeer(t, codec.PolicyInput, core.RoleClient, testConfig(), map[core.BodyID]engine.BodyConfig{1: at(0, 0, 0)})
	client.clock.Warp(20)
	msg := codec.EncodeSync(codec.PolicyInput, core.SyncBatch{Tick: 21, Seed: 0xfeed, HasSeed: true, Entries: []core.RigidBodyState{
		{Body: 1, Position: mgl32.Vec3{2, 0, 0}, Orientation: mgl32.QuatIdent()},
	}})

	client.strat.HandleSync(msg)
	for i := 0; i < 5; i++ {
		client.step()
	}
	before := client.world.Seed()
	require.NotEqual(t, uint64(0xfeed), before)

	client.strat.HandleSync(msg)
	client.strat.BeforeStep()

	assert.Equal(t, before, client.world.Seed())
}
