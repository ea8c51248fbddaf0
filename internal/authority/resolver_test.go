package authority

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/physync/pkg/core"
)

func TestResolver_ServerOwnsEverything(t *testing.T) {
	r := New(core.RoleServer)
	r.Enqueue(3, nil)
	r.Enqueue(1, nil)

	assert.Empty(t, r.LocalBodies())
	r.OnTick()

	assert.Equal(t, []core.BodyID{1, 3}, r.LocalBodies())
	assert.Empty(t, r.RemoteBodies())
	assert.True(t, r.IsLocal(1))
	assert.True(t, r.IsAuthority())
}

func TestResolver_ClientOwnsNothing(t *testing.T) {
	for _, role := range []core.Role{core.RoleClient, core.RoleDRClient} {
		r := New(role)
		r.Add(5)
		r.Add(2)

		assert.Empty(t, r.LocalBodies())
		assert.Equal(t, []core.BodyID{2, 5}, r.RemoteBodies())
		assert.False(t, r.IsLocal(5))
		assert.False(t, r.IsAuthority())
	}
}

func TestResolver_BodyIsLocalOrRemoteNeverBoth(t *testing.T) {
	r := New(core.RoleClient)
	for id := core.BodyID(1); id <= 10; id++ {
		r.Add(id)
	}
	r.Override(4, true)

	seen := map[core.BodyID]int{}
	for _, id := range r.LocalBodies() {
		seen[id]++
	}
	for _, id := range r.RemoteBodies() {
		seen[id]++
	}
	assert.Len(t, seen, 10)
	for id, n := range seen {
		assert.Equal(t, 1, n, "body %s", id)
	}
	assert.Equal(t, []core.BodyID{4}, r.LocalBodies())
}

func TestResolver_AssignRoleRecomputes(t *testing.T) {
	r := New(core.RoleClient)
	r.Add(1)
	r.Add(2)

	r.AssignRole(core.RoleServer)

	assert.Equal(t, []core.BodyID{1, 2}, r.LocalBodies())
	assert.Empty(t, r.RemoteBodies())
}

func TestResolver_OverrideAndClear(t *testing.T) {
	r := New(core.RoleServer)
	r.Override(7, false)
	r.Add(7)
	assert.False(t, r.IsLocal(7))

	r.ClearOverride(7)
	assert.True(t, r.IsLocal(7))
}

func TestResolver_RemoveNotifiesHooks(t *testing.T) {
	r := New(core.RoleServer)
	var removed []core.BodyID
	r.OnRemove(func(id core.BodyID) { removed = append(removed, id) })
	r.Add(1)
	r.Add(2)

	r.Remove(1)
	r.Remove(1)
	r.EnqueueRemove(2)
	r.OnTick()

	assert.Equal(t, []core.BodyID{1, 2}, removed)
	assert.Equal(t, 0, r.Len())
	_, known := r.Lookup(1)
	assert.False(t, known)
}

func TestResolver_EnqueueFromManyGoroutines(t *testing.T) {
	r := New(core.RoleServer)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id core.BodyID) {
			defer wg.Done()
			r.Enqueue(id, nil)
		}(core.BodyID(i))
	}
	wg.Wait()

	r.OnTick()

	assert.Len(t, r.LocalBodies(), 100)
}

func TestResolver_SpawnRunsBeforeJoining(t *testing.T) {
	r := New(core.RoleServer)
	spawned := map[core.BodyID]bool{}
	spawn := func(id core.BodyID) func() error {
		return func() error {
			// the body must not be visible before it exists
			assert.False(t, r.Known(id))
			spawned[id] = true
			return nil
		}
	}
	r.Enqueue(4, spawn(4))

	assert.False(t, spawned[4])
	r.OnTick()

	assert.True(t, spawned[4])
	assert.True(t, r.IsLocal(4))
}

func TestResolver_FailedSpawnNeverJoins(t *testing.T) {
	r := New(core.RoleServer)
	var failed []core.BodyID
	r.OnSpawnError(func(id core.BodyID, err error) {
		assert.Error(t, err)
		failed = append(failed, id)
	})

	r.Enqueue(1, func() error { return errors.New("duplicate body") })
	r.Enqueue(2, func() error { return nil })
	r.OnTick()

	assert.Equal(t, []core.BodyID{1}, failed)
	assert.False(t, r.Known(1))
	assert.Equal(t, []core.BodyID{2}, r.LocalBodies())
}

func TestSnapshot_RoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		server := New(core.RoleServer)
		server.SetAuthorityID(1)
		start := time.Unix(1700000000, 123)
		sync := []byte{0, 0, 0, 1, 0, 0, 0, 3, 0, 0, 0, 9}

		b, err := server.BuildJoinSnapshot(Snapshot{Start: start, Tick: 9, TickDuration: 0.01, Sync: sync}, compress)
		require.NoError(t, err)

		client := New(core.RoleClient)
		got, err := client.ApplyJoinSnapshot(b)
		require.NoError(t, err)

		assert.Equal(t, core.ParticipantID(1), client.AuthorityID())
		assert.True(t, start.Equal(got.Start))
		assert.Equal(t, uint32(9), got.Tick)
		assert.Equal(t, float32(0.01), got.TickDuration)
		assert.Equal(t, sync, got.Sync)
	}
}

func TestSnapshot_NoAuthority(t *testing.T) {
	client := New(core.RoleClient)

	b, err := client.BuildJoinSnapshot(Snapshot{Start: time.Unix(0, 0)}, false)
	require.NoError(t, err)

	got, err := DecodeSnapshot(b)
	require.NoError(t, err)
	assert.Equal(t, core.NoParticipant, got.Authority)
}

func TestSnapshot_ServerWithoutIDFails(t *testing.T) {
	_, err := New(core.RoleServer).BuildJoinSnapshot(Snapshot{}, false)
	assert.True(t, errors.Is(err, ErrBadSnapshot))
}

func TestSnapshot_Malformed(t *testing.T) {
	for name, b := range map[string][]byte{
		"empty":     nil,
		"envelope":  {9, 1, 2},
		"truncated": {envelopeRaw, 0, 0, 0, 1},
		"lz4":       {envelopeLZ4, 1, 2, 3, 4},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSnapshot(b)
			assert.True(t, errors.Is(err, ErrBadSnapshot))
		})
	}
}
