// Package authority decides which participant simulates each body.
package authority

import (
	"sort"

	"github.com/OCAP2/physync/internal/queue"
	"github.com/OCAP2/physync/pkg/core"
)

type change struct {
	body   core.BodyID
	remove bool
	spawn  func() error
}

// Resolver is the authority table of one participant. Enqueue and
// EnqueueRemove may be called from any goroutine; everything else runs on
// the simulation goroutine.
type Resolver struct {
	role      core.Role
	authority core.ParticipantID

	pending   *queue.Queue[change]
	table     map[core.BodyID]bool
	overrides map[core.BodyID]bool

	local  []core.BodyID
	remote []core.BodyID

	onRemove     []func(core.BodyID)
	onSpawnError []func(core.BodyID, error)
}

// New creates a resolver for role with no bodies.
func New(role core.Role) *Resolver {
	return &Resolver{
		role:      role,
		authority: core.NoParticipant,
		pending:   queue.New[change](0),
		table:     make(map[core.BodyID]bool),
		overrides: make(map[core.BodyID]bool),
	}
}

// Role returns the current role.
func (r *Resolver) Role() core.Role {
	return r.role
}

// AssignRole switches role and recomputes ownership of every known body.
func (r *Resolver) AssignRole(role core.Role) {
	r.role = role
	for id := range r.table {
		r.table[id] = r.resolve(id)
	}
	r.rebuild()
}

// IsAuthority reports whether this participant simulates the session.
func (r *Resolver) IsAuthority() bool {
	return r.role.Simulates()
}

// AuthorityID returns the participant that simulates the session.
func (r *Resolver) AuthorityID() core.ParticipantID {
	return r.authority
}

// SetAuthorityID records the simulating participant.
func (r *Resolver) SetAuthorityID(id core.ParticipantID) {
	r.authority = id
}

// Enqueue schedules body to join the table on the next OnTick. A non-nil
// spawn runs first, on the simulation goroutine, and the body joins only if
// it succeeds.
func (r *Resolver) Enqueue(body core.BodyID, spawn func() error) {
	r.pending.Push(change{body: body, spawn: spawn})
}

// EnqueueRemove schedules body to leave the table on the next OnTick.
func (r *Resolver) EnqueueRemove(body core.BodyID) {
	r.pending.Push(change{body: body, remove: true})
}

// OnTick applies every queued change in arrival order.
func (r *Resolver) OnTick() {
	changes := r.pending.Drain()
	if len(changes) == 0 {
		return
	}
	for _, c := range changes {
		if c.remove {
			r.drop(c.body)
			continue
		}
		if c.spawn != nil {
			if err := c.spawn(); err != nil {
				for _, fn := range r.onSpawnError {
					fn(c.body, err)
				}
				continue
			}
		}
		r.table[c.body] = r.resolve(c.body)
	}
	r.rebuild()
}

// Add inserts body immediately. It must run on the simulation goroutine.
func (r *Resolver) Add(body core.BodyID) {
	r.table[body] = r.resolve(body)
	r.rebuild()
}

// Remove drops body immediately and notifies removal hooks.
func (r *Resolver) Remove(body core.BodyID) {
	if r.drop(body) {
		r.rebuild()
	}
}

func (r *Resolver) drop(body core.BodyID) bool {
	if _, ok := r.table[body]; !ok {
		return false
	}
	delete(r.table, body)
	delete(r.overrides, body)
	for _, fn := range r.onRemove {
		fn(body)
	}
	return true
}

// OnRemove registers fn to be called whenever a body leaves the table.
func (r *Resolver) OnRemove(fn func(core.BodyID)) {
	r.onRemove = append(r.onRemove, fn)
}

// OnSpawnError registers fn to be called when a queued body fails to spawn.
func (r *Resolver) OnSpawnError(fn func(core.BodyID, error)) {
	r.onSpawnError = append(r.onSpawnError, fn)
}

// Override pins body to local or remote regardless of role.
func (r *Resolver) Override(body core.BodyID, local bool) {
	r.overrides[body] = local
	if _, ok := r.table[body]; ok {
		r.table[body] = local
		r.rebuild()
	}
}

// ClearOverride returns body to role-based ownership.
func (r *Resolver) ClearOverride(body core.BodyID) {
	delete(r.overrides, body)
	if _, ok := r.table[body]; ok {
		r.table[body] = r.resolve(body)
		r.rebuild()
	}
}

func (r *Resolver) resolve(body core.BodyID) bool {
	if local, ok := r.overrides[body]; ok {
		return local
	}
	return r.role.Simulates()
}

// Lookup returns whether body is local and whether it is known at all.
func (r *Resolver) Lookup(body core.BodyID) (local, known bool) {
	local, known = r.table[body]
	return local, known
}

// Known reports whether body is in the table.
func (r *Resolver) Known(body core.BodyID) bool {
	_, ok := r.table[body]
	return ok
}

// IsLocal reports whether this participant is authoritative for body.
func (r *Resolver) IsLocal(body core.BodyID) bool {
	return r.table[body]
}

// LocalBodies returns the bodies this participant simulates, ordered by id.
// The slice is shared and must not be modified.
func (r *Resolver) LocalBodies() []core.BodyID {
	return r.local
}

// RemoteBodies returns the bodies owned elsewhere, ordered by id.
// The slice is shared and must not be modified.
func (r *Resolver) RemoteBodies() []core.BodyID {
	return r.remote
}

// Len returns the number of known bodies.
func (r *Resolver) Len() int {
	return len(r.table)
}

func (r *Resolver) rebuild() {
	local := make([]core.BodyID, 0, len(r.table))
	remote := make([]core.BodyID, 0, len(r.table))
	for id, isLocal := range r.table {
		if isLocal {
			local = append(local, id)
		} else {
			remote = append(remote, id)
		}
	}
	sort.Slice(local, func(i, j int) bool { return local[i] < local[j] })
	sort.Slice(remote, func(i, j int) bool { return remote[i] < remote[j] })
	r.local, r.remote = local, remote
}
