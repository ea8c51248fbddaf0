// Package participant tracks who is in the session and which role each
// participant plays.
package participant

import (
	"fmt"
	"sort"
	"sync"

	"github.com/OCAP2/physync/pkg/core"
)

// Info describes one participant.
type Info struct {
	ID   core.ParticipantID
	Name string
	Role core.Role
}

// Directory maps participant ids to their role. It is safe for concurrent use.
type Directory struct {
	mu      sync.RWMutex
	members map[core.ParticipantID]Info
	self    core.ParticipantID
}

// NewDirectory creates a directory with self as the local participant.
func NewDirectory(self Info) *Directory {
	d := &Directory{
		members: map[core.ParticipantID]Info{self.ID: self},
		self:    self.ID,
	}
	return d
}

// Self returns the local participant.
func (d *Directory) Self() Info {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.members[d.self]
}

// Join adds or replaces a participant.
func (d *Directory) Join(info Info) error {
	if _, err := core.ParseRole(string(info.Role)); err != nil {
		return fmt.Errorf("join %d: %w", info.ID, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[info.ID] = info
	return nil
}

// Leave removes a participant. The local participant cannot leave.
func (d *Directory) Leave(id core.ParticipantID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id == d.self {
		return false
	}
	if _, ok := d.members[id]; !ok {
		return false
	}
	delete(d.members, id)
	return true
}

// Get looks up a participant.
func (d *Directory) Get(id core.ParticipantID) (Info, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.members[id]
	return info, ok
}

// Role returns the role of id, or "" if unknown.
func (d *Directory) Role(id core.ParticipantID) core.Role {
	info, _ := d.Get(id)
	return info.Role
}

// Authority returns the participant that simulates the session, or
// NoParticipant when none has joined.
func (d *Directory) Authority() core.ParticipantID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	best := core.NoParticipant
	for id, info := range d.members {
		if info.Role.Simulates() && id < best {
			best = id
		}
	}
	return best
}

// List returns every participant ordered by id.
func (d *Directory) List() []Info {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Info, 0, len(d.members))
	for _, info := range d.members {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of participants.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.members)
}
