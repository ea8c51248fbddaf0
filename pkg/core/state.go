// pkg/core/state.go
package core

import "github.com/go-gl/mathgl/mgl32"

// Transform is a rigid pose.
type Transform struct {
	Position    mgl32.Vec3
	Orientation mgl32.Quat
}

// IdentityTransform returns the origin with no rotation.
func IdentityTransform() Transform {
	return Transform{Orientation: mgl32.QuatIdent()}
}

// RigidBodyState is an immutable kinematic snapshot of one body at one tick.
type RigidBodyState struct {
	Body            BodyID
	Tick            uint32
	Position        mgl32.Vec3
	Orientation     mgl32.Quat
	LinearVelocity  mgl32.Vec3
	AngularVelocity mgl32.Vec3
	Acceleration    mgl32.Vec3
	HasAcceleration bool
}

// Transform returns the pose part of the state.
func (s RigidBodyState) Transform() Transform {
	return Transform{Position: s.Position, Orientation: s.Orientation}
}

// AtRest returns a copy with velocities and acceleration zeroed.
func (s RigidBodyState) AtRest() RigidBodyState {
	s.LinearVelocity = mgl32.Vec3{}
	s.AngularVelocity = mgl32.Vec3{}
	s.Acceleration = mgl32.Vec3{}
	return s
}

// SyncBatch is the decoded payload of one sync message.
type SyncBatch struct {
	Tick    uint32
	Seed    uint64
	HasSeed bool
	Entries []RigidBodyState
}

// Merge adds the entries of other. An entry of other replaces the entry
// already held for the same body.
func (b *SyncBatch) Merge(other SyncBatch) {
	for _, e := range other.Entries {
		replaced := false
		for i := range b.Entries {
			if b.Entries[i].Body == e.Body {
				b.Entries[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			b.Entries = append(b.Entries, e)
		}
	}
	if other.HasSeed {
		b.Seed = other.Seed
		b.HasSeed = true
	}
}
