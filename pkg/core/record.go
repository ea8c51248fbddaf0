// pkg/core/record.go
package core

import "time"

// Session describes one recorded run of a participant.
type Session struct {
	ID           string
	Name         string
	Participant  ParticipantID
	Role         Role
	Strategy     string
	TickDuration float32
	Started      time.Time
}

// BatchRecord is one sync batch a participant sent or applied.
type BatchRecord struct {
	Tick      uint32
	Direction string
	Strategy  string
	Seed      uint64
	States    []RigidBodyState
	Recorded  time.Time
}
