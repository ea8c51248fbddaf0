// pkg/core/participant.go
package core

import "fmt"

// ParticipantID identifies a session participant.
type ParticipantID uint32

// NoParticipant marks an unknown or absent authority.
const NoParticipant ParticipantID = 0xFFFFFFFF

// Role is the simulation role a participant plays in a session.
type Role string

const (
	// RoleServer simulates and owns every body.
	RoleServer Role = "server"
	// RoleClient owns nothing and receives all state.
	RoleClient Role = "client"
	// RoleDRClient owns nothing and relies on dead reckoning between updates.
	RoleDRClient Role = "drclient"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleServer, RoleClient, RoleDRClient:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// Simulates reports whether the role integrates physics authoritatively.
func (r Role) Simulates() bool {
	return r == RoleServer
}
