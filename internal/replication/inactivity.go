package replication

import "github.com/OCAP2/physync/pkg/core"

// inactivity limits how often a body at rest is resent. A body that stops
// moving is sent budget more times so a lost datagram cannot leave it
// drifting on the receiver, and then goes quiet until it moves again.
type inactivity struct {
	budget    int
	remaining map[core.BodyID]int
}

func newInactivity(budget int) *inactivity {
	return &inactivity{budget: budget, remaining: make(map[core.BodyID]int)}
}

// shouldSend updates the counter of body and reports whether it is sent.
// Active bodies always pass and refill their budget.
func (in *inactivity) shouldSend(body core.BodyID, active bool) bool {
	if active {
		in.remaining[body] = in.budget
		return true
	}
	left, ok := in.remaining[body]
	if !ok {
		left = in.budget
	}
	if left <= 0 {
		in.remaining[body] = 0
		return false
	}
	in.remaining[body] = left - 1
	return true
}

func (in *inactivity) forget(body core.BodyID) {
	delete(in.remaining, body)
}

func (in *inactivity) reset() {
	clear(in.remaining)
}
