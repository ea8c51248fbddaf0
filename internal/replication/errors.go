package replication

import (
	"errors"

	"github.com/OCAP2/physync/internal/codec"
)

var (
	// ErrProtocolMismatch marks a message from a different policy or kind.
	ErrProtocolMismatch = codec.ErrProtocolMismatch
	// ErrMalformedPayload marks a truncated or corrupt message.
	ErrMalformedPayload = codec.ErrMalformedPayload
	// ErrUnknownBody marks an entry for a body not in the authority table.
	ErrUnknownBody = errors.New("unknown body")
	// ErrClockAnomaly marks a remote tick far from the local one.
	ErrClockAnomaly = errors.New("clock anomaly")
	// ErrRejectedInput marks client input the authority could not apply.
	ErrRejectedInput = errors.New("rejected client input")
)

// errorKind returns the metric attribute for err.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrProtocolMismatch):
		return "protocol_mismatch"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrUnknownBody):
		return "unknown_body"
	case errors.Is(err, ErrClockAnomaly):
		return "clock_anomaly"
	case errors.Is(err, ErrRejectedInput):
		return "rejected_input"
	default:
		return "other"
	}
}
