// internal/storage/storage.go
package storage

import (
	"github.com/OCAP2/physync/internal/bandwidth"
	"github.com/OCAP2/physync/pkg/core"
)

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(s core.Session) error
	EndSession() error

	// Recording
	RecordBatch(r *core.BatchRecord) error
	RecordBandwidth(s bandwidth.Sample) error
}

// Exporter is an optional interface for backends that write a file when a
// session ends.
type Exporter interface {
	ExportedFilePath() string
}
