// internal/storage/factory.go
package storage

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/OCAP2/physync/internal/bandwidth"
	"github.com/OCAP2/physync/internal/config"
	"github.com/OCAP2/physync/internal/database"
	"github.com/OCAP2/physync/internal/storage/gormstore"
	"github.com/OCAP2/physync/internal/storage/memory"
	"github.com/OCAP2/physync/pkg/core"
)

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg config.StorageConfig, log zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "", "none":
		return Nop{}, nil
	case "memory":
		return memory.New(cfg.Memory), nil
	case "sqlite":
		mgr := database.NewManager(log)
		db, err := mgr.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		var opts []gormstore.Option
		if cfg.SQLite.Path == "" {
			opts = append(opts, gormstore.WithDump(cfg.SQLite.OutputPath, cfg.SQLite.DumpInterval))
		}
		return gormstore.New(db, mgr, opts...), nil
	case "postgres":
		mgr := database.NewManager(log)
		db, err := mgr.OpenPostgres(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return gormstore.New(db, mgr), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Init() error { return nil }
func (Nop) Close() error { return nil }
func (Nop) StartSession(core.Session) error { return nil }
func (Nop) EndSession() error { return nil }
func (Nop) RecordBatch(*core.BatchRecord) error { return nil }
func (Nop) RecordBandwidth(bandwidth.Sample) error { return nil }
