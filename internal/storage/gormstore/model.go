package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// SessionRow is one recorded session.
type SessionRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	Name         string `gorm:"size:128"`
	Participant  uint32
	Role         string `gorm:"size:16"`
	Strategy     string `gorm:"size:32"`
	TickDuration float32
	StartedAt    time.Time
	EndedAt      *time.Time
	Batches      int
}

// TableName sets the table name.
func (SessionRow) TableName() string { return "sessions" }

// BatchRow is one sync batch. States holds the body states as JSON.
type BatchRow struct {
	ID         uint   `gorm:"primaryKey"`
	SessionID  string `gorm:"index;size:36"`
	Tick       uint32 `gorm:"index"`
	Direction  string `gorm:"size:3"`
	Strategy   string `gorm:"size:32"`
	Seed       int64
	Bodies     int
	States     datatypes.JSON
	RecordedAt time.Time
}

// TableName sets the table name.
func (BatchRow) TableName() string { return "sync_batches" }

// BandwidthRow is one bandwidth sample.
type BandwidthRow struct {
	ID             uint   `gorm:"primaryKey"`
	SessionID      string `gorm:"index;size:36"`
	Strategy       string `gorm:"size:32"`
	SampleIndex    int
	Tick           uint32
	BytesPerSecond float64
}

// TableName sets the table name.
func (BandwidthRow) TableName() string { return "bandwidth_samples" }

// Models lists every migrated model.
var Models = []any{&SessionRow{}, &BatchRow{}, &BandwidthRow{}}

// stateJSON is the stored form of one body state.
type stateJSON struct {
	Body uint64      `json:"id"`
	Tick uint32      `json:"tick"`
	Pos  [3]float32  `json:"p"`
	Ori  [4]float32  `json:"q"`
	Lin  [3]float32  `json:"v"`
	Ang  [3]float32  `json:"w"`
	Acc  *[3]float32 `json:"a,omitempty"`
}
