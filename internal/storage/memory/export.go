// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SessionExport is the root JSON structure
type SessionExport struct {
	SessionID    string     `json:"sessionId"`
	Name         string     `json:"name"`
	Participant  uint32     `json:"participant"`
	Role         string     `json:"role"`
	Strategy     string     `json:"strategy"`
	TickDuration float32    `json:"tickDuration"`
	Started      time.Time  `json:"started"`
	EndTick      uint32     `json:"endTick"`
	Batches      int        `json:"batches"`
	Bodies       []BodyJSON `json:"bodies"`
	Bandwidth    [][]any    `json:"bandwidth"`
}

// BodyJSON holds the recorded states of one body.
// Each state is [tick, direction, [px,py,pz], [qx,qy,qz,qw], [vx,vy,vz], [wx,wy,wz]].
type BodyJSON struct {
	ID     uint64  `json:"id"`
	States [][]any `json:"states"`
}

// exportJSON writes the session to a JSON file, gzipped when configured.
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	name := strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(b.session.Name)
	timestamp := b.session.Started.UTC().Format("20060102_150405")

	filename := fmt.Sprintf("%s_%s_%s.json", name, b.session.Strategy, timestamp)
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}

	b.lastExport = outputPath
	return nil
}

func (b *Backend) buildExport() SessionExport {
	s := b.session
	export := SessionExport{
		SessionID:    s.ID,
		Name:         s.Name,
		Participant:  uint32(s.Participant),
		Role:         string(s.Role),
		Strategy:     s.Strategy,
		TickDuration: s.TickDuration,
		Started:      s.Started.UTC(),
		EndTick:      b.lastTick,
		Batches:      b.batches,
		Bodies:       make([]BodyJSON, 0, len(b.bodies)),
		Bandwidth:    make([][]any, 0, len(b.samples)),
	}

	for _, rec := range b.sortedBodies() {
		body := BodyJSON{ID: uint64(rec.Body), States: make([][]any, 0, len(rec.States))}
		for _, sr := range rec.States {
			st := sr.State
			body.States = append(body.States, []any{
				st.Tick,
				sr.Direction,
				st.Position,
				[]float32{st.Orientation.V[0], st.Orientation.V[1], st.Orientation.V[2], st.Orientation.W},
				st.LinearVelocity,
				st.AngularVelocity,
			})
		}
		export.Bodies = append(export.Bodies, body)
	}

	for _, smp := range b.samples {
		export.Bandwidth = append(export.Bandwidth, []any{smp.Index, smp.Tick, smp.BytesPerSecond})
	}
	return export
}

func writeJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(data); err != nil {
		_ = gz.Close()
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return gz.Close()
}
