// Package influx exports bandwidth and clock measurements to InfluxDB,
// falling back to a gzip line-protocol file when the server is unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/OCAP2/physync/internal/bandwidth"
	"github.com/OCAP2/physync/internal/config"
)

// ErrDisabled is returned by Connect when InfluxDB export is turned off.
var ErrDisabled = errors.New("influx export disabled")

// Manager handles InfluxDB connections and writes.
type Manager struct {
	cfg    config.InfluxConfig
	tags   map[string]string
	Logger zerolog.Logger

	mu           sync.Mutex
	client       influxdb2.Client
	writer       influxdb2_api.WriteAPI
	backupFile   *os.File
	backupWriter *gzip.Writer
	valid        bool
}

// NewManager creates a manager. tags are added to every point.
func NewManager(cfg config.InfluxConfig, tags map[string]string, log zerolog.Logger) *Manager {
	return &Manager{cfg: cfg, tags: tags, Logger: log}
}

// Connect pings the server and prepares the bucket. When the server does
// not answer, points go to the backup file instead.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := m.client.Ping(ctx)
	if err != nil || !running {
		m.Logger.Warn().Err(err).Str("backupPath", m.cfg.BackupPath).
			Msg("InfluxDB unreachable, writing to backup file")
		return m.openBackupLocked()
	}

	if err := m.ensureBucket(ctx); err != nil {
		return err
	}
	m.writer = m.client.WriteAPI(m.cfg.Org, m.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.Logger.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).Msg("Error sending data to InfluxDB")
		}
	}(m.writer.Errors())

	m.valid = true
	m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

// UseBackup skips the server and writes only to the backup file.
func (m *Manager) UseBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openBackupLocked()
}

func (m *Manager) openBackupLocked() error {
	if m.backupWriter != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.cfg.BackupPath), 0755); err != nil {
		return fmt.Errorf("error creating backup directory: %w", err)
	}
	file, err := os.OpenFile(m.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.backupWriter = gzip.NewWriter(file)
	m.valid = false
	return nil
}

func (m *Manager) ensureBucket(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.Logger.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			return fmt.Errorf("create organization %s: %w", m.cfg.Org, err)
		}
	}

	buckets := m.client.BucketsAPI()
	if _, err := buckets.FindBucketByName(ctx, m.cfg.Bucket); err == nil {
		return nil
	}

	m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")
	rule := domain.RetentionRuleTypeExpire
	_, err = buckets.CreateBucketWithName(ctx, org, m.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: 60 * 60 * 24 * 30,
	})
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", m.cfg.Bucket, err)
	}
	return nil
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	for k, v := range m.tags {
		point.AddTag(k, v)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.valid {
		m.writer.WritePoint(point)
		return nil
	}
	if m.backupWriter == nil {
		return errors.New("influxDB client not initialized and backup writer not available")
	}

	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.backupWriter.Write([]byte(line)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// BandwidthPoint builds the point for one bandwidth sample.
func BandwidthPoint(s bandwidth.Sample, at time.Time) *influxdb2_write.Point {
	return influxdb2.NewPoint("bandwidth",
		map[string]string{"strategy": s.Strategy},
		map[string]any{
			"bytes_per_second": s.BytesPerSecond,
			"index":            s.Index,
			"tick":             int64(s.Tick),
		},
		at)
}

// ClockPoint builds the point for one clock observation.
func ClockPoint(tick uint32, rate float64, action string, at time.Time) *influxdb2_write.Point {
	return influxdb2.NewPoint("clock",
		map[string]string{"action": action},
		map[string]any{
			"tick": int64(tick),
			"rate": rate,
		},
		at)
}

// WriteBandwidth records one bandwidth sample.
func (m *Manager) WriteBandwidth(s bandwidth.Sample) error {
	return m.WritePoint(BandwidthPoint(s, time.Now()))
}

// RecordBandwidth implements bandwidth.Sink.
func (m *Manager) RecordBandwidth(s bandwidth.Sample) {
	if err := m.WriteBandwidth(s); err != nil {
		m.Logger.Debug().Err(err).Msg("Dropping bandwidth point")
	}
}

// WriteClock records the simulation clock.
func (m *Manager) WriteClock(tick uint32, rate float64, action string) error {
	return m.WritePoint(ClockPoint(tick, rate, action, time.Now()))
}

// Close flushes pending points and releases the client and backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.writer != nil {
		m.writer.Flush()
		m.writer = nil
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	if m.backupWriter != nil {
		if err := m.backupWriter.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := m.backupFile.Close(); err != nil {
			errs = append(errs, err)
		}
		m.backupWriter = nil
		m.backupFile = nil
	}
	m.valid = false
	return errors.Join(errs...)
}
