// Package bandwidth measures how many bytes a replication strategy sends
// per second of simulated time.
package bandwidth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Sample is one completed measurement window.
type Sample struct {
	Strategy       string
	Index          int
	Tick           uint32
	BytesPerSecond float64
}

// Sink receives every completed sample.
type Sink interface {
	RecordBandwidth(s Sample)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(s Sample)

// RecordBandwidth calls f.
func (f SinkFunc) RecordBandwidth(s Sample) {
	f(s)
}

// Report summarizes the samples of a meter.
type Report struct {
	Mean    float64
	Min     float64
	Max     float64
	Samples int
}

func (r Report) String() string {
	return fmt.Sprintf("MEAN %.1f MIN %.1f MAX %.1f (%d samples)", r.Mean, r.Min, r.Max, r.Samples)
}

// Option configures a Meter.
type Option func(*Meter)

// WithSink adds a sample observer.
func WithSink(s Sink) Option {
	return func(m *Meter) { m.sinks = append(m.sinks, s) }
}

// WithDumpDir makes Close write the samples to dir/<strategy>.log.
func WithDumpDir(dir string) Option {
	return func(m *Meter) { m.dumpDir = dir }
}

// WithLogger sets the logger Close reports to.
func WithLogger(l *slog.Logger) Option {
	return func(m *Meter) { m.logger = l }
}

// WithWindow sets the simulated seconds per sample.
func WithWindow(seconds float32) Option {
	return func(m *Meter) {
		if seconds > 0 {
			m.window = seconds
		}
	}
}

// Meter accumulates byte counts per tick and turns each window of simulated
// time into a bytes-per-second sample. CountBytes and StepFinished are
// called from the simulation goroutine; readers may be elsewhere.
type Meter struct {
	strategy     string
	tickDuration float32
	window       float32
	dumpDir      string
	logger       *slog.Logger
	sinks        []Sink

	mu      sync.Mutex
	bytes   int64
	steps   int
	tick    uint32
	samples []float64
	closed  bool

	attrs metric.MeasurementOption
	sent  metric.Int64Counter
	rate  metric.Float64Gauge
}

// New creates a meter for strategy stepping every tickDuration seconds.
func New(strategy string, tickDuration float32, opts ...Option) (*Meter, error) {
	if tickDuration <= 0 {
		return nil, fmt.Errorf("bandwidth meter %s: tick duration must be positive", strategy)
	}
	m := &Meter{
		strategy:     strategy,
		tickDuration: tickDuration,
		window:       1,
		logger:       slog.Default(),
		attrs:        metric.WithAttributes(attribute.String("strategy", strategy)),
	}
	for _, opt := range opts {
		opt(m)
	}

	var err error
	mt := meter()

	m.sent, err = mt.Int64Counter(
		"replication.bytes.sent",
		metric.WithDescription("Total bytes handed to the transport"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating bytes counter: %w", err)
	}

	m.rate, err = mt.Float64Gauge(
		"replication.bandwidth",
		metric.WithDescription("Bytes sent per simulated second"),
		metric.WithUnit("By/s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating bandwidth gauge: %w", err)
	}

	return m, nil
}

// Strategy returns the name the meter reports under.
func (m *Meter) Strategy() string {
	return m.strategy
}

// CountBytes adds n bytes to the current step.
func (m *Meter) CountBytes(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.bytes += int64(n)
	m.mu.Unlock()
	m.sent.Add(context.Background(), int64(n), m.attrs)
}

// StepFinished closes one tick. Once a full window has elapsed a sample is
// recorded and handed to the sinks.
func (m *Meter) StepFinished() {
	m.mu.Lock()
	m.steps++
	m.tick++
	elapsed := float32(m.steps) * m.tickDuration
	if elapsed+1e-6 < m.window {
		m.mu.Unlock()
		return
	}
	s := Sample{
		Strategy:       m.strategy,
		Index:          len(m.samples),
		Tick:           m.tick,
		BytesPerSecond: float64(m.bytes) / float64(elapsed),
	}
	m.samples = append(m.samples, s.BytesPerSecond)
	m.bytes = 0
	m.steps = 0
	sinks := m.sinks
	m.mu.Unlock()

	m.rate.Record(context.Background(), s.BytesPerSecond, m.attrs)
	for _, sink := range sinks {
		sink.RecordBandwidth(s)
	}
}

// Samples returns a copy of the recorded bytes-per-second values.
func (m *Meter) Samples() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.samples))
	copy(out, m.samples)
	return out
}

// Last returns the latest sample, or 0 before the first window closes.
func (m *Meter) Last() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return 0
	}
	return m.samples[len(m.samples)-1]
}

// Report summarizes the recorded samples.
func (m *Meter) Report() Report {
	samples := m.Samples()
	if len(samples) == 0 {
		return Report{}
	}
	r := Report{Min: math.Inf(1), Max: math.Inf(-1), Samples: len(samples)}
	var sum float64
	for _, v := range samples {
		sum += v
		r.Min = math.Min(r.Min, v)
		r.Max = math.Max(r.Max, v)
	}
	r.Mean = sum / float64(len(samples))
	return r
}

// Dump writes one "index\tvalue" line per sample.
func (m *Meter) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i, v := range m.Samples() {
		if _, err := fmt.Fprintf(bw, "%d\t%g\n", i, v); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Close logs the report and, when a dump directory is configured, writes
// the samples to it. Calling Close more than once is a no-op.
func (m *Meter) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	r := m.Report()
	m.logger.Info("bandwidth report",
		"strategy", m.strategy,
		"mean", r.Mean,
		"min", r.Min,
		"max", r.Max,
		"samples", r.Samples)

	if m.dumpDir == "" {
		return nil
	}
	if err := os.MkdirAll(m.dumpDir, 0o755); err != nil {
		return fmt.Errorf("creating bandwidth dir: %w", err)
	}
	path := filepath.Join(m.dumpDir, m.strategy+".log")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating bandwidth dump: %w", err)
	}
	defer f.Close()
	if err := m.Dump(f); err != nil {
		return fmt.Errorf("writing bandwidth dump: %w", err)
	}
	return nil
}
