package bandwidth

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMeter(t *testing.T, opts ...Option) *Meter {
	t.Helper()
	m, err := New("velocity", 0.25, opts...)
	require.NoError(t, err)
	return m
}

func TestMeter_SamplesPerSecond(t *testing.T) {
	m := newMeter(t)

	for i := 0; i < 4; i++ {
		m.CountBytes(100)
		m.StepFinished()
	}
	for i := 0; i < 4; i++ {
		m.StepFinished()
	}
	m.CountBytes(50)
	m.StepFinished()

	assert.Equal(t, []float64{400, 0}, m.Samples())
	assert.Equal(t, float64(0), m.Last())
}

func TestMeter_CountsEvenWithoutBytes(t *testing.T) {
	m := newMeter(t)
	for i := 0; i < 8; i++ {
		m.StepFinished()
	}
	assert.Len(t, m.Samples(), 2)
}

func TestMeter_Report(t *testing.T) {
	m := newMeter(t)
	assert.Equal(t, Report{}, m.Report())

	for _, n := range []int{10, 30, 20} {
		m.CountBytes(n)
		for i := 0; i < 4; i++ {
			m.StepFinished()
		}
	}

	r := m.Report()
	assert.Equal(t, 3, r.Samples)
	assert.InDelta(t, 20, r.Mean, 1e-9)
	assert.InDelta(t, 10, r.Min, 1e-9)
	assert.InDelta(t, 30, r.Max, 1e-9)
	assert.Contains(t, r.String(), "MEAN 20.0")
}

func TestMeter_SinksReceiveSamples(t *testing.T) {
	var got []Sample
	m := newMeter(t, WithSink(SinkFunc(func(s Sample) { got = append(got, s) })))

	m.CountBytes(8)
	for i := 0; i < 8; i++ {
		m.StepFinished()
	}

	require.Len(t, got, 2)
	assert.Equal(t, "velocity", got[0].Strategy)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, uint32(4), got[0].Tick)
	assert.Equal(t, float64(8), got[0].BytesPerSecond)
	assert.Equal(t, 1, got[1].Index)
}

func TestMeter_Dump(t *testing.T) {
	m := newMeter(t)
	m.CountBytes(4)
	for i := 0; i < 8; i++ {
		m.StepFinished()
	}

	var buf bytes.Buffer
	require.NoError(t, m.Dump(&buf))

	assert.Equal(t, "0\t4\n1\t0\n", buf.String())
}

func TestMeter_CloseWritesDumpFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bw")
	m := newMeter(t, WithDumpDir(dir))
	m.CountBytes(2)
	for i := 0; i < 4; i++ {
		m.StepFinished()
	}

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	data, err := os.ReadFile(filepath.Join(dir, "velocity.log"))
	require.NoError(t, err)
	assert.Equal(t, "0\t2\n", string(data))
}

func TestNew_RejectsZeroTick(t *testing.T) {
	_, err := New("full", 0)
	assert.Error(t, err)
}
