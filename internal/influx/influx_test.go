package influx

import (
	"bufio"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/physync/internal/bandwidth"
	"github.com/OCAP2/physync/internal/config"
)

func readBackup(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)

	var lines []string
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, nil, zerolog.Nop())
	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
	assert.Error(t, m.WriteClock(1, 1, "hold"))
}

func TestBackup_WritesLineProtocol(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "influx_backup.log.gz")
	m := NewManager(config.InfluxConfig{BackupPath: path}, map[string]string{"role": "server"}, zerolog.Nop())
	require.NoError(t, m.UseBackup())

	require.NoError(t, m.WriteBandwidth(bandwidth.Sample{Strategy: "periodic", Index: 3, Tick: 400, BytesPerSecond: 1200}))
	require.NoError(t, m.WriteClock(401, 1.05, "accelerate"))
	require.NoError(t, m.Close())

	lines := readBackup(t, path)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "bandwidth,role=server,strategy=periodic")
	assert.Contains(t, lines[0], "bytes_per_second=1200")
	assert.Contains(t, lines[1], "clock,action=accelerate,role=server")
	assert.Contains(t, lines[1], "tick=401i")
}

func TestConnect_UnreachableFallsBackToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.gz")
	m := NewManager(config.InfluxConfig{
		Enabled:    true,
		Protocol:   "http",
		Host:       "127.0.0.1",
		Port:       "1",
		Org:        "physync",
		Bucket:     "replication",
		BackupPath: path,
	}, nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))

	m.RecordBandwidth(bandwidth.Sample{Strategy: "full", BytesPerSecond: 10})
	require.NoError(t, m.Close())

	assert.Len(t, readBackup(t, path), 1)
}

func TestPoints(t *testing.T) {
	at := time.Unix(1700000000, 0)
	line := influxdb2_write.PointToLineProtocol(ClockPoint(7, 0.5, "decelerate", at), time.Second)
	assert.Equal(t, "clock,action=decelerate rate=0.5,tick=7i 1700000000\n", line)
}
