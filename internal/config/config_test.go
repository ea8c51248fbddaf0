package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"session": { "role": "client", "strategy": "periodic", "tickDuration": "20ms" },
		"transport": { "type": "websocket", "url": "ws://10.0.0.1:7000/sync" }
	}`)
	require.NoError(t, Load(dir))

	sc := GetSessionConfig()
	assert.Equal(t, "client", sc.Role)
	assert.Equal(t, "periodic", sc.Strategy)
	assert.Equal(t, 20*time.Millisecond, sc.TickDuration)

	tc := GetTransportConfig()
	assert.Equal(t, "websocket", tc.Type)
	assert.Equal(t, "ws://10.0.0.1:7000/sync", tc.URL)
	assert.Equal(t, 4096, tc.InboxLimit)
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	sc := GetSessionConfig()
	assert.Equal(t, "server", sc.Role)
	assert.Equal(t, "velocity", sc.Strategy)
	assert.Equal(t, 10*time.Millisecond, sc.TickDuration)
	assert.Equal(t, 10, sc.MaxCatchUp)
	assert.True(t, sc.CompressJoin)

	rc := GetReplicationConfig()
	assert.InDelta(t, 0.05, rc.DeadBandLinear, 1e-6)
	assert.Equal(t, 3, rc.InactiveRetries)
	assert.Equal(t, "linear", rc.Convergence)
	assert.Equal(t, 10, rc.UpdateInterval)

	cc := GetClockConfig()
	assert.Equal(t, uint32(20), cc.WarpThreshold)
	assert.Equal(t, uint32(2), cc.LeadThreshold)
	assert.Equal(t, 1.05, cc.SpeedUp)
	assert.Equal(t, 0.5, cc.SlowDown)

	assert.Equal(t, "./bandwidth", GetBandwidthConfig().Dir)
	assert.Equal(t, "info", GetLoggingConfig().Level)
	assert.Equal(t, "localhost:12201", GetLoggingConfig().GraylogAddress)
	assert.False(t, GetInfluxConfig().Enabled)
	assert.False(t, GetMonitorConfig().Enabled)
	assert.Equal(t, 5*time.Second, GetMonitorConfig().Interval)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoad_EmptyDirOnlySetsDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(""))
	assert.Equal(t, "udp", GetTransportConfig().Type)
}

func TestGetters(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testString", "hello")
	viper.Set("testInt", 42)
	viper.Set("testBool", true)

	assert.Equal(t, "hello", GetString("testString"))
	assert.Equal(t, 42, GetInt("testInt"))
	assert.True(t, GetBool("testBool"))
}

func TestGetStorageConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(""))

	cfg := GetStorageConfig()
	assert.Equal(t, "none", cfg.Type)
	assert.Equal(t, "./recordings", cfg.Memory.OutputDir)
	assert.True(t, cfg.Memory.CompressOutput)
	assert.Equal(t, 3*time.Minute, cfg.SQLite.DumpInterval)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"storage": {
			"type": "sqlite",
			"memory": { "outputDir": "/tmp/out", "compressOutput": false },
			"sqlite": { "path": "/tmp/run.db", "dumpInterval": "10m" }
		}
	}`)
	require.NoError(t, Load(dir))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, "/tmp/out", sc.Memory.OutputDir)
	assert.False(t, sc.Memory.CompressOutput)
	assert.Equal(t, "/tmp/run.db", sc.SQLite.Path)
	assert.Equal(t, 10*time.Minute, sc.SQLite.DumpInterval)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "physync-edge",
			"batchTimeout": "30s",
			"endpoint": "localhost:4318",
			"insecure": false
		}
	}`)
	require.NoError(t, Load(dir))

	oc := GetOTelConfig()
	assert.True(t, oc.Enabled)
	assert.Equal(t, "physync-edge", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, "localhost:4318", oc.Endpoint)
	assert.False(t, oc.Insecure)
}

func TestGetInfluxConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{ "influx": { "enabled": true, "host": "metrics", "bucket": "lab" } }`)
	require.NoError(t, Load(dir))

	ic := GetInfluxConfig()
	assert.True(t, ic.Enabled)
	assert.Equal(t, "metrics", ic.Host)
	assert.Equal(t, "lab", ic.Bucket)
	assert.Equal(t, "8086", ic.Port)
}
