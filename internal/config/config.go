package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the configuration file looked up by Load.
const FileName = "physync.cfg.json"

// SessionConfig holds the participant and loop settings.
type SessionConfig struct {
	Name          string        `json:"name" mapstructure:"name"`
	ParticipantID uint32        `json:"participantId" mapstructure:"participantId"`
	Role          string        `json:"role" mapstructure:"role"`
	Strategy      string        `json:"strategy" mapstructure:"strategy"`
	TickDuration  time.Duration `json:"tickDuration" mapstructure:"tickDuration"`
	MaxCatchUp    int           `json:"maxCatchUp" mapstructure:"maxCatchUp"`
	Ticks         int           `json:"ticks" mapstructure:"ticks"`
	Bodies        int           `json:"bodies" mapstructure:"bodies"`
	Seed          uint64        `json:"seed" mapstructure:"seed"`
	CompressJoin  bool          `json:"compressJoin" mapstructure:"compressJoin"`
}

// ReplicationConfig holds the policy tunables.
type ReplicationConfig struct {
	DeadBandLinear      float32 `json:"deadBandLinear" mapstructure:"deadBandLinear"`
	DeadBandAngular     float32 `json:"deadBandAngular" mapstructure:"deadBandAngular"`
	InactiveRetries     int     `json:"inactiveRetries" mapstructure:"inactiveRetries"`
	ConvergenceTime     float32 `json:"convergenceTime" mapstructure:"convergenceTime"`
	Convergence         string  `json:"convergence" mapstructure:"convergence"`
	UpdateInterval      int     `json:"updateInterval" mapstructure:"updateInterval"`
	FullUpdateInterval  float32 `json:"fullUpdateInterval" mapstructure:"fullUpdateInterval"`
	InputUpdateInterval float32 `json:"inputUpdateInterval" mapstructure:"inputUpdateInterval"`
}

// ClockConfig holds the clock governor thresholds.
type ClockConfig struct {
	WarpThreshold uint32  `json:"warpThreshold" mapstructure:"warpThreshold"`
	LeadThreshold uint32  `json:"leadThreshold" mapstructure:"leadThreshold"`
	SpeedUp       float64 `json:"speedUp" mapstructure:"speedUp"`
	SlowDown      float64 `json:"slowDown" mapstructure:"slowDown"`
}

// TransportConfig selects and configures the datagram carrier.
type TransportConfig struct {
	Type       string   `json:"type" mapstructure:"type"`
	Listen     string   `json:"listen" mapstructure:"listen"`
	Peers      []string `json:"peers" mapstructure:"peers"`
	URL        string   `json:"url" mapstructure:"url"`
	InboxLimit int      `json:"inboxLimit" mapstructure:"inboxLimit"`
}

// BandwidthConfig holds the bandwidth meter settings.
type BandwidthConfig struct {
	Dir    string  `json:"dir" mapstructure:"dir"`
	Window float32 `json:"window" mapstructure:"window"`
}

// LoggingConfig holds the log sinks.
type LoggingConfig struct {
	Level          string `json:"level" mapstructure:"level"`
	Dir            string `json:"dir" mapstructure:"dir"`
	GraylogEnabled bool   `json:"graylogEnabled" mapstructure:"graylogEnabled"`
	GraylogAddress string `json:"graylogAddress" mapstructure:"graylogAddress"`
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds sqlite storage settings. An empty path keeps the
// database in memory and dumps it to OutputPath every DumpInterval.
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	OutputPath   string        `json:"outputPath" mapstructure:"outputPath"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// PostgresConfig holds postgres connection settings.
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslMode" mapstructure:"sslMode"`
}

// StorageConfig selects the recording backend.
type StorageConfig struct {
	Type     string         `json:"type" mapstructure:"type"`
	Memory   MemoryConfig   `json:"memory" mapstructure:"memory"`
	SQLite   SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `json:"postgres" mapstructure:"postgres"`
}

// InfluxConfig holds InfluxDB connection settings.
type InfluxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Host       string `json:"host" mapstructure:"host"`
	Port       string `json:"port" mapstructure:"port"`
	Protocol   string `json:"protocol" mapstructure:"protocol"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	Bucket     string `json:"bucket" mapstructure:"bucket"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// MonitorConfig holds status monitor settings.
type MonitorConfig struct {
	Enabled    bool          `json:"enabled" mapstructure:"enabled"`
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
	StatusFile string        `json:"statusFile" mapstructure:"statusFile"`
}

// SetDefaults registers every default value.
func SetDefaults() {
	viper.SetDefault("session.name", "physync")
	viper.SetDefault("session.participantId", 0)
	viper.SetDefault("session.role", "server")
	viper.SetDefault("session.strategy", "velocity")
	viper.SetDefault("session.tickDuration", "10ms")
	viper.SetDefault("session.maxCatchUp", 10)
	viper.SetDefault("session.ticks", 0)
	viper.SetDefault("session.bodies", 8)
	viper.SetDefault("session.seed", 1)
	viper.SetDefault("session.compressJoin", true)

	viper.SetDefault("replication.deadBandLinear", 0.05)
	viper.SetDefault("replication.deadBandAngular", 0.05)
	viper.SetDefault("replication.inactiveRetries", 3)
	viper.SetDefault("replication.convergenceTime", 0.1)
	viper.SetDefault("replication.convergence", "linear")
	viper.SetDefault("replication.updateInterval", 10)
	viper.SetDefault("replication.fullUpdateInterval", 1)
	viper.SetDefault("replication.inputUpdateInterval", 0.05)

	viper.SetDefault("clock.warpThreshold", 20)
	viper.SetDefault("clock.leadThreshold", 2)
	viper.SetDefault("clock.speedUp", 1.05)
	viper.SetDefault("clock.slowDown", 0.5)

	viper.SetDefault("transport.type", "udp")
	viper.SetDefault("transport.listen", ":7777")
	viper.SetDefault("transport.peers", []string{})
	viper.SetDefault("transport.url", "")
	viper.SetDefault("transport.inboxLimit", 4096)

	viper.SetDefault("bandwidth.dir", "./bandwidth")
	viper.SetDefault("bandwidth.window", 1.0)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.dir", "./physync-logs")
	viper.SetDefault("logging.graylogEnabled", false)
	viper.SetDefault("logging.graylogAddress", "localhost:12201")

	viper.SetDefault("storage.type", "none")
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.outputPath", "./recordings/physync.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "physync")
	viper.SetDefault("storage.postgres.sslMode", "disable")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "physync")
	viper.SetDefault("influx.bucket", "replication")
	viper.SetDefault("influx.backupPath", "./physync-logs/influx_backup.log.gz")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "physync")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("monitor.enabled", false)
	viper.SetDefault("monitor.interval", "5s")
	viper.SetDefault("monitor.statusFile", "./physync-logs/status.json")
}

// Load sets defaults and reads physync.cfg.json from configDir. An empty
// configDir only sets defaults.
func Load(configDir string) error {
	SetDefaults()
	if configDir == "" {
		return nil
	}

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetSessionConfig returns the session settings.
func GetSessionConfig() SessionConfig {
	return SessionConfig{
		Name:          viper.GetString("session.name"),
		ParticipantID: viper.GetUint32("session.participantId"),
		Role:          viper.GetString("session.role"),
		Strategy:      viper.GetString("session.strategy"),
		TickDuration:  viper.GetDuration("session.tickDuration"),
		MaxCatchUp:    viper.GetInt("session.maxCatchUp"),
		Ticks:         viper.GetInt("session.ticks"),
		Bodies:        viper.GetInt("session.bodies"),
		Seed:          viper.GetUint64("session.seed"),
		CompressJoin:  viper.GetBool("session.compressJoin"),
	}
}

// GetReplicationConfig returns the policy tunables.
func GetReplicationConfig() ReplicationConfig {
	return ReplicationConfig{
		DeadBandLinear:      float32(viper.GetFloat64("replication.deadBandLinear")),
		DeadBandAngular:     float32(viper.GetFloat64("replication.deadBandAngular")),
		InactiveRetries:     viper.GetInt("replication.inactiveRetries"),
		ConvergenceTime:     float32(viper.GetFloat64("replication.convergenceTime")),
		Convergence:         viper.GetString("replication.convergence"),
		UpdateInterval:      viper.GetInt("replication.updateInterval"),
		FullUpdateInterval:  float32(viper.GetFloat64("replication.fullUpdateInterval")),
		InputUpdateInterval: float32(viper.GetFloat64("replication.inputUpdateInterval")),
	}
}

// GetClockConfig returns the clock governor thresholds.
func GetClockConfig() ClockConfig {
	return ClockConfig{
		WarpThreshold: viper.GetUint32("clock.warpThreshold"),
		LeadThreshold: viper.GetUint32("clock.leadThreshold"),
		SpeedUp:       viper.GetFloat64("clock.speedUp"),
		SlowDown:      viper.GetFloat64("clock.slowDown"),
	}
}

// GetTransportConfig returns the transport settings.
func GetTransportConfig() TransportConfig {
	return TransportConfig{
		Type:       viper.GetString("transport.type"),
		Listen:     viper.GetString("transport.listen"),
		Peers:      viper.GetStringSlice("transport.peers"),
		URL:        viper.GetString("transport.url"),
		InboxLimit: viper.GetInt("transport.inboxLimit"),
	}
}

// GetBandwidthConfig returns the bandwidth meter settings.
func GetBandwidthConfig() BandwidthConfig {
	return BandwidthConfig{
		Dir:    viper.GetString("bandwidth.dir"),
		Window: float32(viper.GetFloat64("bandwidth.window")),
	}
}

// GetLoggingConfig returns the log settings.
func GetLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:          viper.GetString("logging.level"),
		Dir:            viper.GetString("logging.dir"),
		GraylogEnabled: viper.GetBool("logging.graylogEnabled"),
		GraylogAddress: viper.GetString("logging.graylogAddress"),
	}
}

// GetStorageConfig returns the recording backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			OutputPath:   viper.GetString("storage.sqlite.outputPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
			SSLMode:  viper.GetString("storage.postgres.sslMode"),
		},
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		Host:       viper.GetString("influx.host"),
		Port:       viper.GetString("influx.port"),
		Protocol:   viper.GetString("influx.protocol"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetMonitorConfig returns the status monitor settings.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:    viper.GetBool("monitor.enabled"),
		Interval:   viper.GetDuration("monitor.interval"),
		StatusFile: viper.GetString("monitor.statusFile"),
	}
}
