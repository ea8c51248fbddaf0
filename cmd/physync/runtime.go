package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/OCAP2/physync/internal/bandwidth"
	"github.com/OCAP2/physync/internal/config"
	"github.com/OCAP2/physync/internal/influx"
	"github.com/OCAP2/physync/internal/logging"
	intOtel "github.com/OCAP2/physync/internal/otel"
	"github.com/OCAP2/physync/internal/storage"
)

// runtime holds the process-wide services around a session: logging,
// telemetry, recording and metrics export.
type runtime struct {
	Start   time.Time
	Slog    *logging.SlogManager
	Logger  *slog.Logger
	Zerolog zerolog.Logger
	OTel    *intOtel.Provider
	Storage storage.Backend
	Influx  *influx.Manager

	logFile *os.File
	state   logging.StateFunc
}

// runtimeOptions selects which services setupRuntime starts.
type runtimeOptions struct {
	Console  io.Writer
	LogFile  bool
	Instance string
}

// setupRuntime starts logging first so every later failure is logged,
// then telemetry, storage and InfluxDB. Failures of optional services are
// logged and the service is skipped.
func setupRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{Start: time.Now(), Slog: logging.NewSlogManager()}
	logCfg := config.GetLoggingConfig()

	if opts.LogFile {
		f, err := logging.OpenLogFile(logCfg.Dir, AppName, rt.Start)
		if err != nil {
			return nil, err
		}
		rt.logFile = f
	}

	var file io.Writer
	if rt.logFile != nil {
		file = rt.logFile
	}
	rt.setupLogging(logCfg, opts.Console, file, nil)

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		provider, err := intOtel.New(ctx, intOtel.Config{
			Enabled:        true,
			ServiceName:    otelCfg.ServiceName,
			ServiceVersion: CurrentVersion,
			Instance:       opts.Instance,
			BatchTimeout:   otelCfg.BatchTimeout,
			LogWriter:      file,
			Endpoint:       otelCfg.Endpoint,
			Insecure:       otelCfg.Insecure,
		})
		if err != nil {
			rt.Logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			rt.OTel = provider
			rt.setupLogging(logCfg, opts.Console, file, provider.LoggerProvider())
			rt.Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	var zw io.Writer = io.Discard
	if file != nil {
		zw = file
	}
	rt.Zerolog = logging.NewZerolog(zw, logCfg.Level, "infra")

	storageCfg := config.GetStorageConfig()
	backend, err := storage.NewBackend(storageCfg, rt.Zerolog)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("creating storage backend: %w", err)
	}
	if err := backend.Init(); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("initializing storage backend: %w", err)
	}
	rt.Storage = backend
	rt.Logger.Info("Storage backend initialized", "type", storageCfg.Type)

	influxCfg := config.GetInfluxConfig()
	if influxCfg.Enabled {
		m := influx.NewManager(influxCfg, map[string]string{"instance": opts.Instance}, rt.Zerolog)
		if err := m.Connect(ctx); err != nil {
			rt.Logger.Error("Failed to initialize InfluxDB export", "error", err)
		} else {
			rt.Influx = m
		}
	}

	return rt, nil
}

func (rt *runtime) setupLogging(cfg config.LoggingConfig, console, file io.Writer, provider *sdklog.LoggerProvider) {
	opts := logging.Options{
		Level:       cfg.Level,
		ServiceName: AppName,
		Console:     console,
		File:        file,
		Provider:    provider,
		State:       rt.logState,
	}
	if cfg.GraylogEnabled {
		opts.GraylogAddress = cfg.GraylogAddress
	}
	err := rt.Slog.Setup(opts)
	rt.Logger = rt.Slog.Logger()
	if err != nil {
		rt.Logger.Warn("Graylog sink unavailable", "error", err)
	}
}

func (rt *runtime) logState(ctx context.Context) []slog.Attr {
	if rt.state == nil {
		return nil
	}
	return rt.state(ctx)
}

// SetState installs the live attributes stamped on every log record.
func (rt *runtime) SetState(fn logging.StateFunc) {
	rt.state = fn
}

// Sinks returns the bandwidth sinks the session should feed.
func (rt *runtime) Sinks() []bandwidth.Sink {
	if rt.Influx == nil {
		return nil
	}
	return []bandwidth.Sink{rt.Influx}
}

// Close stops every service in reverse start order.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Influx != nil {
		errs = append(errs, rt.Influx.Close())
	}
	if rt.Storage != nil {
		if exp, ok := rt.Storage.(storage.Exporter); ok && exp.ExportedFilePath() != "" {
			rt.Logger.Info("Recording exported", "path", exp.ExportedFilePath())
		}
		errs = append(errs, rt.Storage.Close())
	}
	errs = append(errs, rt.Slog.Close(ctx))
	if rt.OTel != nil {
		errs = append(errs, rt.OTel.Shutdown(ctx))
	}
	if rt.logFile != nil {
		errs = append(errs, rt.logFile.Close())
	}
	return errors.Join(errs...)
}
