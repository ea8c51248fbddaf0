package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Options selects the sinks of a SlogManager.
type Options struct {
	Level       string
	ServiceName string

	Console io.Writer // text output, usually stdout
	File    io.Writer // text output to the session log file

	// Provider forwards records to OpenTelemetry when set.
	Provider *sdklog.LoggerProvider

	// GraylogAddress sends JSON records over GELF UDP when set.
	GraylogAddress string

	// State stamps every record with live simulation attributes.
	State StateFunc
}

// SlogManager owns the process logger and its sinks.
type SlogManager struct {
	logger   *slog.Logger
	provider *sdklog.LoggerProvider
	graylog  *gelf.Writer
}

// NewSlogManager creates an unconfigured manager. Logger returns
// slog.Default until Setup is called.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a level name to slog.Level, defaulting to info.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds the logger from opts. A Graylog address that cannot be
// resolved is returned as an error and the other sinks stay active.
func (m *SlogManager) Setup(opts Options) error {
	handlerOpts := &slog.HandlerOptions{
		Level: parseLevel(opts.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}

	var handlers []slog.Handler
	if opts.Console != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.Console, handlerOpts))
	}
	if opts.File != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.File, handlerOpts))
	}

	if m.graylog != nil {
		_ = m.graylog.Close()
		m.graylog = nil
	}

	var setupErr error
	if opts.GraylogAddress != "" {
		w, err := gelf.NewWriter(opts.GraylogAddress)
		if err != nil {
			setupErr = fmt.Errorf("graylog %s: %w", opts.GraylogAddress, err)
		} else {
			m.graylog = w
			handlers = append(handlers, slog.NewJSONHandler(w, handlerOpts))
		}
	}

	m.provider = opts.Provider
	if opts.Provider != nil {
		name := opts.ServiceName
		if name == "" {
			name = "physync"
		}
		handlers = append(handlers, otelslog.NewHandler(name, otelslog.WithLoggerProvider(opts.Provider)))
	}

	var h slog.Handler = NewMultiHandler(handlers...)
	if opts.State != nil {
		h = NewStateHandler(h, opts.State)
	}
	m.logger = slog.New(h)
	m.logger.Debug("logging initialized", "level", handlerOpts.Level.Level().String(), "sinks", len(handlers))
	return setupErr
}

// Logger returns the configured logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces pending OTel records out.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.ForceFlush(ctx)
}

// Close flushes and releases the network sinks. The OTel provider is owned
// by its creator and is not shut down here.
func (m *SlogManager) Close(ctx context.Context) error {
	var errs []error
	if err := m.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if m.graylog != nil {
		if err := m.graylog.Close(); err != nil {
			errs = append(errs, err)
		}
		m.graylog = nil
	}
	return errors.Join(errs...)
}
