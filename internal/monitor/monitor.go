// Package monitor periodically publishes the live status of a session.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status is a point-in-time view of a running session.
type Status struct {
	Time           time.Time `json:"time"`
	SessionID      string    `json:"sessionId"`
	Role           string    `json:"role"`
	Strategy       string    `json:"strategy"`
	Tick           uint32    `json:"tick"`
	Rate           float64   `json:"rate"`
	Joined         bool      `json:"joined"`
	LocalBodies    int       `json:"localBodies"`
	RemoteBodies   int       `json:"remoteBodies"`
	Participants   int       `json:"participants"`
	BytesPerSecond float64   `json:"bytesPerSecond"`
}

// Source supplies the status to publish.
type Source interface {
	Status() Status
}

// ClockWriter receives the sampled simulation clock.
type ClockWriter interface {
	WriteClock(tick uint32, rate float64, action string) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Source     Source
	StatusFile string
	Interval   time.Duration
	Influx     ClockWriter
	Logger     *slog.Logger
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Publish writes one status snapshot to the status file and InfluxDB.
func (s *Service) Publish() (Status, error) {
	st := s.deps.Source.Status()
	if st.Time.IsZero() {
		st.Time = time.Now()
	}

	if s.deps.StatusFile != "" {
		if err := writeStatus(s.deps.StatusFile, st); err != nil {
			return st, err
		}
	}
	if s.deps.Influx != nil {
		if err := s.deps.Influx.WriteClock(st.Tick, st.Rate, "sample"); err != nil {
			return st, fmt.Errorf("writing clock point: %w", err)
		}
	}
	return st, nil
}

func writeStatus(path string, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating status directory: %w", err)
	}
	// readers never see a partial file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if s.deps.Source == nil {
		s.mu.Unlock()
		return fmt.Errorf("monitor: no status source")
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor", "interval", s.deps.Interval, "file", s.deps.StatusFile)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if _, err := s.Publish(); err != nil {
					logger.Error("Error publishing status", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.isRunning = false
	s.mu.Unlock()
	<-done
}
