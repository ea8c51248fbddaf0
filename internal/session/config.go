package session

import (
	"fmt"
	"time"

	"github.com/OCAP2/physync/internal/clock"
	"github.com/OCAP2/physync/internal/codec"
	"github.com/OCAP2/physync/internal/config"
	"github.com/OCAP2/physync/internal/kinematics"
	"github.com/OCAP2/physync/internal/replication"
	"github.com/OCAP2/physync/pkg/core"
)

// Config holds everything a Host needs besides its collaborators.
type Config struct {
	Name         string
	Participant  core.ParticipantID
	Role         core.Role
	Strategy     codec.PolicyTag
	TickDuration time.Duration
	// MaxCatchUp is the most steps Run takes for one timer frame.
	MaxCatchUp int
	// Ticks stops Run after this many steps; 0 runs until cancelled.
	Ticks        int
	Seed         uint64
	CompressJoin bool

	Replication replication.Config
	Clock       clock.Config
	Bandwidth   config.BandwidthConfig
}

// DefaultConfig returns a server running the velocity policy at 100 Hz.
func DefaultConfig() Config {
	return Config{
		Name:         "physync",
		Role:         core.RoleServer,
		Strategy:     codec.PolicyVelocity,
		TickDuration: 10 * time.Millisecond,
		MaxCatchUp:   10,
		Seed:         1,
		CompressJoin: true,
		Replication:  replication.DefaultConfig(),
		Clock:        clock.DefaultConfig(),
		Bandwidth:    config.BandwidthConfig{Window: 1},
	}
}

// LoadConfig builds a Config from the loaded configuration.
func LoadConfig() (Config, error) {
	sc := config.GetSessionConfig()
	rc := config.GetReplicationConfig()
	cc := config.GetClockConfig()

	role, err := core.ParseRole(sc.Role)
	if err != nil {
		return Config{}, err
	}
	tag, err := codec.ParsePolicy(sc.Strategy)
	if err != nil {
		return Config{}, err
	}
	algo, err := kinematics.ParseAlgorithm(rc.Convergence)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Name:         sc.Name,
		Participant:  core.ParticipantID(sc.ParticipantID),
		Role:         role,
		Strategy:     tag,
		TickDuration: sc.TickDuration,
		MaxCatchUp:   sc.MaxCatchUp,
		Ticks:        sc.Ticks,
		Seed:         sc.Seed,
		CompressJoin: sc.CompressJoin,
		Replication: replication.Config{
			DeadBand: kinematics.DeadBand{
				Linear:  rc.DeadBandLinear,
				Angular: rc.DeadBandAngular,
			},
			InactiveRetries:     rc.InactiveRetries,
			ConvergenceTime:     rc.ConvergenceTime,
			Convergence:         algo,
			UpdateInterval:      rc.UpdateInterval,
			FullUpdateInterval:  rc.FullUpdateInterval,
			InputUpdateInterval: rc.InputUpdateInterval,
		},
		Clock: clock.Config{
			WarpThreshold: cc.WarpThreshold,
			LeadThreshold: cc.LeadThreshold,
			SpeedUp:       cc.SpeedUp,
			SlowDown:      cc.SlowDown,
		},
		Bandwidth: config.GetBandwidthConfig(),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.TickDuration <= 0 {
		return fmt.Errorf("session %s: tick duration must be positive", c.Name)
	}
	if c.MaxCatchUp <= 0 {
		return fmt.Errorf("session %s: max catch-up must be positive", c.Name)
	}
	if c.Participant == core.NoParticipant {
		return fmt.Errorf("session %s: participant id %d is reserved", c.Name, c.Participant)
	}
	return nil
}

// tickSeconds returns the fixed step in seconds.
func (c Config) tickSeconds() float32 {
	return float32(c.TickDuration.Seconds())
}
