package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/OCAP2/physync/internal/config"
	"github.com/OCAP2/physync/internal/logging"
	"github.com/OCAP2/physync/internal/monitor"
	"github.com/OCAP2/physync/internal/session"
	"github.com/OCAP2/physync/pkg/core"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation authority",
		Long: `Run the participant that steps the physics world and streams body
state to every joined client.

Example:
  physync serve --strategy periodic --listen :7777
  physync serve --transport websocket --listen :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParticipant(cmd, core.RoleServer)
		},
	}
}

// NewJoinCommand creates the join command.
func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a running session as a client",
		Long: `Join a session, catch up from the authority's snapshot and apply its
updates.

Example:
  physync join --id 2 --listen :7778 --peer 127.0.0.1:7777
  physync join --role drclient --transport websocket --url ws://host:8080/physync`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := core.ParseRole(role)
			if err != nil {
				return err
			}
			if r.Simulates() {
				return fmt.Errorf("join: role %s simulates; use serve", r)
			}
			return runParticipant(cmd, r)
		},
	}
	cmd.Flags().StringVar(&role, "role", string(core.RoleClient), "client role (client|drclient)")
	return cmd
}

func runParticipant(cmd *cobra.Command, role core.Role) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := session.LoadConfig()
	if err != nil {
		return err
	}
	cfg.Role = role
	sc := config.GetSessionConfig()

	rt, err := setupRuntime(ctx, runtimeOptions{
		Console:  cmd.ErrOrStderr(),
		LogFile:  true,
		Instance: fmt.Sprintf("%s-%d", role, cfg.Participant),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "shutdown:", err)
		}
	}()
	logger := rt.Logger

	tr, closeTransport, err := openTransport(config.GetTransportConfig(), logger)
	if err != nil {
		logger.Error("Failed to open transport", "error", err)
		return err
	}
	defer closeTransport()

	host, err := session.New(cfg, session.Dependencies{
		Transport:      tr,
		Storage:        rt.Storage,
		Sinks:          rt.Sinks(),
		Logger:         logger,
		DispatchLogger: logging.NewDispatcherLogger(rt.Zerolog),
	})
	if err != nil {
		logger.Error("Failed to create session", "error", err)
		return err
	}
	rt.SetState(host.LogState)

	populateScene(host, sc.Bodies, cfg.Seed)
	host.AddStepListener(newKicker(host, sc.Bodies, uint64(cfg.Participant)+cfg.Seed))

	monCfg := config.GetMonitorConfig()
	var mon *monitor.Service
	if monCfg.Enabled {
		deps := monitor.Dependencies{
			Source:     host,
			StatusFile: monCfg.StatusFile,
			Interval:   monCfg.Interval,
			Logger:     logger,
		}
		if rt.Influx != nil {
			deps.Influx = rt.Influx
		}
		mon = monitor.NewService(deps)
		if err := mon.Start(); err != nil {
			logger.Error("Failed to start status monitor", "error", err)
		}
	}

	logger.Info("Running", "session", host.Session().ID, "bodies", sc.Bodies, "ticks", cfg.Ticks)
	runErr := host.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		logger.Info("Interrupted, shutting down")
		runErr = nil
	}

	if mon != nil {
		mon.Stop()
	}
	closeErr := host.Close()
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cfg.Strategy, host.Meter().Report())
	return errors.Join(runErr, closeErr)
}
