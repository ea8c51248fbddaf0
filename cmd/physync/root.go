package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/OCAP2/physync/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigDir string
}

// flagKeys maps persistent flags to the configuration keys they override.
var flagKeys = map[string]string{
	"strategy":  "session.strategy",
	"ticks":     "session.ticks",
	"id":        "session.participantId",
	"transport": "transport.type",
	"listen":    "transport.listen",
	"peer":      "transport.peers",
	"url":       "transport.url",
	"log-level": "logging.level",
}

// NewRootCommand creates the root command of the physync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   AppName,
		Short: "Server-authoritative rigid-body replication",
		Long: `physync runs one participant of a replicated physics simulation.

The authority steps the world and streams body state with the selected
replication strategy; clients apply it, predict between updates and
forward their input back to the authority.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(opts.ConfigDir); err != nil {
				return err
			}
			for name, key := range flagKeys {
				if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
					return fmt.Errorf("binding --%s: %w", name, err)
				}
			}
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.ConfigDir, "config", "", "directory containing "+config.FileName)
	f.String("strategy", "velocity", "replication strategy (full|changed|velocity|acceleration|periodic|input)")
	f.Int("ticks", 0, "stop after this many ticks (0 runs until interrupted)")
	f.Uint32("id", 0, "participant id")
	f.String("transport", "udp", "transport (udp|websocket)")
	f.String("listen", ":7777", "listen address")
	f.StringSlice("peer", nil, "peer address, repeatable")
	f.String("url", "", "websocket URL to dial instead of listening")
	f.String("log-level", "info", "log level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewJoinCommand(opts))
	cmd.AddCommand(NewDemoCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
