package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/OCAP2/physync/internal/bandwidth"
	"github.com/OCAP2/physync/internal/codec"
	"github.com/OCAP2/physync/internal/config"
	"github.com/OCAP2/physync/internal/logging"
	"github.com/OCAP2/physync/internal/session"
	"github.com/OCAP2/physync/internal/transport"
	"github.com/OCAP2/physync/pkg/core"
)

const defaultDemoTicks = 1000

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	ClientRole  string
	Duplicate   bool
	ReorderSeed uint64
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run an authority and a client in-process and report bandwidth",
		Long: `Run a server and a client over an in-process loopback transport,
step both for --ticks ticks and print the bandwidth report of the server.
Use --strategy all to compare every replication strategy.

Example:
  physync demo --strategy all --ticks 2000
  physync demo --strategy periodic --duplicate --reorder 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ClientRole, "client-role", string(core.RoleDRClient), "role of the demo client (client|drclient)")
	cmd.Flags().BoolVar(&opts.Duplicate, "duplicate", false, "deliver every datagram twice")
	cmd.Flags().Uint64Var(&opts.ReorderSeed, "reorder", 0, "shuffle delivery with this seed (0 keeps order)")
	return cmd
}

func demoStrategies() ([]codec.PolicyTag, error) {
	name := viper.GetString("session.strategy")
	if name != "all" {
		tag, err := codec.ParsePolicy(name)
		if err != nil {
			return nil, err
		}
		return []codec.PolicyTag{tag}, nil
	}
	return []codec.PolicyTag{
		codec.PolicyFull,
		codec.PolicyChanged,
		codec.PolicyVelocity,
		codec.PolicyAcceleration,
		codec.PolicyPeriodic,
		codec.PolicyInput,
	}, nil
}

func runDemo(cmd *cobra.Command, opts *DemoOptions) error {
	clientRole, err := core.ParseRole(opts.ClientRole)
	if err != nil {
		return err
	}
	tags, err := demoStrategies()
	if err != nil {
		return err
	}
	// LoadConfig rejects "all" and a zero participant; both are set per host.
	viper.Set("session.strategy", tags[0].String())
	viper.Set("session.participantId", 1)

	base, err := session.LoadConfig()
	if err != nil {
		return err
	}
	if base.Ticks <= 0 {
		base.Ticks = defaultDemoTicks
	}

	rt, err := setupRuntime(cmd.Context(), runtimeOptions{Console: cmd.ErrOrStderr(), Instance: "demo"})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	bodies := config.GetSessionConfig().Bodies
	reports := make([]bandwidth.Report, 0, len(tags))
	for _, tag := range tags {
		cfg := base
		cfg.Strategy = tag
		r, err := runDemoPair(rt, cfg, clientRole, bodies, opts)
		if err != nil {
			return fmt.Errorf("demo %s: %w", tag, err)
		}
		reports = append(reports, r)
	}
	return printReports(cmd.OutOrStdout(), tags, reports)
}

// runDemoPair steps a server and one client in lockstep over a loopback hub
// and returns the server's bandwidth report.
func runDemoPair(rt *runtime, cfg session.Config, clientRole core.Role, bodies int, opts *DemoOptions) (bandwidth.Report, error) {
	var hubOpts []transport.HubOption
	if opts.Duplicate {
		hubOpts = append(hubOpts, transport.WithDuplication())
	}
	if opts.ReorderSeed != 0 {
		hubOpts = append(hubOpts, transport.WithReordering(opts.ReorderSeed))
	}
	hub := transport.NewHub(hubOpts...)

	srvCfg := cfg
	srvCfg.Participant = 1
	srvCfg.Role = core.RoleServer
	server, err := newDemoHost(rt, srvCfg, hub, true, bodies)
	if err != nil {
		return bandwidth.Report{}, err
	}
	defer server.Close()

	cliCfg := cfg
	cliCfg.Participant = 2
	cliCfg.Role = clientRole
	cliCfg.Bandwidth.Dir = ""
	client, err := newDemoHost(rt, cliCfg, hub, false, bodies)
	if err != nil {
		return bandwidth.Report{}, err
	}
	defer client.Close()
	rt.SetState(server.LogState)

	for range cfg.Ticks {
		client.Step()
		server.Step()
	}
	if !client.Joined() {
		rt.Logger.Warn("Demo client never joined", "strategy", cfg.Strategy.String())
	}

	if err := client.Close(); err != nil {
		return bandwidth.Report{}, err
	}
	if err := server.Close(); err != nil {
		return bandwidth.Report{}, err
	}
	return server.Meter().Report(), nil
}

func newDemoHost(rt *runtime, cfg session.Config, hub *transport.Hub, record bool, bodies int) (*session.Host, error) {
	deps := session.Dependencies{
		Transport:      hub.Join(),
		Logger:         rt.Logger,
		DispatchLogger: logging.NewDispatcherLogger(rt.Zerolog),
	}
	if record {
		deps.Storage = rt.Storage
		deps.Sinks = rt.Sinks()
	}
	h, err := session.New(cfg, deps)
	if err != nil {
		return nil, err
	}
	populateScene(h, bodies, cfg.Seed)
	h.AddStepListener(newKicker(h, bodies, cfg.Seed+uint64(cfg.Participant)))
	return h, nil
}

func printReports(w io.Writer, tags []codec.PolicyTag, reports []bandwidth.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tMEAN\tMIN\tMAX\tSAMPLES")
	for i, r := range reports {
		fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t%.1f\t%d\n", tags[i], r.Mean, r.Min, r.Max, r.Samples)
	}
	return tw.Flush()
}
