package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/hostrt/config"
	"github.com/wippyai/hostrt/engine"
	"github.com/wippyai/hostrt/runtime"
	"github.com/wippyai/hostrt/scenario"
)

type globals struct {
	configFile string
	logLevel   string
	cfg        *config.Config
	log        *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "hostrt",
		Short:         "heterogeneous host runtime workbench",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if g.log != nil {
				_ = g.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "runtime config file (yaml)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newRunCmd(g),
		newDumpCmd(g),
		newInspectCmd(g),
		newConfigCmd(g),
	)
	return root
}

func (g *globals) setup() error {
	cfg := config.Default()
	if g.configFile != "" {
		var err error
		if cfg, err = config.Load(g.configFile); err != nil {
			return err
		}
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	log, err := cfg.Log.Build()
	if err != nil {
		return err
	}
	runtime.SetLogger(log.Named("runtime"))
	engine.SetLogger(log.Named("engine"))
	scenario.SetLogger(log.Named("scenario"))
	g.cfg, g.log = cfg, log
	return nil
}

// open loads a scenario and creates a fresh Context for it.
func (g *globals) open(ctx context.Context, path string) (*scenario.Scenario, *runtime.Context, error) {
	s, err := scenario.Load(path)
	if err != nil {
		return nil, nil, err
	}
	c, err := runtime.New(ctx, g.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create context: %w", err)
	}
	return s, c, nil
}

func newConfigCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "print the effective runtime config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := g.cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newDumpCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <scenario.yaml>",
		Short: "record a scenario and print the disassembled command buffers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, c, err := g.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer c.Close(ctx)
			return scenario.Dump(ctx, cmd.OutOrStdout(), c, s)
		},
	}
}
