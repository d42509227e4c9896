package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wippyai/hostrt/scenario"
)

func newRunCmd(g *globals) *cobra.Command {
	var (
		timeout     time.Duration
		metricsFile string
	)
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "run a scenario and check its expectations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if metricsFile != "" {
				g.cfg.Metrics.Enabled = true
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			s, c, err := g.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer c.Close(context.Background())

			res, runErr := scenario.Run(ctx, c, s)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d submissions, %d commands in %s\n",
				res.Name, res.Submissions, res.Commands, res.Elapsed.Round(time.Microsecond))
			for _, chk := range res.Checks {
				fmt.Fprintf(out, "  %s\n", chk)
			}

			if metricsFile != "" {
				if err := prometheus.WriteToTextfile(metricsFile, c.Metrics().Registry()); err != nil {
					return fmt.Errorf("write metrics: %w", err)
				}
			}
			if runErr != nil {
				return runErr
			}
			if failed := res.Failed(); len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(res.Checks))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall run timeout")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	return cmd
}
