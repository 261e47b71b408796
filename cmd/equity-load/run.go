package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okian/equity/internal/loadgen"
)

func newRunCmd() *cobra.Command {
	cfg := loadgen.NewConfig()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a generated batch and verify the live audit",
		Long: `run resets the service's tallies, submits the generated assignments with a
bounded number of concurrent workers, resubmits a sample and waits for the
tallies to settle. It exits non-zero when the live audit and the local one
differ by more than the tolerance.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runLoad(ctx, cmd, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "base URL of the equity service")
	f.IntVar(&cfg.Assignments, "assignments", cfg.Assignments, "number of assignments to generate")
	f.IntVar(&cfg.Custodians, "custodians", cfg.Custodians, "number of distinct custodians")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent submissions")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-request timeout")
	f.Float64Var(&cfg.Skew, "skew", cfg.Skew, "Zipf exponent for picking custodians; <= 1 is uniform")
	f.Float64Var(&cfg.Resubmit, "resubmit", cfg.Resubmit, "fraction of assignments replayed to test deduplication")
	f.DurationVar(&cfg.Wait, "wait", cfg.Wait, "how long to wait for tallies to settle")
	f.Float64Var(&cfg.Tolerance, "tolerance", cfg.Tolerance, "largest accepted difference per metric")
	f.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "generator seed; 0 picks one at random")
	f.StringVar(&cfg.Output, "output", cfg.Output, "write the run result as JSON to this file")
	return cmd
}

func runLoad(ctx context.Context, cmd *cobra.Command, cfg *loadgen.Config) error {
	runner, err := loadgen.NewRunner(cfg)
	if err != nil {
		return err
	}
	res, runErr := runner.Run(ctx)
	if res != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	return runErr
}
