package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/runner"
)

type runFunc func(r *runner.Runner, ctx context.Context) (runner.Summary, error)

// runAndReport opens the environment, runs fn and prints its summary.
// A cancelled run still prints what it finished.
func runAndReport(cmd *cobra.Command, opts *rootOptions, fn runFunc) error {
	env, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	sum, err := fn(env.runner(), cmd.Context())
	if sum.BatchID != "" {
		printSummary(cmd.OutOrStdout(), sum)
	}
	if errors.Is(err, context.Canceled) {
		env.log.Warn("Run interrupted; finished items were committed")
		return nil
	}
	return err
}

func newScanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run the scheduled scan now: sale items without an image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAndReport(cmd, opts, (*runner.Runner).RunScheduledScan)
		},
	}
}

func newBackfillCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Process every sale item, honouring the skip and description policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAndReport(cmd, opts, (*runner.Runner).RunBackfill)
		},
	}
}

func newProcessCmd(opts *rootOptions) *cobra.Command {
	var (
		ids         []string
		retryFailed bool
		force       bool
		jobType     string
	)
	cmd := &cobra.Command{
		Use:   "process [item-id...]",
		Short: "Process specific items, or retry every item whose last attempt failed",
		Example: `  enricher process p1001 p1002
  enricher process --ids p1001,p1002 --force=false
  enricher process --retry-failed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			all := append(append([]string(nil), ids...), args...)
			var clean []string
			for _, id := range all {
				if id = strings.TrimSpace(id); id != "" {
					clean = append(clean, id)
				}
			}

			if retryFailed {
				if len(clean) > 0 {
					return fmt.Errorf("--retry-failed cannot be combined with item ids")
				}
				return runAndReport(cmd, opts, (*runner.Runner).RetryFailed)
			}
			if len(clean) == 0 {
				return fmt.Errorf("no item ids given (use --ids, positional ids or --retry-failed)")
			}
			jt := models.ParseJobType(jobType)
			return runAndReport(cmd, opts, func(r *runner.Runner, ctx context.Context) (runner.Summary, error) {
				return r.ProcessItems(ctx, clean, force, jt)
			})
		},
	}
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "Comma separated item ids")
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "Re-run every item whose latest audit entry failed")
	cmd.Flags().BoolVar(&force, "force", true, "Fetch a new image even when the item already has one")
	cmd.Flags().StringVar(&jobType, "job-type", string(models.JobManual), "Job type recorded in the audit log (manual, backfill, scheduled)")
	return cmd
}
