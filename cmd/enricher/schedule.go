package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/trionica/catalog-enricher/pkg/metrics"
	"github.com/trionica/catalog-enricher/pkg/schedule"
)

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	var (
		status      bool
		tick        time.Duration
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the daily scheduled scan in the foreground",
		Long: `Schedule blocks and runs the scheduled scan once a day at the hour and minute
of the active configuration. Changes to the schedule apply without a restart.
Prometheus metrics are served when metrics_addr is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()
			if cmd.Flags().Changed("metrics-addr") {
				env.cfg.MetricsAddr = metricsAddr
			}

			r := env.runner()
			sched := schedule.NewScheduler(env.stores.Config, r.RunScheduledScan, env.cfg.StateDir,
				env.log.WithField("component", "scheduler")).WithTick(tick)

			if status {
				st, err := sched.Status(cmd.Context())
				if err != nil {
					return err
				}
				printScheduleStatus(cmd, st)
				return nil
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return sched.Run(ctx)
			})
			if env.stores.Badger != nil {
				g.Go(func() error {
					env.stores.Badger.RunGC(ctx, env.cfg.GCInterval)
					return nil
				})
			}
			if env.cfg.MetricsAddr != "" {
				g.Go(func() error {
					return metrics.Expose(ctx, env.cfg.MetricsAddr, env.log.WithField("component", "metrics"))
				})
			}
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			env.log.Info("Scheduler stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "Print the schedule and last run, then exit")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus /metrics on this address (overrides metrics_addr)")
	cmd.Flags().DurationVar(&tick, "tick", schedule.DefaultTick, "How often to check whether a scan is due")
	return cmd
}

func printScheduleStatus(cmd *cobra.Command, st schedule.Status) {
	out := cmd.OutOrStdout()
	state := "inactive"
	if st.Active {
		state = "active"
	}
	fmt.Fprintf(out, "Schedule:  daily at %s (%s)\n", st.Slot, state)
	if st.NeverRun {
		fmt.Fprintln(out, "Last run:  never")
	} else {
		result := "ok"
		if !st.LastRun.LastRunSuccess {
			result = "failed: " + st.LastRun.ErrorMessage
		}
		fmt.Fprintf(out, "Last run:  %s, batch %s, %d item(s), %s\n",
			st.LastRun.LastRunTime.Local().Format("2006-01-02 15:04"), st.LastRun.BatchID, st.LastRun.ItemsProcessed, result)
	}
	if st.Active {
		fmt.Fprintf(out, "Next run:  %s (in %s)\n", st.NextRun.Local().Format("2006-01-02 15:04"),
			schedule.FormatInterval(time.Until(st.NextRun)))
	}
}
