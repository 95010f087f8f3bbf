package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/storage"
)

func newLogsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect and prune the enrichment audit log",
	}
	cmd.AddCommand(newLogsListCmd(opts))
	cmd.AddCommand(newLogsPruneCmd(opts))
	return cmd
}

func newLogsListCmd(opts *rootOptions) *cobra.Command {
	var (
		q       storage.LogQuery
		status  string
		asJSON  bool
		sinceHr int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Status = models.LogStatus(status)
			if q.Status != models.StatusUnset && !q.Status.IsValid() {
				return fmt.Errorf("unknown status %q (success, failed, warning, info)", status)
			}

			env, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			if sinceHr > 0 {
				q.Since = time.Now().Add(-time.Duration(sinceHr) * time.Hour)
			}
			entries, err := env.stores.Logs.List(cmd.Context(), q)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				for i := range entries {
					if err := enc.Encode(&entries[i]); err != nil {
						return err
					}
				}
				return nil
			}
			printLogEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&q.ItemID, "item", "", "Only entries for this item id")
	cmd.Flags().StringVar(&q.BatchID, "batch", "", "Only entries for this batch id")
	cmd.Flags().StringVar(&status, "status", "", "Only entries with this status")
	cmd.Flags().IntVar(&sinceHr, "since-hours", 0, "Only entries from the last N hours")
	cmd.Flags().IntVarP(&q.Limit, "limit", "n", 50, "Maximum number of entries (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per line")
	return cmd
}

func printLogEntries(w io.Writer, entries []models.LogEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No log entries.")
		return
	}
	fmt.Fprintf(w, "%-19s  %-12s  %-8s  %-7s  %s\n", "TIME", "ITEM", "OP", "STATUS", "MESSAGE")
	for _, e := range entries {
		msg := e.Message
		if e.Error != "" {
			msg += " [" + e.Error + "]"
		}
		fmt.Fprintf(w, "%-19s  %-12s  %-8s  %-7s  %s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.ItemID, e.Operation, e.Status, msg)
	}
	fmt.Fprintf(w, "%d entr%s\n", len(entries), plural(len(entries), "y", "ies"))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func newLogsPruneCmd(opts *rootOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete audit entries older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			if !cmd.Flags().Changed("days") {
				active, err := env.stores.Config.GetActive(cmd.Context())
				if err != nil {
					return err
				}
				days = active.Logging.RetentionDays
			}
			if days <= 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Retention disabled; nothing pruned.")
				return nil
			}
			n, err := env.stores.Logs.PruneOlderThan(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entr%s older than %d days\n", n, plural(n, "y", "ies"), days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Retention in days (defaults to the active configuration)")
	return cmd
}
