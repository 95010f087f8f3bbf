package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/trionica/catalog-enricher/pkg/config"
	applog "github.com/trionica/catalog-enricher/pkg/log"
	"github.com/trionica/catalog-enricher/pkg/runner"
	"github.com/trionica/catalog-enricher/pkg/storage"
)

// rootOptions are the persistent flags shared by every subcommand
type rootOptions struct {
	configFile string
	logLevel   string
	stateDir   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "enricher",
		Short: "Fill in missing product images and descriptions for a sales catalog",
		Long: `Enricher searches external image and web-search providers for catalog items
that lack a product image or description, validates and scores the candidates,
and writes the winners back to the catalog with an audit trail.

Secrets can be supplied through the environment or a .env file.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Path to YAML config file (defaults apply when empty)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "loglevel", "", "Log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.stateDir, "state-dir", "", "Directory for the embedded database and scheduler state")

	cmd.AddCommand(newScanCmd(opts))
	cmd.AddCommand(newBackfillCmd(opts))
	cmd.AddCommand(newProcessCmd(opts))
	cmd.AddCommand(newImportCmd(opts))
	cmd.AddCommand(newItemCmd(opts))
	cmd.AddCommand(newLogsCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))
	cmd.AddCommand(newScheduleCmd(opts))
	cmd.AddCommand(newMCPServerCmd(opts))
	return cmd
}

// loadConfig reads the config file, overlays the environment and flags, and
// validates the result
func (o *rootOptions) loadConfig() (*config.AppConfig, []string, error) {
	cfg, err := config.LoadFile(o.configFile)
	if err != nil {
		return nil, nil, err
	}
	cfg.ApplyEnv()
	if o.stateDir != "" {
		cfg.StateDir = o.stateDir
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}

// appEnv is the opened process state a command works with
type appEnv struct {
	cfg    *config.AppConfig
	logger *logrus.Logger
	log    *logrus.Entry
	stores *storage.Backends

	logCloser io.Closer
}

// open loads configuration, builds the logger and opens the stores.
// Logs go to the command's stderr so stdout stays clean for results.
func (o *rootOptions) open(cmd *cobra.Command) (*appEnv, error) {
	cfg, warnings, err := o.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	logger, closer, err := applog.New(applog.Options{Level: cfg.LogLevel, File: cfg.LogFile, Output: cmd.ErrOrStderr()})
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		logger.Warn(w)
	}
	entry := logrus.NewEntry(logger)

	stores, err := storage.Open(cmd.Context(), cfg, entry)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return &appEnv{cfg: cfg, logger: logger, log: entry, stores: stores, logCloser: closer}, nil
}

func (e *appEnv) Close() {
	if err := e.stores.Close(); err != nil {
		e.log.Errorf("Error closing storage: %v", err)
	}
	e.logCloser.Close()
}

func (e *appEnv) runner() *runner.Runner {
	runLog := e.log.WithField("component", "runner")
	factory := runner.DefaultFactory(e.cfg, e.stores.Config, e.stores.Logs, runLog)
	return runner.New(e.stores.Catalog, e.stores.Config, e.stores.Logs, factory, runLog)
}

// printSummary writes the human-readable outcome of a run
func printSummary(w io.Writer, s runner.Summary) {
	fmt.Fprintf(w, "Batch:      %s (%s)\n", s.BatchID, s.JobType)
	fmt.Fprintf(w, "Items:      %d of %d processed in %d batch(es)\n", s.Processed, s.Total, len(s.Batches))
	fmt.Fprintf(w, "Succeeded:  %d\n", s.Succeeded)
	fmt.Fprintf(w, "Warnings:   %d\n", s.Warnings)
	fmt.Fprintf(w, "Skipped:    %d\n", s.Skipped)
	fmt.Fprintf(w, "Failed:     %d (errors: %d)\n", s.Failed, s.Errors)
	fmt.Fprintf(w, "Committed:  %d write(s)\n", s.Committed)
	var notes []string
	if s.BudgetExhausted {
		notes = append(notes, "daily request budget exhausted")
	}
	if s.Aborted {
		notes = append(notes, "aborted")
	}
	if len(notes) > 0 {
		fmt.Fprintf(w, "Stopped:    %s\n", strings.Join(notes, ", "))
	}
	fmt.Fprintf(w, "Duration:   %s\n", s.Duration.Round(time.Millisecond))
}
