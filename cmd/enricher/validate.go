package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/trionica/catalog-enricher/pkg/describe"
	"github.com/trionica/catalog-enricher/pkg/imaging"
	"github.com/trionica/catalog-enricher/pkg/providers"
	"github.com/trionica/catalog-enricher/pkg/runner"
)

type providerCheck struct {
	name     string
	enabled  bool
	searcher providers.ImageSearcher
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var (
		probe      bool
		probeQuery string
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and, optionally, probe each enabled provider",
		Long: `Validate checks the process configuration and the active fetch configuration,
and reports which providers are usable. With --probe it sends one search per
enabled provider, which counts against the providers' quotas.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			env, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()
			ctx := cmd.Context()

			active, err := env.stores.Config.GetActive(ctx)
			if err != nil {
				return err
			}
			warnings, err := active.Validate()
			for _, w := range warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			if err != nil {
				return err
			}
			if _, err := imaging.NewScorer(active.Quality.Scorer); err != nil {
				return fmt.Errorf("quality.scorer: %w", err)
			}
			if _, err := describe.New(active.Description); err != nil {
				return fmt.Errorf("description: %w", err)
			}
			fmt.Fprintf(out, "Configuration %q is valid (enrichment enabled: %t)\n", active.Name, active.Enabled)

			p := runner.BuildProviders(ctx, env.cfg, active, nil, env.log.WithField("component", "validate"))
			checks := []providerCheck{
				{"marketplace", active.Marketplace.Enabled, p.Marketplace},
				{"primary", active.PrimarySearch.Enabled, p.Primary},
				{"secondary", active.SecondarySearch.Enabled, p.Secondary},
			}

			usable := 0
			for _, c := range checks {
				if ok := reportProvider(out, c); ok {
					usable++
					if probe {
						cands, err := c.searcher.SearchImages(ctx, providers.Query{Keywords: probeQuery, Name: probeQuery})
						if err != nil {
							fmt.Fprintf(out, "  probe failed: %v\n", err)
						} else {
							fmt.Fprintf(out, "  probe returned %d candidate(s)\n", len(cands))
						}
					}
				}
			}
			if probe && active.PrimarySearch.Enabled && p.Primary.Configured() == nil {
				snippets, err := p.Primary.SearchText(ctx, providers.Query{Keywords: probeQuery, Name: probeQuery})
				if err != nil {
					fmt.Fprintf(out, "  description probe failed: %v\n", err)
				} else {
					fmt.Fprintf(out, "  description probe returned %d snippet(s)\n", len(snippets))
				}
			}
			if probe {
				fmt.Fprintf(out, "Probe used %d of %d daily requests\n", p.Budget.Used(), active.Batch.DailyRequestsLimit)
			}

			if usable == 0 {
				return fmt.Errorf("no enabled image provider is usable")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Send one live query per enabled provider")
	cmd.Flags().StringVar(&probeQuery, "query", "USB-C charging cable", "Query used by --probe")
	return cmd
}

// reportProvider prints one provider's state and reports whether it is usable
func reportProvider(w io.Writer, c providerCheck) bool {
	if !c.enabled {
		fmt.Fprintf(w, "%-12s disabled\n", c.name)
		return false
	}
	if err := c.searcher.Configured(); err != nil {
		fmt.Fprintf(w, "%-12s NOT CONFIGURED: %v\n", c.name, err)
		return false
	}
	fmt.Fprintf(w, "%-12s ok\n", c.name)
	return true
}
