package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or replace the active fetch configuration",
	}
	cmd.AddCommand(newConfigShowCmd(opts))
	cmd.AddCommand(newConfigApplyCmd(opts))
	return cmd
}

// maskSecret keeps the last four characters
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// redacted returns a copy of fc with credentials masked
func redacted(fc *config.FetchConfig) *config.FetchConfig {
	out := fc.Clone()
	out.Marketplace.AccessKey = maskSecret(out.Marketplace.AccessKey)
	out.Marketplace.SecretKey = maskSecret(out.Marketplace.SecretKey)
	out.SecondarySearch.APIKey = maskSecret(out.SecondarySearch.APIKey)
	keys := make([]string, len(out.PrimarySearch.APIKeys))
	for i, k := range out.PrimarySearch.APIKeys {
		keys[i] = maskSecret(k)
	}
	out.PrimarySearch.APIKeys = keys
	return out
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the active configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			active, err := env.stores.Config.GetActive(cmd.Context())
			if err != nil {
				return err
			}
			if !reveal {
				active = redacted(active)
			}
			data, err := config.MarshalFetchConfig(active)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print credentials unmasked")
	return cmd
}

func newConfigApplyCmd(opts *rootOptions) *cobra.Command {
	var (
		file   string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Validate a fetch configuration file and make it the active record",
		Long: `Apply replaces the active fetch configuration. Omitted settings take their
defaults. When the file carries the same primary keys as the active record, the
key rotation cursor is preserved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return utils.WrapErrorf(err, "reading fetch config '%s'", file)
			}
			fc, err := config.ParseFetchConfig(data)
			if err != nil {
				return err
			}
			warnings, err := fc.Validate()
			for _, w := range warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid (not applied).")
				return nil
			}

			env, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			if current, err := env.stores.Config.GetActive(cmd.Context()); err == nil && sameKeys(current.PrimarySearch.APIKeys, fc.PrimarySearch.APIKeys) {
				fc.PrimarySearch.CurrentKeyIndex = current.PrimarySearch.CurrentKeyIndex
			}
			if err := env.stores.Config.SaveActive(cmd.Context(), fc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied configuration %q\n", fc.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML fetch configuration")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate only")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
