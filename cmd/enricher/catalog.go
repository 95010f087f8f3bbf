package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

// catalogFile is the import format: either a bare list of items or a
// document with an items key
type catalogFile struct {
	Items []models.CatalogItem `yaml:"items"`
}

func parseCatalogFile(data []byte) ([]models.CatalogItem, error) {
	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Items) > 0 {
		return doc.Items, nil
	}
	var items []models.CatalogItem
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: catalog file is neither a list of items nor an items document: %v", utils.ErrParsing, err)
	}
	return items, nil
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load catalog items from a YAML file into the embedded catalog",
		Long: `Import writes items into the embedded catalog, replacing items with the
same id. The file is a YAML list of items, or a document with an "items" list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return utils.WrapErrorf(err, "reading catalog file '%s'", file)
			}
			items, err := parseCatalogFile(bytes.TrimSpace(data))
			if err != nil {
				return err
			}

			env, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			n, err := env.stores.Catalog.PutItems(cmd.Context(), items)
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d items\n", n, len(items))
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML catalog file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newItemCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "item <item-id>",
		Short: "Show a catalog item with its enrichment bookkeeping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			items, err := env.stores.Catalog.GetItems(cmd.Context(), args)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				return fmt.Errorf("item '%s' not found", args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(items[0])
		},
	}
}
