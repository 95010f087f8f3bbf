package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/trionica/catalog-enricher/pkg/mcp"
)

func newMCPServerCmd(opts *rootOptions) *cobra.Command {
	var (
		transport string
		port      int
	)
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve the enrichment operations as MCP tools",
		Long: `Start an MCP (Model Context Protocol) server for AI tool integration.
Logs go to stderr; the stdio transport uses stdout for the protocol.

Available MCP Tools:
  run_scheduled_scan  Start the scheduled scan in the background
  run_backfill        Start a backfill over every sale item
  process_items       Enrich specific items
  retry_failed        Re-run items whose last attempt failed
  get_job_status      Poll a background job
  cancel_job          Cancel a background job
  list_logs           Query the audit log
  get_item            Show a catalog item`,
		Example: `  # stdio transport (for desktop MCP clients)
  enricher mcp-server --config config.yaml

  # SSE transport on port 8080
  enricher mcp-server --config config.yaml --transport sse --port 8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			if cmd.Flags().Changed("transport") {
				env.cfg.MCP.Transport = transport
			}
			if cmd.Flags().Changed("port") {
				env.cfg.MCP.Port = port
			}

			server, err := mcp.NewServer(&mcp.ServerConfig{
				Ops:       env.runner(),
				Catalog:   env.stores.Catalog,
				Logs:      env.stores.Logs,
				Transport: env.cfg.MCP.Transport,
				Port:      env.cfg.MCP.Port,
				Logger:    env.logger,
			})
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- server.Run() }()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type (stdio, sse)")
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP port (for sse transport)")
	return cmd
}
