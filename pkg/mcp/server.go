// Package mcp exposes the enrichment entry points as MCP tools. Runs are
// started in the background and polled with get_job_status.
package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/runner"
	"github.com/trionica/catalog-enricher/pkg/storage"
)

const (
	serverName    = "catalog-enricher"
	serverVersion = "0.4.0"
)

// Operations are the runs the tools can start; *runner.Runner implements it
type Operations interface {
	RunScheduledScan(ctx context.Context) (runner.Summary, error)
	RunBackfill(ctx context.Context) (runner.Summary, error)
	ProcessItems(ctx context.Context, ids []string, force bool, jobType models.JobType) (runner.Summary, error)
	RetryFailed(ctx context.Context) (runner.Summary, error)
}

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	Ops       Operations
	Catalog   storage.CatalogReader
	Logs      storage.LogStore
	Transport string // "stdio" or "sse"
	Port      int
	Logger    *logrus.Logger
}

// Server wraps the MCP server with the enrichment tools
type Server struct {
	mcpServer  *server.MCPServer
	sseServer  *server.SSEServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.Ops == nil || cfg.Catalog == nil || cfg.Logs == nil {
		return nil, fmt.Errorf("operations, catalog and log store are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	s := &Server{
		mcpServer:  server.NewMCPServer(serverName, serverVersion, server.WithLogging()),
		cfg:        cfg,
		log:        cfg.Logger.WithField("component", "mcp"),
		jobManager: NewJobManager(),
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("run_scheduled_scan",
		mcp.WithDescription("Start the scheduled scan in the background: sale items without an image. Returns a job ID."),
	), s.handleRunScheduledScan)

	s.mcpServer.AddTool(mcp.NewTool("run_backfill",
		mcp.WithDescription("Start a backfill over every sale item in the background. Returns a job ID."),
	), s.handleRunBackfill)

	s.mcpServer.AddTool(mcp.NewTool("process_items",
		mcp.WithDescription("Start enrichment of specific catalog items in the background. Returns a job ID."),
		mcp.WithArray("item_ids",
			mcp.Required(),
			mcp.Description("Catalog item IDs, processed in the order given"),
			mcp.WithStringItems(),
			mcp.MinItems(1),
		),
		mcp.WithBoolean("force_update",
			mcp.Description("Fetch a new image even for items that already have one (default: true)"),
		),
		mcp.WithString("job_type",
			mcp.Description("Job type recorded in the audit log"),
			mcp.Enum(string(models.JobManual), string(models.JobBackfill), string(models.JobScheduled)),
		),
	), s.handleProcessItems)

	s.mcpServer.AddTool(mcp.NewTool("retry_failed",
		mcp.WithDescription("Re-run, forced, every item whose latest audit entry failed. Returns a job ID."),
	), s.handleRetryFailed)

	s.mcpServer.AddTool(mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status and summary of an enrichment job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned when the job was started"),
		),
	), s.handleGetJobStatus)

	s.mcpServer.AddTool(mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a running enrichment job; finished items stay committed"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID to cancel"),
		),
	), s.handleCancelJob)

	s.mcpServer.AddTool(mcp.NewTool("list_logs",
		mcp.WithDescription("List audit log entries, newest first"),
		mcp.WithString("item_id", mcp.Description("Only entries for this item")),
		mcp.WithString("batch_id", mcp.Description("Only entries for this batch")),
		mcp.WithString("status",
			mcp.Description("Only entries with this status"),
			mcp.Enum(string(models.StatusSuccess), string(models.StatusFailed), string(models.StatusWarning), string(models.StatusInfo)),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of entries (default: 50, max: 500)"),
		),
	), s.handleListLogs)

	s.mcpServer.AddTool(mcp.NewTool("get_item",
		mcp.WithDescription("Show a catalog item with its enrichment bookkeeping"),
		mcp.WithString("item_id",
			mcp.Required(),
			mcp.Description("Catalog item ID"),
		),
	), s.handleGetItem)

	s.log.Infof("Registered %d MCP tools", len(s.mcpServer.ListTools()))
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "", "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		s.sseServer = server.NewSSEServer(s.mcpServer)
		return s.sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs and stops the SSE listener
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()
	if s.sseServer != nil {
		return s.sseServer.Shutdown(ctx)
	}
	return nil
}
