package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/runner"
	"github.com/trionica/catalog-enricher/pkg/storage"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

type runFunc func(ctx context.Context) (runner.Summary, error)

// startJob registers a job and runs it in the background
func (s *Server) startJob(kind string, itemIDs []string, force bool, run runFunc) *mcp.CallToolResult {
	job, err := s.jobManager.CreateJob(kind, itemIDs, force)
	if errors.Is(err, ErrJobActive) {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"status":  "already_running",
			"message": "An enrichment job is already in progress",
			"job_id":  job.ID,
			"kind":    job.Kind,
		}))
	}

	go s.runJob(job.ID, run)

	result := map[string]interface{}{
		"status":  "started",
		"message": "Job started successfully",
		"job_id":  job.ID,
		"kind":    kind,
	}
	if len(itemIDs) > 0 {
		result["item_count"] = len(itemIDs)
		result["force_update"] = force
	}
	return mcp.NewToolResultText(formatJSON(result))
}

func (s *Server) runJob(jobID string, run runFunc) {
	s.jobManager.UpdateStatus(jobID, JobStatusRunning, "")
	jobLog := s.log.WithField("job_id", jobID)
	jobLog.Info("Job started")

	sum, err := run(s.jobManager.GetContext(jobID))
	s.jobManager.Finish(jobID, sum, err)
	if err != nil {
		jobLog.Warnf("Job ended with error: %v", err)
		return
	}
	jobLog.Infof("Job completed: %d of %d items processed", sum.Processed, sum.Total)
}

func (s *Server) handleRunScheduledScan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.startJob("run_scheduled_scan", nil, false, s.cfg.Ops.RunScheduledScan), nil
}

func (s *Server) handleRunBackfill(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.startJob("run_backfill", nil, false, s.cfg.Ops.RunBackfill), nil
}

func (s *Server) handleRetryFailed(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.startJob("retry_failed", nil, true, s.cfg.Ops.RetryFailed), nil
}

// handleProcessItems handles the process_items tool
func (s *Server) handleProcessItems(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var ids []string
	for _, id := range request.GetStringSlice("item_ids", nil) {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return mcp.NewToolResultError("item_ids parameter is required"), nil
	}
	force := request.GetBool("force_update", true)
	jobType := models.ParseJobType(request.GetString("job_type", string(models.JobManual)))

	run := func(ctx context.Context) (runner.Summary, error) {
		return s.cfg.Ops.ProcessItems(ctx, ids, force, jobType)
	}
	return s.startJob("process_items", ids, force, run), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":     job.ID,
		"kind":       job.Kind,
		"status":     job.Status,
		"started_at": job.StartedAt.Format(time.RFC3339),
	}
	if len(job.ItemIDs) > 0 {
		result["item_ids"] = job.ItemIDs
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}
	if sum := job.Summary; sum != nil {
		result["batch_id"] = sum.BatchID
		result["summary"] = map[string]interface{}{
			"total":            sum.Total,
			"processed":        sum.Processed,
			"batches":          sum.Batches,
			"succeeded":        sum.Succeeded,
			"warnings":         sum.Warnings,
			"failed":           sum.Failed,
			"skipped":          sum.Skipped,
			"errors":           sum.Errors,
			"committed_writes": sum.Committed,
			"budget_exhausted": sum.BudgetExhausted,
			"aborted":          sum.Aborted,
		}
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	if s.jobManager.GetJob(jobID) == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}
	cancelled := s.jobManager.CancelJob(jobID)
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"job_id":    jobID,
		"cancelled": cancelled,
	})), nil
}

// handleListLogs handles the list_logs tool
func (s *Server) handleListLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", defaultLogLimit)
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	q := storage.LogQuery{
		ItemID:  request.GetString("item_id", ""),
		BatchID: request.GetString("batch_id", ""),
		Status:  models.LogStatus(request.GetString("status", "")),
		Limit:   limit,
	}
	if q.Status != models.StatusUnset && !q.Status.IsValid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown status '%s'", q.Status)), nil
	}

	entries, err := s.cfg.Logs.List(ctx, q)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list logs: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})), nil
}

// handleGetItem handles the get_item tool
func (s *Server) handleGetItem(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(request.GetString("item_id", ""))
	if id == "" {
		return mcp.NewToolResultError("item_id parameter is required"), nil
	}
	items, err := s.cfg.Catalog.GetItems(ctx, []string{id})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read item: %v", err)), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("item '%s' not found", id)), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"item": items[0]})), nil
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
