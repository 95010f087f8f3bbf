package runner

import (
	"context"
	"fmt"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/storage"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

// activeConfig loads and validates the active configuration. A failure
// here is catastrophic for the run and is audited once.
func (r *Runner) activeConfig(ctx context.Context, batchID string, jobType models.JobType) (*config.FetchConfig, error) {
	cfg, err := r.configs.GetActive(ctx)
	if err == nil {
		var warnings []string
		warnings, err = cfg.Validate()
		for _, w := range warnings {
			r.log.WithField("batch_id", batchID).Warnf("Configuration: %s", w)
		}
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", utils.ErrNoActiveConfig, err)
		r.catastrophic(ctx, batchID, jobType, "No usable active configuration, run aborted", err)
		return nil, err
	}
	return cfg, nil
}

func testCap(cfg *config.FetchConfig) int {
	if cfg.Mode.TestMode && cfg.Mode.TestProductLimit > 0 {
		return cfg.Mode.TestProductLimit
	}
	return 0
}

// RunScheduledScan processes sale items that lack an image. It does nothing
// unless the configuration is enabled and the scheduled trigger is active.
// Old audit entries are pruned afterwards.
func (r *Runner) RunScheduledScan(ctx context.Context) (Summary, error) {
	if !r.running.TryLock() {
		return Summary{JobType: models.JobScheduled}, ErrBusy
	}
	defer r.running.Unlock()

	batchID := NewBatchID(models.JobScheduled, r.now())
	cfg, err := r.activeConfig(ctx, batchID, models.JobScheduled)
	if err != nil {
		return Summary{BatchID: batchID, JobType: models.JobScheduled}, err
	}
	if !cfg.Enabled || !cfg.Schedule.CronActive {
		r.log.WithField("batch_id", batchID).Info("Scheduled scan skipped: configuration disabled or cron inactive")
		return Summary{BatchID: batchID, JobType: models.JobScheduled}, nil
	}

	items, err := r.catalog.FindItems(ctx, storage.ItemFilter{MissingImageOnly: true, SaleOKOnly: true, Limit: testCap(cfg)})
	if err != nil {
		r.catastrophic(ctx, batchID, models.JobScheduled, "Failed to load catalog items", err)
		return Summary{BatchID: batchID, JobType: models.JobScheduled}, err
	}

	sum, runErr := r.run(ctx, items, cfg, batchID, models.JobScheduled, false)

	if days := cfg.Logging.RetentionDays; days > 0 {
		pruned, err := r.logs.PruneOlderThan(context.WithoutCancel(ctx), days)
		if err != nil {
			r.log.Errorf("Failed to prune audit entries older than %d days: %v", days, err)
		} else if pruned > 0 {
			r.log.Infof("Pruned %d audit entries older than %d days", pruned, days)
		}
	}
	return sum, runErr
}

// RunBackfill processes every sale item; the orchestrator skips the ones
// that need nothing
func (r *Runner) RunBackfill(ctx context.Context) (Summary, error) {
	if !r.running.TryLock() {
		return Summary{JobType: models.JobBackfill}, ErrBusy
	}
	defer r.running.Unlock()

	batchID := NewBatchID(models.JobBackfill, r.now())
	cfg, err := r.activeConfig(ctx, batchID, models.JobBackfill)
	if err != nil {
		return Summary{BatchID: batchID, JobType: models.JobBackfill}, err
	}
	if !cfg.Enabled {
		r.log.WithField("batch_id", batchID).Info("Backfill skipped: configuration disabled")
		return Summary{BatchID: batchID, JobType: models.JobBackfill}, nil
	}

	items, err := r.catalog.FindItems(ctx, storage.ItemFilter{SaleOKOnly: true, Limit: testCap(cfg)})
	if err != nil {
		r.catastrophic(ctx, batchID, models.JobBackfill, "Failed to load catalog items", err)
		return Summary{BatchID: batchID, JobType: models.JobBackfill}, err
	}
	return r.run(ctx, items, cfg, batchID, models.JobBackfill, false)
}

// ProcessItems processes explicit ids in the order given. Unknown ids are
// logged and skipped. An empty job type means manual.
func (r *Runner) ProcessItems(ctx context.Context, ids []string, force bool, jobType models.JobType) (Summary, error) {
	if !jobType.IsValid() {
		jobType = models.JobManual
	}
	if !r.running.TryLock() {
		return Summary{JobType: jobType}, ErrBusy
	}
	defer r.running.Unlock()
	return r.processItems(ctx, ids, force, jobType)
}

func (r *Runner) processItems(ctx context.Context, ids []string, force bool, jobType models.JobType) (Summary, error) {
	batchID := NewBatchID(jobType, r.now())
	cfg, err := r.activeConfig(ctx, batchID, jobType)
	if err != nil {
		return Summary{BatchID: batchID, JobType: jobType}, err
	}

	ids = uniqueIDs(ids)
	items, err := r.catalog.GetItems(ctx, ids)
	if err != nil {
		r.catastrophic(ctx, batchID, jobType, "Failed to load catalog items", err)
		return Summary{BatchID: batchID, JobType: jobType}, err
	}
	if len(items) < len(ids) {
		found := make(map[string]bool, len(items))
		for _, it := range items {
			found[it.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				r.log.WithField("item_id", id).Warn("Item not found in catalog, skipping")
			}
		}
	}
	return r.run(ctx, items, cfg, batchID, jobType, force)
}

// uniqueIDs drops blank and repeated ids, keeping the first occurrence
func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// FailedItemIDs returns items whose most recent audit entry failed, most
// recently failed first
func FailedItemIDs(ctx context.Context, logs storage.LogStore) ([]string, error) {
	entries, err := logs.List(ctx, storage.LogQuery{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, e := range entries {
		if e.ItemID == "" || seen[e.ItemID] {
			continue
		}
		seen[e.ItemID] = true
		if e.Status == models.StatusFailed {
			ids = append(ids, e.ItemID)
		}
	}
	return ids, nil
}

// RetryFailed re-runs, forced, every item whose latest audit entry failed
func (r *Runner) RetryFailed(ctx context.Context) (Summary, error) {
	if !r.running.TryLock() {
		return Summary{JobType: models.JobManual}, ErrBusy
	}
	defer r.running.Unlock()

	ids, err := FailedItemIDs(ctx, r.logs)
	if err != nil {
		return Summary{JobType: models.JobManual}, fmt.Errorf("listing failed items: %w", err)
	}
	if len(ids) == 0 {
		r.log.Info("No failed items to retry")
		return Summary{JobType: models.JobManual}, nil
	}
	r.log.Infof("Retrying %d failed items", len(ids))
	return r.processItems(ctx, ids, true, models.JobManual)
}
