// Package runner drives lists of catalog items through the enrichment
// pipeline in paced, fixed-size batches and exposes the scheduled, backfill
// and manual entry points.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/enrich"
	"github.com/trionica/catalog-enricher/pkg/fetch"
	"github.com/trionica/catalog-enricher/pkg/metrics"
	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/storage"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

// ErrBusy is returned when a run is started while another is in progress
var ErrBusy = errors.New("another enrichment run is in progress")

// Processor runs one item to a terminal state
type Processor interface {
	Process(ctx context.Context, item models.CatalogItem, rc enrich.RunContext) (enrich.Outcome, error)
}

// Pipeline is what a Factory builds for one run
type Pipeline struct {
	Processor Processor
	Budget    *fetch.RequestBudget // nil means unlimited
}

// Factory builds the pipeline for a run. Writes must go through catalog so
// the runner controls when they are committed.
type Factory func(ctx context.Context, cfg *config.FetchConfig, catalog storage.CatalogWriter) (*Pipeline, error)

// Summary reports what a run did
type Summary struct {
	BatchID         string
	JobType         models.JobType
	Total           int   // Items handed to the run
	Processed       int   // Items that reached a terminal state
	Batches         []int // Items processed per batch
	Succeeded       int
	Warnings        int
	Failed          int
	Skipped         int
	Errors          int // Panics, persistence and commit failures
	Committed       int // Staged writes flushed to the catalog
	BudgetExhausted bool
	Aborted         bool
	Duration        time.Duration
}

// Runner processes items sequentially. Only one run may be active at a time.
type Runner struct {
	catalog storage.CatalogStore
	configs storage.ConfigStore
	logs    storage.LogStore
	factory Factory
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	log     *logrus.Entry

	running sync.Mutex
}

// uncommitted is an item whose writes are staged but not yet flushed
type uncommitted struct {
	item models.CatalogItem
	out  enrich.Outcome
}

// New creates a Runner
func New(catalog storage.CatalogStore, configs storage.ConfigStore, logs storage.LogStore, factory Factory, log *logrus.Entry) *Runner {
	return &Runner{
		catalog: catalog,
		configs: configs,
		logs:    logs,
		factory: factory,
		sleep:   fetch.Sleep,
		now:     time.Now,
		log:     log,
	}
}

// WithSleep replaces the pacing sleeper
func (r *Runner) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Runner {
	r.sleep = sleep
	return r
}

// WithClock replaces the clock used for batch ids and durations
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// NewBatchID returns "<job type>_YYYYMMDD_HHMMSS"
func NewBatchID(jobType models.JobType, t time.Time) string {
	return fmt.Sprintf("%s_%s", jobType, t.Format("20060102_150405"))
}

// Run processes items in catalog order. Writes of a batch are staged and
// committed when the batch ends (or after every item in item commit mode).
// A failing item has its staged writes discarded and the run continues.
// The returned error is non-nil only when the run could not start or the
// context ended.
func (r *Runner) Run(ctx context.Context, items []models.CatalogItem, cfg *config.FetchConfig, batchID string, jobType models.JobType, force bool) (Summary, error) {
	if !r.running.TryLock() {
		return Summary{BatchID: batchID, JobType: jobType}, ErrBusy
	}
	defer r.running.Unlock()
	return r.run(ctx, items, cfg, batchID, jobType, force)
}

func (r *Runner) run(ctx context.Context, items []models.CatalogItem, cfg *config.FetchConfig, batchID string, jobType models.JobType, force bool) (Summary, error) {
	start := r.now()
	sum := Summary{BatchID: batchID, JobType: jobType, Total: len(items)}
	runLog := r.log.WithFields(logrus.Fields{"batch_id": batchID, "job_type": jobType.String()})

	staged := storage.NewStagedCatalog(r.catalog)
	pipe, err := r.factory(ctx, cfg, staged)
	if err != nil {
		r.catastrophic(ctx, batchID, jobType, "Failed to build enrichment pipeline", err)
		return sum, fmt.Errorf("building pipeline: %w", err)
	}

	size := cfg.Batch.EffectiveBatchSize()
	pacing := fetch.PacingInterval(cfg.Batch.PacingFloor, cfg.Batch.RequestsPerMinute)
	perItem := cfg.Batch.CommitMode == config.CommitItem
	rc := enrich.RunContext{BatchID: batchID, JobType: jobType, ForceUpdate: force}
	numBatches := (len(items) + size - 1) / size

	runLog.Infof("Starting run: %d items in %d batches of up to %d, pacing %v, commit per %s",
		len(items), numBatches, size, pacing, cfg.Batch.CommitMode)
	if cfg.Mode.TestMode {
		runLog.Warn("Test mode active: no changes will be persisted")
	}

	var runErr error
	stop := false
	window := make(map[string]uncommitted)
	for b := 0; b < numBatches && !stop; b++ {
		batchStart := r.now()
		lo, hi := b*size, min((b+1)*size, len(items))
		runLog.Infof("Processing batch %d/%d (%d items)", b+1, numBatches, hi-lo)
		done := 0

		for i := lo; i < hi; i++ {
			if err := ctx.Err(); err != nil {
				runLog.Warnf("Run interrupted: %v", err)
				sum.Aborted, runErr, stop = true, err, true
				break
			}
			if pipe.Budget.Exhausted() {
				runLog.Warnf("Daily request limit reached, stopping after %d items", sum.Processed)
				sum.BudgetExhausted, stop = true, true
				break
			}

			item := items[i]
			staged.Track(item.ID)
			cp := staged.Checkpoint()
			out, err := r.processItem(ctx, pipe.Processor, item, rc)
			if err != nil {
				staged.RollbackTo(cp)
				if ctx.Err() != nil {
					runLog.Warnf("Run interrupted while processing item '%s': %v", item.ID, err)
					sum.Aborted, runErr, stop = true, ctx.Err(), true
					break
				}
				sum.Errors++
				sum.Failed++
				if !errors.Is(err, utils.ErrPersistence) {
					// Persistence failures were already audited by the orchestrator
					r.auditItemError(ctx, item, rc, err)
				}
			} else {
				sum.tally(out)
				window[item.ID] = uncommitted{item: item, out: out}
			}
			sum.Processed++
			done++

			if perItem {
				r.commit(ctx, staged, rc, &sum, window, runLog)
			}
			if out.BudgetExhausted {
				runLog.Warnf("Daily request limit reached, stopping after %d items", sum.Processed)
				sum.BudgetExhausted, stop = true, true
				break
			}
			if i < len(items)-1 && pacing > 0 {
				if err := r.sleep(ctx, pacing); err != nil {
					sum.Aborted, runErr, stop = true, err, true
					break
				}
			}
		}

		// Finished items are committed even when the run stops early
		r.commit(ctx, staged, rc, &sum, window, runLog)
		if done > 0 {
			sum.Batches = append(sum.Batches, done)
		}
		metrics.BatchDuration.Observe(r.now().Sub(batchStart).Seconds())
	}

	sum.Duration = r.now().Sub(start)
	r.logSummary(runLog, sum)
	return sum, runErr
}

// processItem isolates panics so one bad item cannot end the run
func (r *Runner) processItem(ctx context.Context, p Processor, item models.CatalogItem, rc enrich.RunContext) (out enrich.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithFields(logrus.Fields{"item_id": item.ID, "batch_id": rc.BatchID}).
				Errorf("Panic while processing item: %v\n%s", rec, debug.Stack())
			err = fmt.Errorf("panic while processing item '%s': %v", item.ID, rec)
		}
	}()
	return p.Process(ctx, item, rc)
}

// commit flushes the staged writes. Items whose writes are discarded by a
// failed flush are recounted as failed and get a failed entry that
// supersedes the one written when they were processed.
func (r *Runner) commit(ctx context.Context, staged *storage.StagedCatalog, rc enrich.RunContext, sum *Summary, window map[string]uncommitted, log *logrus.Entry) {
	defer clear(window)
	if staged.Pending() == 0 {
		return
	}
	// Commit must not be skipped because the run context ended
	applied, err := staged.Flush(context.WithoutCancel(ctx))
	sum.Committed += applied
	if err == nil {
		log.Debugf("Committed %d staged writes", applied)
		return
	}
	dropped := staged.Pending()
	lost := staged.PendingItemIDs()
	staged.RollbackTo(0)
	sum.Errors++
	log.Errorf("Commit failed after %d writes, %d writes of %d items discarded: %v", applied, dropped, len(lost), err)

	for _, id := range lost {
		e := &models.LogEntry{
			BatchID:   rc.BatchID,
			JobType:   rc.JobType,
			Operation: models.OperationError,
			Status:    models.StatusFailed,
			Message:   "Failed to commit item changes, nothing was saved",
			Error:     err.Error(),
			Timestamp: r.now().UTC(),
		}
		if u, ok := window[id]; ok {
			e.ForItem(u.item)
			if prev := u.out.Entry.Timestamp; !prev.IsZero() && !e.Timestamp.After(prev) {
				e.Timestamp = prev.Add(time.Millisecond)
			}
			sum.untally(u.out)
			sum.Failed++
		} else {
			e.ItemID = id
		}
		r.append(ctx, e)
		metrics.ItemsProcessed.WithLabelValues(rc.JobType.String(), models.StatusFailed.String()).Inc()
	}
}

func (r *Runner) auditItemError(ctx context.Context, item models.CatalogItem, rc enrich.RunContext, err error) {
	r.log.WithFields(logrus.Fields{"item_id": item.ID, "batch_id": rc.BatchID}).Errorf("Item failed: %v", err)
	e := &models.LogEntry{
		BatchID:   rc.BatchID,
		JobType:   rc.JobType,
		Operation: models.OperationError,
		Status:    models.StatusFailed,
		Message:   "Unexpected error while processing item",
		Error:     err.Error(),
	}
	e.ForItem(item)
	r.append(ctx, e)
	metrics.ItemsProcessed.WithLabelValues(rc.JobType.String(), models.StatusFailed.String()).Inc()
}

// catastrophic records the single top-level entry for a run that could not start
func (r *Runner) catastrophic(ctx context.Context, batchID string, jobType models.JobType, msg string, err error) {
	r.log.WithFields(logrus.Fields{"batch_id": batchID, "job_type": jobType.String()}).Errorf("%s: %v", msg, err)
	r.append(ctx, &models.LogEntry{
		BatchID:   batchID,
		JobType:   jobType,
		Operation: models.OperationError,
		Status:    models.StatusFailed,
		Message:   msg,
		Error:     err.Error(),
	})
}

func (r *Runner) append(ctx context.Context, e *models.LogEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	if err := r.logs.Append(context.WithoutCancel(ctx), e); err != nil {
		r.log.Errorf("Failed to append audit entry: %v", err)
	}
}

func (s *Summary) tally(out enrich.Outcome) {
	switch {
	case out.Operation == models.OperationSkip:
		s.Skipped++
	case out.Status == models.StatusSuccess:
		s.Succeeded++
	case out.Status == models.StatusWarning:
		s.Warnings++
	case out.Status == models.StatusFailed:
		s.Failed++
	}
}

func (s *Summary) untally(out enrich.Outcome) {
	switch {
	case out.Operation == models.OperationSkip:
		s.Skipped--
	case out.Status == models.StatusSuccess:
		s.Succeeded--
	case out.Status == models.StatusWarning:
		s.Warnings--
	case out.Status == models.StatusFailed:
		s.Failed--
	}
}

func (r *Runner) logSummary(log *logrus.Entry, s Summary) {
	log.Info("============================================")
	log.Infof("Run %s (%s) completed in %v", s.BatchID, s.JobType, s.Duration.Round(time.Millisecond))
	log.Infof("Batches: %v", s.Batches)
	log.Info("--------------------------------------------")
	log.Infof("Total: %d items, %d processed (%d success, %d warning, %d failed, %d skipped), %d errors, %d writes committed",
		s.Total, s.Processed, s.Succeeded, s.Warnings, s.Failed, s.Skipped, s.Errors, s.Committed)
	if s.BudgetExhausted {
		log.Warn("Stopped early: daily request limit reached")
	}
	if s.Aborted {
		log.Warn("Stopped early: run interrupted")
	}
	log.Info("============================================")
}
