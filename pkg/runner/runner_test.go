package runner

import (
	"context"
	"errors"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/describe"
	"github.com/trionica/catalog-enricher/pkg/enrich"
	"github.com/trionica/catalog-enricher/pkg/fetch"
	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/providers"
	"github.com/trionica/catalog-enricher/pkg/storage"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// fakeProcessor stages one score update per item through the run's catalog
type fakeProcessor struct {
	catalog  storage.CatalogWriter
	budget   *fetch.RequestBudget
	failOn   map[string]error
	panicOn  map[string]bool
	writeTo  map[string]string // item id -> id actually written
	onItem   func(item models.CatalogItem)
	seen     []string
	contexts []enrich.RunContext
}

func (p *fakeProcessor) Process(ctx context.Context, item models.CatalogItem, rc enrich.RunContext) (enrich.Outcome, error) {
	p.seen = append(p.seen, item.ID)
	p.contexts = append(p.contexts, rc)
	if p.onItem != nil {
		p.onItem(item)
	}
	if err := p.budget.Take(); err != nil {
		return enrich.Outcome{ItemID: item.ID, Operation: models.OperationFetch, Status: models.StatusWarning, BudgetExhausted: true}, nil
	}

	score := 77
	target := item.ID
	if t, ok := p.writeTo[item.ID]; ok {
		target = t
	}
	if err := p.catalog.UpdateItem(ctx, target, models.ItemUpdate{QualityScore: &score}); err != nil {
		return enrich.Outcome{}, err
	}
	if p.panicOn[item.ID] {
		panic("validator exploded")
	}
	if err := p.failOn[item.ID]; err != nil {
		return enrich.Outcome{}, err
	}
	return enrich.Outcome{ItemID: item.ID, Operation: models.OperationUpdate, Status: models.StatusSuccess}, nil
}

type testEnv struct {
	store  *storage.BadgerStore
	proc   *fakeProcessor
	runner *Runner
	sleeps []time.Duration
}

func newEnv(t *testing.T, seed *config.FetchConfig) *testEnv {
	t.Helper()
	store, err := storage.NewBadgerStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	if seed != nil {
		store.WithConfigSeed(seed)
	}

	env := &testEnv{store: store, proc: &fakeProcessor{failOn: map[string]error{}, panicOn: map[string]bool{}, writeTo: map[string]string{}}}
	factory := func(_ context.Context, _ *config.FetchConfig, catalog storage.CatalogWriter) (*Pipeline, error) {
		env.proc.catalog = catalog
		return &Pipeline{Processor: env.proc, Budget: env.proc.budget}, nil
	}
	env.runner = New(store, store, store, factory, testLogger()).WithSleep(func(ctx context.Context, d time.Duration) error {
		env.sleeps = append(env.sleeps, d)
		return ctx.Err()
	})
	return env
}

func makeItems(n int) []models.CatalogItem {
	items := make([]models.CatalogItem, n)
	for i := range items {
		id := strconv.Itoa(i + 1)
		items[i] = models.CatalogItem{ID: id, Name: "Item " + id, SaleOK: true}
	}
	return items
}

func (e *testEnv) seed(t *testing.T, items []models.CatalogItem) {
	t.Helper()
	_, err := e.store.PutItems(context.Background(), items)
	require.NoError(t, err)
}

func (e *testEnv) score(t *testing.T, id string) int {
	t.Helper()
	items, err := e.store.GetItems(context.Background(), []string{id})
	require.NoError(t, err)
	require.Len(t, items, 1)
	return items[0].QualityScore
}

func runConfig() *config.FetchConfig {
	cfg := config.DefaultFetchConfig()
	cfg.Batch.BatchSize = 10
	cfg.Batch.RequestsPerMinute = 60
	cfg.Batch.PacingFloor = 0
	return &cfg
}

func TestRun_BatchesWithIsolatedFailure(t *testing.T) {
	env := newEnv(t, nil)
	items := makeItems(25)
	env.seed(t, items)
	env.proc.failOn["7"] = errors.New("unexpected provider state")

	sum, err := env.runner.Run(context.Background(), items, runConfig(), "manual_20240101_120000", models.JobManual, false)
	require.NoError(t, err)

	assert.Equal(t, []int{10, 10, 5}, sum.Batches)
	assert.Equal(t, 25, sum.Total)
	assert.Equal(t, 25, sum.Processed)
	assert.Equal(t, 24, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 24, sum.Committed)
	assert.Len(t, env.proc.seen, 25)
	assert.Equal(t, "1", env.proc.seen[0])
	assert.Equal(t, "25", env.proc.seen[24])

	for _, it := range items {
		want := 77
		if it.ID == "7" {
			want = 0
		}
		assert.Equal(t, want, env.score(t, it.ID), "item %s", it.ID)
	}

	entries, err := env.store.List(context.Background(), storage.LogQuery{ItemID: "7"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OperationError, entries[0].Operation)
	assert.Contains(t, entries[0].Error, "unexpected provider state")

	// One pacing sleep between consecutive items, 60s / 60 rpm each
	require.Len(t, env.sleeps, 24)
	assert.Equal(t, time.Second, env.sleeps[0])
}

func TestRun_PanicIsIsolated(t *testing.T) {
	env := newEnv(t, nil)
	items := makeItems(3)
	env.seed(t, items)
	env.proc.panicOn["2"] = true

	sum, err := env.runner.Run(context.Background(), items, runConfig(), "b", models.JobManual, false)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 77, env.score(t, "1"))
	assert.Equal(t, 0, env.score(t, "2"))
	assert.Equal(t, 77, env.score(t, "3"))
}

func TestRun_PersistenceErrorNotAuditedTwice(t *testing.T) {
	env := newEnv(t, nil)
	items := makeItems(2)
	env.seed(t, items)
	env.proc.failOn["1"] = utils.ErrPersistence

	sum, err := env.runner.Run(context.Background(), items, runConfig(), "b", models.JobManual, false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	entries, err := env.store.List(context.Background(), storage.LogQuery{ItemID: "1"})
	require.NoError(t, err)
	assert.Empty(t, entries, "the orchestrator owns the audit entry for persistence failures")
}

func TestRun_CommitsPerBatch(t *testing.T) {
	env := newEnv(t, nil)
	items := makeItems(12)
	env.seed(t, items)
	observed := map[string]int{}
	env.proc.onItem = func(item models.CatalogItem) {
		if item.ID == "5" || item.ID == "11" {
			observed[item.ID] = env.score(t, "1")
		}
	}

	_, err := env.runner.Run(context.Background(), items, runConfig(), "b", models.JobManual, false)
	require.NoError(t, err)
	assert.Equal(t, 0, observed["5"], "first batch not committed yet")
	assert.Equal(t, 77, observed["11"], "first batch committed before the second starts")
}

func TestRun_CommitsPerItem(t *testing.T) {
	env := newEnv(t, nil)
	items := makeItems(3)
	env.seed(t, items)
	var observed int
	env.proc.onItem = func(item models.CatalogItem) {
		if item.ID == "2" {
			observed = env.score(t, "1")
		}
	}
	cfg := runConfig()
	cfg.Batch.CommitMode = config.CommitItem

	sum, err := env.runner.Run(context.Background(), items, cfg, "b", models.JobManual, false)
	require.NoError(t, err)
	assert.Equal(t, 77, observed)
	assert.Equal(t, 3, sum.Committed)
}

func TestRun_CommitFailureIsRecorded(t *testing.T) {
	env := newEnv(t, nil)
	items := makeItems(2)
	env.seed(t, items)
	env.proc.writeTo["1"] = "ghost"

	sum, err := env.runner.Run(context.Background(), items, runConfig(), "batch-x", models.JobManual, false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 0, sum.Succeeded)
	assert.Equal(t, 2, sum.Failed)
	assert.Zero(t, sum.Committed)

	entries, err := env.store.List(context.Background(), storage.LogQuery{BatchID: "batch-x"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	got := map[string]models.LogEntry{}
	for _, e := range entries {
		got[e.ItemID] = e
	}
	require.Contains(t, got, "1", "the write to another id is charged to the item that staged it")
	require.Contains(t, got, "2")
	for _, e := range got {
		assert.Equal(t, models.OperationError, e.Operation)
		assert.Equal(t, models.StatusFailed, e.Status)
		assert.Contains(t, e.Error, "ghost")
	}
	assert.Equal(t, "Item 1", got["1"].ItemName)
	assert.Zero(t, env.score(t, "2"), "nothing of the batch is committed")
}

// readOnlyAttachments is a catalog whose attachment writes always fail
type readOnlyAttachments struct {
	*storage.BadgerStore
}

func (readOnlyAttachments) CreateAttachment(context.Context, *models.Attachment, []byte) error {
	return errors.New("attachment storage is read-only")
}

type stubImages struct{ n int }

func (s *stubImages) Source() models.ImageSource { return models.SourceMarketplace }
func (s *stubImages) Configured() error          { return nil }
func (s *stubImages) SearchImages(context.Context, providers.Query) ([]models.Candidate, error) {
	s.n++
	return []models.Candidate{{URL: "https://img.example/" + strconv.Itoa(s.n) + ".jpg", Source: models.SourceMarketplace}}, nil
}

type stubValidator struct{}

func (stubValidator) FetchAndValidate(_ context.Context, url string, src models.ImageSource) (*models.ValidatedImage, error) {
	data := []byte("bytes:" + url)
	return &models.ValidatedImage{
		Data: data, Width: 1024, Height: 768, Format: "jpeg", MimeType: "image/jpeg",
		Size: int64(len(data)), Score: 60, Source: src, URL: url,
	}, nil
}

func TestRun_CommitFailureSupersedesItemOutcomes(t *testing.T) {
	store, err := storage.NewBadgerStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()
	items := makeItems(3)
	_, err = store.PutItems(ctx, items)
	require.NoError(t, err)

	factory := func(_ context.Context, cfg *config.FetchConfig, catalog storage.CatalogWriter) (*Pipeline, error) {
		synth, err := describe.New(cfg.Description)
		if err != nil {
			return nil, err
		}
		return &Pipeline{Processor: enrich.New(enrich.Deps{
			Images:      []providers.ImageSearcher{&stubImages{}},
			Validator:   stubValidator{},
			Synthesizer: synth,
			Catalog:     catalog,
			Logs:        store,
			Config:      cfg,
			Log:         testLogger(),
		})}, nil
	}
	r := New(readOnlyAttachments{store}, store, store, factory, testLogger()).
		WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })

	cfg := runConfig()
	cfg.Description.AutoGenerate = false
	sum, err := r.Run(ctx, items, cfg, "batch-ro", models.JobManual, false)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 0, sum.Succeeded)
	assert.Equal(t, 3, sum.Failed)
	assert.Equal(t, 1, sum.Errors)
	assert.Zero(t, sum.Committed)

	for _, it := range items {
		entries, err := store.List(ctx, storage.LogQuery{ItemID: it.ID})
		require.NoError(t, err)
		require.Len(t, entries, 2, "item %s", it.ID)
		assert.Equal(t, models.StatusFailed, entries[0].Status, "latest entry of item %s", it.ID)
		assert.Equal(t, models.OperationError, entries[0].Operation)
		assert.Contains(t, entries[0].Error, "read-only")
		assert.Equal(t, models.StatusSuccess, entries[1].Status)

		saved, err := store.GetItems(ctx, []string{it.ID})
		require.NoError(t, err)
		require.Len(t, saved, 1)
		assert.Empty(t, saved[0].ImageAttachmentID)
	}

	ids, err := FailedItemIDs(ctx, store)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, ids)
}

func TestRun_StopsWhenBudgetExhausted(t *testing.T) {
	env := newEnv(t, nil)
	items := makeItems(6)
	env.seed(t, items)
	env.proc.budget = fetch.NewRequestBudget(3)

	sum, err := env.runner.Run(context.Background(), items, runConfig(), "b", models.JobManual, false)
	require.NoError(t, err)
	assert.True(t, sum.BudgetExhausted)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, []string{"1", "2", "3"}, env.proc.seen)
	assert.Equal(t, 77, env.score(t, "3"), "work before the stop is committed")
}

func TestRun_CancelKeepsFinishedWork(t *testing.T) {
	env := newEnv(t, nil)
	items := makeItems(8)
	env.seed(t, items)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.proc.onItem = func(item models.CatalogItem) {
		if item.ID == "4" {
			cancel()
		}
	}

	sum, err := env.runner.Run(ctx, items, runConfig(), "b", models.JobManual, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, sum.Aborted)
	assert.Equal(t, 4, sum.Processed)
	assert.Equal(t, 77, env.score(t, "4"))
	assert.Equal(t, 0, env.score(t, "5"))
}

func TestRun_RejectsConcurrentRuns(t *testing.T) {
	env := newEnv(t, nil)
	items := makeItems(1)
	env.seed(t, items)
	var nestedErr error
	env.proc.onItem = func(models.CatalogItem) {
		_, nestedErr = env.runner.ProcessItems(context.Background(), []string{"1"}, false, models.JobManual)
	}

	_, err := env.runner.Run(context.Background(), items, runConfig(), "b", models.JobManual, false)
	require.NoError(t, err)
	assert.ErrorIs(t, nestedErr, ErrBusy)
}

func TestNewBatchID(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 2, 0, time.UTC)
	assert.Equal(t, "scheduled_20240309_070502", NewBatchID(models.JobScheduled, ts))
	assert.Equal(t, "manual_20240309_070502", NewBatchID(models.JobManual, ts))
}

func TestRunScheduledScan(t *testing.T) {
	seed := runConfig()
	seed.Logging.RetentionDays = 30
	env := newEnv(t, seed)
	env.seed(t, []models.CatalogItem{
		{ID: "1", Name: "needs image", SaleOK: true},
		{ID: "2", Name: "has image", SaleOK: true, ImageAttachmentID: "a"},
		{ID: "3", Name: "not for sale"},
		{ID: "4", Name: "needs image too", SaleOK: true},
	})
	ctx := context.Background()
	old := &models.LogEntry{ItemID: "9", Status: models.StatusInfo, Timestamp: time.Now().UTC().AddDate(0, 0, -90)}
	require.NoError(t, env.store.Append(ctx, old))

	sum, err := env.runner.RunScheduledScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "4"}, env.proc.seen)
	assert.Equal(t, models.JobScheduled, sum.JobType)
	assert.Regexp(t, `^scheduled_\d{8}_\d{6}$`, sum.BatchID)
	assert.Equal(t, models.JobScheduled, env.proc.contexts[0].JobType)
	assert.False(t, env.proc.contexts[0].ForceUpdate)

	entries, err := env.store.List(ctx, storage.LogQuery{ItemID: "9"})
	require.NoError(t, err)
	assert.Empty(t, entries, "old entries pruned after the scan")
}

func TestRunScheduledScan_Inactive(t *testing.T) {
	for name, mutate := range map[string]func(*config.FetchConfig){
		"disabled":      func(c *config.FetchConfig) { c.Enabled = false },
		"cron inactive": func(c *config.FetchConfig) { c.Schedule.CronActive = false },
	} {
		t.Run(name, func(t *testing.T) {
			seed := runConfig()
			mutate(seed)
			env := newEnv(t, seed)
			env.seed(t, makeItems(2))

			sum, err := env.runner.RunScheduledScan(context.Background())
			require.NoError(t, err)
			assert.Zero(t, sum.Processed)
			assert.Empty(t, env.proc.seen)
		})
	}
}

func TestRunBackfill_TestModeCap(t *testing.T) {
	seed := runConfig()
	seed.Mode.TestMode = true
	seed.Mode.TestProductLimit = 2
	env := newEnv(t, seed)
	items := makeItems(5)
	items[1].ImageAttachmentID = "has-one"
	env.seed(t, items)

	sum, err := env.runner.RunBackfill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, env.proc.seen, "backfill includes items that already have images")
	assert.Equal(t, models.JobBackfill, sum.JobType)
}

func TestProcessItems(t *testing.T) {
	env := newEnv(t, runConfig())
	env.seed(t, makeItems(5))

	sum, err := env.runner.ProcessItems(context.Background(), []string{"4", "missing", "2", "4"}, true, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "2"}, env.proc.seen)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, models.JobManual, env.proc.contexts[0].JobType)
	assert.True(t, env.proc.contexts[0].ForceUpdate)
}

type brokenConfigs struct{}

func (brokenConfigs) GetActive(context.Context) (*config.FetchConfig, error) {
	return nil, errors.New("config table missing")
}
func (brokenConfigs) SaveActive(context.Context, *config.FetchConfig) error { return nil }

func TestProcessItems_NoConfigIsCatastrophic(t *testing.T) {
	env := newEnv(t, nil)
	env.seed(t, makeItems(2))
	env.runner.configs = brokenConfigs{}

	_, err := env.runner.ProcessItems(context.Background(), []string{"1", "2"}, false, models.JobManual)
	assert.ErrorIs(t, err, utils.ErrNoActiveConfig)
	assert.Empty(t, env.proc.seen)

	entries, err := env.store.List(context.Background(), storage.LogQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OperationError, entries[0].Operation)
	assert.Empty(t, entries[0].ItemID)
	assert.Contains(t, entries[0].Error, "config table missing")
}

func TestRetryFailed(t *testing.T) {
	env := newEnv(t, runConfig())
	env.seed(t, makeItems(3))
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i, e := range []models.LogEntry{
		{ItemID: "1", Status: models.StatusFailed},
		{ItemID: "2", Status: models.StatusFailed},
		{ItemID: "1", Status: models.StatusSuccess},
		{ItemID: "3", Status: models.StatusWarning},
	} {
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, env.store.Append(ctx, &e))
	}

	ids, err := FailedItemIDs(ctx, env.store)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids)

	_, err = env.runner.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, env.proc.seen)
	assert.True(t, env.proc.contexts[0].ForceUpdate)
}
