// Package enrich drives one catalog item through provider search, image
// validation and description synthesis, then persists the result and writes
// exactly one audit entry.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/imaging"
	"github.com/trionica/catalog-enricher/pkg/metrics"
	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/providers"
	"github.com/trionica/catalog-enricher/pkg/storage"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

// Snippets beyond this many are ignored by synthesis
const maxSnippets = 3

// ImageValidator downloads and checks one candidate
type ImageValidator interface {
	FetchAndValidate(ctx context.Context, url string, source models.ImageSource) (*models.ValidatedImage, error)
}

// DescriptionSynthesizer turns snippets into a description
type DescriptionSynthesizer interface {
	Synthesize(snippets []string, name string) (string, bool)
}

// ItemReader re-reads an item right before it is processed
type ItemReader interface {
	GetItems(ctx context.Context, ids []string) ([]models.CatalogItem, error)
}

// RunContext identifies the run an item is processed in
type RunContext struct {
	BatchID     string
	JobType     models.JobType
	ForceUpdate bool
}

// Outcome is the terminal state of one item
type Outcome struct {
	ItemID          string
	Operation       models.OperationType
	Status          models.LogStatus
	Message         string
	ErrorDetail     string
	Image           *models.ValidatedImage
	AttachmentID    string
	Description     string
	Fields          []models.DescriptionField
	BudgetExhausted bool
	Entry           models.LogEntry
}

// Deps are the collaborators of an Orchestrator. Images is in fallback order.
type Deps struct {
	Images      []providers.ImageSearcher
	Text        providers.TextSearcher // nil disables description search
	Validator   ImageValidator
	Synthesizer DescriptionSynthesizer
	Catalog     storage.CatalogWriter
	Items       ItemReader // nil uses Catalog when it can read items
	Logs        storage.LogStore
	Config      *config.FetchConfig
	Policy      DescriptionPolicy // nil uses the configured policy
	Now         func() time.Time
	Log         *logrus.Entry
}

// Orchestrator processes items one at a time. It is not safe for
// concurrent use with the same staged catalog.
type Orchestrator struct {
	images    []providers.ImageSearcher
	text      providers.TextSearcher
	validator ImageValidator
	synth     DescriptionSynthesizer
	catalog   storage.CatalogWriter
	items     ItemReader
	logs      storage.LogStore
	cfg       *config.FetchConfig
	policy    DescriptionPolicy
	fields    []models.DescriptionField
	now       func() time.Time
	log       *logrus.Entry
}

// New creates an Orchestrator
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		images:    d.Images,
		text:      d.Text,
		validator: d.Validator,
		synth:     d.Synthesizer,
		catalog:   d.Catalog,
		items:     d.Items,
		logs:      d.Logs,
		cfg:       d.Config,
		policy:    d.Policy,
		fields:    ParseFields(d.Config.Description.Fields),
		now:       d.Now,
		log:       d.Log,
	}
	if o.policy == nil {
		o.policy = PolicyFor(d.Config.Description.Policy)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.items == nil {
		if r, ok := d.Catalog.(ItemReader); ok {
			o.items = r
		}
	}
	return o
}

func (o *Orchestrator) needsImage(item models.CatalogItem, force bool) bool {
	if !item.HasImage() {
		return true
	}
	return (force || o.cfg.Mode.ForceUpdate) && !o.cfg.Mode.SkipProductsWithImages
}

// Process runs item to a terminal state. The item is re-read first so the
// decisions use its current values, not the snapshot the run started with.
// The returned error is non-nil only when the context ends or persistence
// fails; every other problem is reported through the Outcome and its audit
// entry.
func (o *Orchestrator) Process(ctx context.Context, item models.CatalogItem, rc RunContext) (Outcome, error) {
	start := o.now()
	itemLog := o.log.WithFields(logrus.Fields{"item_id": item.ID, "batch_id": rc.BatchID})
	out := Outcome{ItemID: item.ID}

	if o.items != nil {
		current, err := o.items.GetItems(ctx, []string{item.ID})
		switch {
		case ctx.Err() != nil:
			return out, ctx.Err()
		case err != nil:
			itemLog.Warnf("Failed to re-read item, using the loaded copy: %v", err)
		case len(current) == 0:
			itemLog.Warn("Skipping item: no longer in the catalog")
			out.Operation, out.Status = models.OperationSkip, models.StatusWarning
			out.Message = "Item no longer exists in the catalog"
			return o.finish(ctx, item, rc, start, out), nil
		default:
			item = current[0]
		}
	}

	needImage := o.needsImage(item, rc.ForceUpdate)
	var descFields []models.DescriptionField
	if o.cfg.Description.AutoGenerate {
		descFields = o.policy(item, o.fields)
	}

	if !needImage && len(descFields) == 0 {
		itemLog.Debug("Skipping item: image and description already present")
		out.Operation, out.Status = models.OperationSkip, models.StatusInfo
		out.Message = "Item already has an image and description"
		return o.finish(ctx, item, rc, start, out), nil
	}

	q := providers.BuildQuery(item)
	if q.IsBlind() {
		itemLog.Warn("Skipping item: no keywords or identifiers to search with")
		out.Operation, out.Status = models.OperationSkip, models.StatusWarning
		out.Message = "Item has no name, keywords or identifiers to search with"
		return o.finish(ctx, item, rc, start, out), nil
	}

	var searchers []providers.ImageSearcher
	if needImage {
		searchers = o.usableImageProviders(itemLog)
	}
	var text providers.TextSearcher
	if len(descFields) > 0 && o.text != nil {
		if err := o.text.Configured(); err != nil {
			itemLog.Debugf("Description search unavailable: %v", err)
		} else {
			text = o.text
		}
	}
	if len(searchers) == 0 && text == nil {
		itemLog.Warn("Skipping item: no usable provider configured")
		out.Operation, out.Status = models.OperationSkip, models.StatusWarning
		out.Message = "No usable provider configured for the missing image or description"
		return o.finish(ctx, item, rc, start, out), nil
	}

	var reasons []string
	var img *models.ValidatedImage
	budgetHit := false
	if needImage {
		if len(searchers) == 0 {
			reasons = append(reasons, "image: no image provider configured")
		} else {
			var imgReasons []string
			var err error
			img, imgReasons, budgetHit, err = o.findImage(ctx, q, searchers, itemLog)
			if err != nil {
				return out, err
			}
			if img == nil {
				reasons = append(reasons, "image: "+strings.Join(imgReasons, "; "))
			}
		}
	}

	var desc string
	if len(descFields) > 0 {
		switch {
		case text == nil:
			reasons = append(reasons, "description: web search provider not configured")
		case budgetHit:
			reasons = append(reasons, "description: request budget exhausted")
		default:
			var hit bool
			var err error
			desc, hit, err = o.describe(ctx, q, item, text, itemLog)
			if err != nil {
				return out, err
			}
			budgetHit = budgetHit || hit
			if desc == "" {
				reasons = append(reasons, "description: no usable snippets")
			}
		}
	}

	out.Image = img
	out.Description = desc
	if desc != "" {
		out.Fields = descFields
	}
	out.BudgetExhausted = budgetHit
	dryRun := o.cfg.Mode.TestMode

	if img == nil && desc == "" {
		out.Operation = models.OperationFetch
		out.ErrorDetail = strings.Join(reasons, "; ")
		if budgetHit {
			// Not the item's fault; leave the attempt counter alone
			out.Status = models.StatusWarning
			out.Message = "Request budget exhausted before a result was found"
			return o.finish(ctx, item, rc, start, out), nil
		}
		out.Status = models.StatusFailed
		out.Message = "No suitable image or description found"
		if !dryRun {
			now := o.now().UTC()
			attempts := item.FetchAttempts + 1
			upd := models.ItemUpdate{LastFetchAt: &now, FetchAttempts: &attempts}
			if err := o.catalog.UpdateItem(ctx, item.ID, upd); err != nil {
				return o.persistFailed(ctx, item, rc, start, out, err)
			}
		}
		return o.finish(ctx, item, rc, start, out), nil
	}

	partial := (needImage && img == nil) || (len(descFields) > 0 && desc == "")
	out.Status = models.StatusSuccess
	if partial {
		out.Status = models.StatusWarning
		out.ErrorDetail = strings.Join(reasons, "; ")
	}

	if dryRun {
		out.Operation = models.OperationFetch
		out.Message = "Dry run: would persist " + describeChanges(img, desc, out.Fields)
		itemLog.Info(out.Message)
		return o.finish(ctx, item, rc, start, out), nil
	}

	op, attID, err := o.persist(ctx, item, img, desc, out.Fields)
	if err != nil {
		return o.persistFailed(ctx, item, rc, start, out, err)
	}
	out.Operation = op
	out.AttachmentID = attID
	switch {
	case op == models.OperationDedup && desc != "":
		out.Message = "Linked existing image and saved " + describeChanges(nil, desc, out.Fields)
	case op == models.OperationDedup:
		out.Message = "Linked existing image " + attID
	default:
		out.Message = "Saved " + describeChanges(img, desc, out.Fields)
	}
	return o.finish(ctx, item, rc, start, out), nil
}

func (o *Orchestrator) usableImageProviders(log *logrus.Entry) []providers.ImageSearcher {
	var out []providers.ImageSearcher
	for _, p := range o.images {
		if err := p.Configured(); err != nil {
			log.WithField("provider", p.Source().String()).Debugf("Provider skipped: %v", err)
			continue
		}
		out = append(out, p)
	}
	return out
}

// findImage walks providers in order and returns the first candidate that
// validates. The bool reports that the request budget ran out.
func (o *Orchestrator) findImage(ctx context.Context, q providers.Query, searchers []providers.ImageSearcher, log *logrus.Entry) (*models.ValidatedImage, []string, bool, error) {
	var reasons []string
	for _, p := range searchers {
		src := p.Source()
		provLog := log.WithField("provider", src.String())

		cands, err := p.SearchImages(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, reasons, false, ctx.Err()
			}
			if errors.Is(err, utils.ErrBudgetExhausted) {
				provLog.Warn("Request budget exhausted, stopping provider search")
				return nil, append(reasons, "request budget exhausted"), true, nil
			}
			provLog.Warnf("Provider failed: %v", err)
			reasons = append(reasons, fmt.Sprintf("%s: %s", src, utils.CategorizeError(err)))
			continue
		}
		if len(cands) == 0 {
			provLog.Debug("Provider returned no candidates")
			reasons = append(reasons, fmt.Sprintf("%s: no candidates", src))
			continue
		}

		var rejected []string
		for _, c := range cands {
			candSrc := c.Source
			if candSrc == models.SourceNone {
				candSrc = src
			}
			img, err := o.validator.FetchAndValidate(ctx, c.URL, candSrc)
			if err == nil {
				provLog.WithField("url", c.URL).Infof("Accepted image %s (score %d)", img.Dimensions(), img.Score)
				return img, reasons, false, nil
			}
			if ctx.Err() != nil {
				return nil, reasons, false, ctx.Err()
			}
			var rej *imaging.Rejection
			if errors.As(err, &rej) {
				rejected = appendUnique(rejected, rej.Reason.String())
			} else {
				rejected = appendUnique(rejected, utils.CategorizeError(err))
			}
		}
		reasons = append(reasons, fmt.Sprintf("%s: %d candidates rejected (%s)", src, len(cands), strings.Join(rejected, ", ")))
	}
	return nil, reasons, false, nil
}

// describe searches web snippets and synthesizes a description. The bool
// reports that the request budget ran out.
func (o *Orchestrator) describe(ctx context.Context, q providers.Query, item models.CatalogItem, text providers.TextSearcher, log *logrus.Entry) (string, bool, error) {
	snippets, err := text.SearchText(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		if errors.Is(err, utils.ErrBudgetExhausted) {
			return "", true, nil
		}
		log.Warnf("Description search failed: %v", err)
		snippets = nil
	}

	texts := make([]string, 0, maxSnippets)
	for _, s := range snippets {
		if len(texts) == maxSnippets {
			break
		}
		texts = append(texts, s.Text)
	}
	desc, ok := o.synth.Synthesize(texts, item.Name)
	if !ok {
		return "", false, nil
	}
	return desc, false, nil
}

// persist is the single write path for a successful outcome
func (o *Orchestrator) persist(ctx context.Context, item models.CatalogItem, img *models.ValidatedImage, desc string, fields []models.DescriptionField) (models.OperationType, string, error) {
	now := o.now().UTC()
	upd := models.ItemUpdate{LastFetchAt: &now}
	op := models.OperationUpdate
	var attID string

	if img != nil {
		checksum := utils.ContentSHA256(img.Data)
		var existing *models.Attachment
		found := false
		if o.cfg.Mode.EnableDeduplication {
			var err error
			existing, found, err = o.catalog.FindAttachmentByChecksum(ctx, checksum)
			if err != nil {
				return "", "", err
			}
		}
		if found {
			attID = existing.ID
			op = models.OperationDedup
		} else {
			att := &models.Attachment{
				ItemID:    item.ID,
				Name:      utils.AttachmentFilename(item.Name, img.Format),
				MimeType:  img.MimeType,
				Checksum:  checksum,
				Size:      img.Size,
				Width:     img.Width,
				Height:    img.Height,
				Source:    img.Source,
				SourceURL: img.URL,
			}
			if err := o.catalog.CreateAttachment(ctx, att, img.Data); err != nil {
				return "", "", err
			}
			attID = att.ID
		}
		source, score := img.Source, img.Score
		upd.ImageAttachmentID = &attID
		upd.LastSource = &source
		upd.QualityScore = &score
	}

	for _, f := range fields {
		upd.SetDescription(f, desc)
	}
	if err := o.catalog.UpdateItem(ctx, item.ID, upd); err != nil {
		return "", "", err
	}
	return op, attID, nil
}

func (o *Orchestrator) persistFailed(ctx context.Context, item models.CatalogItem, rc RunContext, start time.Time, out Outcome, err error) (Outcome, error) {
	o.log.WithFields(logrus.Fields{"item_id": item.ID, "batch_id": rc.BatchID}).Errorf("Failed to persist item changes: %v", err)
	out.Operation = models.OperationError
	out.Status = models.StatusFailed
	out.Message = "Failed to persist item changes"
	out.ErrorDetail = err.Error()
	out.AttachmentID = ""
	out = o.finish(ctx, item, rc, start, out)
	return out, fmt.Errorf("%w: item '%s': %w", utils.ErrPersistence, item.ID, err)
}

// finish writes the single audit entry for the outcome
func (o *Orchestrator) finish(ctx context.Context, item models.CatalogItem, rc RunContext, start time.Time, out Outcome) Outcome {
	e := models.LogEntry{
		Timestamp: o.now().UTC(),
		BatchID:   rc.BatchID,
		JobType:   rc.JobType,
		Operation: out.Operation,
		Status:    out.Status,
		Message:   out.Message,
		Error:     out.ErrorDetail,
	}
	e.ForItem(item)
	if out.Image != nil && out.Status != models.StatusFailed {
		e.ImageSource = out.Image.Source
		e.ImageURL = out.Image.URL
		e.ImageSize = out.Image.Dimensions()
		e.ImageFormat = out.Image.Format
		e.FileSizeKB = math.Round(float64(out.Image.Size)/1024*100) / 100
		e.QualityScore = out.Image.Score
	}
	if out.Description != "" && out.Status != models.StatusFailed {
		e.DescriptionLength = utf8.RuneCountInString(out.Description)
	}
	e.ElapsedMS = o.now().Sub(start).Milliseconds()

	if err := o.logs.Append(ctx, &e); err != nil {
		o.log.WithField("item_id", item.ID).Errorf("Failed to append audit entry: %v", err)
	}
	metrics.ItemsProcessed.WithLabelValues(rc.JobType.String(), e.Status.String()).Inc()
	out.Entry = e
	return out
}

func describeChanges(img *models.ValidatedImage, desc string, fields []models.DescriptionField) string {
	var parts []string
	if img != nil {
		parts = append(parts, fmt.Sprintf("image from %s (%s, %s, score %d)", img.Source, img.Dimensions(), img.Format, img.Score))
	}
	if desc != "" {
		names := make([]string, len(fields))
		for i, f := range fields {
			names[i] = string(f)
		}
		parts = append(parts, fmt.Sprintf("description (%d chars) to %s", utf8.RuneCountInString(desc), strings.Join(names, ", ")))
	}
	if len(parts) == 0 {
		return "nothing"
	}
	return strings.Join(parts, " and ")
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
