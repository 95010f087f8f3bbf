package storage

import (
	"context"
	"time"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/models"
)

// ItemFilter narrows FindItems. Zero value matches every item.
type ItemFilter struct {
	MissingImageOnly bool
	SaleOKOnly       bool
	IDs              []string // Restrict to these ids
	Limit            int      // 0 = no limit
}

// Matches reports whether item passes the filter (Limit is not considered)
func (f ItemFilter) Matches(item models.CatalogItem) bool {
	if f.MissingImageOnly && item.HasImage() {
		return false
	}
	if f.SaleOKOnly && !item.SaleOK {
		return false
	}
	if len(f.IDs) > 0 {
		for _, id := range f.IDs {
			if id == item.ID {
				return true
			}
		}
		return false
	}
	return true
}

// CatalogReader reads catalog items
type CatalogReader interface {
	// FindItems returns matching items in catalog order
	FindItems(ctx context.Context, filter ItemFilter) ([]models.CatalogItem, error)

	// GetItems returns the items for ids in the order requested; unknown ids are skipped
	GetItems(ctx context.Context, ids []string) ([]models.CatalogItem, error)
}

// CatalogWriter mutates catalog items and attachments
type CatalogWriter interface {
	// UpdateItem applies the non-nil fields of upd inside one transaction;
	// description fields that already hold text are left alone.
	// Returns ErrNotFound for unknown ids.
	UpdateItem(ctx context.Context, id string, upd models.ItemUpdate) error

	// CreateAttachment stores att and, when data is non-nil, the image bytes.
	// An empty att.ID is filled in before return.
	CreateAttachment(ctx context.Context, att *models.Attachment, data []byte) error

	// FindAttachmentByChecksum looks up an existing attachment with identical bytes
	FindAttachmentByChecksum(ctx context.Context, checksum string) (*models.Attachment, bool, error)
}

// CatalogStore is the full catalog collaborator
type CatalogStore interface {
	CatalogReader
	CatalogWriter

	// PutItems inserts or replaces items (catalog import)
	PutItems(ctx context.Context, items []models.CatalogItem) (int, error)
}

// ConfigStore holds the single active fetch configuration
type ConfigStore interface {
	// GetActive returns the active record, creating it from defaults if none exists
	GetActive(ctx context.Context) (*config.FetchConfig, error)

	// SaveActive replaces the active record
	SaveActive(ctx context.Context, cfg *config.FetchConfig) error
}

// LogQuery filters List. Results are newest first.
type LogQuery struct {
	ItemID  string
	BatchID string
	Status  models.LogStatus
	Since   time.Time
	Limit   int
}

// Matches reports whether e passes the query filters
func (q LogQuery) Matches(e models.LogEntry) bool {
	if q.ItemID != "" && e.ItemID != q.ItemID {
		return false
	}
	if q.BatchID != "" && e.BatchID != q.BatchID {
		return false
	}
	if q.Status != models.StatusUnset && e.Status != q.Status {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	return true
}

// LogStore is the append-only audit trail
type LogStore interface {
	// Append stores e, assigning ID and Timestamp when unset
	Append(ctx context.Context, e *models.LogEntry) error

	// PruneOlderThan deletes entries older than days and returns how many were removed
	PruneOlderThan(ctx context.Context, days int) (int, error)

	// List returns entries matching q, newest first
	List(ctx context.Context, q LogQuery) ([]models.LogEntry, error)
}

// BlobStore holds image bytes keyed by content checksum
type BlobStore interface {
	PutBlob(ctx context.Context, key string, data []byte, contentType string) error
	GetBlob(ctx context.Context, key string) ([]byte, error)
	HasBlob(ctx context.Context, key string) (bool, error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}
