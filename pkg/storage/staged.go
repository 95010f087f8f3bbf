package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

type stagedOp struct {
	owner  string // Item being processed when the write was staged
	itemID string
	update *models.ItemUpdate
	att    *models.Attachment
	data   []byte
}

// StagedCatalog buffers writes until Flush so a batch commits as a unit.
// Checkpoint/RollbackTo discard the writes of a single failed item.
type StagedCatalog struct {
	mu      sync.Mutex
	backing CatalogWriter
	ops     []stagedOp
	owner   string
}

// NewStagedCatalog stages writes destined for backing
func NewStagedCatalog(backing CatalogWriter) *StagedCatalog {
	return &StagedCatalog{backing: backing}
}

// UpdateItem stages an item update
func (s *StagedCatalog) UpdateItem(_ context.Context, id string, upd models.ItemUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := upd
	s.ops = append(s.ops, stagedOp{owner: s.ownerFor(id), itemID: id, update: &u})
	return nil
}

// CreateAttachment stages an attachment; the id is assigned immediately so
// it can be referenced by a staged item update.
func (s *StagedCatalog) CreateAttachment(_ context.Context, att *models.Attachment, data []byte) error {
	if att.ID == "" {
		att.ID = uuid.New().String()
	}
	if att.Checksum == "" && data != nil {
		att.Checksum = utils.ContentSHA256(data)
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *att
	s.ops = append(s.ops, stagedOp{owner: s.ownerFor(att.ItemID), itemID: att.ItemID, att: &copied, data: data})
	return nil
}

// FindAttachmentByChecksum sees staged attachments before the backing store
func (s *StagedCatalog) FindAttachmentByChecksum(ctx context.Context, checksum string) (*models.Attachment, bool, error) {
	s.mu.Lock()
	for _, op := range s.ops {
		if op.att != nil && op.att.Checksum == checksum {
			found := *op.att
			s.mu.Unlock()
			return &found, true, nil
		}
	}
	s.mu.Unlock()
	return s.backing.FindAttachmentByChecksum(ctx, checksum)
}

// Track attributes the writes staged from now on to itemID
func (s *StagedCatalog) Track(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = itemID
}

func (s *StagedCatalog) ownerFor(itemID string) string {
	if s.owner != "" {
		return s.owner
	}
	return itemID
}

// GetItems reads through to the backing catalog and overlays the staged
// updates, so an item is seen as it will be once the batch commits.
func (s *StagedCatalog) GetItems(ctx context.Context, ids []string) ([]models.CatalogItem, error) {
	reader, ok := s.backing.(CatalogReader)
	if !ok {
		return nil, fmt.Errorf("%w: staged catalog has no readable backing store", utils.ErrDatabase)
	}
	items, err := reader.GetItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range items {
		for _, op := range s.ops {
			if op.update != nil && op.itemID == items[i].ID {
				op.update.Apply(&items[i])
			}
		}
	}
	return items, nil
}

// Checkpoint marks the current position for RollbackTo
func (s *StagedCatalog) Checkpoint() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

// RollbackTo discards everything staged after checkpoint
func (s *StagedCatalog) RollbackTo(checkpoint int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if checkpoint >= 0 && checkpoint < len(s.ops) {
		s.ops = s.ops[:checkpoint]
	}
}

// Pending returns the number of staged writes
func (s *StagedCatalog) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

// PendingItemIDs lists the items that own staged writes, in staging order
func (s *StagedCatalog) PendingItemIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for _, op := range s.ops {
		if op.owner != "" && !seen[op.owner] {
			seen[op.owner] = true
			ids = append(ids, op.owner)
		}
	}
	return ids
}

// Flush applies the staged writes in order. On failure the unapplied
// writes stay staged and the error names the item that failed.
func (s *StagedCatalog) Flush(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, op := range s.ops {
		var err error
		switch {
		case op.att != nil:
			att := *op.att
			err = s.backing.CreateAttachment(ctx, &att, op.data)
		case op.update != nil:
			err = s.backing.UpdateItem(ctx, op.itemID, *op.update)
		}
		if err != nil {
			s.ops = s.ops[applied:]
			return applied, fmt.Errorf("%w: item '%s': %w", utils.ErrPersistence, op.itemID, err)
		}
		applied++
	}
	s.ops = nil
	return applied, nil
}
