package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/log"
	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

const (
	itemKeyPrefix     = "item:"   // JSON CatalogItem by id
	attachmentPrefix  = "att:"    // JSON Attachment by id
	checksumKeyPrefix = "attsum:" // Attachment id by content checksum
	blobKeyPrefix     = "blob:"   // Raw image bytes by checksum
	logKeyPrefix      = "log:"    // JSON LogEntry by ULID, time ordered
	activeConfigKey   = "config:active"
	catalogDBDir      = "catalog_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore is the embedded backend: catalog, configuration, audit log and blobs
type BadgerStore struct {
	db    *badger.DB
	log   *logrus.Entry
	blobs BlobStore // Defaults to the store itself
	seed  *config.FetchConfig
}

// NewBadgerStore opens (or creates) the database under stateDir
func NewBadgerStore(stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, catalogDBDir)
	logger.Infof("Initializing catalog database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}

	badgerLogger := log.NewBadgerLogger(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", dbPath, err)
	}

	store := &BadgerStore{db: db, log: logger}
	store.blobs = store
	logger.Info("Catalog database initialized successfully.")
	return store, nil
}

// WithBlobStore sends image bytes to an external blob store
func (s *BadgerStore) WithBlobStore(b BlobStore) *BadgerStore {
	if b != nil {
		s.blobs = b
	}
	return s
}

// WithConfigSeed sets the record GetActive creates when none exists.
// Without a seed the built-in defaults are used.
func (s *BadgerStore) WithConfigSeed(seed *config.FetchConfig) *BadgerStore {
	s.seed = seed
	return s
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func getJSON(txn *badger.Txn, key string, dst any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if errJson := json.Unmarshal(val, dst); errJson != nil {
			return fmt.Errorf("%w: JSON decode of '%s': %v", utils.ErrParsing, key, errJson)
		}
		return nil
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: JSON encode of '%s': %v", utils.ErrParsing, key, err)
	}
	return txn.SetEntry(badger.NewEntry([]byte(key), data))
}

// --- Catalog ---

// FindItems implements CatalogReader
func (s *BadgerStore) FindItems(ctx context.Context, filter ItemFilter) ([]models.CatalogItem, error) {
	var items []models.CatalogItem
	prefix := []byte(itemKeyPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var item models.CatalogItem
			errVal := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &item) })
			if errVal != nil {
				s.log.Warnf("Skipping undecodable catalog record '%s': %v", string(it.Item().Key()), errVal)
				continue
			}
			if filter.Matches(item) {
				items = append(items, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scanning catalog: %w", utils.ErrDatabase, err)
	}

	sortCatalog(items)
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

// sortCatalog orders items by id, numerically when both ids are integers
func sortCatalog(items []models.CatalogItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, errA := strconv.ParseInt(items[i].ID, 10, 64)
		b, errB := strconv.ParseInt(items[j].ID, 10, 64)
		if errA == nil && errB == nil {
			return a < b
		}
		return items[i].ID < items[j].ID
	})
}

// GetItems implements CatalogReader
func (s *BadgerStore) GetItems(ctx context.Context, ids []string) ([]models.CatalogItem, error) {
	items := make([]models.CatalogItem, 0, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			var item models.CatalogItem
			err := getJSON(txn, itemKeyPrefix+id, &item)
			if errors.Is(err, badger.ErrKeyNotFound) {
				s.log.WithField("item_id", id).Debug("Requested item not found")
				continue
			}
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading items: %w", utils.ErrDatabase, err)
	}
	return items, nil
}

// PutItems implements CatalogStore
func (s *BadgerStore) PutItems(ctx context.Context, items []models.CatalogItem) (int, error) {
	written := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if item.ID == "" {
			return written, fmt.Errorf("%w: catalog item without id (name %q)", utils.ErrConfigValidation, item.Name)
		}
		err := s.dbUpdate(func(txn *badger.Txn) error {
			return setJSON(txn, itemKeyPrefix+item.ID, item)
		})
		if err != nil {
			return written, fmt.Errorf("%w: writing item '%s': %w", utils.ErrDatabase, item.ID, err)
		}
		written++
	}
	return written, nil
}

// UpdateItem implements CatalogWriter
func (s *BadgerStore) UpdateItem(ctx context.Context, id string, upd models.ItemUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := itemKeyPrefix + id
	err := s.dbUpdate(func(txn *badger.Txn) error {
		var item models.CatalogItem
		if err := getJSON(txn, key, &item); err != nil {
			return err
		}
		upd.Apply(&item)
		return setJSON(txn, key, item)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: item '%s'", utils.ErrNotFound, id)
	}
	if err != nil {
		s.log.WithField("item_id", id).Errorf("DB Update error in UpdateItem: %v", err)
		return fmt.Errorf("%w: updating item '%s': %w", utils.ErrDatabase, id, err)
	}
	return nil
}

// CreateAttachment implements CatalogWriter
func (s *BadgerStore) CreateAttachment(ctx context.Context, att *models.Attachment, data []byte) error {
	if att.ID == "" {
		att.ID = uuid.New().String()
	}
	if att.Checksum == "" && data != nil {
		att.Checksum = utils.ContentSHA256(data)
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}

	if data != nil {
		if err := s.blobs.PutBlob(ctx, att.Checksum, data, att.MimeType); err != nil {
			return err
		}
	}

	err := s.dbUpdate(func(txn *badger.Txn) error {
		if err := setJSON(txn, attachmentPrefix+att.ID, att); err != nil {
			return err
		}
		if att.Checksum == "" {
			return nil
		}
		// First attachment with given bytes stays the dedup target
		sumKey := []byte(checksumKeyPrefix + att.Checksum)
		if _, err := txn.Get(sumKey); errors.Is(err, badger.ErrKeyNotFound) {
			return txn.SetEntry(badger.NewEntry(sumKey, []byte(att.ID)))
		} else if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: creating attachment for item '%s': %w", utils.ErrDatabase, att.ItemID, err)
	}
	s.log.WithFields(logrus.Fields{"item_id": att.ItemID, "attachment_id": att.ID}).Debug("Attachment created")
	return nil
}

// FindAttachmentByChecksum implements CatalogWriter
func (s *BadgerStore) FindAttachmentByChecksum(ctx context.Context, checksum string) (*models.Attachment, bool, error) {
	if checksum == "" {
		return nil, false, nil
	}
	var att *models.Attachment
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(checksumKeyPrefix + checksum))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var found models.Attachment
		err = getJSON(txn, attachmentPrefix+string(id), &found)
		if errors.Is(err, badger.ErrKeyNotFound) {
			s.log.Warnf("Checksum index points at missing attachment '%s'", string(id))
			return nil
		}
		if err != nil {
			return err
		}
		att = &found
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: checksum lookup: %w", utils.ErrDatabase, err)
	}
	return att, att != nil, nil
}

// GetAttachment returns an attachment record by id
func (s *BadgerStore) GetAttachment(ctx context.Context, id string) (*models.Attachment, error) {
	var att models.Attachment
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, attachmentPrefix+id, &att)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: attachment '%s'", utils.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading attachment '%s': %w", utils.ErrDatabase, id, err)
	}
	return &att, nil
}

// --- Blobs ---

// PutBlob implements BlobStore; existing keys are left untouched
func (s *BadgerStore) PutBlob(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.dbUpdate(func(txn *badger.Txn) error {
		k := []byte(blobKeyPrefix + key)
		if _, err := txn.Get(k); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(badger.NewEntry(k, data))
	})
	if err != nil {
		return fmt.Errorf("%w: writing blob '%s': %w", utils.ErrBlobStore, key, err)
	}
	return nil
}

// GetBlob implements BlobStore
func (s *BadgerStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(blobKeyPrefix + key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: blob '%s'", utils.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading blob '%s': %w", utils.ErrBlobStore, key, err)
	}
	return data, nil
}

// HasBlob implements BlobStore
func (s *BadgerStore) HasBlob(ctx context.Context, key string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(blobKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		return false, fmt.Errorf("%w: checking blob '%s': %w", utils.ErrBlobStore, key, err)
	}
	return found, nil
}

// --- Configuration ---

// GetActive implements ConfigStore
func (s *BadgerStore) GetActive(ctx context.Context) (*config.FetchConfig, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(activeConfigKey))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return s.createActive(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading active config: %w", utils.ErrDatabase, err)
	}
	return config.ParseFetchConfig(raw)
}

func (s *BadgerStore) createActive(ctx context.Context) (*config.FetchConfig, error) {
	var cfg *config.FetchConfig
	if s.seed != nil {
		cfg = s.seed.Clone()
	} else {
		d := config.DefaultFetchConfig()
		cfg = &d
	}
	s.log.Info("No active fetch configuration found, creating one from defaults")
	if err := s.SaveActive(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveActive implements ConfigStore
func (s *BadgerStore) SaveActive(ctx context.Context, cfg *config.FetchConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now().UTC()
	data, err := config.MarshalFetchConfig(cfg)
	if err != nil {
		return err
	}
	err = s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(activeConfigKey), data))
	})
	if err != nil {
		return fmt.Errorf("%w: saving active config: %w", utils.ErrDatabase, err)
	}
	return nil
}

// --- Audit log ---

// Append implements LogStore. The key is a ULID of the entry timestamp so
// keys sort by time.
func (s *BadgerStore) Append(ctx context.Context, e *models.LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.ID == "" {
		id, err := ulid.New(ulid.Timestamp(e.Timestamp), ulid.DefaultEntropy())
		if err != nil {
			return fmt.Errorf("%w: generating log id: %v", utils.ErrDatabase, err)
		}
		e.ID = id.String()
	}
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return setJSON(txn, logKeyPrefix+e.ID, e)
	})
	if err != nil {
		return fmt.Errorf("%w: appending log entry: %w", utils.ErrDatabase, err)
	}
	return nil
}

// PruneOlderThan implements LogStore
func (s *BadgerStore) PruneOlderThan(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var boundary ulid.ULID
	if err := boundary.SetTime(ulid.Timestamp(cutoff)); err != nil {
		return 0, fmt.Errorf("%w: computing prune boundary: %v", utils.ErrDatabase, err)
	}
	boundaryKey := logKeyPrefix + boundary.String()

	var stale [][]byte
	prefix := []byte(logKeyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().KeyCopy(nil)
			if string(key) >= boundaryKey {
				break
			}
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: scanning log entries: %w", utils.ErrDatabase, err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("%w: deleting log entry: %w", utils.ErrDatabase, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("%w: flushing log prune: %w", utils.ErrDatabase, err)
	}
	s.log.Infof("Pruned %d log entries older than %d days", len(stale), days)
	return len(stale), nil
}

// List implements LogStore
func (s *BadgerStore) List(ctx context.Context, q LogQuery) ([]models.LogEntry, error) {
	var out []models.LogEntry
	prefix := []byte(logKeyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(append(append([]byte(nil), prefix...), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e models.LogEntry
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				s.log.Warnf("Skipping undecodable log entry '%s': %v", string(it.Item().Key()), err)
				continue
			}
			if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
				break // Older entries only from here on
			}
			if !q.Matches(e) {
				continue
			}
			out = append(out, e)
			if q.Limit > 0 && len(out) >= q.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing log entries: %w", utils.ErrDatabase, err)
	}
	return out, nil
}

// --- Admin ---

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Info("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}

			s.log.Debug("Running BadgerDB value log garbage collection...")
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for {
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
				s.log.Info("BadgerDB GC cycle completed.")
			}

			if errors.Is(err, badger.ErrNoRewrite) {
				s.log.Debug("BadgerDB GC finished (no rewrite needed).")
			} else {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Infof("Stopping BadgerDB garbage collection goroutine due to context cancellation: %v", ctx.Err())
			return
		}
	}
}

// Close implements StoreAdmin
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing catalog DB...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing catalog DB: %v", err)
			return err
		}
		s.log.Info("Catalog DB closed.")
		return nil
	}
	s.log.Info("Catalog DB already closed or was not initialized.")
	return nil
}
