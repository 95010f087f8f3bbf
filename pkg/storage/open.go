package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/trionica/catalog-enricher/pkg/config"
)

// Backends groups the stores selected by configuration
type Backends struct {
	Badger  *BadgerStore
	Catalog CatalogStore
	Config  ConfigStore
	Logs    LogStore

	closers []func() error
}

// Open opens the embedded store and any external backends named in cfg.
// cfg must already be validated.
func Open(ctx context.Context, cfg *config.AppConfig, logger *logrus.Entry) (*Backends, error) {
	bs, err := NewBadgerStore(cfg.StateDir, logger.WithField("store", "badger"))
	if err != nil {
		return nil, err
	}
	seed := cfg.Fetch.Clone()
	bs.WithConfigSeed(seed)

	b := &Backends{Badger: bs, Catalog: bs, Config: bs, Logs: bs}
	b.closers = append(b.closers, bs.Close)

	if cfg.Storage.Blobs.Backend == "s3" {
		blobs, err := NewS3BlobStore(ctx, cfg.Storage.Blobs, logger.WithField("store", "s3"))
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		bs.WithBlobStore(blobs)
	}

	if cfg.Storage.LogBackend == "postgres" {
		pg, err := NewPostgresLogStore(ctx, cfg.Storage.PostgresURL, logger.WithField("store", "postgres"))
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("opening postgres log store: %w", err)
		}
		b.Logs = pg
		b.closers = append(b.closers, pg.Close)
	}
	return b, nil
}

// Close closes every opened backend, last opened first
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
