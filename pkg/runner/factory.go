package runner

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/describe"
	"github.com/trionica/catalog-enricher/pkg/enrich"
	"github.com/trionica/catalog-enricher/pkg/fetch"
	"github.com/trionica/catalog-enricher/pkg/imaging"
	"github.com/trionica/catalog-enricher/pkg/keys"
	"github.com/trionica/catalog-enricher/pkg/providers"
	"github.com/trionica/catalog-enricher/pkg/storage"
)

// Providers holds the clients built from one configuration
type Providers struct {
	Marketplace *providers.MarketplaceClient
	Primary     *providers.PrimarySearchClient
	Secondary   *providers.SecondarySearchClient
	Rotator     *keys.Rotator
	Budget      *fetch.RequestBudget
}

// Images returns the enabled image providers in fallback order
func (p *Providers) Images(cfg *config.FetchConfig) []providers.ImageSearcher {
	var out []providers.ImageSearcher
	if cfg.Marketplace.Enabled {
		out = append(out, p.Marketplace)
	}
	if cfg.PrimarySearch.Enabled {
		out = append(out, p.Primary)
	}
	if cfg.SecondarySearch.Enabled {
		out = append(out, p.Secondary)
	}
	return out
}

// BuildProviders creates the provider clients for cfg. They share one HTTP
// client, host pacing, and a request budget of daily_requests_limit calls.
// Key rotations are persisted through configs when it is non-nil.
func BuildProviders(ctx context.Context, app *config.AppConfig, cfg *config.FetchConfig, configs storage.ConfigStore, log *logrus.Entry) *Providers {
	httpCfg := app.HTTPClientSettings
	if app.ProviderTimeout > 0 {
		httpCfg.Timeout = app.ProviderTimeout
	}
	client := fetch.NewClient(httpCfg, log)
	limiter := fetch.NewRateLimiter(app.ProviderMinDelay, log)
	budget := fetch.NewRequestBudget(cfg.Batch.DailyRequestsLimit)
	caller := fetch.NewCaller(client, limiter, budget, app.ProviderMinDelay, log)

	var onRotate func(int)
	if configs != nil {
		// Runs under the rotator lock, so cfg is not mutated concurrently
		onRotate = func(index int) {
			if err := configs.SaveActive(context.WithoutCancel(ctx), cfg); err != nil {
				log.Errorf("Failed to persist key rotation cursor %d: %v", index, err)
			}
		}
	}
	rotator := keys.NewRotator(&cfg.PrimarySearch, onRotate, log)

	return &Providers{
		Marketplace: providers.NewMarketplaceClient(cfg.Marketplace, caller, log),
		Primary:     providers.NewPrimarySearchClient(cfg.PrimarySearch, rotator, caller, log),
		Secondary:   providers.NewSecondarySearchClient(cfg.SecondarySearch, caller, log),
		Rotator:     rotator,
		Budget:      budget,
	}
}

// DefaultFactory wires the real providers, validator and synthesizer
func DefaultFactory(app *config.AppConfig, configs storage.ConfigStore, logs storage.LogStore, log *logrus.Entry) Factory {
	return func(ctx context.Context, cfg *config.FetchConfig, catalog storage.CatalogWriter) (*Pipeline, error) {
		p := BuildProviders(ctx, app, cfg, configs, log)

		scorer, err := imaging.NewScorer(cfg.Quality.Scorer)
		if err != nil {
			return nil, fmt.Errorf("image scorer: %w", err)
		}
		imageClient := fetch.NewClient(app.HTTPClientSettings, log)
		validator := imaging.NewValidator(imageClient, imaging.ConstraintsFrom(cfg.Quality), scorer, app.UserAgent, app.ImageTimeout, log)

		synth, err := describe.New(cfg.Description)
		if err != nil {
			return nil, fmt.Errorf("description synthesizer: %w", err)
		}

		var text providers.TextSearcher
		if cfg.PrimarySearch.Enabled {
			text = p.Primary
		}

		orch := enrich.New(enrich.Deps{
			Images:      p.Images(cfg),
			Text:        text,
			Validator:   validator,
			Synthesizer: synth,
			Catalog:     catalog,
			Logs:        logs,
			Config:      cfg,
			Log:         log,
		})
		return &Pipeline{Processor: orch, Budget: p.Budget}, nil
	}
}
