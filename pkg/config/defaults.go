package config

import "time"

const (
	DefaultPrimaryEndpoint   = "https://www.googleapis.com/customsearch/v1"
	DefaultSecondaryEndpoint = "https://api.cognitive.microsoft.com/bing/v7.0/images/search"
	DefaultMaxBatchSize      = 10
	DefaultMaxMegapixels     = 90.0
	DefaultPacingFloor       = 2 * time.Second

	CommitBatch = "batch"
	CommitItem  = "item"

	PolicyAnyEmpty     = "any_empty"
	PolicyAllEmpty     = "all_empty"
	PolicyFieldByField = "field_by_field"

	FallbackTemplate = "template"
	FallbackNone     = "none"
)

// MarketplaceEndpoint is the host/region pair for one marketplace
type MarketplaceEndpoint struct {
	Host   string
	Region string
	Domain string // Value of the Marketplace field in request payloads
}

// Marketplaces lists the supported signed-API marketplaces
var Marketplaces = map[string]MarketplaceEndpoint{
	"US": {Host: "webservices.amazon.com", Region: "us-east-1", Domain: "www.amazon.com"},
	"CA": {Host: "webservices.amazon.ca", Region: "us-east-1", Domain: "www.amazon.ca"},
	"UK": {Host: "webservices.amazon.co.uk", Region: "eu-west-1", Domain: "www.amazon.co.uk"},
	"DE": {Host: "webservices.amazon.de", Region: "eu-west-1", Domain: "www.amazon.de"},
	"FR": {Host: "webservices.amazon.fr", Region: "eu-west-1", Domain: "www.amazon.fr"},
	"IT": {Host: "webservices.amazon.it", Region: "eu-west-1", Domain: "www.amazon.it"},
	"ES": {Host: "webservices.amazon.es", Region: "eu-west-1", Domain: "www.amazon.es"},
	"JP": {Host: "webservices.amazon.co.jp", Region: "us-west-2", Domain: "www.amazon.co.jp"},
}

// DefaultFetchConfig returns the configuration created when none is active
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Name:    "default",
		Enabled: true,
		Marketplace: MarketplaceConfig{
			Marketplace: "US",
			ItemCount:   3,
		},
		PrimarySearch: PrimarySearchConfig{
			Enabled:            true,
			Endpoint:           DefaultPrimaryEndpoint,
			Country:            "ec",
			Language:           "es",
			ImageSize:          "medium",
			SafeSearch:         "active",
			NumResults:         5,
			FallbackResults:    3,
			MaxFallbacks:       3,
			DescriptionResults: 5,
		},
		SecondarySearch: SecondarySearchConfig{
			Endpoint:   DefaultSecondaryEndpoint,
			NumResults: 3,
			ImageType:  "Photo",
			Size:       "Large",
		},
		Quality: QualityConfig{
			MinWidth:      800,
			MinHeight:     600,
			MaxSizeMB:     5.0,
			MaxMegapixels: DefaultMaxMegapixels,
			Formats:       "jpg_png",
			Scorer:        "tiered",
		},
		Batch: BatchConfig{
			BatchSize:          50,
			MaxBatchSize:       DefaultMaxBatchSize,
			RequestsPerMinute:  60,
			PacingFloor:        DefaultPacingFloor,
			DailyRequestsLimit: 1000,
			CommitMode:         CommitBatch,
		},
		Mode: ModeConfig{
			TestProductLimit:       10,
			SkipProductsWithImages: true,
			EnableDeduplication:    true,
		},
		Description: DescriptionConfig{
			AutoGenerate:  true,
			Policy:        PolicyAnyEmpty,
			Fallback:      FallbackTemplate,
			Fields:        []string{"sale"},
			MaxLength:     500,
			MinSnippetLen: 20,
		},
		Logging:  LoggingConfig{RetentionDays: 30},
		Schedule: ScheduleConfig{CronActive: true, Hour: 2, Minute: 0},
	}
}

// Default returns an AppConfig whose Fetch section holds the defaults.
// YAML is unmarshalled on top of it so omitted booleans keep their defaults.
func Default() *AppConfig {
	return &AppConfig{
		LogLevel: "info",
		StateDir: "./enricher_state",
		Fetch:    DefaultFetchConfig(),
	}
}
