package config

import (
	"strings"
	"testing"
	"time"

	"github.com/trionica/catalog-enricher/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfig_Validate_Defaults(t *testing.T) {
	cfg := AppConfig{} // Zero value
	warnings, err := cfg.Validate()

	require.NoError(t, err)

	assert.Equal(t, "./enricher_state", cfg.StateDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.ImageTimeout)
	assert.Equal(t, 15*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 10*time.Minute, cfg.GCInterval)
	assert.Equal(t, "badger", cfg.Storage.LogBackend)
	assert.Equal(t, "badger", cfg.Storage.Blobs.Backend)
	assert.Equal(t, "stdio", cfg.MCP.Transport)
	assert.Equal(t, 8080, cfg.MCP.Port)

	// Check HTTP client defaults
	assert.Equal(t, 45*time.Second, cfg.HTTPClientSettings.Timeout)
	assert.Equal(t, 100, cfg.HTTPClientSettings.MaxIdleConns)
	assert.Equal(t, 2, cfg.HTTPClientSettings.MaxIdleConnsPerHost)
	assert.Equal(t, 90*time.Second, cfg.HTTPClientSettings.IdleConnTimeout)
	assert.Equal(t, 10*time.Second, cfg.HTTPClientSettings.TLSHandshakeTimeout)
	assert.Equal(t, 1*time.Second, cfg.HTTPClientSettings.ExpectContinueTimeout)
	assert.Equal(t, 15*time.Second, cfg.HTTPClientSettings.DialerTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTPClientSettings.DialerKeepAlive)

	assert.True(t, containsWarning(warnings, "state_dir is empty"))
	assert.True(t, containsWarning(warnings, "fetch: unknown marketplace"))
}

func TestAppConfig_Validate_StorageBackends(t *testing.T) {
	t.Run("postgres without url", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.LogBackend = "postgres"
		_, err := cfg.Validate()
		assert.ErrorIs(t, err, utils.ErrConfigValidation)
	})

	t.Run("s3 without bucket", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.Blobs.Backend = "s3"
		_, err := cfg.Validate()
		assert.ErrorIs(t, err, utils.ErrConfigValidation)
	})

	t.Run("s3 region defaults", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.Blobs.Backend = "s3"
		cfg.Storage.Blobs.Bucket = "catalog-images"
		warnings, err := cfg.Validate()
		require.NoError(t, err)
		assert.Equal(t, "us-east-1", cfg.Storage.Blobs.Region)
		assert.True(t, containsWarning(warnings, "storage.blobs.region is empty"))
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.LogBackend = "mongo"
		_, err := cfg.Validate()
		assert.ErrorIs(t, err, utils.ErrConfigValidation)
	})
}

func TestFetchConfig_Validate_DefaultsAreClean(t *testing.T) {
	fc := DefaultFetchConfig()
	warnings, err := fc.Validate()
	require.NoError(t, err)

	// Defaults only complain about missing credentials and the batch ceiling
	for _, w := range warnings {
		ok := strings.Contains(w, "primary_search is enabled") || strings.Contains(w, "exceeds ceiling")
		assert.True(t, ok, "unexpected warning: %s", w)
	}
	assert.Equal(t, "US", fc.Marketplace.Marketplace)
	assert.Equal(t, []string{"sale"}, fc.Description.Fields)
}

func TestFetchConfig_Validate_Keys(t *testing.T) {
	fc := DefaultFetchConfig()
	fc.PrimarySearch.APIKeys = []string{"AIzaSyValidKey0001", "short", " AIzaSyValidKey0002 ", "has space inside"}
	fc.PrimarySearch.CurrentKeyIndex = 7
	fc.PrimarySearch.SearchEngineID = "cx-123"

	warnings, err := fc.Validate()
	require.NoError(t, err)

	assert.Equal(t, []string{"AIzaSyValidKey0001", "AIzaSyValidKey0002"}, fc.PrimarySearch.APIKeys)
	assert.Equal(t, 0, fc.PrimarySearch.CurrentKeyIndex)
	assert.True(t, containsWarning(warnings, "api_keys[1] is malformed"))
	assert.True(t, containsWarning(warnings, "api_keys[3] is malformed"))
	assert.True(t, containsWarning(warnings, "current_key_index 7 out of range"))
	assert.False(t, containsWarning(warnings, "primary_search is enabled"))
}

func TestFetchConfig_Validate_ClampsAndMaps(t *testing.T) {
	fc := FetchConfig{
		Marketplace: MarketplaceConfig{Marketplace: "de", Enabled: true},
		Quality:     QualityConfig{MinWidth: -1, MaxMegapixels: -3, Formats: "tiff", Scorer: "neural"},
		Batch:       BatchConfig{BatchSize: 50, CommitMode: "sometimes", DailyRequestsLimit: -5},
		Description: DescriptionConfig{Policy: "whatever", Fields: []string{"website", "footer"}},
		Schedule:    ScheduleConfig{Hour: 25, Minute: 61},
	}

	warnings, err := fc.Validate()
	require.NoError(t, err)

	assert.Equal(t, "DE", fc.Marketplace.Marketplace)
	assert.True(t, containsWarning(warnings, "marketplace is enabled but"))
	assert.Equal(t, 0, fc.Quality.MinWidth)
	assert.Equal(t, "jpg_png", fc.Quality.Formats)
	assert.Equal(t, "tiered", fc.Quality.Scorer)
	assert.Equal(t, 5.0, fc.Quality.MaxSizeMB)
	assert.Equal(t, DefaultMaxMegapixels, fc.Quality.MaxMegapixels)
	assert.True(t, containsWarning(warnings, "max_megapixels cannot be negative"))
	assert.Equal(t, CommitBatch, fc.Batch.CommitMode)
	assert.Equal(t, 0, fc.Batch.DailyRequestsLimit)
	assert.Equal(t, DefaultMaxBatchSize, fc.Batch.EffectiveBatchSize())
	assert.True(t, containsWarning(warnings, "exceeds ceiling"))
	assert.Equal(t, PolicyAnyEmpty, fc.Description.Policy)
	assert.Equal(t, []string{"website"}, fc.Description.Fields)
	assert.True(t, containsWarning(warnings, `unknown field "footer"`))
	assert.Equal(t, 2, fc.Schedule.Hour)
	assert.Equal(t, 0, fc.Schedule.Minute)
	assert.Equal(t, 30, fc.Logging.RetentionDays)
}

func TestFetchConfig_Validate_BadDenyPattern(t *testing.T) {
	fc := DefaultFetchConfig()
	fc.Description.DenyPatterns = []string{"([unclosed"}
	_, err := fc.Validate()
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}

func TestFetchConfig_Clone(t *testing.T) {
	fc := DefaultFetchConfig()
	fc.PrimarySearch.APIKeys = []string{"AIzaSyValidKey0001"}
	clone := fc.Clone()
	clone.PrimarySearch.APIKeys[0] = "changed"
	clone.Description.Fields[0] = "website"

	assert.Equal(t, "AIzaSyValidKey0001", fc.PrimarySearch.APIKeys[0])
	assert.Equal(t, "sale", fc.Description.Fields[0])
}

// Helper function to check if warnings contain a specific substring
func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
