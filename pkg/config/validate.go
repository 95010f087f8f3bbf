package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/trionica/catalog-enricher/pkg/utils"
)

const minAPIKeyLength = 10

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './enricher_state'")
		c.StateDir = "./enricher_state"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.UserAgent == "" {
		c.UserAgent = "catalog-enricher/1.0"
	}
	if c.ImageTimeout <= 0 {
		c.ImageTimeout = 30 * time.Second
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 15 * time.Second
	}
	if c.ProviderMinDelay < 0 {
		warnings = append(warnings, "provider_min_delay cannot be negative, setting to 0")
		c.ProviderMinDelay = 0
	}
	if c.GCInterval <= 0 {
		c.GCInterval = 10 * time.Minute
	}

	// Storage backends
	switch c.Storage.LogBackend {
	case "":
		c.Storage.LogBackend = "badger"
	case "badger":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return warnings, fmt.Errorf("%w: storage.log_backend is postgres but postgres_url is empty", utils.ErrConfigValidation)
		}
	default:
		return warnings, fmt.Errorf("%w: unknown storage.log_backend %q", utils.ErrConfigValidation, c.Storage.LogBackend)
	}
	switch c.Storage.Blobs.Backend {
	case "":
		c.Storage.Blobs.Backend = "badger"
	case "badger":
	case "s3":
		if c.Storage.Blobs.Bucket == "" {
			return warnings, fmt.Errorf("%w: storage.blobs.backend is s3 but bucket is empty", utils.ErrConfigValidation)
		}
		if c.Storage.Blobs.Region == "" {
			warnings = append(warnings, "storage.blobs.region is empty, defaulting to 'us-east-1'")
			c.Storage.Blobs.Region = "us-east-1"
		}
	default:
		return warnings, fmt.Errorf("%w: unknown storage.blobs.backend %q", utils.ErrConfigValidation, c.Storage.Blobs.Backend)
	}

	if c.MCP.Transport == "" {
		c.MCP.Transport = "stdio"
	}
	if c.MCP.Port <= 0 {
		c.MCP.Port = 8080
	}

	c.validateHTTPClientSettings()

	fetchWarnings, err := c.Fetch.Validate()
	for _, w := range fetchWarnings {
		warnings = append(warnings, "fetch: "+w)
	}
	return warnings, err
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks FetchConfig fields and applies defaults in place.
// Credential problems are warnings: providers report them per item.
func (c *FetchConfig) Validate() (warnings []string, err error) {
	defaults := DefaultFetchConfig()

	// Marketplace
	m := &c.Marketplace
	m.Marketplace = strings.ToUpper(strings.TrimSpace(m.Marketplace))
	if _, ok := Marketplaces[m.Marketplace]; !ok {
		warnings = append(warnings, fmt.Sprintf("unknown marketplace %q, defaulting to 'US'", m.Marketplace))
		m.Marketplace = "US"
	}
	if m.ItemCount <= 0 || m.ItemCount > 10 {
		m.ItemCount = defaults.Marketplace.ItemCount
	}
	if m.Enabled && (m.AccessKey == "" || m.SecretKey == "" || m.PartnerTag == "") {
		warnings = append(warnings, "marketplace is enabled but access_key, secret_key or partner_tag is missing")
	}

	// Primary search keys
	p := &c.PrimarySearch
	var kept []string
	for i, key := range p.APIKeys {
		trimmed := strings.TrimSpace(key)
		if len(trimmed) < minAPIKeyLength || strings.ContainsAny(trimmed, " \t\r\n") {
			warnings = append(warnings, fmt.Sprintf("primary_search.api_keys[%d] is malformed, ignoring it", i))
			continue
		}
		kept = append(kept, trimmed)
	}
	p.APIKeys = kept
	if p.CurrentKeyIndex < 0 || (len(p.APIKeys) > 0 && p.CurrentKeyIndex >= len(p.APIKeys)) {
		warnings = append(warnings, fmt.Sprintf("primary_search.current_key_index %d out of range, resetting to 0", p.CurrentKeyIndex))
		p.CurrentKeyIndex = 0
	}
	if p.Enabled && (len(p.APIKeys) == 0 || p.SearchEngineID == "") {
		warnings = append(warnings, "primary_search is enabled but has no usable api_keys or search_engine_id")
	}
	if p.Endpoint == "" {
		p.Endpoint = defaults.PrimarySearch.Endpoint
	}
	if p.ImageSize == "" {
		p.ImageSize = defaults.PrimarySearch.ImageSize
	}
	if p.SafeSearch == "" {
		p.SafeSearch = defaults.PrimarySearch.SafeSearch
	}
	if p.NumResults < 1 || p.NumResults > 10 {
		p.NumResults = defaults.PrimarySearch.NumResults
	}
	if p.FallbackResults < 1 || p.FallbackResults > 10 {
		p.FallbackResults = defaults.PrimarySearch.FallbackResults
	}
	if p.MaxFallbacks < 0 || p.MaxFallbacks > 3 {
		p.MaxFallbacks = defaults.PrimarySearch.MaxFallbacks
	}
	if p.DescriptionResults < 1 || p.DescriptionResults > 10 {
		p.DescriptionResults = defaults.PrimarySearch.DescriptionResults
	}

	// Secondary search
	s := &c.SecondarySearch
	if s.Enabled && strings.TrimSpace(s.APIKey) == "" {
		warnings = append(warnings, "secondary_search is enabled but api_key is empty")
	}
	if s.Endpoint == "" {
		s.Endpoint = defaults.SecondarySearch.Endpoint
	}
	if s.NumResults < 1 || s.NumResults > 10 {
		s.NumResults = defaults.SecondarySearch.NumResults
	}
	if s.ImageType == "" {
		s.ImageType = defaults.SecondarySearch.ImageType
	}
	if s.Size == "" {
		s.Size = defaults.SecondarySearch.Size
	}

	// Quality
	q := &c.Quality
	if q.MinWidth < 0 {
		warnings = append(warnings, "quality.min_width cannot be negative, setting to 0")
		q.MinWidth = 0
	}
	if q.MinHeight < 0 {
		warnings = append(warnings, "quality.min_height cannot be negative, setting to 0")
		q.MinHeight = 0
	}
	if q.MaxSizeMB <= 0 {
		warnings = append(warnings, fmt.Sprintf("quality.max_size_mb should be > 0, defaulting to %.1f", defaults.Quality.MaxSizeMB))
		q.MaxSizeMB = defaults.Quality.MaxSizeMB
	}
	if q.MaxMegapixels < 0 {
		warnings = append(warnings, fmt.Sprintf("quality.max_megapixels cannot be negative, defaulting to %.0f", DefaultMaxMegapixels))
		q.MaxMegapixels = DefaultMaxMegapixels
	} else if q.MaxMegapixels == 0 {
		q.MaxMegapixels = DefaultMaxMegapixels
	}
	switch q.Formats {
	case "jpg", "png", "jpg_png", "all":
	default:
		warnings = append(warnings, fmt.Sprintf("quality.formats %q unknown, defaulting to 'jpg_png'", q.Formats))
		q.Formats = "jpg_png"
	}
	switch q.Scorer {
	case "tiered", "variance":
	case "":
		q.Scorer = "tiered"
	default:
		warnings = append(warnings, fmt.Sprintf("quality.scorer %q unknown, defaulting to 'tiered'", q.Scorer))
		q.Scorer = "tiered"
	}

	// Batching
	b := &c.Batch
	if b.MaxBatchSize <= 0 {
		b.MaxBatchSize = DefaultMaxBatchSize
	}
	if b.BatchSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("batch.batch_size should be > 0, defaulting to %d", b.MaxBatchSize))
		b.BatchSize = b.MaxBatchSize
	}
	if b.BatchSize > b.MaxBatchSize {
		warnings = append(warnings, fmt.Sprintf("batch.batch_size %d exceeds ceiling %d, batches will be capped", b.BatchSize, b.MaxBatchSize))
	}
	if b.RequestsPerMinute <= 0 {
		warnings = append(warnings, "batch.requests_per_minute should be > 0, defaulting to 60")
		b.RequestsPerMinute = 60
	}
	if b.PacingFloor < 0 {
		b.PacingFloor = 0
	}
	if b.DailyRequestsLimit < 0 {
		warnings = append(warnings, "batch.daily_requests_limit cannot be negative, setting to 0 (unlimited)")
		b.DailyRequestsLimit = 0
	}
	switch b.CommitMode {
	case CommitBatch, CommitItem:
	case "":
		b.CommitMode = CommitBatch
	default:
		warnings = append(warnings, fmt.Sprintf("batch.commit_mode %q unknown, defaulting to 'batch'", b.CommitMode))
		b.CommitMode = CommitBatch
	}

	// Modes
	if c.Mode.TestProductLimit <= 0 {
		c.Mode.TestProductLimit = defaults.Mode.TestProductLimit
	}

	// Description
	d := &c.Description
	switch d.Policy {
	case PolicyAnyEmpty, PolicyAllEmpty, PolicyFieldByField:
	case "":
		d.Policy = PolicyAnyEmpty
	default:
		warnings = append(warnings, fmt.Sprintf("description.policy %q unknown, defaulting to 'any_empty'", d.Policy))
		d.Policy = PolicyAnyEmpty
	}
	switch d.Fallback {
	case FallbackTemplate, FallbackNone:
	case "":
		d.Fallback = FallbackTemplate
	default:
		warnings = append(warnings, fmt.Sprintf("description.fallback %q unknown, defaulting to 'template'", d.Fallback))
		d.Fallback = FallbackTemplate
	}
	var fields []string
	for _, f := range d.Fields {
		switch f {
		case "internal", "sale", "website":
			fields = append(fields, f)
		default:
			warnings = append(warnings, fmt.Sprintf("description.fields: unknown field %q ignored", f))
		}
	}
	if len(fields) == 0 {
		fields = defaults.Description.Fields
	}
	d.Fields = fields
	if d.MaxLength <= 0 {
		d.MaxLength = defaults.Description.MaxLength
	}
	if d.MinSnippetLen <= 0 {
		d.MinSnippetLen = defaults.Description.MinSnippetLen
	}
	if _, err := utils.CompileRegexPatterns(d.DenyPatterns, true); err != nil {
		return warnings, err
	}

	// Retention and schedule
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = defaults.Logging.RetentionDays
	}
	if c.Schedule.Hour < 0 || c.Schedule.Hour > 23 {
		warnings = append(warnings, fmt.Sprintf("schedule.hour %d out of range, defaulting to 2", c.Schedule.Hour))
		c.Schedule.Hour = 2
	}
	if c.Schedule.Minute < 0 || c.Schedule.Minute > 59 {
		warnings = append(warnings, fmt.Sprintf("schedule.minute %d out of range, defaulting to 0", c.Schedule.Minute))
		c.Schedule.Minute = 0
	}

	return warnings, nil
}

// Clone returns a deep copy so callers can mutate without sharing slices
func (c FetchConfig) Clone() *FetchConfig {
	out := c
	out.PrimarySearch.APIKeys = append([]string(nil), c.PrimarySearch.APIKeys...)
	out.Description.Fields = append([]string(nil), c.Description.Fields...)
	out.Description.DenyPatterns = append([]string(nil), c.Description.DenyPatterns...)
	return &out
}
