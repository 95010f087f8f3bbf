package config

import "time"

// AppConfig holds the process-level configuration loaded from YAML
type AppConfig struct {
	LogLevel           string           `yaml:"log_level,omitempty"`
	LogFile            string           `yaml:"log_file,omitempty"` // Rotated with lumberjack when set
	StateDir           string           `yaml:"state_dir"`
	UserAgent          string           `yaml:"user_agent,omitempty"`
	MetricsAddr        string           `yaml:"metrics_addr,omitempty"` // e.g. ":9102"; empty disables /metrics
	ImageTimeout       time.Duration    `yaml:"image_timeout,omitempty"`
	ProviderTimeout    time.Duration    `yaml:"provider_timeout,omitempty"`
	ProviderMinDelay   time.Duration    `yaml:"provider_min_delay,omitempty"` // Per-host spacing between provider calls
	GCInterval         time.Duration    `yaml:"gc_interval,omitempty"`
	Storage            StorageConfig    `yaml:"storage,omitempty"`
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	MCP                MCPConfig        `yaml:"mcp,omitempty"`
	Fetch              FetchConfig      `yaml:"fetch"` // Seed for the active configuration record
}

// StorageConfig selects the persistence backends
type StorageConfig struct {
	LogBackend  string     `yaml:"log_backend,omitempty"` // "badger" (default) or "postgres"
	PostgresURL string     `yaml:"postgres_url,omitempty"`
	Blobs       BlobConfig `yaml:"blobs,omitempty"`
}

// BlobConfig selects where image bytes are stored
type BlobConfig struct {
	Backend   string `yaml:"backend,omitempty"` // "badger" (default) or "s3"
	Bucket    string `yaml:"bucket,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"` // S3-compatible endpoint (MinIO, Tigris)
	Prefix    string `yaml:"prefix,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
}

// MCPConfig holds settings for the MCP tool server
type MCPConfig struct {
	Transport string `yaml:"transport,omitempty"` // "stdio" or "sse"
	Port      int    `yaml:"port,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// FetchConfig is the active enrichment configuration. Exactly one record is
// active in the config store; the key rotation cursor lives on PrimarySearch
// and is only mutated through keys.Rotator.
type FetchConfig struct {
	Name            string                `yaml:"name,omitempty"`
	Enabled         bool                  `yaml:"enabled"`
	Marketplace     MarketplaceConfig     `yaml:"marketplace"`
	PrimarySearch   PrimarySearchConfig   `yaml:"primary_search"`
	SecondarySearch SecondarySearchConfig `yaml:"secondary_search"`
	Quality         QualityConfig         `yaml:"quality"`
	Batch           BatchConfig           `yaml:"batch"`
	Mode            ModeConfig            `yaml:"mode"`
	Description     DescriptionConfig     `yaml:"description"`
	Logging         LoggingConfig         `yaml:"logging"`
	Schedule        ScheduleConfig        `yaml:"schedule"`
	UpdatedAt       time.Time             `yaml:"updated_at,omitempty"`
}

// MarketplaceConfig holds the signed marketplace product API credentials
type MarketplaceConfig struct {
	Enabled     bool   `yaml:"enabled"`
	AccessKey   string `yaml:"access_key,omitempty"`
	SecretKey   string `yaml:"secret_key,omitempty"`
	PartnerTag  string `yaml:"partner_tag,omitempty"`
	Marketplace string `yaml:"marketplace,omitempty"` // US, CA, UK, DE, FR, IT, ES, JP
	Endpoint    string `yaml:"endpoint,omitempty"`    // Overrides https://<host> for the marketplace
	ItemCount   int    `yaml:"item_count,omitempty"`
}

// PrimarySearchConfig holds the web image/text search credentials
type PrimarySearchConfig struct {
	Enabled            bool     `yaml:"enabled"`
	APIKeys            []string `yaml:"api_keys,omitempty"`
	CurrentKeyIndex    int      `yaml:"current_key_index"`
	SearchEngineID     string   `yaml:"search_engine_id,omitempty"`
	Endpoint           string   `yaml:"endpoint,omitempty"`
	Country            string   `yaml:"country,omitempty"`  // gl
	Language           string   `yaml:"language,omitempty"` // hl
	ImageSize          string   `yaml:"image_size,omitempty"`
	SafeSearch         string   `yaml:"safe_search,omitempty"`
	NumResults         int      `yaml:"num_results,omitempty"`
	FallbackResults    int      `yaml:"fallback_results,omitempty"`
	MaxFallbacks       int      `yaml:"max_fallbacks,omitempty"`
	DescriptionResults int      `yaml:"description_results,omitempty"`
}

// SecondarySearchConfig holds the secondary image search credentials
type SecondarySearchConfig struct {
	Enabled    bool   `yaml:"enabled"`
	APIKey     string `yaml:"api_key,omitempty"`
	Endpoint   string `yaml:"endpoint,omitempty"`
	NumResults int    `yaml:"num_results,omitempty"`
	ImageType  string `yaml:"image_type,omitempty"`
	Size       string `yaml:"size,omitempty"`
}

// QualityConfig holds the image acceptance constraints
type QualityConfig struct {
	MinWidth  int     `yaml:"min_width"`
	MinHeight int     `yaml:"min_height"`
	MaxSizeMB float64 `yaml:"max_size_mb"`

	// Decoded size ceiling, checked from the image header before decoding
	MaxMegapixels float64 `yaml:"max_megapixels,omitempty"`
	Formats       string  `yaml:"formats"` // jpg, png, jpg_png, all
	Scorer        string  `yaml:"scorer,omitempty"`
}

// MaxBytes converts MaxSizeMB to a byte limit
func (q QualityConfig) MaxBytes() int64 {
	return int64(q.MaxSizeMB * 1024 * 1024)
}

// MaxPixels converts MaxMegapixels to a pixel count; unset uses the default
func (q QualityConfig) MaxPixels() int64 {
	mp := q.MaxMegapixels
	if mp <= 0 {
		mp = DefaultMaxMegapixels
	}
	return int64(mp * 1_000_000)
}

// BatchConfig controls batching, pacing and the request budget
type BatchConfig struct {
	BatchSize          int           `yaml:"batch_size"`
	MaxBatchSize       int           `yaml:"max_batch_size,omitempty"` // Enforced ceiling on batch_size
	RequestsPerMinute  int           `yaml:"requests_per_minute"`
	PacingFloor        time.Duration `yaml:"pacing_floor,omitempty"`
	DailyRequestsLimit int           `yaml:"daily_requests_limit"`
	CommitMode         string        `yaml:"commit_mode,omitempty"` // "batch" or "item"
}

// EffectiveBatchSize applies the ceiling to the configured batch size
func (b BatchConfig) EffectiveBatchSize() int {
	size := b.BatchSize
	if size <= 0 || (b.MaxBatchSize > 0 && size > b.MaxBatchSize) {
		size = b.MaxBatchSize
	}
	if size <= 0 {
		size = DefaultMaxBatchSize
	}
	return size
}

// ModeConfig holds run mode flags
type ModeConfig struct {
	TestMode               bool `yaml:"test_mode"` // Dry-run: decide and call providers, never persist
	TestProductLimit       int  `yaml:"test_product_limit"`
	SkipProductsWithImages bool `yaml:"skip_products_with_images"`
	ForceUpdate            bool `yaml:"force_update"`
	EnableDeduplication    bool `yaml:"enable_deduplication"`
}

// DescriptionConfig controls description synthesis and where it is written
type DescriptionConfig struct {
	AutoGenerate  bool     `yaml:"auto_generate"`
	Policy        string   `yaml:"policy,omitempty"`   // any_empty, all_empty, field_by_field
	Fallback      string   `yaml:"fallback,omitempty"` // template or none
	Fields        []string `yaml:"fields,omitempty"`   // internal, sale, website
	DenyPatterns  []string `yaml:"deny_patterns,omitempty"`
	MaxLength     int      `yaml:"max_length,omitempty"`
	MinSnippetLen int      `yaml:"min_snippet_length,omitempty"`
}

// LoggingConfig holds audit log retention
type LoggingConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// ScheduleConfig holds the daily trigger settings
type ScheduleConfig struct {
	CronActive bool `yaml:"cron_active"`
	Hour       int  `yaml:"hour"`
	Minute     int  `yaml:"minute"`
}
