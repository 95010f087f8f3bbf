package config

import (
	"os"
	"strings"
)

// Environment variables consulted by ApplyEnv. Values override the YAML.
const (
	EnvMarketplaceAccessKey = "ENRICHER_MARKETPLACE_ACCESS_KEY"
	EnvMarketplaceSecretKey = "ENRICHER_MARKETPLACE_SECRET_KEY"
	EnvMarketplacePartner   = "ENRICHER_MARKETPLACE_PARTNER_TAG"
	EnvPrimaryAPIKeys       = "ENRICHER_PRIMARY_API_KEYS" // comma separated
	EnvPrimaryEngineID      = "ENRICHER_PRIMARY_ENGINE_ID"
	EnvSecondaryAPIKey      = "ENRICHER_SECONDARY_API_KEY"
	EnvPostgresURL          = "ENRICHER_POSTGRES_URL"
	EnvBlobAccessKey        = "ENRICHER_BLOB_ACCESS_KEY"
	EnvBlobSecretKey        = "ENRICHER_BLOB_SECRET_KEY"
	EnvStateDir             = "ENRICHER_STATE_DIR"
)

// ApplyEnv overlays secrets from the environment onto the config.
// Returns the names of the variables that were applied.
func (c *AppConfig) ApplyEnv() []string {
	return c.applyEnv(os.Getenv)
}

func (c *AppConfig) applyEnv(getenv func(string) string) []string {
	var applied []string
	set := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
			applied = append(applied, name)
		}
	}

	set(EnvMarketplaceAccessKey, &c.Fetch.Marketplace.AccessKey)
	set(EnvMarketplaceSecretKey, &c.Fetch.Marketplace.SecretKey)
	set(EnvMarketplacePartner, &c.Fetch.Marketplace.PartnerTag)
	set(EnvPrimaryEngineID, &c.Fetch.PrimarySearch.SearchEngineID)
	set(EnvSecondaryAPIKey, &c.Fetch.SecondarySearch.APIKey)
	set(EnvPostgresURL, &c.Storage.PostgresURL)
	set(EnvBlobAccessKey, &c.Storage.Blobs.AccessKey)
	set(EnvBlobSecretKey, &c.Storage.Blobs.SecretKey)
	set(EnvStateDir, &c.StateDir)

	if raw := getenv(EnvPrimaryAPIKeys); strings.TrimSpace(raw) != "" {
		var keys []string
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		c.Fetch.PrimarySearch.APIKeys = keys
		c.Fetch.PrimarySearch.CurrentKeyIndex = 0
		applied = append(applied, EnvPrimaryAPIKeys)
	}
	return applied
}
