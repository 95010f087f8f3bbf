package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/trionica/catalog-enricher/pkg/utils"
)

// LoadFile reads a YAML config file on top of Default().
// An empty path returns the defaults.
func LoadFile(path string) (*AppConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: YAML decode of '%s': %v", utils.ErrParsing, path, err)
	}
	return cfg, nil
}

// ParseFetchConfig decodes a FetchConfig document on top of the defaults
func ParseFetchConfig(data []byte) (*FetchConfig, error) {
	fc := DefaultFetchConfig()
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("%w: YAML decode of fetch config: %v", utils.ErrParsing, err)
	}
	return &fc, nil
}

// MarshalFetchConfig encodes a FetchConfig as YAML
func MarshalFetchConfig(fc *FetchConfig) ([]byte, error) {
	data, err := yaml.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("%w: YAML encode of fetch config: %v", utils.ErrParsing, err)
	}
	return data, nil
}
