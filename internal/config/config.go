// Package config loads the tool's YAML configuration with environment
// overrides layered on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all icplookup configuration.
type Config struct {
	// DataDir is where models, logs and the query cache live.
	DataDir string `yaml:"data_dir"`

	// Endpoints override the production registry endpoints.
	Endpoints EndpointsConfig `yaml:"endpoints"`

	// Query tuning.
	Query QueryConfig `yaml:"query"`

	// Cache controls the local result cache.
	Cache CacheConfig `yaml:"cache"`

	// Models controls model resolution and the inference runtime.
	Models ModelsConfig `yaml:"models"`

	// Logging controls the category file loggers.
	Logging LoggingConfig `yaml:"logging"`
}

// EndpointsConfig overrides where the protocol endpoints live.
type EndpointsConfig struct {
	APIBase string `yaml:"api_base"`
	Origin  string `yaml:"origin"`
	Referer string `yaml:"referer"`
}

// QueryConfig tunes the lookup loop.
type QueryConfig struct {
	Timeout  string `yaml:"timeout"`  // per-request timeout
	Attempts int    `yaml:"attempts"` // full challenge attempts per lookup
}

// CacheConfig controls the local result cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	TTL     string `yaml:"ttl"`
}

// ModelsConfig controls model resolution and the inference runtime.
type ModelsConfig struct {
	// ManifestPath optionally overrides the built-in model manifest.
	ManifestPath string `yaml:"manifest_path"`
	// ORTLibraryPath points at the onnxruntime shared library. Empty
	// uses the platform default lookup.
	ORTLibraryPath string `yaml:"ort_library_path"`
}

// LoggingConfig controls the category file loggers.
type LoggingConfig struct {
	Debug bool   `yaml:"debug"`
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DataDir: filepath.Join(home, ".icplookup"),
		Endpoints: EndpointsConfig{
			APIBase: "https://hlwicpfwc.miit.gov.cn/icpproject_query/api",
			Origin:  "https://beian.miit.gov.cn",
			Referer: "https://beian.miit.gov.cn/",
		},
		Query: QueryConfig{
			Timeout:  "30s",
			Attempts: 3,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     "24h",
		},
		Logging: LoggingConfig{
			Debug: false,
			Level: "info",
		},
	}
}

// Load reads the YAML config at path, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("ICPLOOKUP_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if base := os.Getenv("ICPLOOKUP_API_BASE"); base != "" {
		c.Endpoints.APIBase = base
	}
	if v := os.Getenv("ICPLOOKUP_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil {
			c.Logging.Debug = debug
		}
	}
	if ttl := os.Getenv("ICPLOOKUP_CACHE_TTL"); ttl != "" {
		c.Cache.TTL = ttl
	}
	if lib := os.Getenv("ICPLOOKUP_ORT_LIBRARY"); lib != "" {
		c.Models.ORTLibraryPath = lib
	}
}

// GetQueryTimeout returns the per-request timeout as a duration.
func (c *Config) GetQueryTimeout() time.Duration {
	d, err := time.ParseDuration(c.Query.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetCacheTTL returns the cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}
