// Package config builds the process-wide configuration once at startup.
// Everything downstream receives it by parameter; nothing reads the
// environment after Load returns.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// EnvAPIKey names the environment variable holding the remote
	// service's API key.
	EnvAPIKey = "TINYBATCH_API_KEY"
	// EnvAPIURL optionally overrides the remote service endpoint.
	EnvAPIURL = "TINYBATCH_API_URL"
	// EnvConcurrency optionally overrides the worker count.
	EnvConcurrency = "TINYBATCH_CONCURRENCY"

	// DefaultAPIBaseURL is the production endpoint of the compression service.
	DefaultAPIBaseURL = "https://api.tinify.com"

	// DefaultSourceDir is the directory scanned for images.
	DefaultSourceDir = "target"
	// DefaultCompressedDir receives recompressed files.
	DefaultCompressedDir = "Compressed"
	// DefaultConvertedDir receives format-converted files.
	DefaultConvertedDir = "Converted"

	defaultMaxConcurrent  = 5
	defaultRequestTimeout = 30 * time.Second
)

// ErrMissingAPIKey is returned when the API key is absent from the
// environment. Validated eagerly so a misconfigured run fails before
// any file is touched.
var ErrMissingAPIKey = errors.New("config: " + EnvAPIKey + " is not set")

// Config holds everything a batch run needs. Built once in main,
// immutable afterwards.
type Config struct {
	// APIKey authenticates against the remote compression service.
	APIKey string
	// APIBaseURL is the service endpoint, overridable for tests.
	APIBaseURL string
	// SourceDir is the directory whose immediate entries are processed.
	SourceDir string
	// CompressedDir receives compress-mode output.
	CompressedDir string
	// ConvertedDir receives convert-mode output.
	ConvertedDir string
	// MaxConcurrent bounds the number of in-flight transforms.
	MaxConcurrent int
	// RequestTimeout bounds each remote call. No retries are attempted.
	RequestTimeout time.Duration
	// PreserveMetadata copies EXIF tags onto compressed output.
	PreserveMetadata bool
}

// Load reads the environment and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		APIKey:         os.Getenv(EnvAPIKey),
		APIBaseURL:     DefaultAPIBaseURL,
		SourceDir:      DefaultSourceDir,
		CompressedDir:  DefaultCompressedDir,
		ConvertedDir:   DefaultConvertedDir,
		MaxConcurrent:  defaultMaxConcurrent,
		RequestTimeout: defaultRequestTimeout,
	}

	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	if url := os.Getenv(EnvAPIURL); url != "" {
		cfg.APIBaseURL = url
	}

	if raw := os.Getenv(EnvConcurrency); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("config: invalid %s value %q", EnvConcurrency, raw)
		}
		cfg.MaxConcurrent = n
	}

	return cfg, nil
}

// Validate checks invariants on a Config assembled or mutated by flag
// handling.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("config: concurrency must be at least 1, got %d", c.MaxConcurrent)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}
