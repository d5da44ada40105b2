package testsupport

import (
	"path/filepath"
	"testing"

	"tally/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.ExportDir = filepath.Join(base, "exports")
	cfg.Paths.APIBind = "127.0.0.1:0"

	// Fast retries so failure-path tests finish quickly.
	cfg.Queue.RetryDelayMS = 1
	cfg.Queue.MaxBackoffSeconds = 1
	cfg.Batch.RetryDelayMS = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithAPIToken sets the bearer token the API server requires.
func WithAPIToken(token string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Paths.APIToken = token
	}
}

// WithQueueConcurrency overrides the worker pool size.
func WithQueueConcurrency(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.Concurrency = n
	}
}
