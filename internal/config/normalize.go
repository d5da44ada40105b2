package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeBatch()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ExportDir) != "" {
		if c.Paths.ExportDir, err = expandPath(c.Paths.ExportDir); err != nil {
			return fmt.Errorf("paths.export_dir: %w", err)
		}
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeQueue() {
	if c.Queue.PriorityLevels <= 0 {
		c.Queue.PriorityLevels = defaultQueuePriorityLevels
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = defaultQueueConcurrency
	}
	if c.Queue.MaxSize <= 0 {
		c.Queue.MaxSize = defaultQueueMaxSize
	}
	if c.Queue.TimeoutSeconds <= 0 {
		c.Queue.TimeoutSeconds = defaultQueueTimeoutSeconds
	}
	if c.Queue.MaxRetries < 0 {
		c.Queue.MaxRetries = defaultQueueMaxRetries
	}
	if c.Queue.RetryDelayMS <= 0 {
		c.Queue.RetryDelayMS = defaultQueueRetryDelayMS
	}
	if c.Queue.BackoffMultiplier < 1 {
		c.Queue.BackoffMultiplier = defaultQueueBackoffMultiplier
	}
	if c.Queue.MaxBackoffSeconds <= 0 {
		c.Queue.MaxBackoffSeconds = defaultQueueMaxBackoffSeconds
	}
}

func (c *Config) normalizeBatch() {
	if c.Batch.BatchSize <= 0 {
		c.Batch.BatchSize = defaultBatchSize
	}
	if c.Batch.MaxConcurrency <= 0 {
		c.Batch.MaxConcurrency = defaultBatchMaxConcurrency
	}
	if c.Batch.TimeoutSeconds <= 0 {
		c.Batch.TimeoutSeconds = defaultBatchTimeoutSeconds
	}
	if c.Batch.MaxRetries < 0 {
		c.Batch.MaxRetries = defaultBatchMaxRetries
	}
	if c.Batch.RetryDelayMS <= 0 {
		c.Batch.RetryDelayMS = defaultBatchRetryDelayMS
	}
	if c.Batch.EventBuffer <= 0 {
		c.Batch.EventBuffer = defaultBatchEventBuffer
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
