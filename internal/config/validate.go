package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.PriorityLevels < 1 || c.Queue.PriorityLevels > 64 {
		return errors.New("queue.priority_levels must be between 1 and 64")
	}
	if c.Queue.Concurrency < 1 {
		return errors.New("queue.concurrency must be at least 1")
	}
	if c.Queue.MaxSize < c.Queue.Concurrency {
		return fmt.Errorf("queue.max_size (%d) must not be smaller than queue.concurrency (%d)", c.Queue.MaxSize, c.Queue.Concurrency)
	}
	if c.Queue.BackoffMultiplier < 1 {
		return errors.New("queue.backoff_multiplier must be at least 1")
	}
	if c.Queue.MaxBackoffSeconds*1000 < c.Queue.RetryDelayMS {
		return errors.New("queue.max_backoff_seconds must not be smaller than queue.retry_delay_ms")
	}
	return nil
}

func (c *Config) validateBatch() error {
	if c.Batch.BatchSize < 1 {
		return errors.New("batch.batch_size must be at least 1")
	}
	if c.Batch.MaxConcurrency < 1 {
		return errors.New("batch.max_concurrency must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
