package config

const (
	defaultDataDir   = "~/.local/share/tally/data"
	defaultLogDir    = "~/.local/share/tally/logs"
	defaultExportDir = "~/.local/share/tally/exports"
	defaultAPIBind   = "127.0.0.1:7319"

	defaultLogFormat = "console"
	defaultLogLevel  = "info"

	defaultQueuePriorityLevels    = 5
	defaultQueueConcurrency       = 5
	defaultQueueMaxSize           = 10000
	defaultQueueTimeoutSeconds    = 30
	defaultQueueMaxRetries        = 3
	defaultQueueRetryDelayMS      = 1000
	defaultQueueBackoffMultiplier = 2.0
	defaultQueueMaxBackoffSeconds = 300

	defaultBatchSize           = 100
	defaultBatchMaxConcurrency = 5
	defaultBatchTimeoutSeconds = 60
	defaultBatchMaxRetries     = 2
	defaultBatchRetryDelayMS   = 500
	defaultBatchEventBuffer    = 256
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			ExportDir: defaultExportDir,
			APIBind:   defaultAPIBind,
		},
		Queue: Queue{
			PriorityLevels:    defaultQueuePriorityLevels,
			Concurrency:       defaultQueueConcurrency,
			MaxSize:           defaultQueueMaxSize,
			TimeoutSeconds:    defaultQueueTimeoutSeconds,
			MaxRetries:        defaultQueueMaxRetries,
			RetryDelayMS:      defaultQueueRetryDelayMS,
			BackoffMultiplier: defaultQueueBackoffMultiplier,
			MaxBackoffSeconds: defaultQueueMaxBackoffSeconds,
		},
		Batch: Batch{
			BatchSize:          defaultBatchSize,
			MaxConcurrency:     defaultBatchMaxConcurrency,
			TimeoutSeconds:     defaultBatchTimeoutSeconds,
			RetryOnFailure:     true,
			MaxRetries:         defaultBatchMaxRetries,
			RetryDelayMS:       defaultBatchRetryDelayMS,
			StopOnError:        false,
			ParallelProcessing: true,
			EventBuffer:        defaultBatchEventBuffer,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
