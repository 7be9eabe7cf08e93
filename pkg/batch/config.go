package batch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration reports an invalid value for a recognized option.
// Configuration errors are fatal at the point raised.
var ErrConfiguration = errors.New("configuration error")

// Mode is the processing strategy.
type Mode string

const (
	// ModeSequential processes files one by one in input order.
	ModeSequential Mode = "sequential"
	// ModeParallel extracts chunks of files on a bounded worker pool.
	ModeParallel Mode = "parallel"
	// ModeStreaming is sequential extraction with incremental flushing.
	ModeStreaming Mode = "streaming"
	// ModeHybrid combines parallel extraction with streaming flushes.
	ModeHybrid Mode = "hybrid"
	// ModeAdaptive is hybrid processing with a flush threshold that follows
	// observed memory pressure.
	ModeAdaptive Mode = "adaptive"
)

// Config holds the recognized processing options.
type Config struct {
	// BatchFileSize is the number of files per scheduling chunk.
	BatchFileSize int `yaml:"batch_file_size"`

	// BatchRowSize is the row-count flush threshold of the accumulator.
	BatchRowSize int `yaml:"batch_row_size"`

	// ShardSize is the row count per output shard for sharding sinks.
	ShardSize int `yaml:"shard_size"`

	// MaxWorkers bounds the extraction worker pool.
	MaxWorkers int `yaml:"max_workers"`

	// MemoryLimitMB is the adaptive-mode high-water mark for process memory,
	// in megabytes.
	MemoryLimitMB int `yaml:"memory_limit"`

	// Mode selects the processing strategy.
	Mode Mode `yaml:"processing_mode"`

	// Compression is a hint passed through to the sink ("none" or "gzip").
	Compression string `yaml:"compression"`

	// Logger for per-file failure reporting.
	Logger *slog.Logger `yaml:"-"`
}

// ApplyDefaults fills unset options with their default values.
func (c *Config) ApplyDefaults() {
	if c.BatchFileSize <= 0 {
		c.BatchFileSize = 100
	}
	if c.BatchRowSize <= 0 {
		c.BatchRowSize = 10_000
	}
	if c.ShardSize <= 0 {
		c.ShardSize = 100_000
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = min(32, runtime.NumCPU())
	}
	if c.MemoryLimitMB <= 0 {
		c.MemoryLimitMB = 1024
	}
	if c.Mode == "" {
		c.Mode = ModeStreaming
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks every recognized option. It does not apply defaults;
// callers go through NewScheduler or LoadConfig, which do.
func (c Config) Validate() error {
	if c.BatchRowSize > c.ShardSize {
		return fmt.Errorf("%w: batch_row_size (%d) must be <= shard_size (%d)",
			ErrConfiguration, c.BatchRowSize, c.ShardSize)
	}
	if c.MaxWorkers > 128 {
		return fmt.Errorf("%w: max_workers (%d) exceeds limit 128", ErrConfiguration, c.MaxWorkers)
	}
	switch c.Mode {
	case ModeSequential, ModeParallel, ModeStreaming, ModeHybrid, ModeAdaptive:
	default:
		return fmt.Errorf("%w: unknown processing_mode %q", ErrConfiguration, c.Mode)
	}
	switch c.Compression {
	case "none", "gzip":
	default:
		return fmt.Errorf("%w: unknown compression %q", ErrConfiguration, c.Compression)
	}
	return nil
}

// LoadConfig reads a YAML configuration file, applies defaults and
// validates the result.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, path, err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
