package filequeue

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// DefaultContentionRetries bounds retry loops on processed-cursor contention.
const DefaultContentionRetries = 16

// Config holds queue configuration options.
type Config struct {
	// RootPath is the coordinator directory under which all queue state lives.
	RootPath string

	// Buckets is the number of independent ordered shards. Fixed at table
	// creation; 1 means unsharded.
	Buckets int

	// MaxLoadingRetries is the retriable-failure budget per path. 0 disables
	// retries: every failure is terminal.
	MaxLoadingRetries int

	// ProcessorIdentity is a stable string identifying this worker in
	// processing-id payloads and bucket lock bodies.
	ProcessorIdentity string

	// HashSeed seeds the path hasher. Changing it after data exists
	// invalidates bucket placement.
	HashSeed uint64

	// ContentionRetries caps cursor-contention retry loops before the call
	// reports a retryable failure to the scheduler.
	ContentionRetries int

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Buckets <= 0 {
		c.Buckets = 1
	}
	if c.ContentionRetries <= 0 {
		c.ContentionRetries = DefaultContentionRetries
	}
	if c.ProcessorIdentity == "" {
		c.ProcessorIdentity = NewProcessorIdentity()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// NewProcessorIdentity builds a "<hostname>:<pid>:<random>" worker identity.
func NewProcessorIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}
