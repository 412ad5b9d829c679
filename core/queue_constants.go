package core

import "time"

// Redis keys and defaults for the benchmark import queue.
const (
	PendingImportsKey    = "bh:imports:pending"
	ProcessingImportsKey = "bh:imports:processing"
	// DefaultVisibilityTimeout is how long a worker holds a reserved job before it is requeued.
	DefaultVisibilityTimeout = 30 * time.Second
	// maxImportRetries bounds transient failures before a job is marked failed.
	maxImportRetries = 3
)
