package writer

import "time"

// Config controls batching behavior.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the capacity of the input channel. Enqueue drops
	// when the buffer is full rather than blocking the dispatcher.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
		BufferSize:    1024,
	}
}

// notificationRow represents a row to be inserted into the notifications table.
type notificationRow struct {
	ID        string // UUID
	SubjectID string
	Kind      string
	Title     string
	Body      string
	Actor     string
	Read      bool
	CreatedTS int64 // Microseconds
	UpdatedTS int64 // Microseconds
}

// Metrics tracks writer activity. All counters are cumulative.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}
