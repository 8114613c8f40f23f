package writer

import "errors"

// AsyncWriterStats is a point-in-time view of async writer activity.
type AsyncWriterStats struct {
	// QueueDepth is the current number of pending operations in the queue.
	QueueDepth int

	// DroppedWrites is the total number of operations dropped under
	// backpressure.
	DroppedWrites int64

	// TotalWrites is the total number of operations accepted into the
	// queue, across all kinds.
	TotalWrites int64

	// FailedWrites is the total number of applied operations that errored.
	FailedWrites int64

	// SetWrites, DeleteWrites, and TouchWrites break TotalWrites down by
	// operation kind.
	SetWrites    int64
	DeleteWrites int64
	TouchWrites  int64
}

// Errors returned by async writer operations.
var (
	// ErrQueueFull is returned when the queue stayed full past MaxWaitTime
	// and the operation was dropped.
	ErrQueueFull = errors.New("writer: queue full, write dropped")

	// ErrWriterClosed is returned when enqueueing on a closed writer.
	ErrWriterClosed = errors.New("writer: writer is closed")

	// ErrFlushTimeout is returned when Flush's context expired before the
	// queue drained.
	ErrFlushTimeout = errors.New("writer: flush timeout exceeded")
)
