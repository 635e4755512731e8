package metrics

import (
	"time"
)

// CopyMetrics provides observability for the copy engine.
//
// Implementations record read/write scheduling activity, queue occupancy,
// and the final outcome of a copy. This interface is optional - pass nil
// to disable metrics collection with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewCopyMetrics()
//	eng, err := engine.New(in, out, engine.Options{Metrics: m})
//
//	// Without metrics (pass nil for zero overhead)
//	eng, err := engine.New(in, out, engine.Options{})
type CopyMetrics interface {
	// RecordReadIssued increments the issued-read counter. Called once
	// per new block read, not for continuation reads.
	RecordReadIssued()

	// RecordReadCompleted records a read completion and the bytes it
	// returned. Zero-byte completions (end of stream) count too.
	RecordReadCompleted(bytes int)

	// RecordContinuation increments the continuation-read counter,
	// issued when a read returns fewer bytes than the block size.
	RecordContinuation()

	// RecordWriteIssued increments the issued-write counter.
	RecordWriteIssued()

	// RecordWriteCompleted records a write completion and the bytes it
	// actually wrote.
	RecordWriteCompleted(bytes int)

	// RecordQueueOccupancy updates the per-queue occupancy gauges with
	// the number of non-free slots in each queue.
	RecordQueueOccupancy(input, output int)

	// RecordCopyComplete records the final byte count and duration of a
	// finished copy.
	RecordCopyComplete(bytes int64, duration time.Duration)
}
