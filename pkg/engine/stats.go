package engine

import (
	"fmt"
	"time"
)

// Stats reports what a copy run moved.
type Stats struct {
	// BytesRead is the total returned by read completions, including
	// data that never reached the destination on an aborted run.
	BytesRead int64
	// BytesWritten is the sum of write completion counts: bytes the
	// destination actually accepted, never the bytes merely issued.
	BytesWritten int64
	// Reads counts issued block reads, continuations excluded.
	Reads uint64
	// Writes counts settled writes.
	Writes uint64
	// Continuations counts reads reissued after a partial completion.
	Continuations uint64
	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration
}

// ThroughputMBps returns write throughput in mebibytes per second.
func (s Stats) ThroughputMBps() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.BytesWritten) / (1 << 20) / secs
}

// String formats the dd-style completion line reported on stderr.
func (s Stats) String() string {
	return fmt.Sprintf("%d bytes copied, %.2f s, %.2f MB/s",
		s.BytesWritten, s.Elapsed.Seconds(), s.ThroughputMBps())
}
