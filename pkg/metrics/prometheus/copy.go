// Package prometheus provides Prometheus-backed implementations of the
// metrics interfaces in pkg/metrics.
package prometheus

import (
	"time"

	"github.com/blkcp/blkcp/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// copyMetrics is the Prometheus implementation of metrics.CopyMetrics.
type copyMetrics struct {
	readsIssued     prometheus.Counter
	readsCompleted  prometheus.Counter
	readBytes       prometheus.Counter
	readSizes       prometheus.Histogram
	continuations   prometheus.Counter
	writesIssued    prometheus.Counter
	writesCompleted prometheus.Counter
	writtenBytes    prometheus.Counter
	writeSizes      prometheus.Histogram
	inputOccupancy  prometheus.Gauge
	outputOccupancy prometheus.Gauge
	copyBytes       prometheus.Histogram
	copyDuration    prometheus.Histogram
}

// completion size buckets, from a bare sector to the block size cap
var sizeBuckets = []float64{
	512,      // one sector
	4096,     // 4KB
	65536,    // 64KB
	262144,   // 256KB
	1048576,  // 1MB - default block size
	4194304,  // 4MB
	16777216, // 16MB - block size cap
}

// NewCopyMetrics creates a new Prometheus-backed CopyMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewCopyMetrics() metrics.CopyMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &copyMetrics{
		readsIssued: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "blkcp_reads_issued_total",
				Help: "Total number of block reads issued against the source",
			},
		),
		readsCompleted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "blkcp_reads_completed_total",
				Help: "Total number of read completions polled, including zero-byte end-of-stream completions",
			},
		),
		readBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "blkcp_read_bytes_total",
				Help: "Total bytes returned by read completions",
			},
		),
		readSizes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "blkcp_read_size_bytes",
				Help:    "Distribution of bytes returned per read completion",
				Buckets: sizeBuckets,
			},
		),
		continuations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "blkcp_read_continuations_total",
				Help: "Total number of continuation reads issued after partial completions",
			},
		),
		writesIssued: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "blkcp_writes_issued_total",
				Help: "Total number of block writes issued against the destination",
			},
		),
		writesCompleted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "blkcp_writes_completed_total",
				Help: "Total number of write completions polled",
			},
		),
		writtenBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "blkcp_written_bytes_total",
				Help: "Total bytes actually written to the destination",
			},
		),
		writeSizes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "blkcp_write_size_bytes",
				Help:    "Distribution of bytes written per write completion",
				Buckets: sizeBuckets,
			},
		),
		inputOccupancy: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "blkcp_input_queue_occupancy",
				Help: "Current number of non-free input queue slots",
			},
		),
		outputOccupancy: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "blkcp_output_queue_occupancy",
				Help: "Current number of non-free output queue slots",
			},
		),
		copyBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "blkcp_copy_bytes",
				Help: "Total bytes moved per completed copy",
				Buckets: []float64{
					1 << 20, // 1MB
					1 << 24, // 16MB
					1 << 28, // 256MB
					1 << 30, // 1GB
					1 << 32, // 4GB
					1 << 34, // 16GB
					1 << 36, // 64GB
					1 << 38, // 256GB
					1 << 40, // 1TB - full-disk images
				},
			},
		),
		copyDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "blkcp_copy_duration_seconds",
				Help: "Wall-clock duration of completed copies",
				Buckets: []float64{
					0.01, // 10ms - tiny copies
					0.1,  // 100ms
					1,    // 1s
					10,   // 10s
					60,   // 1min
					600,  // 10min
					3600, // 1h - device-sized copies
				},
			},
		),
	}
}

func (m *copyMetrics) RecordReadIssued() {
	if m == nil {
		return
	}
	m.readsIssued.Inc()
}

func (m *copyMetrics) RecordReadCompleted(bytes int) {
	if m == nil {
		return
	}
	m.readsCompleted.Inc()
	m.readBytes.Add(float64(bytes))
	m.readSizes.Observe(float64(bytes))
}

func (m *copyMetrics) RecordContinuation() {
	if m == nil {
		return
	}
	m.continuations.Inc()
}

func (m *copyMetrics) RecordWriteIssued() {
	if m == nil {
		return
	}
	m.writesIssued.Inc()
}

func (m *copyMetrics) RecordWriteCompleted(bytes int) {
	if m == nil {
		return
	}
	m.writesCompleted.Inc()
	m.writtenBytes.Add(float64(bytes))
	m.writeSizes.Observe(float64(bytes))
}

func (m *copyMetrics) RecordQueueOccupancy(input, output int) {
	if m == nil {
		return
	}
	m.inputOccupancy.Set(float64(input))
	m.outputOccupancy.Set(float64(output))
}

func (m *copyMetrics) RecordCopyComplete(bytes int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.copyBytes.Observe(float64(bytes))
	m.copyDuration.Observe(duration.Seconds())
}
