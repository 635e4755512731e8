package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for copy operations. Everything a copy run knows about
// itself hangs off the "copy." namespace.
const (
	AttrRunID           = "copy.run_id"
	AttrSource          = "copy.source"
	AttrDestination     = "copy.destination"
	AttrSourceKind      = "copy.source_kind"
	AttrDestinationKind = "copy.destination_kind"
	AttrBlockSize       = "copy.block_size"
	AttrQueueDepth      = "copy.queue_depth"
	AttrDirectInput     = "copy.direct_input"
	AttrDirectOutput    = "copy.direct_output"
	AttrBytesRead       = "copy.bytes_read"
	AttrBytesWritten    = "copy.bytes_written"
	AttrReads           = "copy.reads"
	AttrWrites          = "copy.writes"
	AttrContinuations   = "copy.continuations"
	AttrThroughputMBps  = "copy.throughput_mbps"
)

// Span names.
const (
	// Root span for one copy run
	SpanCopy = "blkcp.copy"

	// Endpoint setup spans
	SpanOpenSource      = "blkcp.open_source"
	SpanOpenDestination = "blkcp.open_destination"
)

// Attribute constructors. Using these instead of raw key/value pairs keeps
// the attribute names consistent across spans.

func RunID(id string) attribute.KeyValue {
	return attribute.String(AttrRunID, id)
}

func Source(path string) attribute.KeyValue {
	return attribute.String(AttrSource, path)
}

func Destination(path string) attribute.KeyValue {
	return attribute.String(AttrDestination, path)
}

func SourceKind(kind string) attribute.KeyValue {
	return attribute.String(AttrSourceKind, kind)
}

func DestinationKind(kind string) attribute.KeyValue {
	return attribute.String(AttrDestinationKind, kind)
}

func BlockSize(size int) attribute.KeyValue {
	return attribute.Int(AttrBlockSize, size)
}

func QueueDepth(depth int) attribute.KeyValue {
	return attribute.Int(AttrQueueDepth, depth)
}

func DirectInput(on bool) attribute.KeyValue {
	return attribute.Bool(AttrDirectInput, on)
}

func DirectOutput(on bool) attribute.KeyValue {
	return attribute.Bool(AttrDirectOutput, on)
}

func BytesRead(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytesRead, n)
}

func BytesWritten(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytesWritten, n)
}

func Reads(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrReads, int64(n))
}

func Writes(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrWrites, int64(n))
}

func Continuations(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrContinuations, int64(n))
}

func ThroughputMBps(mbps float64) attribute.KeyValue {
	return attribute.Float64(AttrThroughputMBps, mbps)
}

// StartCopySpan starts the root span for a copy run.
func StartCopySpan(ctx context.Context, source, destination string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	spanAttrs := append([]attribute.KeyValue{
		Source(source),
		Destination(destination),
	}, attrs...)

	return StartSpan(ctx, SpanCopy, trace.WithAttributes(spanAttrs...))
}

// StartEndpointSpan starts a span covering endpoint setup. Use the
// SpanOpenSource and SpanOpenDestination names.
func StartEndpointSpan(ctx context.Context, name, path string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	spanAttrs := append([]attribute.KeyValue{attribute.String("copy.path", path)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(spanAttrs...))
}
