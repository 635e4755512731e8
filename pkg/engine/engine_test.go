package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/blkcp/blkcp/pkg/endpoint"
)

// ==== Test doubles ====

// highWater tracks the peak number of concurrent callers.
type highWater struct {
	cur  atomic.Int64
	peak atomic.Int64
}

func (h *highWater) enter() {
	cur := h.cur.Add(1)
	for {
		peak := h.peak.Load()
		if cur <= peak || h.peak.CompareAndSwap(peak, cur) {
			return
		}
	}
}

func (h *highWater) exit() { h.cur.Add(-1) }

// memReader serves a fixed byte slice through positioned reads. maxChunk
// caps the bytes returned per call so tests can force continuations.
type memReader struct {
	mu       sync.Mutex
	data     []byte
	maxChunk int
	load     highWater
}

func (r *memReader) ReadBlock(p []byte, off int64) (int, error) {
	r.load.enter()
	defer r.load.exit()

	r.mu.Lock()
	defer r.mu.Unlock()
	if off >= int64(len(r.data)) {
		return 0, nil
	}
	n := copy(p, r.data[off:])
	if r.maxChunk > 0 && n > r.maxChunk {
		n = r.maxChunk
	}
	return n, nil
}

// streamReader serves a fixed byte slice sequentially, ignoring offsets,
// the way a pipe would.
type streamReader struct {
	mu       sync.Mutex
	data     []byte
	pos      int
	maxChunk int
}

func (r *streamReader) ReadBlock(p []byte, _ int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos >= len(r.data) {
		return 0, nil
	}
	n := copy(p, r.data[r.pos:])
	if r.maxChunk > 0 && n > r.maxChunk {
		n = r.maxChunk
	}
	r.pos += n
	return n, nil
}

// gatedReader delays each in-range block's completion until the test
// releases it, putting completion order under test control. Reads past
// the data complete immediately so end-of-stream probes never block.
type gatedReader struct {
	inner     *memReader
	blockSize int64
	mu        sync.Mutex
	gates     map[int64]chan struct{}
}

func newGatedReader(data []byte, blockSize int) *gatedReader {
	return &gatedReader{
		inner:     &memReader{data: data},
		blockSize: int64(blockSize),
		gates:     make(map[int64]chan struct{}),
	}
}

func (r *gatedReader) gate(block int64) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[block]
	if !ok {
		g = make(chan struct{})
		r.gates[block] = g
	}
	return g
}

func (r *gatedReader) release(block int64) {
	close(r.gate(block))
}

func (r *gatedReader) releaseAll() {
	blocks := int64(len(r.inner.data)) / r.blockSize
	for b := int64(0); b <= blocks; b++ {
		r.mu.Lock()
		g, ok := r.gates[b]
		r.mu.Unlock()
		if ok {
			select {
			case <-g:
			default:
				close(g)
			}
		}
	}
}

func (r *gatedReader) ReadBlock(p []byte, off int64) (int, error) {
	if off < int64(len(r.inner.data)) {
		<-r.gate(off / r.blockSize)
	}
	return r.inner.ReadBlock(p, off)
}

type writeCall struct {
	off int64
	n   int
}

// memWriter records positioned writes into a growable buffer.
type memWriter struct {
	mu    sync.Mutex
	buf   []byte
	calls []writeCall
	load  highWater
}

func (w *memWriter) WriteBlock(p []byte, off int64) (int, error) {
	w.load.enter()
	defer w.load.exit()

	w.mu.Lock()
	defer w.mu.Unlock()
	if end := off + int64(len(p)); int64(len(w.buf)) < end {
		grown := make([]byte, end)
		copy(grown, w.buf)
		w.buf = grown
	}
	copy(w.buf[off:], p)
	w.calls = append(w.calls, writeCall{off: off, n: len(p)})
	return len(p), nil
}

// streamWriter appends sequentially, recording the offsets it was handed.
type streamWriter struct {
	mu    sync.Mutex
	buf   []byte
	calls []writeCall
}

func (w *streamWriter) WriteBlock(p []byte, off int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	w.calls = append(w.calls, writeCall{off: off, n: len(p)})
	return len(p), nil
}

// limitWriter accepts a byte budget and then reports the wrapped errno.
type limitWriter struct {
	mu     sync.Mutex
	budget int
	errno  error
	buf    []byte
}

func (w *limitWriter) WriteBlock(p []byte, _ int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(p) > w.budget {
		return 0, fmt.Errorf("write: %w", w.errno)
	}
	w.budget -= len(p)
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// shortWriter accepts a number of full blocks, then part of one block,
// then nothing.
type shortWriter struct {
	mu      sync.Mutex
	full    int
	partial int
	buf     []byte
}

func (w *shortWriter) WriteBlock(p []byte, _ int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.full > 0 {
		w.full--
		w.buf = append(w.buf, p...)
		return len(p), nil
	}
	n := w.partial
	if n > len(p) {
		n = len(p)
	}
	w.partial = 0
	w.buf = append(w.buf, p[:n]...)
	return n, nil
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func sourceHandles(h endpoint.BlockReader, depth int) []endpoint.BlockReader {
	out := make([]endpoint.BlockReader, depth)
	for i := range out {
		out[i] = h
	}
	return out
}

func destHandles(h endpoint.BlockWriter, depth int) []endpoint.BlockWriter {
	out := make([]endpoint.BlockWriter, depth)
	for i := range out {
		out[i] = h
	}
	return out
}

// ==== Construction ====

func TestNew(t *testing.T) {
	t.Run("RejectsEmptyQueues", func(t *testing.T) {
		_, err := New(Input{}, Output{Handles: destHandles(&memWriter{}, 1), Seekable: true}, Options{})
		require.Error(t, err)

		_, err = New(Input{Handles: sourceHandles(&memReader{}, 1), Seekable: true}, Output{}, Options{})
		require.Error(t, err)
	})

	t.Run("RejectsNegativeBlockSize", func(t *testing.T) {
		_, err := New(
			Input{Handles: sourceHandles(&memReader{}, 1), Seekable: true},
			Output{Handles: destHandles(&memWriter{}, 1), Seekable: true},
			Options{BlockSize: -1},
		)
		require.Error(t, err)
	})

	t.Run("RejectsExcessiveDepth", func(t *testing.T) {
		_, err := New(
			Input{Handles: sourceHandles(&memReader{}, MaxQueueDepth+1), Seekable: true},
			Output{Handles: destHandles(&memWriter{}, 1), Seekable: true},
			Options{},
		)
		require.Error(t, err)
	})

	t.Run("ForcesDepthOneForStreams", func(t *testing.T) {
		e, err := New(
			Input{Handles: sourceHandles(&streamReader{}, 4), Seekable: false},
			Output{Handles: destHandles(&memWriter{}, 4), Seekable: true},
			Options{BlockSize: 16},
		)
		require.NoError(t, err)
		assert.Len(t, e.in, 1)
		assert.Len(t, e.out, 4)

		e, err = New(
			Input{Handles: sourceHandles(&memReader{}, 4), Seekable: true},
			Output{Handles: destHandles(&streamWriter{}, 4), Seekable: false},
			Options{BlockSize: 16},
		)
		require.NoError(t, err)
		assert.Len(t, e.in, 4)
		assert.Len(t, e.out, 1)
	})

	t.Run("AppliesDefaults", func(t *testing.T) {
		e, err := New(
			Input{Handles: sourceHandles(&memReader{}, 1), Seekable: true},
			Output{Handles: destHandles(&memWriter{}, 1), Seekable: true},
			Options{},
		)
		require.NoError(t, err)
		assert.Equal(t, DefaultBlockSize, e.blockSize)
		assert.Equal(t, DefaultPollInterval, e.pollInterval)
		assert.NotNil(t, e.exhausted)
	})
}

// ==== Round trips ====

func TestRoundTrip(t *testing.T) {
	const blockSize = 64

	cases := []struct {
		name   string
		length int
	}{
		{name: "Empty", length: 0},
		{name: "BelowOneBlock", length: blockSize - 11},
		{name: "ExactlyOneBlock", length: blockSize},
		{name: "ExactBlocks", length: 4 * blockSize},
		{name: "BlocksPlusRemainder", length: 5*blockSize + 17},
	}

	for _, tc := range cases {
		for _, depth := range []int{1, 4, 8} {
			t.Run(fmt.Sprintf("%s/Depth%d", tc.name, depth), func(t *testing.T) {
				data := pattern(tc.length)
				src := &memReader{data: data}
				dst := &memWriter{}

				e, err := New(
					Input{Handles: sourceHandles(src, depth), Seekable: true},
					Output{Handles: destHandles(dst, depth), Seekable: true},
					Options{BlockSize: blockSize, PollInterval: time.Millisecond},
				)
				require.NoError(t, err)

				st, err := e.Run(context.Background())
				require.NoError(t, err)

				assert.Equal(t, data, dst.buf)
				assert.Equal(t, int64(tc.length), st.BytesRead)
				assert.Equal(t, int64(tc.length), st.BytesWritten)
				assert.Zero(t, e.pool.Outstanding(), "every buffer must return to the pool")
				assert.Zero(t, e.inBusy)
				assert.Zero(t, e.outBusy)
			})
		}
	}
}

func TestRoundTripStreams(t *testing.T) {
	const blockSize = 32
	data := pattern(3*blockSize + 9)

	t.Run("PipeToPipe", func(t *testing.T) {
		src := &streamReader{data: data}
		dst := &streamWriter{}

		e, err := New(
			Input{Handles: sourceHandles(src, 1), Seekable: false},
			Output{Handles: destHandles(dst, 1), Seekable: false},
			Options{BlockSize: blockSize, PollInterval: time.Millisecond},
		)
		require.NoError(t, err)

		st, err := e.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, data, dst.buf)
		assert.Equal(t, int64(len(data)), st.BytesWritten)
		assert.Zero(t, e.pool.Outstanding())
	})

	t.Run("FileToPipeKeepsStreamOrder", func(t *testing.T) {
		src := &memReader{data: data}
		dst := &streamWriter{}

		e, err := New(
			Input{Handles: sourceHandles(src, 4), Seekable: true},
			Output{Handles: destHandles(dst, 1), Seekable: false},
			Options{BlockSize: blockSize, PollInterval: time.Millisecond},
		)
		require.NoError(t, err)

		_, err = e.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, data, dst.buf)

		// Each write's offset equals the bytes written before it, so the
		// sequence the pipe saw was gap-free and in order.
		var expect int64
		for _, c := range dst.calls {
			assert.Equal(t, expect, c.off)
			expect += int64(c.n)
		}
	})

	t.Run("PipeToFileSynthesizesOffsets", func(t *testing.T) {
		src := &streamReader{data: data, maxChunk: 7}
		dst := &memWriter{}

		e, err := New(
			Input{Handles: sourceHandles(src, 1), Seekable: false},
			Output{Handles: destHandles(dst, 2), Seekable: true},
			Options{BlockSize: blockSize, PollInterval: time.Millisecond},
		)
		require.NoError(t, err)

		_, err = e.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, data, dst.buf)

		// A pipe source supplies no offsets; the running cursor must hand
		// out positions that tile the file with no gaps or overlaps. Two
		// write slots may land out of order, so sort before checking.
		calls := append([]writeCall(nil), dst.calls...)
		sort.Slice(calls, func(i, j int) bool { return calls[i].off < calls[j].off })
		var expect int64
		for _, c := range calls {
			assert.Equal(t, expect, c.off)
			expect += int64(c.n)
		}
	})
}

// ==== Ordering ====

func TestSequentialDestinationOrdering(t *testing.T) {
	const blockSize = 16
	const depth = 4
	data := pattern(depth * blockSize)

	src := newGatedReader(data, blockSize)
	dst := &streamWriter{}

	e, err := New(
		Input{Handles: sourceHandles(src, depth), Seekable: true},
		Output{Handles: destHandles(dst, 1), Seekable: false},
		Options{BlockSize: blockSize, PollInterval: time.Millisecond},
	)
	require.NoError(t, err)

	// Let the reads complete back to front. The writer must still see
	// blocks in stream order.
	go func() {
		for block := int64(depth - 1); block >= 0; block-- {
			time.Sleep(2 * time.Millisecond)
			src.release(block)
		}
	}()

	st, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, data, dst.buf)
	assert.Equal(t, int64(len(data)), st.BytesWritten)
	require.Len(t, dst.calls, depth)
	for i, c := range dst.calls {
		assert.Equal(t, int64(i*blockSize), c.off, "write %d arrived out of order", i)
		assert.Equal(t, blockSize, c.n)
	}
	assert.Zero(t, e.pool.Outstanding())
}

func TestRandomAccessDestinationPlacement(t *testing.T) {
	const blockSize = 16
	const depth = 4
	data := pattern(depth * blockSize)

	src := newGatedReader(data, blockSize)
	dst := &memWriter{}

	e, err := New(
		Input{Handles: sourceHandles(src, depth), Seekable: true},
		Output{Handles: destHandles(dst, depth), Seekable: true},
		Options{BlockSize: blockSize, PollInterval: time.Millisecond},
	)
	require.NoError(t, err)

	go func() {
		for block := int64(depth - 1); block >= 0; block-- {
			time.Sleep(2 * time.Millisecond)
			src.release(block)
		}
	}()

	_, err = e.Run(context.Background())
	require.NoError(t, err)

	// Out-of-order completion is fine here because every block carries
	// its own position.
	assert.Equal(t, data, dst.buf)
	assert.Zero(t, e.pool.Outstanding())
}

// ==== Partial reads ====

func TestPartialReadsConverge(t *testing.T) {
	const blockSize = 64

	t.Run("TrickleSource", func(t *testing.T) {
		data := pattern(3*blockSize + 5)
		src := &memReader{data: data, maxChunk: 7}
		dst := &memWriter{}

		e, err := New(
			Input{Handles: sourceHandles(src, 2), Seekable: true},
			Output{Handles: destHandles(dst, 2), Seekable: true},
			Options{BlockSize: blockSize, PollInterval: time.Millisecond},
		)
		require.NoError(t, err)

		st, err := e.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, data, dst.buf)
		assert.Positive(t, st.Continuations,
			"a source capped below the block size must trigger continuations")
		assert.Zero(t, e.pool.Outstanding())
	})

	t.Run("FinalShortBlockFlushes", func(t *testing.T) {
		data := pattern(blockSize + 3)
		src := &memReader{data: data}
		dst := &memWriter{}

		e, err := New(
			Input{Handles: sourceHandles(src, 1), Seekable: true},
			Output{Handles: destHandles(dst, 1), Seekable: true},
			Options{BlockSize: blockSize, PollInterval: time.Millisecond},
		)
		require.NoError(t, err)

		st, err := e.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, data, dst.buf)
		assert.Equal(t, int64(len(data)), st.BytesWritten)
	})
}

// ==== Concurrency bounds ====

func TestBoundedConcurrency(t *testing.T) {
	const blockSize = 32
	const depth = 4
	data := pattern(40 * blockSize)

	src := &memReader{data: data}
	dst := &memWriter{}

	e, err := New(
		Input{Handles: sourceHandles(src, depth), Seekable: true},
		Output{Handles: destHandles(dst, depth), Seekable: true},
		Options{BlockSize: blockSize, PollInterval: time.Millisecond},
	)
	require.NoError(t, err)

	_, err = e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, data, dst.buf)
	assert.LessOrEqual(t, src.load.peak.Load(), int64(depth),
		"reads in flight must never exceed the queue depth")
	assert.LessOrEqual(t, dst.load.peak.Load(), int64(depth),
		"writes in flight must never exceed the queue depth")
	assert.LessOrEqual(t, e.pool.Allocated(), 2*depth,
		"buffer demand is bounded by the two queues")
}

// ==== End-of-stream scenarios ====

func TestTailBlockScenario(t *testing.T) {
	// Ten bytes through four-byte blocks: three writes of 4, 4 and 2
	// bytes at offsets 0, 4 and 8.
	data := []byte("0123456789")
	src := &memReader{data: data}
	dst := &memWriter{}

	e, err := New(
		Input{Handles: sourceHandles(src, 1), Seekable: true},
		Output{Handles: destHandles(dst, 1), Seekable: true},
		Options{BlockSize: 4, PollInterval: time.Millisecond},
	)
	require.NoError(t, err)

	st, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, data, dst.buf)
	assert.Equal(t, int64(10), st.BytesWritten)
	require.Len(t, dst.calls, 3)
	assert.Equal(t, []writeCall{{0, 4}, {4, 4}, {8, 2}}, dst.calls)
	assert.Equal(t, uint64(1), st.Continuations)
	assert.Zero(t, e.pool.Outstanding())
}

func TestDestinationExhausted(t *testing.T) {
	const blockSize = 4

	t.Run("NoSpaceEndsStreamCleanly", func(t *testing.T) {
		data := []byte("0123456789ab")
		src := &streamReader{data: data}
		dst := &limitWriter{budget: 2 * blockSize, errno: unix.ENOSPC}

		e, err := New(
			Input{Handles: sourceHandles(src, 1), Seekable: false},
			Output{Handles: destHandles(dst, 1), Seekable: false},
			Options{BlockSize: blockSize, PollInterval: time.Millisecond},
		)
		require.NoError(t, err)

		st, err := e.Run(context.Background())
		require.NoError(t, err, "a full destination ends the copy, it does not fail it")

		assert.Equal(t, data[:2*blockSize], dst.buf)
		assert.Equal(t, int64(2*blockSize), st.BytesWritten,
			"the report counts bytes the destination accepted, not bytes issued")
		assert.Zero(t, e.pool.Outstanding())
	})

	t.Run("ShortWriteEndsStream", func(t *testing.T) {
		data := pattern(4 * blockSize)
		src := &streamReader{data: data}
		dst := &shortWriter{full: 1, partial: 2}

		e, err := New(
			Input{Handles: sourceHandles(src, 1), Seekable: false},
			Output{Handles: destHandles(dst, 1), Seekable: false},
			Options{BlockSize: blockSize, PollInterval: time.Millisecond},
		)
		require.NoError(t, err)

		st, err := e.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, int64(blockSize+2), st.BytesWritten)
		assert.Equal(t, data[:blockSize+2], dst.buf)
		assert.Zero(t, e.pool.Outstanding())
	})

	t.Run("UnclassifiedWriteErrorIsFatal", func(t *testing.T) {
		data := pattern(2 * blockSize)
		src := &streamReader{data: data}
		dst := &limitWriter{budget: 0, errno: unix.EIO}

		e, err := New(
			Input{Handles: sourceHandles(src, 1), Seekable: false},
			Output{Handles: destHandles(dst, 1), Seekable: false},
			Options{BlockSize: blockSize, PollInterval: time.Millisecond},
		)
		require.NoError(t, err)

		_, err = e.Run(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, unix.EIO)
		assert.Contains(t, err.Error(), "write failed")
	})
}

// ==== Abort ====

func TestRunHonorsContext(t *testing.T) {
	const blockSize = 16
	src := newGatedReader(pattern(4*blockSize), blockSize)
	defer src.releaseAll()
	dst := &memWriter{}

	e, err := New(
		Input{Handles: sourceHandles(src, 2), Seekable: true},
		Output{Handles: destHandles(dst, 2), Seekable: true},
		Options{BlockSize: blockSize, PollInterval: time.Millisecond},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err = e.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// ==== Files on disk ====

func TestCopyBetweenFiles(t *testing.T) {
	const blockSize = 512

	for _, length := range []int{0, 100, blockSize, 3*blockSize + 111} {
		t.Run(fmt.Sprintf("Length%d", length), func(t *testing.T) {
			data := pattern(length)
			dir := t.TempDir()
			srcPath := filepath.Join(dir, "src")
			dstPath := filepath.Join(dir, "dst")
			require.NoError(t, os.WriteFile(srcPath, data, 0o600))

			src, err := endpoint.OpenSource(srcPath, 4, false)
			require.NoError(t, err)
			defer src.Close()

			dst, err := endpoint.OpenDestination(dstPath, 4, false)
			require.NoError(t, err)
			defer dst.Close()

			e, err := New(
				Input{Handles: src.Readers(), Seekable: src.Class.Seekable},
				Output{Handles: dst.Writers(), Seekable: dst.Class.Seekable},
				Options{BlockSize: blockSize, PollInterval: time.Millisecond},
			)
			require.NoError(t, err)

			st, err := e.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int64(length), st.BytesWritten)

			got, err := os.ReadFile(dstPath)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(data, got), "destination bytes differ from source")
			assert.Zero(t, e.pool.Outstanding())
		})
	}
}

// ==== Stats ====

func TestStats(t *testing.T) {
	t.Run("ReportLine", func(t *testing.T) {
		st := Stats{BytesWritten: 10 << 20, Elapsed: 2 * time.Second}
		assert.Equal(t, "10485760 bytes copied, 2.00 s, 5.00 MB/s", st.String())
	})

	t.Run("ZeroElapsed", func(t *testing.T) {
		st := Stats{BytesWritten: 1024}
		assert.Zero(t, st.ThroughputMBps())
	})
}
