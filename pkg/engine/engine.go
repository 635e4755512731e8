// Package engine implements the asynchronous block-copy scheduler.
//
// Two fixed-size queues of slots hold in-flight operations: the input
// queue reads blocks from the source, the output queue writes completed
// blocks to the destination. A single goroutine advances both queues each
// iteration: it polls outstanding operations without blocking, issues new
// reads while the stream has not ended, pairs completed blocks with free
// output slots under the ordering policy, and then sleeps on a bounded
// wait that any completion interrupts.
//
// Buffers move, they are never shared: a block belongs to exactly one
// slot from the moment a read is issued until the write that carries it
// settles, and the hand-off from input slot to output slot clears the
// source field in the same step. Because only the scheduler goroutine
// touches slot state, the engine needs no locks; background workers do
// nothing but execute one I/O operation and wake the loop.
//
// Reads run ahead of writes independently up to the input queue's depth.
// Backpressure on a slow destination comes only from the output queue
// filling up, which strands completed blocks in Ready input slots and
// eventually starves the input queue of free slots. This asymmetry is
// deliberate: it keeps the source busy while the destination catches up.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blkcp/blkcp/internal/bytesize"
	"github.com/blkcp/blkcp/internal/logger"
	"github.com/blkcp/blkcp/pkg/aio"
	"github.com/blkcp/blkcp/pkg/blockpool"
	"github.com/blkcp/blkcp/pkg/endpoint"
	"github.com/blkcp/blkcp/pkg/metrics"
)

const (
	// DefaultBlockSize is one mebibyte per block.
	DefaultBlockSize = int(bytesize.MiB)
	// MaxBlockSize caps blocks at 16 mebibytes.
	MaxBlockSize = int(16 * bytesize.MiB)
	// DefaultQueueDepth is the per-queue slot count when none is given.
	DefaultQueueDepth = 8
	// MaxQueueDepth bounds the per-queue slot count.
	MaxQueueDepth = 32
	// DefaultPollInterval is the bounded-wait fallback between polls.
	DefaultPollInterval = 100 * time.Microsecond
)

// Input binds the engine's read side to an endpoint: one handle per slot
// and the seekability that decides offset assignment.
type Input struct {
	Handles  []endpoint.BlockReader
	Seekable bool
}

// Output binds the engine's write side to an endpoint. Seekable controls
// the ordering policy: sequential destinations accept blocks strictly in
// input order.
type Output struct {
	Handles  []endpoint.BlockWriter
	Seekable bool
}

// Options tunes a copy run. The zero value gets defaults.
type Options struct {
	// BlockSize is the bytes per block, DefaultBlockSize when zero.
	// The engine accepts any positive size; the 512-multiple rule is a
	// command-surface constraint.
	BlockSize int
	// Alignment is the buffer alignment in bytes, 1 when zero. Callers
	// pass the stricter of the two endpoints' requirements.
	Alignment int
	// PollInterval bounds the wait between scheduler iterations.
	PollInterval time.Duration
	// Exhausted classifies write errors that mean the destination can
	// take no more data (end of stream, not failure). Defaults to
	// endpoint.IsExhausted.
	Exhausted func(error) bool
	// Metrics receives scheduling observations; nil disables them.
	Metrics metrics.CopyMetrics
}

// Engine copies a byte stream through two bounded queues of asynchronous
// operations. Create one with New, run it once with Run.
type Engine struct {
	in  []slot
	out []slot

	readers     []endpoint.BlockReader
	writers     []endpoint.BlockWriter
	inSeekable  bool
	outSeekable bool

	blockSize    int
	pollInterval time.Duration
	exhausted    func(error) bool
	m            metrics.CopyMetrics

	disp *aio.Dispatcher
	pool *blockpool.Pool

	// eof is the global end-of-stream flag: set by a zero-byte read, a
	// short or exhausted write, and never cleared.
	eof bool
	// readSeq/writeSeq are the last issued sequence numbers per queue.
	readSeq  uint64
	writeSeq uint64
	// readOff is the next source offset to issue (seekable sources).
	readOff int64
	// writeOff is the running destination cursor used when the source
	// cannot supply offsets.
	writeOff int64
	// inBusy/outBusy count non-free slots per queue.
	inBusy  int
	outBusy int

	stats Stats
}

// New builds an engine over the given endpoint bindings. A non-seekable
// side is forced to depth 1 regardless of how many handles were passed.
func New(in Input, out Output, opts Options) (*Engine, error) {
	if len(in.Handles) == 0 {
		return nil, errors.New("engine: input requires at least one handle")
	}
	if len(out.Handles) == 0 {
		return nil, errors.New("engine: output requires at least one handle")
	}

	inDepth := len(in.Handles)
	if !in.Seekable {
		inDepth = 1
	}
	outDepth := len(out.Handles)
	if !out.Seekable {
		outDepth = 1
	}
	if inDepth > MaxQueueDepth || outDepth > MaxQueueDepth {
		return nil, fmt.Errorf("engine: queue depth exceeds %d", MaxQueueDepth)
	}

	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if blockSize < 0 {
		return nil, fmt.Errorf("engine: block size must be positive, got %d", blockSize)
	}

	align := opts.Alignment
	if align == 0 {
		align = 1
	}
	pool, err := blockpool.New(blockSize, align)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	exhausted := opts.Exhausted
	if exhausted == nil {
		exhausted = endpoint.IsExhausted
	}

	return &Engine{
		in:           make([]slot, inDepth),
		out:          make([]slot, outDepth),
		readers:      in.Handles[:inDepth],
		writers:      out.Handles[:outDepth],
		inSeekable:   in.Seekable,
		outSeekable:  out.Seekable,
		blockSize:    blockSize,
		pollInterval: pollInterval,
		exhausted:    exhausted,
		m:            opts.Metrics,
		disp:         aio.NewDispatcher(),
		pool:         pool,
	}, nil
}

// Run drives the copy to completion and returns its stats. On a fatal
// I/O error or context cancellation it returns immediately without
// draining in-flight operations; their workers finish in the background
// and their results are discarded.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	logger.Debug("copy starting",
		"block_size", e.blockSize,
		"input_depth", len(e.in),
		"output_depth", len(e.out),
		"input_seekable", e.inSeekable,
		"output_seekable", e.outSeekable)

	for {
		if err := ctx.Err(); err != nil {
			return e.snapshot(start), fmt.Errorf("copy aborted: %w", err)
		}

		if err := e.stepInput(); err != nil {
			return e.snapshot(start), err
		}
		if err := e.stepOutput(); err != nil {
			return e.snapshot(start), err
		}
		e.match()

		if e.m != nil {
			e.m.RecordQueueOccupancy(e.inBusy, e.outBusy)
		}

		if e.inBusy == 0 && e.outBusy == 0 && e.eof {
			break
		}

		e.disp.Wait(e.pollInterval)
	}

	st := e.snapshot(start)
	if e.m != nil {
		e.m.RecordCopyComplete(st.BytesWritten, st.Elapsed)
	}
	logger.Debug("copy finished",
		"bytes_written", st.BytesWritten,
		"reads", st.Reads,
		"writes", st.Writes,
		"continuations", st.Continuations,
		"elapsed_ms", logger.Duration(start))
	return st, nil
}

// stepInput advances every input slot one step: poll slots with an
// outstanding read, issue new reads into free slots while the stream has
// not ended. A slot polled in this iteration is not reissued until the
// next one.
func (e *Engine) stepInput() error {
	for i := range e.in {
		s := &e.in[i]
		switch s.state {
		case slotInProgress:
			if err := e.pollRead(i, s); err != nil {
				return err
			}
		case slotFree:
			if !e.eof {
				e.issueRead(i, s)
			}
		}
	}
	return nil
}

// pollRead settles one read completion and applies the input state
// machine: zero bytes is end of stream, a partial count continues the
// same block, a full block becomes Ready.
func (e *Engine) pollRead(i int, s *slot) error {
	n, err := s.req.Poll()
	switch {
	case errors.Is(err, aio.ErrInProgress):
		return nil
	case errors.Is(err, aio.ErrCanceled):
		logger.Debug("read canceled", "slot", i, "seq", s.seq)
		e.pool.Put(s.take())
		s.reset()
		e.inBusy--
		return nil
	case err != nil:
		return fmt.Errorf("read failed at offset %d (seq %d): %w",
			s.off+int64(s.filled), s.seq, err)
	}

	if e.m != nil {
		e.m.RecordReadCompleted(n)
	}

	if n == 0 {
		e.eof = true
		if s.filled > 0 {
			// A partially filled block still gets flushed.
			logger.Debug("source drained with partial block",
				"slot", i, "seq", s.seq, "filled", s.filled)
			s.state = slotReady
			return nil
		}
		logger.Debug("source drained", "slot", i, "seq", s.seq)
		e.pool.Put(s.take())
		s.reset()
		e.inBusy--
		return nil
	}

	s.filled += n
	e.stats.BytesRead += int64(n)

	if s.filled < e.blockSize {
		e.continueRead(i, s)
		return nil
	}

	logger.Debug("read completed", "slot", i, "seq", s.seq, "bytes", s.filled)
	s.state = slotReady
	return nil
}

// issueRead starts a full-block read into a free slot.
func (e *Engine) issueRead(i int, s *slot) {
	s.block = e.pool.Get()
	e.readSeq++
	s.seq = e.readSeq
	s.state = slotInProgress
	s.filled = 0
	s.want = e.blockSize
	if e.inSeekable {
		s.off = e.readOff
		e.readOff += int64(e.blockSize)
	} else {
		s.off = 0
	}

	h := e.readers[i]
	buf := s.block.Bytes()
	off := s.off
	s.req = e.disp.Submit(func() (int, error) {
		return h.ReadBlock(buf, off)
	})

	e.inBusy++
	e.stats.Reads++
	if e.m != nil {
		e.m.RecordReadIssued()
	}
	logger.Debug("read issued", "slot", i, "seq", s.seq, "offset", s.off)
}

// continueRead reissues a partially completed read for the remaining
// bytes of the same block, keeping the slot's sequence and buffer.
func (e *Engine) continueRead(i int, s *slot) {
	h := e.readers[i]
	buf := s.block.Bytes()[s.filled:]
	off := s.off + int64(s.filled)
	s.want = e.blockSize - s.filled
	s.req = e.disp.Submit(func() (int, error) {
		return h.ReadBlock(buf, off)
	})

	e.stats.Continuations++
	if e.m != nil {
		e.m.RecordContinuation()
	}
	logger.Debug("read continued",
		"slot", i, "seq", s.seq, "filled", s.filled, "remaining", s.want)
}

// stepOutput polls every output slot with an outstanding write.
func (e *Engine) stepOutput() error {
	for i := range e.out {
		s := &e.out[i]
		if s.state != slotInProgress {
			continue
		}
		if err := e.pollWrite(i, s); err != nil {
			return err
		}
	}
	return nil
}

// pollWrite settles one write completion. Short counts and exhaustion
// errors end the stream without failing the copy; the written byte total
// only ever counts bytes the destination confirmed.
func (e *Engine) pollWrite(i int, s *slot) error {
	n, err := s.req.Poll()
	switch {
	case errors.Is(err, aio.ErrInProgress):
		return nil
	case errors.Is(err, aio.ErrCanceled):
		logger.Debug("write canceled", "slot", i, "seq", s.seq)
		e.pool.Put(s.take())
		s.reset()
		e.outBusy--
		return nil
	case err != nil:
		if e.exhausted(err) {
			logger.Debug("destination exhausted",
				"slot", i, "seq", s.seq, "error", err)
			e.eof = true
			e.pool.Put(s.take())
			s.reset()
			e.outBusy--
			return nil
		}
		return fmt.Errorf("write failed at offset %d (seq %d): %w", s.off, s.seq, err)
	}

	e.stats.BytesWritten += int64(n)
	e.stats.Writes++
	if e.m != nil {
		e.m.RecordWriteCompleted(n)
	}

	if n < s.want {
		// The destination accepted only part of the block and will not
		// take more.
		logger.Debug("write completed short",
			"slot", i, "seq", s.seq, "bytes", n, "want", s.want)
		e.eof = true
	} else {
		logger.Debug("write completed", "slot", i, "seq", s.seq, "bytes", n)
	}

	e.pool.Put(s.take())
	s.reset()
	e.outBusy--
	return nil
}

// match pairs Ready input slots with free output slots, earliest
// eligible sequence first, at most one match per output slot per
// iteration.
func (e *Engine) match() {
	for i := range e.out {
		o := &e.out[i]
		if o.state != slotFree {
			continue
		}
		j := e.earliestReady()
		if j < 0 {
			// Nothing eligible; later output slots cannot do better.
			return
		}
		e.issueWrite(i, o, &e.in[j])
	}
}

// earliestReady returns the index of the Ready input slot with the
// lowest sequence the ordering policy allows, or -1.
//
// Sequential destinations only accept the block whose sequence directly
// follows the last issued write; an out-of-order Ready block stalls
// until its turn comes, it is never skipped.
func (e *Engine) earliestReady() int {
	best := -1
	for j := range e.in {
		s := &e.in[j]
		if s.state != slotReady {
			continue
		}
		if !e.outSeekable && s.seq != e.writeSeq+1 {
			continue
		}
		if best < 0 || s.seq < e.in[best].seq {
			best = j
		}
	}
	return best
}

// issueWrite moves the block from a Ready input slot into a free output
// slot and starts the write. The input slot is free again as soon as the
// hand-off completes; the buffer now belongs to the output slot alone.
func (e *Engine) issueWrite(i int, o, in *slot) {
	o.block = in.take()
	o.filled = in.filled
	o.want = in.filled
	e.writeSeq++
	o.seq = e.writeSeq
	o.state = slotInProgress

	if e.inSeekable {
		// Destination positions mirror the source block's offset.
		o.off = in.off
	} else {
		o.off = e.writeOff
	}
	e.writeOff += int64(o.want)

	in.reset()
	e.inBusy--
	e.outBusy++

	h := e.writers[i]
	buf := o.block.Bytes()[:o.want]
	off := o.off
	o.req = e.disp.Submit(func() (int, error) {
		return h.WriteBlock(buf, off)
	})

	if e.m != nil {
		e.m.RecordWriteIssued()
	}
	logger.Debug("write issued",
		"slot", i, "seq", o.seq, "offset", o.off, "bytes", o.want)
}

func (e *Engine) snapshot(start time.Time) Stats {
	st := e.stats
	st.Elapsed = time.Since(start)
	return st
}
