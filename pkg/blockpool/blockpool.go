// Package blockpool provides aligned, fixed-size I/O buffers with strict
// ownership accounting.
//
// Every buffer handed out by a Pool is owned by exactly one holder at a
// time. The copy engine moves a Block from an input slot to an output slot
// by moving the *Block value itself; the pool only sees the buffer again
// when the final owner releases it. Outstanding() exposes the number of
// live blocks so tests can assert that nothing leaks and nothing is
// released twice.
//
// Buffers are aligned for direct I/O: the underlying allocation is padded
// by the alignment and sliced at the first aligned byte, so the returned
// block satisfies O_DIRECT placement requirements without cgo or mmap.
package blockpool

import (
	"fmt"
	"sync"
	"unsafe"
)

// Block is a fixed-size aligned buffer owned by exactly one holder.
// After Release the block must not be used again; Bytes returns nil for
// a released block.
type Block struct {
	buf  []byte
	pool *Pool
}

// Bytes returns the block's backing buffer, always len == BlockSize.
func (b *Block) Bytes() []byte {
	return b.buf
}

// Pool hands out aligned blocks of one fixed size and keeps released
// buffers for reuse. All methods are safe for concurrent use, though the
// copy engine drives a pool from a single goroutine.
type Pool struct {
	blockSize int
	align     int

	mu          sync.Mutex
	free        [][]byte
	outstanding int
	allocated   int
}

// New creates a pool of blockSize-byte blocks aligned to align bytes.
// align must be a power of two (1 disables alignment padding).
func New(blockSize, align int) (*Pool, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}
	if align < 1 || align&(align-1) != 0 {
		return nil, fmt.Errorf("alignment must be a power of two, got %d", align)
	}
	return &Pool{
		blockSize: blockSize,
		align:     align,
	}, nil
}

// Get returns an aligned block, reusing a released buffer when one is
// available. The caller owns the block until it is passed to Put.
func (p *Pool) Get() *Block {
	p.mu.Lock()
	defer p.mu.Unlock()

	var buf []byte
	if n := len(p.free); n > 0 {
		buf = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
	} else {
		buf = alignedSlice(p.blockSize, p.align)
		p.allocated++
	}

	p.outstanding++
	return &Block{buf: buf, pool: p}
}

// Put releases a block back to the pool. Releasing a block twice, or
// releasing it to a pool it did not come from, panics: both indicate a
// broken ownership hand-off in the caller.
func (p *Pool) Put(b *Block) {
	if b == nil || b.buf == nil {
		panic("blockpool: release of already-released block")
	}
	if b.pool != p {
		panic("blockpool: block released to a different pool")
	}

	buf := b.buf
	b.buf = nil
	b.pool = nil

	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, buf)
	p.outstanding--
}

// Outstanding returns the number of blocks currently held by callers.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// Allocated returns the total number of buffers ever allocated.
func (p *Pool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

// BlockSize returns the size of blocks handed out by this pool.
func (p *Pool) BlockSize() int {
	return p.blockSize
}

// Alignment returns the byte alignment of blocks handed out by this pool.
func (p *Pool) Alignment() int {
	return p.align
}

// alignedSlice over-allocates by the alignment and slices at the first
// aligned byte. The extra bytes stay reachable through the backing array,
// so the garbage collector keeps the whole allocation alive.
func alignedSlice(size, align int) []byte {
	if align <= 1 {
		return make([]byte, size)
	}

	raw := make([]byte, size+align)
	offset := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) % uintptr(align)); rem != 0 {
		offset = align - rem
	}
	return raw[offset : offset+size : offset+size]
}
