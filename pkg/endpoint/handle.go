package endpoint

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// BlockReader issues one read of up to len(p) bytes at the given stream
// offset. Unlike io.ReaderAt, a short count with a nil error is a valid
// partial completion, and a zero count with a nil error means end of
// stream. Stream handles ignore the offset and consume their shared
// cursor instead.
type BlockReader interface {
	ReadBlock(p []byte, off int64) (int, error)
}

// BlockWriter issues one write of len(p) bytes at the given stream
// offset. A short count with a nil error means the destination accepted
// only part of the block. Stream handles ignore the offset.
type BlockWriter interface {
	WriteBlock(p []byte, off int64) (int, error)
}

// fileHandle performs positioned single-syscall I/O on a descriptor.
// Several slots may share one fileHandle: pread and pwrite do not touch
// the file offset, so concurrent operations never disturb each other.
type fileHandle struct {
	f *os.File
}

func (h fileHandle) ReadBlock(p []byte, off int64) (int, error) {
	for {
		n, err := unix.Pread(int(h.f.Fd()), p, off)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

func (h fileHandle) WriteBlock(p []byte, off int64) (int, error) {
	for {
		n, err := unix.Pwrite(int(h.f.Fd()), p, off)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// streamHandle performs sequential I/O on a shared descriptor. Only one
// operation may be outstanding against a stream at a time, which the
// depth-1 queue contract guarantees.
type streamHandle struct {
	f *os.File
}

func (h streamHandle) ReadBlock(p []byte, _ int64) (int, error) {
	n, err := h.f.Read(p)
	if errors.Is(err, io.EOF) {
		// End of stream is conveyed by the zero count.
		err = nil
	}
	return n, err
}

func (h streamHandle) WriteBlock(p []byte, _ int64) (int, error) {
	return h.f.Write(p)
}
