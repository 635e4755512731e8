package endpoint

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// outputFileMode is the permission set for created destination files.
const outputFileMode = 0o640

// Source is an opened copy source: its classification plus one read
// handle per queue slot.
type Source struct {
	Class  Class
	Path   string // empty means standard input
	Direct bool   // direct I/O in effect on the slot descriptors

	handles []BlockReader
	owned   []*os.File
}

// Destination is an opened copy destination: its classification plus one
// write handle per queue slot.
type Destination struct {
	Class  Class
	Path   string // empty means standard output
	Direct bool

	handles []BlockWriter
	owned   []*os.File
}

// OpenSource opens path for reading with up to depth concurrent
// operations. An empty path means standard input. Non-seekable sources
// get a single shared sequential handle regardless of depth; seekable
// paths are opened once per slot so in-flight reads never contend on a
// shared descriptor, with direct I/O applied when requested and
// supported.
func OpenSource(path string, depth int, direct bool) (*Source, error) {
	if depth < 1 {
		return nil, fmt.Errorf("queue depth must be at least 1, got %d", depth)
	}

	probe := os.Stdin
	owned := false
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open source: %w", err)
		}
		probe = f
		owned = true
	}

	cls, err := ClassifyFile(probe)
	if err != nil {
		closeIf(owned, probe)
		return nil, err
	}
	if cls.Kind == KindDir {
		closeIf(owned, probe)
		return nil, fmt.Errorf("source %s is a directory", path)
	}

	src := &Source{Class: cls, Path: path}

	switch {
	case cls.Seekable && path != "":
		useDirect := direct && directSupported
		flags := os.O_RDONLY
		if useDirect {
			flags |= directFlag
		}
		files, err := openSlots(path, flags, 0, depth)
		probe.Close()
		if err != nil {
			return nil, fmt.Errorf("open source: %w", err)
		}
		src.Direct = useDirect
		src.owned = files
		for _, f := range files {
			src.handles = append(src.handles, fileHandle{f})
		}

	case cls.Seekable:
		// Standard input redirected from a file or device: positioned
		// reads can share the inherited descriptor.
		for i := 0; i < depth; i++ {
			src.handles = append(src.handles, fileHandle{probe})
		}

	default:
		src.handles = []BlockReader{streamHandle{probe}}
		if owned {
			src.owned = []*os.File{probe}
		}
	}

	return src, nil
}

// OpenDestination opens path for writing with up to depth concurrent
// operations. An empty path means standard output. A named destination is
// created if missing and truncated without confirmation. The same
// per-slot descriptor and direct I/O rules as OpenSource apply; the slot
// descriptors skip O_TRUNC so they reopen the file the first descriptor
// already truncated.
func OpenDestination(path string, depth int, direct bool) (*Destination, error) {
	if depth < 1 {
		return nil, fmt.Errorf("queue depth must be at least 1, got %d", depth)
	}

	probe := os.Stdout
	owned := false
	if path != "" {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, outputFileMode)
		if err != nil {
			return nil, fmt.Errorf("open destination: %w", err)
		}
		probe = f
		owned = true
	}

	cls, err := ClassifyFile(probe)
	if err != nil {
		closeIf(owned, probe)
		return nil, err
	}

	dst := &Destination{Class: cls, Path: path}

	switch {
	case cls.Seekable && path != "":
		useDirect := direct && directSupported
		flags := os.O_WRONLY
		if useDirect {
			flags |= directFlag
		}
		files, err := openSlots(path, flags, 0, depth)
		probe.Close()
		if err != nil {
			return nil, fmt.Errorf("open destination: %w", err)
		}
		dst.Direct = useDirect
		dst.owned = files
		for _, f := range files {
			dst.handles = append(dst.handles, fileHandle{f})
		}

	case cls.Seekable:
		// Standard output redirected to a file or device: the shell
		// already created and truncated it.
		for i := 0; i < depth; i++ {
			dst.handles = append(dst.handles, fileHandle{probe})
		}

	default:
		dst.handles = []BlockWriter{streamHandle{probe}}
		if owned {
			dst.owned = []*os.File{probe}
		}
	}

	return dst, nil
}

// Readers returns one read handle per effective queue slot.
func (s *Source) Readers() []BlockReader {
	return s.handles
}

// Depth returns the effective queue depth, 1 for streams.
func (s *Source) Depth() int {
	return len(s.handles)
}

// Name returns a human-readable endpoint name for logs and errors.
func (s *Source) Name() string {
	if s.Path == "" {
		return "standard input"
	}
	return s.Path
}

// Close closes every descriptor this source owns. Inherited standard
// streams are left open.
func (s *Source) Close() error {
	return closeAll(s.owned)
}

// Writers returns one write handle per effective queue slot.
func (d *Destination) Writers() []BlockWriter {
	return d.handles
}

// Depth returns the effective queue depth, 1 for streams.
func (d *Destination) Depth() int {
	return len(d.handles)
}

// Name returns a human-readable endpoint name for logs and errors.
func (d *Destination) Name() string {
	if d.Path == "" {
		return "standard output"
	}
	return d.Path
}

// Close closes every descriptor this destination owns.
func (d *Destination) Close() error {
	return closeAll(d.owned)
}

// IsExhausted reports whether a write error means the destination cannot
// accept more data: out of space, over quota, or past the file size
// limit. The copy engine treats these as end of stream rather than
// failures.
func IsExhausted(err error) bool {
	return errors.Is(err, unix.ENOSPC) ||
		errors.Is(err, unix.EFBIG) ||
		errors.Is(err, unix.EDQUOT)
}

func openSlots(path string, flags int, perm os.FileMode, depth int) ([]*os.File, error) {
	files := make([]*os.File, 0, depth)
	for i := 0; i < depth; i++ {
		f, err := os.OpenFile(path, flags, perm)
		if err != nil {
			closeAll(files)
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func closeAll(files []*os.File) error {
	var errs []error
	for _, f := range files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeIf(owned bool, f *os.File) {
	if owned {
		f.Close()
	}
}
