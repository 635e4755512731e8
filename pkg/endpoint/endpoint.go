// Package endpoint classifies copy sources and destinations and opens the
// file handles the copy engine drives.
//
// Classification decides everything downstream: regular files and block
// devices are independently seekable, so they get positioned I/O, one
// descriptor per queue slot, and direct I/O when requested. Everything
// else (pipes, character devices, sockets, terminals) is a stream: one
// shared handle, sequential access, and a queue depth of 1 forced on the
// engine side of the contract.
package endpoint

import (
	"fmt"
	"io/fs"
	"os"
)

// SectorSize is the alignment unit for direct I/O buffers and the unit
// block sizes must be multiples of.
const SectorSize = 512

// Kind classifies the file object behind an endpoint.
type Kind uint8

const (
	KindRegular Kind = iota
	KindBlock
	KindChar
	KindFIFO
	KindSocket
	KindDir
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular file"
	case KindBlock:
		return "block device"
	case KindChar:
		return "character device"
	case KindFIFO:
		return "fifo"
	case KindSocket:
		return "socket"
	case KindDir:
		return "directory"
	default:
		return "other"
	}
}

// Class describes how an endpoint can be driven.
type Class struct {
	Kind      Kind
	Seekable  bool
	Alignment int
}

// classifyMode maps a file mode to an endpoint class. Char devices carry
// both ModeDevice and ModeCharDevice, so the char check runs first.
func classifyMode(mode fs.FileMode) Class {
	var k Kind
	switch {
	case mode.IsRegular():
		k = KindRegular
	case mode&fs.ModeCharDevice != 0:
		k = KindChar
	case mode&fs.ModeDevice != 0:
		k = KindBlock
	case mode&fs.ModeNamedPipe != 0:
		k = KindFIFO
	case mode&fs.ModeSocket != 0:
		k = KindSocket
	case mode.IsDir():
		k = KindDir
	default:
		k = KindOther
	}

	cls := Class{Kind: k, Alignment: 1}
	if k == KindRegular || k == KindBlock {
		cls.Seekable = true
		cls.Alignment = SectorSize
	}
	return cls
}

// Classify stats path and reports its endpoint class.
func Classify(path string) (Class, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Class{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return classifyMode(info.Mode()), nil
}

// ClassifyFile reports the endpoint class of an already-open file, which
// is how the standard streams are classified: stdin redirected from a
// regular file is a seekable endpoint like any other.
func ClassifyFile(f *os.File) (Class, error) {
	info, err := f.Stat()
	if err != nil {
		return Class{}, fmt.Errorf("stat %s: %w", f.Name(), err)
	}
	return classifyMode(info.Mode()), nil
}

// DirectSupported reports whether this platform can bypass the page
// cache with direct I/O.
func DirectSupported() bool {
	return directSupported
}
