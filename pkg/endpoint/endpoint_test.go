package endpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

// ============================================================================
// Classification
// ============================================================================

func TestClassify(t *testing.T) {
	t.Run("RegularFile", func(t *testing.T) {
		path := writeTempFile(t, []byte("hello"))

		cls, err := Classify(path)
		require.NoError(t, err)
		assert.Equal(t, KindRegular, cls.Kind)
		assert.True(t, cls.Seekable)
		assert.Equal(t, SectorSize, cls.Alignment)
	})

	t.Run("Directory", func(t *testing.T) {
		cls, err := Classify(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, KindDir, cls.Kind)
		assert.False(t, cls.Seekable)
	})

	t.Run("CharDevice", func(t *testing.T) {
		cls, err := Classify("/dev/null")
		require.NoError(t, err)
		assert.Equal(t, KindChar, cls.Kind)
		assert.False(t, cls.Seekable)
		assert.Equal(t, 1, cls.Alignment)
	})

	t.Run("MissingPath", func(t *testing.T) {
		_, err := Classify(filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})
}

func TestClassifyFile(t *testing.T) {
	t.Run("PipeIsStream", func(t *testing.T) {
		r, w, err := os.Pipe()
		require.NoError(t, err)
		defer r.Close()
		defer w.Close()

		cls, err := ClassifyFile(r)
		require.NoError(t, err)
		assert.Equal(t, KindFIFO, cls.Kind)
		assert.False(t, cls.Seekable)
	})

	t.Run("RegularFileIsSeekable", func(t *testing.T) {
		f, err := os.Open(writeTempFile(t, nil))
		require.NoError(t, err)
		defer f.Close()

		cls, err := ClassifyFile(f)
		require.NoError(t, err)
		assert.True(t, cls.Seekable)
	})
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindRegular, "regular file"},
		{KindBlock, "block device"},
		{KindChar, "character device"},
		{KindFIFO, "fifo"},
		{KindSocket, "socket"},
		{KindDir, "directory"},
		{KindOther, "other"},
		{Kind(200), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

// ============================================================================
// Sources
// ============================================================================

func TestOpenSource(t *testing.T) {
	t.Run("SeekablePathGetsPerSlotHandles", func(t *testing.T) {
		path := writeTempFile(t, []byte("0123456789"))

		src, err := OpenSource(path, 4, false)
		require.NoError(t, err)
		defer src.Close()

		assert.Equal(t, 4, src.Depth())
		assert.Len(t, src.Readers(), 4)
		assert.True(t, src.Class.Seekable)
		assert.Equal(t, path, src.Name())
	})

	t.Run("PositionedReadsAreIndependent", func(t *testing.T) {
		path := writeTempFile(t, []byte("abcdefghij"))

		src, err := OpenSource(path, 2, false)
		require.NoError(t, err)
		defer src.Close()

		// Reads at different offsets through different handles must not
		// disturb each other.
		buf1 := make([]byte, 4)
		buf2 := make([]byte, 4)

		n, err := src.Readers()[1].ReadBlock(buf2, 4)
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		n, err = src.Readers()[0].ReadBlock(buf1, 0)
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		assert.Equal(t, "abcd", string(buf1))
		assert.Equal(t, "efgh", string(buf2))
	})

	t.Run("ReadPastEndReturnsZero", func(t *testing.T) {
		path := writeTempFile(t, []byte("abc"))

		src, err := OpenSource(path, 1, false)
		require.NoError(t, err)
		defer src.Close()

		buf := make([]byte, 4)
		n, err := src.Readers()[0].ReadBlock(buf, 100)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("StandardInputPipeForcesDepthOne", func(t *testing.T) {
		r, w, err := os.Pipe()
		require.NoError(t, err)
		defer w.Close()

		orig := os.Stdin
		os.Stdin = r
		defer func() {
			os.Stdin = orig
			r.Close()
		}()

		src, err := OpenSource("", 8, false)
		require.NoError(t, err)
		defer src.Close()

		assert.Equal(t, 1, src.Depth())
		assert.False(t, src.Class.Seekable)
		assert.Equal(t, "standard input", src.Name())
	})

	t.Run("StreamReadsIgnoreOffset", func(t *testing.T) {
		r, w, err := os.Pipe()
		require.NoError(t, err)

		orig := os.Stdin
		os.Stdin = r
		defer func() {
			os.Stdin = orig
			r.Close()
		}()

		src, err := OpenSource("", 1, false)
		require.NoError(t, err)
		defer src.Close()

		_, err = w.Write([]byte("stream"))
		require.NoError(t, err)
		w.Close()

		buf := make([]byte, 6)
		n, err := src.Readers()[0].ReadBlock(buf, 9999)
		require.NoError(t, err)
		assert.Equal(t, "stream", string(buf[:n]))

		// Closed writer means end of stream: zero count, nil error.
		n, err = src.Readers()[0].ReadBlock(buf, 0)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("DirectorySourceRejected", func(t *testing.T) {
		_, err := OpenSource(t.TempDir(), 1, false)
		assert.Error(t, err)
	})

	t.Run("MissingSourceRejected", func(t *testing.T) {
		_, err := OpenSource(filepath.Join(t.TempDir(), "nope"), 1, false)
		assert.Error(t, err)
	})

	t.Run("ZeroDepthRejected", func(t *testing.T) {
		_, err := OpenSource(writeTempFile(t, nil), 0, false)
		assert.Error(t, err)
	})
}

// ============================================================================
// Destinations
// ============================================================================

func TestOpenDestination(t *testing.T) {
	t.Run("CreatesFileWithRestrictedMode", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out")

		dst, err := OpenDestination(path, 2, false)
		require.NoError(t, err)
		defer dst.Close()

		info, err := os.Stat(path)
		require.NoError(t, err)
		// The process umask may clear bits, but never add any.
		assert.Zero(t, info.Mode().Perm()&^os.FileMode(0o640))
		assert.Equal(t, 2, dst.Depth())
	})

	t.Run("TruncatesExistingFile", func(t *testing.T) {
		path := writeTempFile(t, []byte("previous contents"))

		dst, err := OpenDestination(path, 1, false)
		require.NoError(t, err)
		dst.Close()

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Zero(t, info.Size())
	})

	t.Run("SlotHandlesShareTheTruncatedFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out")

		dst, err := OpenDestination(path, 2, false)
		require.NoError(t, err)

		// Writes through different slot descriptors land in one file;
		// the slot reopens must not re-truncate what the first wrote.
		_, err = dst.Writers()[0].WriteBlock([]byte("hello"), 0)
		require.NoError(t, err)
		_, err = dst.Writers()[1].WriteBlock([]byte("world"), 5)
		require.NoError(t, err)
		require.NoError(t, dst.Close())

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "helloworld", string(got))
	})

	t.Run("StandardOutputPipeForcesDepthOne", func(t *testing.T) {
		r, w, err := os.Pipe()
		require.NoError(t, err)
		defer r.Close()

		orig := os.Stdout
		os.Stdout = w
		defer func() {
			os.Stdout = orig
			w.Close()
		}()

		dst, err := OpenDestination("", 8, false)
		require.NoError(t, err)
		defer dst.Close()

		assert.Equal(t, 1, dst.Depth())
		assert.False(t, dst.Class.Seekable)
		assert.Equal(t, "standard output", dst.Name())
	})

	t.Run("ZeroDepthRejected", func(t *testing.T) {
		_, err := OpenDestination(filepath.Join(t.TempDir(), "out"), 0, false)
		assert.Error(t, err)
	})
}

// ============================================================================
// Exhaustion predicate
// ============================================================================

func TestIsExhausted(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no space", unix.ENOSPC, true},
		{"file too big", unix.EFBIG, true},
		{"quota exceeded", unix.EDQUOT, true},
		{"wrapped errno", fmt.Errorf("write: %w", unix.ENOSPC), true},
		{"io error", unix.EIO, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExhausted(tt.err))
		})
	}
}
