package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize represents a size in bytes that can be parsed from human-readable
// strings like "64K", "1M", "16Mi", or plain numbers.
//
// Suffix semantics follow dd(1) conventions, which is what users of a block
// copying tool expect: a bare unit letter is binary, an explicit "B" makes it
// decimal.
//
// Supported formats:
//   - Plain numbers: 512, 1048576
//   - Binary units (×1024): K/Ki/KiB, M/Mi/MiB, G/Gi/GiB, T/Ti/TiB
//   - Decimal units (×1000): KB, MB, GB, TB
//   - Bytes: B
//
// Examples: "64K" (65536 bytes), "1M" (1048576 bytes), "1MB" (1000000 bytes)
type ByteSize uint64

// Common byte size constants
const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

// byteSizePattern matches a number followed by an optional unit suffix
var byteSizePattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)\s*$`)

// unitMultipliers maps unit suffixes to their byte multipliers
var unitMultipliers = map[string]ByteSize{
	"":    B,
	"b":   B,
	"k":   KiB,
	"ki":  KiB,
	"kib": KiB,
	"m":   MiB,
	"mi":  MiB,
	"mib": MiB,
	"g":   GiB,
	"gi":  GiB,
	"gib": GiB,
	"t":   TiB,
	"ti":  TiB,
	"tib": TiB,
	"kb":  KB,
	"mb":  MB,
	"gb":  GB,
	"tb":  TB,
}

// Parse parses a human-readable byte size string into a ByteSize value.
// It accepts formats like "64K", "1M", "16Mi", "512", etc.
func Parse(s string) (ByteSize, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	matches := byteSizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}

	numStr := matches[1]
	unit := strings.ToLower(matches[2])

	multiplier, ok := unitMultipliers[unit]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit: %q", matches[2])
	}

	// Fractional sizes like "1.5M" are allowed; the result truncates to
	// whole bytes.
	if strings.Contains(numStr, ".") {
		num, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in byte size: %q", numStr)
		}
		return ByteSize(num * float64(multiplier)), nil
	}

	num, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in byte size: %q", numStr)
	}

	return ByteSize(num) * multiplier, nil
}

// UnmarshalText implements encoding.TextUnmarshaler for ByteSize.
// This allows ByteSize to be used directly in structs with mapstructure.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// String returns a human-readable representation of the byte size.
func (b ByteSize) String() string {
	switch {
	case b >= TiB:
		return fmt.Sprintf("%.2fTiB", float64(b)/float64(TiB))
	case b >= GiB:
		return fmt.Sprintf("%.2fGiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.2fMiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.2fKiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", uint64(b))
	}
}

// IsMultipleOf reports whether the size is a positive multiple of n.
// Block sizes handed to the copy engine must be multiples of the sector
// size, so this check shows up in flag and config validation.
func (b ByteSize) IsMultipleOf(n ByteSize) bool {
	if n == 0 {
		return false
	}
	return b > 0 && b%n == 0
}

// Uint64 returns the ByteSize as a uint64.
func (b ByteSize) Uint64() uint64 {
	return uint64(b)
}

// Int64 returns the ByteSize as an int64.
// Note: This may overflow for very large values.
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// Int returns the ByteSize as an int.
// Callers validate the range first; block sizes are capped well below
// the int range on all supported platforms.
func (b ByteSize) Int() int {
	return int(b)
}
