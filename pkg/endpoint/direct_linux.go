//go:build linux

package endpoint

import "golang.org/x/sys/unix"

// directFlag is ORed into open(2) flags when direct I/O is requested,
// bypassing the page cache for device-speed copies.
const directFlag = unix.O_DIRECT

// directSupported reports whether this platform honors directFlag.
const directSupported = true
