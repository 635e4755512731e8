//go:build !linux

package endpoint

// O_DIRECT is Linux-specific; elsewhere direct I/O requests are silently
// ignored and copies go through the page cache.
const directFlag = 0

const directSupported = false
