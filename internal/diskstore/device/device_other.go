//go:build !linux

package device

// directIOFlag is a no-op outside Linux: O_DIRECT has no portable
// equivalent, so DirectIO devices silently fall back to buffered I/O.
const directIOFlag = 0
