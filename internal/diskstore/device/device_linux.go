//go:build linux

package device

import "golang.org/x/sys/unix"

// directIOFlag is OR'd into the open flags when Config.DirectIO is set.
const directIOFlag = unix.O_DIRECT
