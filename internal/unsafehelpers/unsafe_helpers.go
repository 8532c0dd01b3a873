// Package unsafehelpers centralises all unavoidable usage of the `unsafe`
// standard library package so the rest of hybridcache stays clean and easy
// to audit. Every helper documents its pre/post-conditions.
//
// These helpers deliberately trade memory-safety guarantees for zero-copy
// conversions. Use only inside this module; not part of the public API.
package unsafehelpers

import "unsafe"

// BytesToString converts a byte slice to a string without allocating. The
// caller must guarantee b is never modified for the lifetime of the result.
// No package in this module calls it; frame.HashKey hashes []byte keys with
// xxhash.Sum64 directly.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// StringToBytes reinterprets string data as a byte slice. The result MUST
// remain read-only.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// AlignUp rounds x up to the nearest multiple of align (must be a power of two).
func AlignUp(x, align uint64) uint64 {
	return (x + align - 1) &^ (align - 1)
}

// AlignDown rounds x down to the nearest multiple of align (must be a power of two).
func AlignDown(x, align uint64) uint64 {
	return x &^ (align - 1)
}

// IsAligned reports whether x is a multiple of align.
func IsAligned(x, align uint64) bool {
	return x&(align-1) == 0
}

// IsPowerOfTwo returns true if x is a power of two (exactly one bit set).
func IsPowerOfTwo(x uint64) bool {
	return x != 0 && (x&(x-1)) == 0
}

// AlignedBuffer returns a slice of exactly n bytes whose backing array
// starts at an address that is a multiple of align, by over-allocating
// and slicing off the unaligned prefix. Used to satisfy O_DIRECT's
// requirement that buffer addresses, not just offsets and lengths, be
// block-aligned.
func AlignedBuffer(n int64, align int64) []byte {
	raw := make([]byte, n+align)
	base := uintptr(unsafe.Pointer(&raw[0]))
	offset := (align - int64(base%uintptr(align))) % align
	return raw[offset : offset+n : offset+n]
}
