// Package frame implements the on-disk wire format for one cache entry:
// a fixed-width EntryHeader followed by the value bytes, the key bytes,
// and alignment padding up to the device's block size.
//
// Grounded on foyer-storage/src/large/batch.rs's EntrySerializer and
// large/scanner.rs's EntryHeader::read, translated to a fixed-width Go
// struct encoded with encoding/binary (no ecosystem library in the pack
// offers a more idiomatic fixed-width header codec than binary.* here).
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Voskan/hybridcache/internal/unsafehelpers"
	"github.com/cespare/xxhash/v2"
)

// Compression identifies the codec applied to a frame's value bytes.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
)

// Kind distinguishes the three frame purposes a region log can hold: a
// live entry, an entry republished under a new sequence by a reclaim
// picker that chose to keep it resident (Reinsertion), or a valueless
// marker recording that a key was explicitly removed (Tombstone) so a
// crash before the next full Recover doesn't resurrect its last live
// frame.
type Kind uint8

const (
	KindData Kind = iota
	KindReinsertion
	KindTombstone
)

// HeaderSize is the fixed, wire-stable size of EntryHeader in bytes.
const HeaderSize = 8 + 4 + 4 + 8 + 8 + 1 + 1 + 2 // hash+keyLen+valueLen+sequence+checksum+compression+kind+pad

// ErrShortHeader is returned when fewer than HeaderSize bytes are available
// to decode a header — typically the end of a region's written data.
var ErrShortHeader = errors.New("hybridcache/frame: short header")

// ErrChecksumMismatch is returned when a decoded frame's stored checksum
// does not match the checksum recomputed over its key+value bytes.
var ErrChecksumMismatch = errors.New("hybridcache/frame: checksum mismatch")

// EntryHeader is the fixed-width prefix of every on-disk frame. Checksum is
// a full 64-bit xxhash digest, not truncated, matching the checksum field
// width of the normative on-disk layout (only the checksum algorithm
// itself is free to pick).
type EntryHeader struct {
	Hash        uint64
	KeyLen      uint32
	ValueLen    uint32
	Sequence    uint64
	Checksum    uint64
	Compression Compression
	Kind        Kind
}

// EntryLen returns the total unpadded length of the frame this header
// describes: header + value + key.
func (h EntryHeader) EntryLen() uint64 {
	return uint64(HeaderSize) + uint64(h.ValueLen) + uint64(h.KeyLen)
}

// PaddedLen rounds EntryLen up to the device's alignment.
func (h EntryHeader) PaddedLen(align uint64) uint64 {
	return unsafehelpers.AlignUp(h.EntryLen(), align)
}

// Encode writes the header's fixed-width fields into dst, which must be at
// least HeaderSize bytes.
func (h EntryHeader) Encode(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], h.Hash)
	binary.LittleEndian.PutUint32(dst[8:12], h.KeyLen)
	binary.LittleEndian.PutUint32(dst[12:16], h.ValueLen)
	binary.LittleEndian.PutUint64(dst[16:24], h.Sequence)
	binary.LittleEndian.PutUint64(dst[24:32], h.Checksum)
	dst[32] = byte(h.Compression)
	dst[33] = byte(h.Kind)
	dst[34], dst[35] = 0, 0
}

// DecodeHeader reads a header from the front of buf.
func DecodeHeader(buf []byte) (EntryHeader, error) {
	if len(buf) < HeaderSize {
		return EntryHeader{}, ErrShortHeader
	}
	return EntryHeader{
		Hash:        binary.LittleEndian.Uint64(buf[0:8]),
		KeyLen:      binary.LittleEndian.Uint32(buf[8:12]),
		ValueLen:    binary.LittleEndian.Uint32(buf[12:16]),
		Sequence:    binary.LittleEndian.Uint64(buf[16:24]),
		Checksum:    binary.LittleEndian.Uint64(buf[24:32]),
		Compression: Compression(buf[32]),
		Kind:        Kind(buf[33]),
	}, nil
}

// Checksum computes the frame checksum over value bytes followed by key
// bytes, matching the on-disk layout (value, then key, after the header).
func Checksum(value, key []byte) uint64 {
	d := xxhash.New()
	_, _ = d.Write(value)
	_, _ = d.Write(key)
	return d.Sum64()
}

// HashKey returns the stable hash stored in EntryHeader.Hash for a
// serialized key, used by the indexer and by recovery.
func HashKey(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// Encode serializes one full frame (header+value+key, unpadded) into dst,
// which must be at least int(h.EntryLen()) bytes.
func Encode(dst []byte, h EntryHeader, value, key []byte) {
	h.Encode(dst[:HeaderSize])
	copy(dst[HeaderSize:HeaderSize+len(value)], value)
	copy(dst[HeaderSize+len(value):], key)
}

// Decode splits a raw frame buffer (exactly h.EntryLen() bytes) back into
// value and key slices that alias buf, and verifies the checksum.
func Decode(buf []byte, h EntryHeader) (value, key []byte, err error) {
	want := int(h.EntryLen())
	if len(buf) < want {
		return nil, nil, fmt.Errorf("hybridcache/frame: buffer too short: have %d want %d", len(buf), want)
	}
	value = buf[HeaderSize : HeaderSize+int(h.ValueLen)]
	key = buf[HeaderSize+int(h.ValueLen) : want]
	if Checksum(value, key) != h.Checksum {
		return nil, nil, ErrChecksumMismatch
	}
	return value, key, nil
}
