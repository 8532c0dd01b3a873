// Package scanner replays the frames written into a region, in order, so
// recovery can rebuild the in-memory indexer after a restart without
// keeping a separate write-ahead log.
//
// Grounded directly on foyer-storage/src/large/scanner.rs's
// CachedDeviceReader (batches small reads into IO_SIZE_HINT-aligned
// chunks instead of issuing one device read per header) and RegionScanner
// (current/step/next), translated from its async Future-per-call style to
// plain blocking calls since internal/diskstore/device's I/O is already synchronous.
package scanner

import (
	"errors"
	"io"

	"github.com/Voskan/hybridcache/internal/diskstore/device"
	"github.com/Voskan/hybridcache/internal/diskstore/frame"
	"github.com/Voskan/hybridcache/internal/unsafehelpers"
)

const ioSizeHint = 16 * 1024

// EntryInfo describes one frame found during a scan, enough to populate
// the indexer without deserializing the value.
type EntryInfo struct {
	Hash        uint64
	Sequence    uint64
	Region      int64
	Offset      int64
	Len         int64
	Kind        frame.Kind
	Compression frame.Compression
}

// cachedReader batches small reads against a region into aligned chunks,
// serving header-sized reads out of the last chunk when possible.
type cachedReader struct {
	dev      *device.Device
	region   int64
	regionSz int64
	align    int64

	bufOffset int64
	buf       []byte
}

func newCachedReader(dev *device.Device, region int64) *cachedReader {
	return &cachedReader{dev: dev, region: region, regionSz: dev.RegionSize(), align: dev.Align()}
}

func (c *cachedReader) read(offset int64, length int64) ([]byte, error) {
	if offset >= c.bufOffset && offset+length <= c.bufOffset+int64(len(c.buf)) {
		start := offset - c.bufOffset
		return c.buf[start : start+length], nil
	}

	c.bufOffset = int64(unsafehelpers.AlignDown(uint64(offset), uint64(c.align)))
	want := offset + length
	if hint := offset + ioSizeHint; hint > want {
		want = hint
	}
	end := int64(unsafehelpers.AlignUp(uint64(want), uint64(c.align)))
	if end > c.regionSz {
		end = c.regionSz
	}
	readLen := end - c.bufOffset
	if readLen <= 0 {
		return nil, io.EOF
	}

	buf := c.dev.AlignedBuffer(readLen)
	if err := c.dev.ReadAt(c.region, c.bufOffset, buf); err != nil {
		return nil, err
	}
	c.buf = buf

	start := offset - c.bufOffset
	if start < 0 || start+length > int64(len(c.buf)) {
		return nil, io.EOF
	}
	return c.buf[start : start+length], nil
}

// Scanner walks the frames of one region in write order.
type Scanner struct {
	region int64
	align  int64
	size   int64
	offset int64
	reader *cachedReader
}

// New returns a Scanner starting at the beginning of region on dev.
func New(dev *device.Device, region int64) *Scanner {
	return &Scanner{
		region: region,
		align:  dev.Align(),
		size:   dev.RegionSize(),
		reader: newCachedReader(dev, region),
	}
}

func (s *Scanner) current() (frame.EntryHeader, bool, error) {
	if s.offset >= s.size {
		return frame.EntryHeader{}, false, nil
	}
	buf, err := s.reader.read(s.offset, frame.HeaderSize)
	if errors.Is(err, io.EOF) {
		return frame.EntryHeader{}, false, nil
	}
	if err != nil {
		return frame.EntryHeader{}, false, err
	}
	h, err := frame.DecodeHeader(buf)
	if err != nil {
		return frame.EntryHeader{}, false, nil
	}
	// A zeroed or corrupt header past the real tail of written data looks
	// like a valid-but-empty entry; treat a zero hash with zero key and
	// value lengths as end-of-log.
	if h.Hash == 0 && h.KeyLen == 0 && h.ValueLen == 0 {
		return frame.EntryHeader{}, false, nil
	}
	return h, true, nil
}

func (s *Scanner) step(h frame.EntryHeader) {
	s.offset += int64(h.PaddedLen(uint64(s.align)))
}

func infoFor(h frame.EntryHeader, region, offset int64) EntryInfo {
	return EntryInfo{
		Hash:        h.Hash,
		Sequence:    h.Sequence,
		Region:      region,
		Offset:      offset,
		Len:         int64(h.EntryLen()),
		Kind:        h.Kind,
		Compression: h.Compression,
	}
}

// Next returns the next frame's metadata, or ok=false once the region's
// written data is exhausted.
func (s *Scanner) Next() (EntryInfo, bool, error) {
	h, ok, err := s.current()
	if err != nil || !ok {
		return EntryInfo{}, false, err
	}
	info := infoFor(h, s.region, s.offset)
	s.step(h)
	return info, true, nil
}

// NextWithKey is like Next but also returns the frame's serialized key
// bytes. Store.Recover uses Next, not this method.
func (s *Scanner) NextWithKey() (EntryInfo, []byte, bool, error) {
	h, ok, err := s.current()
	if err != nil || !ok {
		return EntryInfo{}, nil, false, err
	}
	info := infoFor(h, s.region, s.offset)
	keyOff := s.offset + int64(frame.HeaderSize) + int64(h.ValueLen)
	key, err := s.reader.read(keyOff, int64(h.KeyLen))
	if err != nil {
		return EntryInfo{}, nil, false, err
	}
	keyCopy := append([]byte(nil), key...)
	s.step(h)
	return info, keyCopy, true, nil
}

// NextWithValue is like NextWithKey but also returns the frame's raw
// stored value bytes (still in whatever compression they were written
// with), used by a reclaim picker that wants to resubmit a live entry's
// bytes as a reinsertion without decoding it through a typed Codec.
func (s *Scanner) NextWithValue() (info EntryInfo, key []byte, value []byte, ok bool, err error) {
	h, ok, err := s.current()
	if err != nil || !ok {
		return EntryInfo{}, nil, nil, false, err
	}
	info = infoFor(h, s.region, s.offset)
	valueOff := s.offset + int64(frame.HeaderSize)
	rawValue, err := s.reader.read(valueOff, int64(h.ValueLen))
	if err != nil {
		return EntryInfo{}, nil, nil, false, err
	}
	keyOff := valueOff + int64(h.ValueLen)
	rawKey, err := s.reader.read(keyOff, int64(h.KeyLen))
	if err != nil {
		return EntryInfo{}, nil, nil, false, err
	}
	value = append([]byte(nil), rawValue...)
	key = append([]byte(nil), rawKey...)
	s.step(h)
	return info, key, value, true, nil
}
