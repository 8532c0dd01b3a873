// Package flusher batches frame writes into region-sized write buffers and
// persists them to device, publishing each entry's address into the
// indexer only after its bytes are durable.
//
// Grounded on foyer-storage/src/large/batch.rs's BatchMut/Group: entries
// accumulate into an in-memory buffer and are only handed to the device in
// bulk when a group closes (region full or flush forced), and indexer
// updates happen after the device write completes rather than eagerly.
// The number of regions mid-flush at once is bounded by a
// golang.org/x/sync/semaphore; each flush runs synchronously in the
// goroutine that triggered it.
package flusher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Voskan/hybridcache/internal/diskstore/device"
	"github.com/Voskan/hybridcache/internal/diskstore/frame"
	"github.com/Voskan/hybridcache/internal/diskstore/indexer"
	"github.com/Voskan/hybridcache/internal/diskstore/region"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// RegionSource hands out a clean, free region ready for AttachBuffer, and
// accepts a sealed, flushed region back for eventual reclaim scheduling.
type RegionSource interface {
	Acquire(ctx context.Context) (*region.Region, error)
	Seal(r *region.Region)
}

// Address is where one just-written entry now lives on disk.
type Address = indexer.Address

// Flusher owns the single region currently open for writes and publishes
// completed frames to an Indexer once durable.
type Flusher struct {
	dev         *device.Device
	regions     RegionSource
	idx         *indexer.Indexer
	logger      *zap.Logger
	sem         *semaphore.Weighted
	compression frame.Compression

	mu       sync.Mutex
	cur      *region.Region
	pending  []pendingEntry
	sequence atomic.Uint64
}

type pendingEntry struct {
	hash     uint64
	offset   int64
	length   int64
	sequence uint64
	kind     frame.Kind
}

// New constructs a Flusher. maxConcurrentFlushes bounds how many regions
// may be mid-flush (buffer copy to device + fsync) at once. compression is
// applied to every value before it is framed and written.
func New(dev *device.Device, regions RegionSource, idx *indexer.Indexer, maxConcurrentFlushes int64, logger *zap.Logger, compression frame.Compression) *Flusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flusher{
		dev:         dev,
		regions:     regions,
		idx:         idx,
		logger:      logger,
		sem:         semaphore.NewWeighted(maxConcurrentFlushes),
		compression: compression,
	}
}

// NextSequence returns a monotonically increasing sequence number for a
// new write, used to resolve recovery races between regions.
func (f *Flusher) NextSequence() uint64 {
	return f.sequence.Add(1)
}

// Append serializes and appends one key/value frame to the currently open
// region, rotating to a fresh region if the current one is full, and
// returns the address the entry will live at once flushed. value is
// compressed with the Flusher's configured codec before framing.
func (f *Flusher) Append(ctx context.Context, key, value []byte) (Address, error) {
	stored, err := frame.CompressValue(f.compression, value)
	if err != nil {
		return Address{}, fmt.Errorf("hybridcache/flusher: compress value: %w", err)
	}
	return f.appendFrame(ctx, frame.KindData, key, stored, f.compression)
}

// AppendReinsertion republishes a live entry's already-serialized
// (already-compressed, if applicable) value bytes under a fresh sequence
// number, as chosen by a reclaim picker that wants to keep an entry
// resident past its region's reclaim. Unlike Append, storedValue is
// written as-is — it came straight off a scanner reading the region being
// reclaimed and must not be re-compressed.
func (f *Flusher) AppendReinsertion(ctx context.Context, key, storedValue []byte, compression frame.Compression) (Address, error) {
	return f.appendFrame(ctx, frame.KindReinsertion, key, storedValue, compression)
}

// AppendTombstone writes a valueless marker recording that key was
// explicitly removed, so a crash before the next full Recover doesn't let
// a stale data frame for key resurrect it.
func (f *Flusher) AppendTombstone(ctx context.Context, key []byte) (Address, error) {
	return f.appendFrame(ctx, frame.KindTombstone, key, nil, frame.CompressionNone)
}

// appendFrame is the shared tail of Append/AppendReinsertion/AppendTombstone:
// it frames storedValue (already in its final on-disk form) and key under
// kind, rotating to a fresh region if the current one is full.
func (f *Flusher) appendFrame(ctx context.Context, kind frame.Kind, key, storedValue []byte, compression frame.Compression) (Address, error) {
	h := frame.HashKey(key)
	seq := f.NextSequence()
	header := frame.EntryHeader{
		Hash:        h,
		KeyLen:      uint32(len(key)),
		ValueLen:    uint32(len(storedValue)),
		Sequence:    seq,
		Checksum:    frame.Checksum(storedValue, key),
		Compression: compression,
		Kind:        kind,
	}
	entryLen := int64(header.EntryLen())
	paddedLen := int64(header.PaddedLen(uint64(f.dev.Align())))

	staging := f.dev.AlignedBuffer(paddedLen)
	frame.Encode(staging[:entryLen], header, storedValue, key)

	f.mu.Lock()
	if f.cur == nil {
		r, err := f.regions.Acquire(ctx)
		if err != nil {
			f.mu.Unlock()
			return Address{}, fmt.Errorf("hybridcache/flusher: acquire region: %w", err)
		}
		r.AttachBuffer()
		f.cur = r
	}

	alloc, ok := f.cur.Allocate(paddedLen)
	if !ok {
		sealed := f.cur
		sealedPending := f.pending
		f.pending = nil
		f.cur = nil
		f.mu.Unlock()

		if err := f.flushAndSeal(ctx, sealed, sealedPending); err != nil {
			return Address{}, err
		}

		f.mu.Lock()
		r, err := f.regions.Acquire(ctx)
		if err != nil {
			f.mu.Unlock()
			return Address{}, fmt.Errorf("hybridcache/flusher: acquire region: %w", err)
		}
		r.AttachBuffer()
		f.cur = r
		alloc, ok = f.cur.Allocate(paddedLen)
		if !ok {
			f.mu.Unlock()
			return Address{}, fmt.Errorf("hybridcache/flusher: entry of %d bytes does not fit in an empty region", paddedLen)
		}
	}

	copy(alloc.Bytes, staging)
	alloc.Release()

	addr := Address{Region: f.cur.ID(), Offset: alloc.Offset, Len: entryLen, Sequence: seq}
	f.pending = append(f.pending, pendingEntry{hash: h, offset: alloc.Offset, length: entryLen, sequence: seq, kind: kind})
	f.mu.Unlock()

	return addr, nil
}

// Flush forces the currently open region to be written to device and its
// pending entries published into the indexer, as an explicit durability
// point rather than waiting for the region to fill. The region is not
// handed to the RegionSource's Seal here, but writing it detaches its
// buffer, so it accepts no further frames: the next Append finds it full
// and rotates to a fresh region.
func (f *Flusher) Flush(ctx context.Context) error {
	f.mu.Lock()
	r := f.cur
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()

	if r == nil {
		return nil
	}
	return f.writeAndPublish(ctx, r, pending)
}

// flushAndSeal persists a region that just filled up and hands it back to
// the RegionSource for reclaim scheduling.
func (f *Flusher) flushAndSeal(ctx context.Context, r *region.Region, pending []pendingEntry) error {
	r.Seal()
	if err := f.writeAndPublish(ctx, r, pending); err != nil {
		return err
	}
	f.regions.Seal(r)
	return nil
}

func (f *Flusher) writeAndPublish(ctx context.Context, r *region.Region, pending []pendingEntry) error {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("hybridcache/flusher: acquire flush slot: %w", err)
	}
	defer f.sem.Release(1)

	length := r.Allocated()
	if length == 0 {
		return nil
	}
	buf := r.DetachBuffer()
	if buf == nil {
		return nil
	}
	if err := f.dev.WriteAt(r.ID(), 0, buf[:length]); err != nil {
		return fmt.Errorf("hybridcache/flusher: write region %d: %w", r.ID(), err)
	}
	if err := f.dev.Sync(); err != nil {
		return fmt.Errorf("hybridcache/flusher: sync region %d: %w", r.ID(), err)
	}

	for _, p := range pending {
		if p.kind == frame.KindTombstone {
			f.idx.Tombstone(p.hash, p.sequence)
			continue
		}
		f.idx.Insert(p.hash, indexer.Address{Region: r.ID(), Offset: p.offset, Len: p.length, Sequence: p.sequence})
	}
	f.logger.Debug("flushed region", zap.Int64("region", r.ID()), zap.Int64("bytes", length), zap.Int("entries", len(pending)))
	return nil
}

// Close flushes and seals whatever region is currently open.
func (f *Flusher) Close(ctx context.Context) error {
	f.mu.Lock()
	r := f.cur
	pending := f.pending
	f.cur = nil
	f.pending = nil
	f.mu.Unlock()
	if r == nil {
		return nil
	}
	return f.flushAndSeal(ctx, r, pending)
}
