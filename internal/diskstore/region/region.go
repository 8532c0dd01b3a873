// Package region models one fixed-size, append-only segment of a device:
// an in-memory write buffer that is flushed to the device and then
// detached, a generation counter gating recovery/reclaim, and reader/writer
// quiescence counts that let a reclaimer wait until nobody can possibly be
// touching the region anymore.
//
// Grounded on foyer-storage/src/region.rs's Region/RegionInner: the three
// counters (writers, buffered_readers, physical_readers) and the
// exclusive() wait-for-quiescence operation are carried over verbatim in
// spirit; Rust's Future-based ExclusiveFuture/Waker dance is translated to
// a stdlib sync.Cond, which is the idiomatic Go equivalent of "block until
// a predicate over shared state becomes true".
package region

import (
	"fmt"
	"sync"

	"github.com/Voskan/hybridcache/internal/diskstore/device"
)

// ID identifies a region within a device. Version 0 never matches a real
// region's version and is used as a "don't care" sentinel by callers that
// already hold an allocation's address rather than a live handle.
type ID = int64

// Version is bumped every time a region is reclaimed and reused, so a
// caller holding a stale (region, offset) pair can detect it now points at
// different data.
type Version uint32

// State is a region's place in its lifecycle, used only for observability
// (metrics/inspection); the actual gating is done via the counters below.
type State int

const (
	StateFree State = iota
	StateOpenForWrite
	StateSealed
	StateReclaiming
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateOpenForWrite:
		return "open"
	case StateSealed:
		return "sealed"
	case StateReclaiming:
		return "reclaiming"
	default:
		return "unknown"
	}
}

// Region is one append-only segment of a device.Device.
type Region struct {
	id     ID
	dev    *device.Device
	mu     sync.Mutex
	cond   *sync.Cond

	version Version
	state   State

	buffer []byte // non-nil while open for buffered writes
	length int64  // bytes appended into buffer so far

	writers         int
	bufferedReaders int
	physicalReaders int
}

// New wraps region id of dev, initially free with no attached buffer.
func New(id ID, dev *device.Device) *Region {
	r := &Region{id: id, dev: dev, version: 1, state: StateFree}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// ID returns the region's index within its device.
func (r *Region) ID() ID { return r.id }

// Version returns the region's current generation.
func (r *Region) Version() Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// State reports the region's current lifecycle state.
func (r *Region) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// AttachBuffer opens the region for buffered writes. Must be called with
// no in-flight writers or buffered readers (i.e. right after reclaim/reset).
func (r *Region) AttachBuffer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writers != 0 || r.bufferedReaders != 0 {
		panic("hybridcache/region: attach buffer with writers or buffered readers active")
	}
	r.buffer = r.dev.AlignedBuffer(r.dev.RegionSize())
	r.length = 0
	r.state = StateOpenForWrite
}

// Allocated reports how many bytes of the write buffer are committed so
// far, i.e. the offset the next Allocate call would hand out.
func (r *Region) Allocated() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

// Allocation is a reserved, exclusively-owned byte range inside a region's
// write buffer. The caller fills Bytes and must call Release exactly once.
type Allocation struct {
	region  *Region
	Bytes   []byte
	Offset  int64
	Version Version
}

// Allocate reserves size bytes at the current write offset, bumping the
// writer count so a concurrent reclaim waits for this write to finish.
// Returns false if size would overflow the region.
func (r *Region) Allocate(size int64) (Allocation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buffer == nil || r.length+size > int64(len(r.buffer)) {
		return Allocation{}, false
	}
	offset := r.length
	r.length += size
	r.writers++
	return Allocation{
		region:  r,
		Bytes:   r.buffer[offset : offset+size],
		Offset:  offset,
		Version: r.version,
	}, true
}

// Release marks the allocation's write as complete, decrementing the
// region's writer count and waking anyone waiting for quiescence.
func (a Allocation) Release() {
	r := a.region
	r.mu.Lock()
	r.writers--
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Load returns a copy of region bytes [offset, offset+length). If version
// is non-zero and does not match the region's current version, ok is false
// (the caller's address has gone stale under reclaim).
func (r *Region) Load(offset, length int64, version Version) (data []byte, ok bool, err error) {
	r.mu.Lock()
	if version != 0 && version != r.version {
		r.mu.Unlock()
		return nil, false, nil
	}
	buffered := r.buffer != nil
	if buffered {
		r.bufferedReaders++
	} else {
		r.physicalReaders++
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if buffered {
			r.bufferedReaders--
		} else {
			r.physicalReaders--
		}
		r.cond.Broadcast()
		r.mu.Unlock()
	}()

	if buffered {
		r.mu.Lock()
		if offset+length > int64(len(r.buffer)) {
			r.mu.Unlock()
			return nil, false, fmt.Errorf("hybridcache/region: buffered read past length")
		}
		out := make([]byte, length)
		copy(out, r.buffer[offset:offset+length])
		r.mu.Unlock()
		return out, true, nil
	}

	buf := r.dev.AlignedBuffer(length)
	if err := r.dev.ReadAt(r.id, offset, buf); err != nil {
		return nil, false, err
	}
	return buf, true, nil
}

// HasBuffer reports whether the region currently has an attached write
// buffer (buffered reads/writes possible) as opposed to being clean on
// device only (physical reads only).
func (r *Region) HasBuffer() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffer != nil
}

// Seal marks the region as no longer accepting new allocations; callers
// typically flush then DetachBuffer next.
func (r *Region) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateSealed
}

// DetachBuffer releases the write buffer, blocking until there are no
// buffered readers left in flight. The caller must have already flushed
// buffer contents to the device.
func (r *Region) DetachBuffer() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.bufferedReaders != 0 {
		r.cond.Wait()
	}
	buf := r.buffer
	r.buffer = nil
	return buf
}

// WaitQuiescent blocks until there are no writers, buffered readers, or
// physical readers in flight against the region, then marks it reclaiming
// and bumps its version so any stale (region, offset, version) triple held
// by a racing reader is rejected from that point on.
func (r *Region) WaitQuiescent() Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.writers != 0 || r.bufferedReaders != 0 || r.physicalReaders != 0 {
		r.cond.Wait()
	}
	r.state = StateReclaiming
	r.version++
	return r.version
}

// Reset clears a reclaimed region back to Free, ready for AttachBuffer.
func (r *Region) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = nil
	r.length = 0
	r.state = StateFree
}
