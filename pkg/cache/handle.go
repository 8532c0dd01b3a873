package cache

import (
	"sync/atomic"

	"github.com/Voskan/hybridcache/internal/slotarena"
	"github.com/Voskan/hybridcache/pkg/eviction"
)

// handle is the reference-counted, poolable slot backing one resident
// entry. A handle moves through three phases: allocated-and-empty (sitting
// in the object pool), initialized-and-indexed (reachable via the shard's
// index and/or eviction policy), and released (value cleared, returned to
// the pool). Exactly one goroutine mutates a handle's indexing state at a
// time, always under the owning shard's lock; refs is the only field
// touched without that lock (external Entry clones/drops use atomics).
type handle[K comparable, V any] struct {
	key    K
	value  V
	charge int64

	refs atomic.Int32

	// id is this handle's current slot-arena identity, reassigned every
	// time the handle leaves the pool; it gives the outside world a
	// stable, loggable token for "this particular occupancy of this
	// particular slot" distinct from the handle's address.
	id slotarena.ID

	elem *eviction.Element[K, V]

	// inIndexer is true while the shard's index map still points at this
	// handle. A handle can have refs > 0 while inIndexer is false (e.g.
	// immediately after an explicit Remove, while a caller still owns an
	// outstanding Entry).
	inIndexer bool
}

func newHandle[K comparable, V any]() *handle[K, V] {
	return &handle[K, V]{}
}

// init (re)initializes a pooled handle for reuse, giving it a fresh
// eviction element bound to the new key and value.
func (h *handle[K, V]) init(key K, value V, charge int64) {
	h.key = key
	h.value = value
	h.charge = charge
	h.inIndexer = false
	h.refs.Store(0)
	h.elem = eviction.NewElement[K, V](key, &h.value)
}

// reset clears a handle's payload before it returns to the object pool, so
// a released value doesn't keep arbitrary user data reachable from the
// pool's backing array.
func (h *handle[K, V]) reset() {
	var zero V
	h.value = zero
	h.charge = 0
	h.inIndexer = false
	h.elem = nil
}

func (h *handle[K, V]) incRef()        { h.refs.Add(1) }
func (h *handle[K, V]) incRefBy(n int) { h.refs.Add(int32(n)) }
func (h *handle[K, V]) decRef() int32  { return h.refs.Add(-1) }
func (h *handle[K, V]) hasRefs() bool  { return h.refs.Load() > 0 }

// Entry is an external, reference-counted handle to a cached value. The
// zero Entry is not valid; obtain one from Cache.Insert, Cache.Get,
// Cache.Remove, or Cache.Fetch. Callers MUST call Release exactly once per
// Entry they own (Clone produces a second owned Entry requiring its own
// Release).
type Entry[K comparable, V any] struct {
	cache *Cache[K, V]
	shard *shard[K, V]
	h     *handle[K, V]
}

// Key returns the entry's key.
func (e *Entry[K, V]) Key() K { return e.h.key }

// Value returns a pointer to the entry's value. The pointer is valid until
// Release is called on every Entry referencing this handle.
func (e *Entry[K, V]) Value() *V { return &e.h.value }

// Charge returns the entry's accounted weight.
func (e *Entry[K, V]) Charge() int64 { return e.h.charge }

// ID returns a stable, loggable identifier for this occupancy of the
// handle's slot. It is safe to pass across goroutines or serialize for
// tracing, but it is not a key lookup token: after the handle's last
// reference drops and its slot is recycled for a different key, the same
// numeric value is never reissued for this occupancy again.
func (e *Entry[K, V]) ID() slotarena.ID { return e.h.id }

// Refs returns the current external reference count. Intended for tests
// and diagnostics, not for synchronization decisions.
func (e *Entry[K, V]) Refs() int32 { return e.h.refs.Load() }

// Clone returns a second owned Entry over the same handle, incrementing the
// reference count. The caller must Release both the original and the
// clone independently.
func (e *Entry[K, V]) Clone() *Entry[K, V] {
	if !e.h.hasRefs() {
		panic("hybridcache: Clone called on an Entry with no outstanding references")
	}
	e.h.incRef()
	return &Entry[K, V]{cache: e.cache, shard: e.shard, h: e.h}
}

// Release drops this Entry's reference. Once every outstanding Entry for a
// handle has been released, the handle is either reinserted (if still
// indexed, the policy accepts it, and usage is within capacity) or fully
// detached: its value is cleared, its slot returns to the shared handle pool, and
// the cache's listener (if any) observes the eviction outside any lock.
func (e *Entry[K, V]) Release() {
	e.cache.releaseExternal(e.shard, e.h)
}
