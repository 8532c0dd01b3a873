package cache

import "github.com/Voskan/hybridcache/internal/slotarena"

// handlePool is a bounded, shared-across-shards pool of empty handle slots,
// amortizing allocation the way foyer-memory's generic.rs shares one
// ArrayQueue<Box<Handle>> object pool across every CacheShard. A buffered
// channel gives the same bounded, concurrent-safe push/pop semantics Go
// idiom normally reaches for in place of a hand-rolled lock-free queue.
//
// It also owns the Cache-wide slotarena.Arena: every handle that leaves
// the pool carries a freshly allocated {index, generation} ID so an
// Entry's stable debug identifier (Entry.ID) stays distinguishable after
// being logged, even across the handle being freed and its slot recycled
// for an unrelated key.
type handlePool[K comparable, V any] struct {
	slots chan *handle[K, V]
	arena *slotarena.Arena
}

func newHandlePool[K comparable, V any](capacity int) *handlePool[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &handlePool[K, V]{slots: make(chan *handle[K, V], capacity), arena: slotarena.New()}
}

// get returns a pooled handle if one is available, otherwise allocates one,
// and assigns it a fresh arena ID either way.
func (p *handlePool[K, V]) get() *handle[K, V] {
	var h *handle[K, V]
	select {
	case h = <-p.slots:
	default:
		h = newHandle[K, V]()
	}
	h.id = p.arena.Alloc()
	return h
}

// put frees h's arena ID, resets its payload, and returns it to the pool,
// dropping it if the pool is full.
func (p *handlePool[K, V]) put(h *handle[K, V]) {
	p.arena.Free(h.id)
	h.reset()
	select {
	case p.slots <- h:
	default:
	}
}
