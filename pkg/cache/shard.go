package cache

import (
	"sync"

	"github.com/Voskan/hybridcache/pkg/eviction"
)

// evicted is what a shard operation hands back to the caller so listener
// notifications can happen outside the shard lock, matching
// foyer-memory's insert_with_context / try_release_handle discipline of
// collecting to_deallocate entries under lock and invoking the listener
// only after releasing it.
type evicted[K comparable, V any] struct {
	key    K
	value  V
	charge int64
}

// shard owns an independent index (the "indexer": which handle is
// currently authoritative for a key) and an independent eviction ordering
// (the policy's intrusive list). The two are deliberately separate, as in
// foyer-memory's generic.rs: capacity pressure can pop a handle out of the
// eviction ordering while it is still externally referenced, without that
// handle losing its place in the index — it becomes reachable-but-
// unordered ("limbo") until the last reference drops, at which point
// release() either reinserts it (if the policy and current usage allow)
// or finally detaches it from the index for good.
type shard[K comparable, V any] struct {
	mu sync.Mutex

	index    map[K]*handle[K, V]
	policy   eviction.Policy[K, V]
	pool     *handlePool[K, V]
	capacity int64
	usage    int64

	// waiters tracks in-flight Fetch loads. A present-but-empty slice means
	// "a leader is loading this key, no followers yet"; a present
	// non-empty slice holds follower channels awaiting the leader's result.
	waiters map[K][]chan fetchResult[K, V]
}

func newShard[K comparable, V any](capacity int64, factory eviction.Factory[K, V], pool *handlePool[K, V]) *shard[K, V] {
	return &shard[K, V]{
		index:    make(map[K]*handle[K, V]),
		policy:   factory.New(),
		pool:     pool,
		capacity: capacity,
		waiters:  make(map[K][]chan fetchResult[K, V]),
	}
}

// insert places key->value into the shard, evicting as needed to stay
// within capacity, and returns a handle already carrying one reference for
// the caller. If key already had a resident handle, that handle is
// unconditionally and immediately detached from the index (never
// reinserted), and freed right away unless something else still
// references it — mirroring generic.rs's insert(): "if let Some(old) =
// ... try_release_handle(old, false)".
func (s *shard[K, V]) insert(key K, value V, charge int64) (*handle[K, V], []evicted[K, V]) {
	s.mu.Lock()

	var drained []evicted[K, V]

	h := s.pool.get()
	h.init(key, value, charge)

	drained = s.evictLocked(charge, drained)

	old, hadOld := s.index[key]
	s.index[key] = h
	h.inIndexer = true

	if hadOld {
		old.inIndexer = false
		if old.elem.Linked() {
			s.policy.Remove(old.elem)
		}
		if ev, released := s.finishDetach(old); released {
			drained = append(drained, ev)
		}
	}

	s.policy.Push(h.elem)
	s.usage += charge
	h.incRef()

	s.mu.Unlock()
	return h, drained
}

// insertAndClearWaiters is insert's sibling for a Fetch load leader
// publishing its result: it performs the same admit-and-evict work, but
// also captures and clears any waiters entry for key in the very same
// locked section. Doing this atomically closes the window a separate
// "capture waiters, unlock, then insert" sequence leaves open, where a
// second Fetch call for key could find neither an in-flight marker nor an
// indexed handle between the two locked sections and wrongly become a
// second load leader, running loader twice.
func (s *shard[K, V]) insertAndClearWaiters(key K, value V, charge int64) (*handle[K, V], []chan fetchResult[K, V], []evicted[K, V]) {
	s.mu.Lock()

	var drained []evicted[K, V]

	h := s.pool.get()
	h.init(key, value, charge)

	drained = s.evictLocked(charge, drained)

	old, hadOld := s.index[key]
	s.index[key] = h
	h.inIndexer = true

	if hadOld {
		old.inIndexer = false
		if old.elem.Linked() {
			s.policy.Remove(old.elem)
		}
		if ev, released := s.finishDetach(old); released {
			drained = append(drained, ev)
		}
	}

	s.policy.Push(h.elem)
	s.usage += charge
	h.incRef()

	followers := s.waiters[key]
	delete(s.waiters, key)

	s.mu.Unlock()
	return h, followers, drained
}

// evictLocked pops victims from the eviction ordering until usage+charge
// fits within capacity. A popped victim that is still externally
// referenced is left resident in the index (limbo state); only an
// unreferenced victim is actually freed and counted against usage. Must be
// called with the lock held.
func (s *shard[K, V]) evictLocked(charge int64, drained []evicted[K, V]) []evicted[K, V] {
	for s.usage+charge > s.capacity {
		victim := s.policy.Pop()
		if victim == nil {
			break
		}
		vh, ok := s.index[victim.Key()]
		if !ok || vh.elem != victim {
			continue
		}
		if ev, released := s.finishDetach(vh); released {
			drained = append(drained, ev)
		}
	}
	return drained
}

// get looks up key, incrementing refs and recording an access with the
// policy (promotion for LRU, no-op for FIFO) on a hit. A hit against a
// limbo handle (evicted from ordering but still held elsewhere) still
// succeeds; Access on an unlinked element is a no-op by policy contract.
func (s *shard[K, V]) get(key K) (*handle[K, V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.index[key]
	if !ok {
		return nil, false
	}
	h.incRef()
	s.policy.Access(h.elem)
	return h, true
}

// touch is like get's policy-promotion half without taking a reference or
// returning a handle: a cheap "this was used" signal.
func (s *shard[K, V]) touch(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.index[key]
	if !ok {
		return false
	}
	s.policy.Access(h.elem)
	return true
}

func (s *shard[K, V]) contains(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok
}

// remove detaches key from the index and policy immediately and hands the
// caller a reference so the handle's value stays valid until Release.
// Reinsertion never applies to an explicit remove, since inIndexer is
// cleared right away.
func (s *shard[K, V]) remove(key K) (*handle[K, V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.index[key]
	if !ok {
		return nil, false
	}
	delete(s.index, key)
	h.inIndexer = false
	if h.elem.Linked() {
		s.policy.Remove(h.elem)
	}
	h.incRef()
	return h, true
}

// pop evicts and returns the policy's current victim (e.g. for a
// drain-on-close sweep), with the same ownership semantics as remove.
func (s *shard[K, V]) pop() (*handle[K, V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	victim := s.policy.Pop()
	if victim == nil {
		return nil, false
	}
	h, ok := s.index[victim.Key()]
	if !ok || h.elem != victim {
		return nil, false
	}
	delete(s.index, victim.Key())
	h.inIndexer = false
	h.incRef()
	return h, true
}

// clear detaches every resident handle and returns them (each carrying one
// reference) so the caller can release them outside the lock.
func (s *shard[K, V]) clear() []*handle[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*handle[K, V], 0, len(s.index))
	for k, h := range s.index {
		delete(s.index, k)
		h.inIndexer = false
		h.incRef()
		out = append(out, h)
	}
	s.policy.Clear()
	return out
}

func (s *shard[K, V]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

func (s *shard[K, V]) sizeBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// release drops one external reference. If that was not the last
// reference, nothing else happens. If it was the last reference:
//   - if the handle is still indexed AND still linked into the eviction
//     ordering (i.e. it was never evicted under pressure), it simply stays
//     resident as-is — there is nothing to reinsert, it never left.
//   - if the handle is still indexed but NOT linked (it was evicted from
//     the ordering while referenced), it is offered back to the policy via
//     Reinsert when usage is within capacity; acceptance leaves it
//     resident, rejection (or being over capacity) detaches it for good.
//   - if the handle is no longer indexed at all (explicit remove/pop/clear,
//     or superseded by a replacing insert), it is unconditionally detached.
//
// This is the try_release_handle(ptr, reinsert) algorithm from
// foyer-memory's generic.rs.
func (s *shard[K, V]) release(h *handle[K, V]) (evicted[K, V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.decRef() > 0 {
		return evicted[K, V]{}, false
	}

	if h.inIndexer {
		if h.elem.Linked() {
			return evicted[K, V]{}, false
		}
		if s.usage <= s.capacity && s.policy.Reinsert(h.elem) {
			return evicted[K, V]{}, false
		}
	}

	return s.finishDetach(h)
}

// finishDetach frees h if it is not externally referenced: clears its
// index/policy membership (if still present), subtracts its charge from
// usage, and returns the handle to the shared handle pool. It is the shared tail
// of the eviction path, the replace-on-insert path, and release()'s
// rejected-reinsert path. Must be called with the lock held.
func (s *shard[K, V]) finishDetach(h *handle[K, V]) (evicted[K, V], bool) {
	if h.hasRefs() {
		return evicted[K, V]{}, false
	}
	if h.inIndexer {
		delete(s.index, h.key)
		h.inIndexer = false
	}
	if h.elem.Linked() {
		s.policy.Remove(h.elem)
	}
	s.usage -= h.charge
	ev := evicted[K, V]{key: h.key, value: h.value, charge: h.charge}
	s.pool.put(h)
	return ev, true
}
