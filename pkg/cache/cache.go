// Package cache implements the in-memory half of hybridcache: a sharded,
// hash-indexed key/value cache with pluggable eviction policies and
// reference-counted handles, following the shard/lock layout of
// Voskan-arena-cache's pkg/cache.go and the insert/get/remove/try-release
// algorithm of foyer-memory's generic.rs.
package cache

import (
	"context"
	"hash/maphash"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Cache is a sharded, generic key/value cache. The zero value is not
// usable; construct with New.
type Cache[K comparable, V any] struct {
	shards    []*shard[K, V]
	shardMask uint64
	seed      maphash.Seed

	weightFn WeightFn[K, V]
	listener Listener[K, V]
	metrics  Metrics
	tracer   trace.Tracer
}

// New constructs a Cache from the given options.
func New[K comparable, V any](opts ...Option[K, V]) (*Cache[K, V], error) {
	c, err := applyOptions[K, V](opts)
	if err != nil {
		return nil, err
	}

	per := c.capacity / int64(c.shards)
	if per <= 0 {
		per = 1
	}

	cc := &Cache[K, V]{
		shards:    make([]*shard[K, V], c.shards),
		shardMask: uint64(c.shards - 1),
		seed:      maphash.MakeSeed(),
		weightFn:  c.weightFn,
		listener:  c.listener,
		metrics:   c.metrics,
		tracer:    c.tracer,
	}

	pool := newHandlePool[K, V](c.objectPoolPerShard * c.shards)
	for i := range cc.shards {
		cc.shards[i] = newShard[K, V](per, c.policyFactory, pool)
	}
	return cc, nil
}

func (c *Cache[K, V]) hash(key K) uint64 {
	return maphash.Comparable(c.seed, key)
}

func (c *Cache[K, V]) shardFor(key K) *shard[K, V] {
	return c.shards[c.hash(key)&c.shardMask]
}

func (c *Cache[K, V]) wrap(s *shard[K, V], h *handle[K, V]) *Entry[K, V] {
	return &Entry[K, V]{cache: c, shard: s, h: h}
}

func (c *Cache[K, V]) notify(evs []evicted[K, V]) {
	for _, ev := range evs {
		c.metrics.IncEvict()
		if c.listener != nil {
			c.listener.OnRelease(ev.key, ev.value, ev.charge)
		}
	}
}

// Insert admits key/value, computing its charge via the configured
// WeightFn, evicting as needed, and returns an Entry the caller owns (must
// Release). If key already had a resident entry, the old handle is
// unconditionally detached — never reinserted, matching generic.rs's
// replace-on-insert semantics.
func (c *Cache[K, V]) Insert(key K, value V) *Entry[K, V] {
	s := c.shardFor(key)
	charge := c.weightFn(key, value)
	h, drained := s.insert(key, value, charge)
	c.notify(drained)
	c.metrics.SetUsage(len(c.shards), s.sizeBytes())
	return c.wrap(s, h)
}

// Get returns an Entry for key if resident, incrementing its reference
// count and recording an access with the eviction policy.
func (c *Cache[K, V]) Get(key K) (*Entry[K, V], bool) {
	s := c.shardFor(key)
	h, ok := s.get(key)
	if !ok {
		c.metrics.IncMiss()
		return nil, false
	}
	c.metrics.IncHit()
	return c.wrap(s, h), true
}

// Touch records an access against key without returning or referencing a
// handle. It is a cheap "this was used" signal, primarily useful to defer
// promotion decisions without paying for a full Get/Release pair.
func (c *Cache[K, V]) Touch(key K) bool {
	return c.shardFor(key).touch(key)
}

// Contains reports whether key is currently resident, without affecting
// eviction ordering or reference counts.
func (c *Cache[K, V]) Contains(key K) bool {
	return c.shardFor(key).contains(key)
}

// Remove detaches key immediately and returns an Entry the caller owns (the
// handle is never reinserted, matching an explicit delete). Returns false
// if key was not resident.
func (c *Cache[K, V]) Remove(key K) (*Entry[K, V], bool) {
	s := c.shardFor(key)
	h, ok := s.remove(key)
	if !ok {
		return nil, false
	}
	c.metrics.SetUsage(len(c.shards), s.sizeBytes())
	return c.wrap(s, h), true
}

// Pop evicts and returns the resident entry the given shard's policy
// currently considers the victim (used by drain-on-close sweeps). shardHint
// selects which shard to pop from; callers sweeping the whole cache should
// iterate shardHint from 0 to Cache.Shards()-1.
func (c *Cache[K, V]) Pop(shardHint int) (*Entry[K, V], bool) {
	s := c.shards[shardHint%len(c.shards)]
	h, ok := s.pop()
	if !ok {
		return nil, false
	}
	return c.wrap(s, h), true
}

// Clear detaches every resident entry across all shards and invokes the
// listener for each once released. It is equivalent to, but cheaper than,
// calling Remove for every key.
func (c *Cache[K, V]) Clear() {
	var wg sync.WaitGroup
	wg.Add(len(c.shards))
	for _, s := range c.shards {
		s := s
		go func() {
			defer wg.Done()
			for _, h := range s.clear() {
				if ev, released := s.release(h); released {
					c.notify([]evicted[K, V]{ev})
				}
			}
		}()
	}
	wg.Wait()
}

// Len returns the total number of resident entries across all shards.
func (c *Cache[K, V]) Len() int {
	n := 0
	for _, s := range c.shards {
		n += s.len()
	}
	return n
}

// SizeBytes returns the total accounted usage across all shards.
func (c *Cache[K, V]) SizeBytes() int64 {
	var n int64
	for _, s := range c.shards {
		n += s.sizeBytes()
	}
	return n
}

// Shards returns the configured shard count.
func (c *Cache[K, V]) Shards() int { return len(c.shards) }

// releaseExternal implements Entry.Release: drop one reference, and if that
// was the last one, reinsert-or-detach per the try-release algorithm,
// notifying the listener outside the shard lock on an actual detach.
func (c *Cache[K, V]) releaseExternal(s *shard[K, V], h *handle[K, V]) {
	ev, released := s.release(h)
	if !released {
		return
	}
	c.metrics.SetUsage(len(c.shards), s.sizeBytes())
	c.notify([]evicted[K, V]{ev})
}

// Fetch returns a resident entry for key, or runs loader to produce one.
// Concurrent Fetch calls for the same key never run loader more than once:
// the first caller becomes the load leader (FetchMiss); concurrent callers
// join that load (FetchWait) and observe the same (Entry, error) the leader
// produced. A failed load surfaces its error to every waiter queued before
// the failure and then clears the in-flight marker, so a subsequent Fetch
// call retries from scratch.
func (c *Cache[K, V]) Fetch(ctx context.Context, key K, loader Loader[K, V]) (*Entry[K, V], FetchState, error) {
	ctx, span := c.tracer.Start(ctx, "hybridcache.Fetch")
	defer span.End()

	if entry, ok := c.Get(key); ok {
		span.SetAttributes(attribute.String("hybridcache.fetch_state", FetchHit.String()))
		return entry, FetchHit, nil
	}

	s := c.shardFor(key)

	s.mu.Lock()
	if waiters, inFlight := s.waiters[key]; inFlight {
		ch := make(chan fetchResult[K, V], 1)
		s.waiters[key] = append(waiters, ch)
		s.mu.Unlock()

		c.metrics.IncFetchWait()
		span.SetAttributes(attribute.String("hybridcache.fetch_state", FetchWait.String()))
		select {
		case res := <-ch:
			if res.err != nil {
				span.RecordError(res.err)
				return nil, FetchWait, res.err
			}
			return c.wrap(s, res.h), FetchWait, nil
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			return nil, FetchWait, ctx.Err()
		}
	}

	s.waiters[key] = nil // mark in-flight, no followers yet
	s.mu.Unlock()

	c.metrics.IncFetchMiss()
	span.SetAttributes(attribute.String("hybridcache.fetch_state", FetchMiss.String()))
	value, err := loader(ctx, key)

	if err != nil {
		s.mu.Lock()
		followers := s.waiters[key]
		delete(s.waiters, key)
		s.mu.Unlock()

		span.RecordError(err)
		for _, ch := range followers {
			ch <- fetchResult[K, V]{err: err}
		}
		return nil, FetchMiss, err
	}

	// insertAndClearWaiters captures the waiters entry for key and publishes
	// the new handle into the index under the same lock acquisition, so no
	// concurrent Fetch can observe a moment with neither.
	charge := c.weightFn(key, value)
	h, followers, drained := s.insertAndClearWaiters(key, value, charge)
	c.notify(drained)
	c.metrics.SetUsage(len(c.shards), s.sizeBytes())
	entry := c.wrap(s, h)

	if len(followers) > 0 {
		h.incRefBy(len(followers))
		for _, ch := range followers {
			ch <- fetchResult[K, V]{h: h}
		}
	}
	return entry, FetchMiss, nil
}

// Close releases all cache resources. Entries are not implicitly flushed
// anywhere; callers composing Cache with a disk tier should drain via Pop
// before calling Close.
func (c *Cache[K, V]) Close() {
	c.Clear()
}
