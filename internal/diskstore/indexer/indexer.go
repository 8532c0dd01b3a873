// Package indexer maps a key's hash to the address of its most recent
// frame on disk: which region, what byte offset, how long, and the
// monotonic sequence number used to resolve races between a writer and a
// concurrent recovery scan.
//
// Grounded on the EntryAddress shape referenced by
// foyer-storage/src/large/scanner.rs (region/offset/len/sequence) and on
// IvanBrykalov-shardcache's sharded-map-with-per-shard-mutex structure,
// reused here instead of a single global lock to keep lookup contention
// proportional to shard count rather than to total key count.
package indexer

import "sync"

// Address locates one frame on disk.
type Address struct {
	Region   int64
	Offset   int64
	Len      int64
	Sequence uint64
}

const shardCount = 64

// record is what a shard actually stores per hash: either a live address,
// or a tombstone watermark. Both cases keep the highest sequence number
// applied to this hash so that Insert/Tombstone calls replayed out of
// order during recovery still converge on whichever action was actually
// latest, regardless of the order regions happen to be scanned in.
type record struct {
	addr       Address
	sequence   uint64
	tombstoned bool
}

// Indexer is a concurrent hash(uint64)->Address map, sharded to bound lock
// contention under concurrent flush/lookup/reclaim traffic.
type Indexer struct {
	shards [shardCount]indexerShard
}

type indexerShard struct {
	mu sync.RWMutex
	m  map[uint64]record
}

// New returns an empty Indexer.
func New() *Indexer {
	idx := &Indexer{}
	for i := range idx.shards {
		idx.shards[i].m = make(map[uint64]record)
	}
	return idx
}

// shardFor spreads an already-hashed key's high bits across the shard
// index, so the low bits of a well-distributed xxhash don't correlate with
// a particular shard.
func (idx *Indexer) shardFor(hash uint64) *indexerShard {
	const fib64 = 0x9E3779B97F4A7C15
	mixed := (hash * fib64) >> 58
	return &idx.shards[mixed%shardCount]
}

// Lookup returns the current address for hash, if any live (non-tombstoned)
// entry is indexed.
func (idx *Indexer) Lookup(hash uint64) (Address, bool) {
	s := idx.shardFor(hash)
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.m[hash]
	if !ok || r.tombstoned {
		return Address{}, false
	}
	return r.addr, true
}

// Insert records addr for hash, unless an existing record (live or
// tombstoned) carries a higher-or-equal sequence number — a racing
// recovery scan may replay frames out of region order, so the newest
// sequence always wins regardless of processing order. Returns true if
// the index was updated.
func (idx *Indexer) Insert(hash uint64, addr Address) bool {
	s := idx.shardFor(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.m[hash]; ok && existing.sequence >= addr.Sequence {
		return false
	}
	s.m[hash] = record{addr: addr, sequence: addr.Sequence}
	return true
}

// Tombstone marks hash as removed as of sequence, unless an existing
// record already carries a higher-or-equal sequence. Unlike Remove, this
// leaves a watermark behind even when nothing is currently indexed for
// hash, so a data frame with a lower sequence scanned afterward (because
// its region was processed later) is correctly kept out of the index
// rather than resurrecting a key a later tombstone already removed.
func (idx *Indexer) Tombstone(hash uint64, sequence uint64) {
	s := idx.shardFor(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.m[hash]; ok && existing.sequence >= sequence {
		return
	}
	s.m[hash] = record{sequence: sequence, tombstoned: true}
}

// Remove deletes hash unconditionally and immediately, used by a live
// (non-recovery) explicit removal where the caller is also appending a
// tombstone frame itself and has no sequence race to resolve.
func (idx *Indexer) Remove(hash uint64) {
	s := idx.shardFor(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, hash)
}

// RemoveIf deletes hash only if its current live address still points at
// region, used by reclaim to drop stale entries without clobbering a
// newer write to the same key that landed in a different region.
func (idx *Indexer) RemoveIf(hash uint64, region int64) {
	s := idx.shardFor(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.m[hash]; ok && !r.tombstoned && r.addr.Region == region {
		delete(s.m, hash)
	}
}

// Len returns the number of hashes currently mapped to a live address
// (tombstone watermarks kept only for recovery ordering don't count).
func (idx *Indexer) Len() int {
	n := 0
	for i := range idx.shards {
		idx.shards[i].mu.RLock()
		for _, r := range idx.shards[i].m {
			if !r.tombstoned {
				n++
			}
		}
		idx.shards[i].mu.RUnlock()
	}
	return n
}
