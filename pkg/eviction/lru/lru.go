// Package lru implements a segmented-LRU eviction.Policy: resident
// elements live in one of two segments, probation or protected, with
// protected capped at a configurable fraction of total occupancy. A fresh
// Push lands in probation; Access on a probation element promotes it to
// protected, demoting protected's own LRU victim back down to probation's
// MRU if that pushes protected over its fraction. A reference-held element
// evicted under pressure is reinserted at probation's MRU once usage falls
// back within capacity.
//
// Grounded on IvanBrykalov-shardcache's cache/shard.go intrusive
// insertFront/moveToFront/removeNode list (reused here for each segment's
// own list), and on spec.md's two-segment, high-priority-fraction LRU
// variant; the promote/demote exchange on a probation hit is the classic
// segmented-LRU (SLRU) admission rule.
package lru

import "github.com/Voskan/hybridcache/pkg/eviction"

const (
	segProbation uint8 = 0
	segProtected uint8 = 1

	// defaultProtectedFraction is the share of total resident elements the
	// protected segment may hold before a promotion demotes its LRU victim
	// back to probation.
	defaultProtectedFraction = 0.8
)

type segment[K comparable, V any] struct {
	head, tail *eviction.Element[K, V] // head = MRU, tail = LRU (victim)
	n          int
}

func (s *segment[K, V]) pushFront(e *eviction.Element[K, V]) {
	e.SetLinks(nil, s.head)
	if s.head != nil {
		s.head.SetPrev(e)
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
	e.SetLinked(true)
	s.n++
}

func (s *segment[K, V]) detach(e *eviction.Element[K, V]) {
	prev, next := e.Prev(), e.Next()
	if prev != nil {
		prev.SetNext(next)
	} else {
		s.head = next
	}
	if next != nil {
		next.SetPrev(prev)
	} else {
		s.tail = prev
	}
	e.SetLinks(nil, nil)
	e.SetLinked(false)
	s.n--
}

func (s *segment[K, V]) clear() {
	for e := s.head; e != nil; {
		next := e.Next()
		e.SetLinks(nil, nil)
		e.SetLinked(false)
		e = next
	}
	s.head, s.tail = nil, nil
	s.n = 0
}

// Lru is an eviction.Policy implementation. The zero value is not usable;
// construct with New or NewWithFraction.
type Lru[K comparable, V any] struct {
	probation segment[K, V]
	protected segment[K, V]
	fraction  float64
}

// New returns an empty segmented-LRU policy instance using the default
// protected-segment fraction (0.8).
func New[K comparable, V any]() eviction.Policy[K, V] {
	return NewWithFraction[K, V](defaultProtectedFraction)
}

// NewWithFraction is like New but lets the caller pick the protected
// segment's target fraction of total resident elements (0, 1).
func NewWithFraction[K comparable, V any](protectedFraction float64) eviction.Policy[K, V] {
	if protectedFraction <= 0 || protectedFraction >= 1 {
		protectedFraction = defaultProtectedFraction
	}
	return &Lru[K, V]{fraction: protectedFraction}
}

type factory[K comparable, V any] struct{ fraction float64 }

// NewFactory returns an eviction.Factory producing independent segmented-LRU
// instances, one per shard, using the default protected fraction.
func NewFactory[K comparable, V any]() eviction.Factory[K, V] {
	return factory[K, V]{fraction: defaultProtectedFraction}
}

// NewFactoryWithFraction is like NewFactory but threads a custom protected
// fraction through to every shard's policy instance.
func NewFactoryWithFraction[K comparable, V any](protectedFraction float64) eviction.Factory[K, V] {
	return factory[K, V]{fraction: protectedFraction}
}

func (f factory[K, V]) New() eviction.Policy[K, V] { return NewWithFraction[K, V](f.fraction) }

func (l *Lru[K, V]) segFor(e *eviction.Element[K, V]) *segment[K, V] {
	if e.Segment() == segProtected {
		return &l.protected
	}
	return &l.probation
}

// protectedCap is how many elements the protected segment may currently
// hold before a promotion must demote its LRU victim.
func (l *Lru[K, V]) protectedCap() int {
	total := l.probation.n + l.protected.n
	return int(float64(total) * l.fraction)
}

// demoteOverflow pushes protected's LRU victims down to probation's MRU
// until protected fits within its capacity.
func (l *Lru[K, V]) demoteOverflow() {
	for l.protected.n > l.protectedCap() {
		victim := l.protected.tail
		if victim == nil {
			break
		}
		l.protected.detach(victim)
		victim.SetSegment(segProbation)
		l.probation.pushFront(victim)
	}
}

// Push admits e at probation's MRU end; everything enters on probation and
// must earn its way into protected via a hit.
func (l *Lru[K, V]) Push(e *eviction.Element[K, V]) {
	if e.Linked() {
		return
	}
	e.SetSegment(segProbation)
	l.probation.pushFront(e)
}

// Access promotes e. A protected hit simply moves e to protected's MRU. A
// probation hit promotes e into protected's MRU, demoting protected's own
// LRU victim back to probation's MRU if that overflows the fraction.
func (l *Lru[K, V]) Access(e *eviction.Element[K, V]) {
	if !e.Linked() {
		return
	}
	if e.Segment() == segProtected {
		if e == l.protected.head {
			return
		}
		l.protected.detach(e)
		l.protected.pushFront(e)
		return
	}

	l.probation.detach(e)
	e.SetSegment(segProtected)
	l.protected.pushFront(e)
	l.demoteOverflow()
}

// Remove detaches e from whichever segment currently holds it.
func (l *Lru[K, V]) Remove(e *eviction.Element[K, V]) {
	if !e.Linked() {
		return
	}
	l.segFor(e).detach(e)
}

// Pop evicts and returns the current victim: probation's LRU end if
// non-empty (protected entries have already proven themselves once),
// otherwise protected's LRU end.
func (l *Lru[K, V]) Pop() *eviction.Element[K, V] {
	if l.probation.tail != nil {
		victim := l.probation.tail
		l.probation.detach(victim)
		return victim
	}
	if l.protected.tail != nil {
		victim := l.protected.tail
		l.protected.detach(victim)
		return victim
	}
	return nil
}

// Reinsert re-admits e at probation's MRU end and always succeeds; a
// reference-held element that survived eviction re-earns protected status
// the normal way, via a subsequent Access.
func (l *Lru[K, V]) Reinsert(e *eviction.Element[K, V]) bool {
	e.SetSegment(segProbation)
	l.probation.pushFront(e)
	return true
}

// Clear detaches every element across both segments.
func (l *Lru[K, V]) Clear() {
	l.probation.clear()
	l.protected.clear()
}

// Len reports the number of linked elements across both segments.
func (l *Lru[K, V]) Len() int { return l.probation.n + l.protected.n }

// IsEmpty reports whether both segments are empty.
func (l *Lru[K, V]) IsEmpty() bool { return l.Len() == 0 }
