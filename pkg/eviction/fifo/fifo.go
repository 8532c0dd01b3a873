// Package fifo implements a first-in-first-out eviction.Policy: admission
// order is preserved regardless of access pattern, and a reference-held
// element is never reinserted once evicted.
//
// Grounded on foyer-memory/src/eviction/fifo.rs: Access is a no-op (FIFO
// ignores hits), and Reinsert always rejects — ejected entries leave the
// queue for good even if something still holds a reference to them.
package fifo

import "github.com/Voskan/hybridcache/pkg/eviction"

// Fifo is a eviction.Policy implementation. The zero value is not usable;
// construct with New.
type Fifo[K comparable, V any] struct {
	head, tail *eviction.Element[K, V] // head = newest, tail = oldest (victim)
	n          int
}

// New returns an empty FIFO policy instance.
func New[K comparable, V any]() eviction.Policy[K, V] {
	return &Fifo[K, V]{}
}

// factory adapts New to eviction.Factory for config wiring.
type factory[K comparable, V any] struct{}

// NewFactory returns an eviction.Factory producing independent Fifo
// instances, one per shard.
func NewFactory[K comparable, V any]() eviction.Factory[K, V] { return factory[K, V]{} }

func (factory[K, V]) New() eviction.Policy[K, V] { return New[K, V]() }

func (f *Fifo[K, V]) pushFront(e *eviction.Element[K, V]) {
	e.SetLinks(nil, f.head)
	if f.head != nil {
		f.head.SetPrev(e)
	}
	f.head = e
	if f.tail == nil {
		f.tail = e
	}
	e.SetLinked(true)
	f.n++
}

func (f *Fifo[K, V]) detach(e *eviction.Element[K, V]) {
	prev, next := e.Prev(), e.Next()
	if prev != nil {
		prev.SetNext(next)
	} else {
		f.head = next
	}
	if next != nil {
		next.SetPrev(prev)
	} else {
		f.tail = prev
	}
	e.SetLinks(nil, nil)
	e.SetLinked(false)
	f.n--
}

// Push admits e at the front of the queue (newest).
func (f *Fifo[K, V]) Push(e *eviction.Element[K, V]) {
	if e.Linked() {
		return
	}
	f.pushFront(e)
}

// Access is a no-op: FIFO order never changes on a hit.
func (f *Fifo[K, V]) Access(*eviction.Element[K, V]) {}

// Remove detaches e if it is currently linked.
func (f *Fifo[K, V]) Remove(e *eviction.Element[K, V]) {
	if !e.Linked() {
		return
	}
	f.detach(e)
}

// Pop evicts and returns the oldest element, or nil if empty.
func (f *Fifo[K, V]) Pop() *eviction.Element[K, V] {
	victim := f.tail
	if victim == nil {
		return nil
	}
	f.detach(victim)
	return victim
}

// Reinsert always rejects: once evicted from a FIFO, an element never
// returns even if a caller still held a reference at eviction time.
func (f *Fifo[K, V]) Reinsert(*eviction.Element[K, V]) bool { return false }

// Clear detaches every element, resetting each one's link state so a
// stale Linked()==true can never cause a later Remove/Reinsert call to
// splice a defunct node back into an empty list.
func (f *Fifo[K, V]) Clear() {
	for e := f.head; e != nil; {
		next := e.Next()
		e.SetLinks(nil, nil)
		e.SetLinked(false)
		e = next
	}
	f.head, f.tail = nil, nil
	f.n = 0
}

// Len reports the number of linked elements.
func (f *Fifo[K, V]) Len() int { return f.n }

// IsEmpty reports whether the queue holds zero elements.
func (f *Fifo[K, V]) IsEmpty() bool { return f.n == 0 }
