// Package slotarena implements a generation-tagged slot arena: a stable
// small-integer handle {index, generation} that survives being passed
// across goroutine/process boundaries (logs, trace attributes, the
// inspect CLI) without aliasing a raw pointer, and where generation
// defeats ABA when a slot is freed and its index reused.
//
// Go's GC and first-class pointers mean pkg/cache itself has no need for
// this to manage handle *lifetime* — spec.md's design note calls the
// arena out specifically for "languages without shared mutability
// primitives", which Go is not. Here it is repurposed as the source of
// the stable debug/trace identifier handed out by Entry.ID(): a uint64 an
// operator can log and compare to ask "is this still the same logical
// entry". hybridcache-inspect does not accept IDs.
package slotarena

import "sync"

// ID packs a slot index and its generation into one comparable value.
type ID uint64

// Index returns the slot index component.
func (id ID) Index() uint32 { return uint32(id) }

// Generation returns the generation component.
func (id ID) Generation() uint32 { return uint32(id >> 32) }

func pack(index, generation uint32) ID {
	return ID(uint64(generation)<<32 | uint64(index))
}

type slot struct {
	generation uint32
	occupied   bool
}

// Arena hands out IDs that stay valid (Generation() check passes) until
// the owning caller explicitly Frees them, then recycles the index with a
// bumped generation so a stale ID held elsewhere is detectably stale
// rather than silently aliasing a new occupant.
type Arena struct {
	mu    sync.Mutex
	slots []slot
	free  []uint32
}

// New returns an empty Arena.
func New() *Arena {
	return &Arena{}
}

// Alloc reserves a slot and returns its ID. The generation returned is
// always >= 1; generation 0 is reserved to make the zero ID recognizably
// invalid.
func (a *Arena) Alloc() ID {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[idx].occupied = true
		return pack(idx, a.slots[idx].generation)
	}

	idx := uint32(len(a.slots))
	a.slots = append(a.slots, slot{generation: 1, occupied: true})
	return pack(idx, 1)
}

// Free releases id's slot, bumping its generation so any other ID value
// still referencing this index is now stale.
func (a *Arena) Free(id ID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := id.Index()
	if int(idx) >= len(a.slots) {
		return
	}
	s := &a.slots[idx]
	if !s.occupied || s.generation != id.Generation() {
		return
	}
	s.occupied = false
	s.generation++
	a.free = append(a.free, idx)
}

// Valid reports whether id still refers to a currently-occupied slot at
// its original generation.
func (a *Arena) Valid(id ID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := id.Index()
	if int(idx) >= len(a.slots) {
		return false
	}
	s := a.slots[idx]
	return s.occupied && s.generation == id.Generation()
}

// Len reports the number of currently-occupied slots.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots) - len(a.free)
}
