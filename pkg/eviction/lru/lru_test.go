package lru

import (
	"testing"

	"github.com/Voskan/hybridcache/pkg/eviction"
)

func newTestElement(key int, value string) *eviction.Element[int, string] {
	v := value
	return eviction.NewElement(key, &v)
}

func TestPushAdmitsToProbation(t *testing.T) {
	p := New[int, string]()
	e := newTestElement(1, "a")
	p.Push(e)
	if !e.Linked() {
		t.Fatal("Push should link the element")
	}
	if p.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", p.Len())
	}
}

func TestAccessOnProbationPromotesToProtected(t *testing.T) {
	p := NewWithFraction[int, string](0.8).(*Lru[int, string])
	e := newTestElement(1, "a")
	filler := newTestElement(2, "b")
	p.Push(e)
	p.Push(filler)
	if e.Segment() != segProbation {
		t.Fatal("freshly pushed element should start on probation")
	}

	p.Access(e)
	if e.Segment() != segProtected {
		t.Fatal("Access on a probation element should promote it to protected")
	}
}

func TestAccessOnProtectedStaysProtectedAndMovesToMRU(t *testing.T) {
	p := NewWithFraction[int, string](0.8).(*Lru[int, string])
	e1 := newTestElement(1, "a")
	e2 := newTestElement(2, "b")
	e3 := newTestElement(3, "c")
	p.Push(e1)
	p.Push(e2)
	p.Push(e3)

	p.Access(e1)
	p.Access(e2)
	if e1.Segment() != segProtected || e2.Segment() != segProtected {
		t.Fatal("both e1 and e2 should be protected after one Access each")
	}
	if e3.Segment() != segProbation {
		t.Fatal("e3 was never accessed, should remain on probation")
	}

	p.Access(e1)
	if e1.Segment() != segProtected {
		t.Fatal("re-accessing an already-protected element should keep it protected")
	}
}

func TestPromotionDemotesProtectedOverflow(t *testing.T) {
	// A tiny fraction forces demotion as soon as more than one element
	// tries to live in protected.
	p := NewWithFraction[int, string](0.1).(*Lru[int, string])
	e1 := newTestElement(1, "a")
	e2 := newTestElement(2, "b")
	p.Push(e1)
	p.Push(e2)

	p.Access(e1) // promotes e1 to protected; protectedCap(total=2, frac=0.1) == 0, so it's immediately demoted back
	if e1.Segment() != segProbation {
		t.Fatal("promotion into an over-fraction protected segment should demote back to probation")
	}
}

func TestPopPrefersProbationVictim(t *testing.T) {
	p := New[int, string]()
	protected := newTestElement(1, "protected")
	probation := newTestElement(2, "probation")
	p.Push(protected)
	p.Push(probation)
	p.Access(protected) // promotes key 1 into protected; key 2 stays on probation

	victim := p.Pop()
	if victim == nil || victim.Key() != 2 {
		t.Fatal("Pop should evict from probation before touching protected")
	}
}

func TestReinsertAlwaysAdmitsToProbation(t *testing.T) {
	p := New[int, string]()
	e := newTestElement(1, "a")
	if !p.Reinsert(e) {
		t.Fatal("Reinsert should always succeed for segmented LRU")
	}
	if e.Segment() != segProbation {
		t.Fatal("Reinsert should land the element back on probation")
	}
}

func TestClearDetachesBothSegments(t *testing.T) {
	p := New[int, string]()
	e1 := newTestElement(1, "a")
	e2 := newTestElement(2, "b")
	p.Push(e1)
	p.Push(e2)
	p.Access(e1)

	p.Clear()
	if !p.IsEmpty() || p.Len() != 0 {
		t.Fatal("Clear should empty both segments")
	}
	if e1.Linked() || e2.Linked() {
		t.Fatal("Clear should unlink every element")
	}
}
