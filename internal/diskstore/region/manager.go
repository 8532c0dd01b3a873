package region

import (
	"context"
	"fmt"
	"sync"

	"github.com/Voskan/hybridcache/internal/diskstore/device"
)

// Manager owns every region of a device and schedules reclaim: sealed,
// flushed regions are handed back via Seal and become reclaim candidates
// once a caller drives Reclaim to turn the oldest sealed region back into
// a clean, free one.
//
// Grounded on foyer-storage's RegionManager (referenced throughout
// region.rs and large/batch.rs as the thing that hands out
// GetCleanRegionHandle and receives sealed regions for eviction), reduced
// here to the pieces the flusher and store orchestrator actually drive:
// a free-list and a sealed-queue, both FIFO.
type Manager struct {
	dev *device.Device

	mu       sync.Mutex
	freeCond *sync.Cond
	all      []*Region
	free     []*Region
	sealed   []*Region
	closed   bool
}

// NewManager constructs every region of dev, all initially free.
func NewManager(dev *device.Device) *Manager {
	m := &Manager{dev: dev}
	m.freeCond = sync.NewCond(&m.mu)
	for i := int64(0); i < dev.Regions(); i++ {
		r := New(i, dev)
		m.all = append(m.all, r)
		m.free = append(m.free, r)
	}
	return m
}

// Acquire hands out the next free region, ready for AttachBuffer. If none
// is currently free, it awaits reclamation progress — blocking on a
// condition variable, mirroring region.Region's own use of sync.Cond for
// quiescence waiting — until either a region is freed (by Seal+ReclaimOne
// running on a background goroutine) or ctx is done.
func (m *Manager) Acquire(ctx context.Context) (*Region, error) {
	// context.AfterFunc's cancel callback can only wake a cond.Wait by
	// acquiring the same lock and broadcasting, so set it up once and let
	// it fire for the whole wait loop below rather than per-iteration.
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.freeCond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.free) == 0 && !m.closed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.freeCond.Wait()
	}
	if m.closed {
		return nil, fmt.Errorf("hybridcache/region: manager closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := m.free[0]
	m.free = m.free[1:]
	return r, nil
}

// Close wakes every Acquire call currently blocked awaiting a free region,
// causing them to return an error instead of waiting forever during
// shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.freeCond.Broadcast()
}

// Seal records that r has been flushed and sealed, making it eligible for
// reclaim.
func (m *Manager) Seal(r *Region) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sealed = append(m.sealed, r)
}

// ReclaimOne waits for the oldest sealed region to become quiescent (no
// in-flight readers or writers), resets it, and returns it to the free
// list. Returns false if there was nothing sealed to reclaim.
//
// The caller is responsible for first removing the region's entries from
// the indexer (via RemoveIf per entry) before or after this call; Manager
// itself does not know which keys live in a region.
func (m *Manager) ReclaimOne() (*Region, bool) {
	m.mu.Lock()
	if len(m.sealed) == 0 {
		m.mu.Unlock()
		return nil, false
	}
	r := m.sealed[0]
	m.sealed = m.sealed[1:]
	m.mu.Unlock()

	r.WaitQuiescent()
	r.Reset()

	m.mu.Lock()
	m.free = append(m.free, r)
	m.mu.Unlock()
	m.freeCond.Broadcast()
	return r, true
}

// Stats reports the current free/sealed/total region counts, for metrics
// and the inspect CLI.
type Stats struct {
	Total, Free, Sealed int
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Total: len(m.all), Free: len(m.free), Sealed: len(m.sealed)}
}

// All returns every region the manager owns, for recovery scans.
func (m *Manager) All() []*Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Region, len(m.all))
	copy(out, m.all)
	return out
}
