// Package diskstore wires a device, an indexer, a region manager and a
// flusher into the on-disk tier behind pkg/cache: entries evicted from the
// in-memory cache are appended here instead of being dropped, and a miss
// in memory can still be satisfied by a lookup through the indexer and a
// physical read off the region log.
//
// Grounded on how foyer-storage's store.rs composes its own Device,
// RegionManager, Indexer, Flusher/Reclaimer pieces into one
// LargeObjectDisk engine; the composition here is the same shape, scaled
// down to what this module actually implements.
package diskstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Voskan/hybridcache/internal/diskstore/device"
	"github.com/Voskan/hybridcache/internal/diskstore/flusher"
	"github.com/Voskan/hybridcache/internal/diskstore/frame"
	"github.com/Voskan/hybridcache/internal/diskstore/indexer"
	"github.com/Voskan/hybridcache/internal/diskstore/region"
	"github.com/Voskan/hybridcache/internal/diskstore/scanner"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// tracerName identifies diskstore's spans against the global
// TracerProvider, a no-op until a caller installs a real one.
const tracerName = "github.com/Voskan/hybridcache/internal/diskstore"

func tracer() trace.Tracer { return otel.Tracer(tracerName) }

// Codec converts between an in-memory K or V and its on-disk byte
// representation. Callers supply one pair per Store, e.g. encoding/gob, a
// protobuf marshaler, or a hand-rolled format — the disk tier itself is
// agnostic to it.
type Codec[T any] struct {
	Encode func(T) ([]byte, error)
	Decode func([]byte) (T, error)
}

// ErrNotFound is returned by Get when hash has no entry in the indexer.
var ErrNotFound = errors.New("hybridcache/diskstore: not found")

// Picker decides, for each entry found in a region being reclaimed,
// whether it should be kept resident (reinserted under a fresh sequence
// in a different region) or allowed to lapse (invalidated from the
// indexer, its bytes abandoned along with the rest of the region). hash
// and sequence identify the entry; region is the one being reclaimed.
type Picker interface {
	ShouldReinsert(hash uint64, sequence uint64, region int64) bool
}

// NeverReinsert is the default Picker: every entry found during reclaim is
// invalidated, matching a pure write-behind cache with no second-chance
// policy for reclaimed data.
type NeverReinsert struct{}

// ShouldReinsert always returns false.
func (NeverReinsert) ShouldReinsert(uint64, uint64, int64) bool { return false }

// Config controls how a Store opens its device and regions.
type Config struct {
	Dir                  string
	Capacity             int64
	RegionSize           int64
	Align                int64
	DirectIO             bool
	MaxConcurrentFlushes int64
	Logger               *zap.Logger

	// Compression applies to every value before it is written to the
	// region log. Defaults to frame.CompressionNone.
	Compression frame.Compression

	// Picker decides which entries survive a region's reclaim by
	// reinsertion. Defaults to NeverReinsert.
	Picker Picker
}

func (c *Config) setDefaults() {
	if c.MaxConcurrentFlushes == 0 {
		c.MaxConcurrentFlushes = 4
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Picker == nil {
		c.Picker = NeverReinsert{}
	}
}

// Store is the disk tier: a typed facade over device+indexer+region
// manager+flusher for one (K, V) pair.
type Store[K comparable, V any] struct {
	dev     *device.Device
	idx     *indexer.Indexer
	regions *region.Manager
	flush   *flusher.Flusher
	logger  *zap.Logger
	picker  Picker

	keyCodec Codec[K]
	valCodec Codec[V]

	reclaimMu sync.Mutex
}

// Open creates or attaches to the on-disk log at cfg.Dir.
func Open[K comparable, V any](cfg Config, keyCodec Codec[K], valCodec Codec[V]) (*Store[K, V], error) {
	cfg.setDefaults()
	dev, err := device.Open(device.Config{
		Dir:        cfg.Dir,
		Capacity:   cfg.Capacity,
		RegionSize: cfg.RegionSize,
		Align:      cfg.Align,
		DirectIO:   cfg.DirectIO,
	})
	if err != nil {
		return nil, err
	}
	idx := indexer.New()
	regions := region.NewManager(dev)
	fl := flusher.New(dev, regions, idx, cfg.MaxConcurrentFlushes, cfg.Logger, cfg.Compression)

	return &Store[K, V]{
		dev:      dev,
		idx:      idx,
		regions:  regions,
		flush:    fl,
		logger:   cfg.Logger,
		picker:   cfg.Picker,
		keyCodec: keyCodec,
		valCodec: valCodec,
	}, nil
}

// Put serializes key and value and appends them to the write-behind log.
// Durability is at region-flush granularity, not per-call; call Flush for
// an explicit sync point.
func (s *Store[K, V]) Put(ctx context.Context, key K, value V) error {
	kb, err := s.keyCodec.Encode(key)
	if err != nil {
		return fmt.Errorf("hybridcache/diskstore: encode key: %w", err)
	}
	vb, err := s.valCodec.Encode(value)
	if err != nil {
		return fmt.Errorf("hybridcache/diskstore: encode value: %w", err)
	}
	if _, err := s.flush.Append(ctx, kb, vb); err != nil {
		return fmt.Errorf("hybridcache/diskstore: append: %w", err)
	}
	return nil
}

// OnRelease adapts Put to pkg/cache.Listener's OnRelease signature, so a
// Store can be registered directly as the in-memory cache's eviction sink.
// Encode/flush errors are swallowed to a log line: a failed write-behind
// must never propagate back into the caller releasing a cache handle.
func (s *Store[K, V]) OnRelease(key K, value V, _ int64) {
	if err := s.Put(context.Background(), key, value); err != nil {
		s.logger.Warn("disk tier write-behind failed", zap.Error(err))
	}
}

// Get looks up key in the indexer and, on a hit, reads and deserializes its
// value directly off the region log.
func (s *Store[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V
	kb, err := s.keyCodec.Encode(key)
	if err != nil {
		return zero, fmt.Errorf("hybridcache/diskstore: encode key: %w", err)
	}
	hash := frame.HashKey(kb)

	addr, ok := s.idx.Lookup(hash)
	if !ok {
		return zero, ErrNotFound
	}

	raw := s.dev.AlignedBuffer(addr.Len)
	if err := s.dev.ReadAt(addr.Region, addr.Offset, raw); err != nil {
		return zero, fmt.Errorf("hybridcache/diskstore: read region %d off %d: %w", addr.Region, addr.Offset, err)
	}
	header, err := frame.DecodeHeader(raw)
	if err != nil {
		return zero, fmt.Errorf("hybridcache/diskstore: decode header: %w", err)
	}
	stored, gotKey, err := frame.Decode(raw, header)
	if err != nil {
		return zero, fmt.Errorf("hybridcache/diskstore: decode frame: %w", err)
	}
	if string(gotKey) != string(kb) {
		// Hash collision between two different keys; treat as a miss rather
		// than returning the wrong value.
		return zero, ErrNotFound
	}
	value, err := frame.DecompressValue(header.Compression, stored)
	if err != nil {
		return zero, fmt.Errorf("hybridcache/diskstore: decompress value: %w", err)
	}
	v, err := s.valCodec.Decode(value)
	if err != nil {
		return zero, fmt.Errorf("hybridcache/diskstore: decode value: %w", err)
	}
	return v, nil
}

// Remove drops key from the indexer and durably records the removal as a
// tombstone frame, so a crash before the next full Recover doesn't let
// key's last data frame resurrect it. Its data bytes are reclaimed later
// when their region is recycled.
func (s *Store[K, V]) Remove(ctx context.Context, key K) error {
	kb, err := s.keyCodec.Encode(key)
	if err != nil {
		return fmt.Errorf("hybridcache/diskstore: encode key: %w", err)
	}
	s.idx.Remove(frame.HashKey(kb))
	if _, err := s.flush.AppendTombstone(ctx, kb); err != nil {
		return fmt.Errorf("hybridcache/diskstore: append tombstone: %w", err)
	}
	return nil
}

// Flush forces the currently open region to device and publishes its
// pending entries; see flusher.Flusher.Flush for what happens to the region.
func (s *Store[K, V]) Flush(ctx context.Context) error {
	ctx, span := tracer().Start(ctx, "hybridcache.diskstore.Flush")
	defer span.End()
	err := s.flush.Flush(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Reclaim reclaims at most one sealed region, returning false if nothing
// was eligible. Each live entry found in the region is offered to the
// configured Picker: accepted entries are resubmitted to the Flusher as
// reinsertion frames under a fresh sequence before the region's old
// addresses are dropped, so an in-flight reader racing the reclaim never
// observes a gap. Safe to call repeatedly from a background goroutine.
func (s *Store[K, V]) Reclaim() (bool, error) {
	ctx, span := tracer().Start(context.Background(), "hybridcache.diskstore.Reclaim")
	defer span.End()

	s.reclaimMu.Lock()
	defer s.reclaimMu.Unlock()

	r, ok := s.regions.ReclaimOne()
	if !ok {
		return false, nil
	}
	span.SetAttributes(attribute.Int64("hybridcache.region", r.ID()))

	var reinserted int
	sc := scanner.New(s.dev, r.ID())
	for {
		info, key, value, more, err := sc.NextWithValue()
		if err != nil {
			err = fmt.Errorf("hybridcache/diskstore: scan region %d during reclaim: %w", r.ID(), err)
			span.RecordError(err)
			return true, err
		}
		if !more {
			break
		}
		if info.Kind == frame.KindTombstone {
			continue
		}
		if cur, ok := s.idx.Lookup(info.Hash); !ok || cur.Region != r.ID() || cur.Offset != info.Offset {
			// Superseded or removed: the indexer no longer points at this frame.
			continue
		}
		if s.picker.ShouldReinsert(info.Hash, info.Sequence, r.ID()) {
			if _, err := s.flush.AppendReinsertion(ctx, key, value, info.Compression); err != nil {
				err = fmt.Errorf("hybridcache/diskstore: reinsert during reclaim of region %d: %w", r.ID(), err)
				span.RecordError(err)
				return true, err
			}
			reinserted++
			continue
		}
		s.idx.RemoveIf(info.Hash, r.ID())
	}
	span.SetAttributes(attribute.Int("hybridcache.reclaim_reinserted", reinserted))
	return true, nil
}

// Recover rebuilds the indexer by scanning every region from scratch,
// keeping only the newest sequence number seen per key hash. Call once at
// startup before serving reads.
func (s *Store[K, V]) Recover(ctx context.Context) error {
	_, span := tracer().Start(ctx, "hybridcache.diskstore.Recover")
	defer span.End()

	var errs error
	for _, r := range s.regions.All() {
		sc := scanner.New(s.dev, r.ID())
		for {
			info, more, err := sc.Next()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("hybridcache/diskstore: scan region %d: %w", r.ID(), err))
				break
			}
			if !more {
				break
			}
			if info.Kind == frame.KindTombstone {
				s.idx.Tombstone(info.Hash, info.Sequence)
				continue
			}
			s.idx.Insert(info.Hash, indexer.Address{
				Region:   info.Region,
				Offset:   info.Offset,
				Len:      info.Len,
				Sequence: info.Sequence,
			})
		}
	}
	if errs != nil {
		span.RecordError(errs)
	}
	span.SetAttributes(attribute.Int("hybridcache.recovered_entries", s.idx.Len()))
	return errs
}

// Stats reports region occupancy for metrics/inspection.
func (s *Store[K, V]) Stats() region.Stats { return s.regions.Stats() }

// Len reports how many keys are currently indexed on disk.
func (s *Store[K, V]) Len() int { return s.idx.Len() }

// Close flushes any open region and releases the underlying device.
func (s *Store[K, V]) Close() error {
	err := multierr.Append(s.flush.Close(context.Background()), s.dev.Close())
	s.regions.Close()
	return err
}
