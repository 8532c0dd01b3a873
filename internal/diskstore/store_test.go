package diskstore

import (
	"context"
	"strings"
	"testing"

	"github.com/Voskan/hybridcache/internal/diskstore/frame"
)

func stringCodec() Codec[string] {
	return Codec[string]{
		Encode: func(s string) ([]byte, error) { return []byte(s), nil },
		Decode: func(b []byte) (string, error) { return string(b), nil },
	}
}

func mustOpen(t *testing.T) *Store[string, string] {
	t.Helper()
	s, err := Open[string, string](Config{
		Dir:        t.TempDir(),
		Capacity:   4 * 1024 * 1024,
		RegionSize: 1024 * 1024,
		Align:      4096,
	}, stringCodec(), stringCodec())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	if err := s.Put(ctx, "alpha", "the-value"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, err := s.Get(ctx, "alpha")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "the-value" {
		t.Fatalf("Get = %q, want %q", got, "the-value")
	}
}

func TestGetMiss(t *testing.T) {
	s := mustOpen(t)
	if _, err := s.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("Get missing key err = %v, want ErrNotFound", err)
	}
}

func TestOnReleaseWritesBehind(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	s.OnRelease("evicted-key", "evicted-value", 42)
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, err := s.Get(ctx, "evicted-key")
	if err != nil {
		t.Fatalf("Get after OnRelease: %v", err)
	}
	if got != "evicted-value" {
		t.Fatalf("Get = %q, want evicted-value", got)
	}
}

func TestRemoveThenMiss(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()
	s.Put(ctx, "k", "v")
	s.Flush(ctx)

	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("Get after Remove err = %v, want ErrNotFound", err)
	}
}

func TestPutGetRoundTripWithCompression(t *testing.T) {
	s, err := Open[string, string](Config{
		Dir:         t.TempDir(),
		Capacity:    4 * 1024 * 1024,
		RegionSize:  1024 * 1024,
		Align:       4096,
		Compression: frame.CompressionZstd,
	}, stringCodec(), stringCodec())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	value := strings.Repeat("payload-", 256)
	if err := s.Put(ctx, "compressible", value); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, err := s.Get(ctx, "compressible")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != value {
		t.Fatalf("Get returned %d bytes, want %d matching bytes", len(got), len(value))
	}
}

type alwaysReinsert struct{}

func (alwaysReinsert) ShouldReinsert(uint64, uint64, int64) bool { return true }

func TestReclaimWithNeverReinsertDropsEntries(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir, Capacity: 3 * 8192, RegionSize: 8192, Align: 4096}
	s, err := Open[string, string](cfg, stringCodec(), stringCodec())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	value := strings.Repeat("x", 2048)
	if err := s.Put(ctx, "seal-me", value); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Force the region holding "seal-me" to seal by filling past its size.
	for i := 0; i < 4; i++ {
		if err := s.Put(ctx, strings.Repeat("k", i+1), value); err != nil {
			t.Fatalf("Put filler %d: %v", i, err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reclaimed, err := s.Reclaim()
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if !reclaimed {
		t.Fatal("Reclaim should have found a sealed region to reclaim")
	}

	if _, err := s.Get(ctx, "seal-me"); err != ErrNotFound {
		t.Fatalf("Get(seal-me) after a NeverReinsert reclaim err = %v, want ErrNotFound", err)
	}
}

func TestReclaimWithPickerReinsertsSurvivors(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir, Capacity: 3 * 8192, RegionSize: 8192, Align: 4096, Picker: alwaysReinsert{}}
	s, err := Open[string, string](cfg, stringCodec(), stringCodec())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	value := strings.Repeat("x", 2048)
	if err := s.Put(ctx, "keep-me", value); err != nil {
		t.Fatalf("Put: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := s.Put(ctx, strings.Repeat("k", i+1), value); err != nil {
			t.Fatalf("Put filler %d: %v", i, err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reclaimed, err := s.Reclaim()
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if !reclaimed {
		t.Fatal("Reclaim should have found a sealed region to reclaim")
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush after reclaim: %v", err)
	}

	got, err := s.Get(ctx, "keep-me")
	if err != nil {
		t.Fatalf("Get(keep-me) after an always-reinsert reclaim: %v", err)
	}
	if got != value {
		t.Fatalf("Get(keep-me) returned a different value than was reinserted")
	}
}

func TestRecoverHonorsTombstone(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir, Capacity: 4 * 1024 * 1024, RegionSize: 1024 * 1024, Align: 4096}

	s, err := Open[string, string](cfg, stringCodec(), stringCodec())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := s.Put(ctx, "gone", "v"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.Remove(ctx, "gone"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush after Remove: %v", err)
	}
	s.Close()

	s2, err := Open[string, string](cfg, stringCodec(), stringCodec())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if err := s2.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if _, err := s2.Get(ctx, "gone"); err != ErrNotFound {
		t.Fatalf("Get(gone) after recovering a tombstone err = %v, want ErrNotFound", err)
	}
}

func TestRecoverRebuildsIndexer(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir, Capacity: 4 * 1024 * 1024, RegionSize: 1024 * 1024, Align: 4096}

	s, err := Open[string, string](cfg, stringCodec(), stringCodec())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		if err := s.Put(ctx, k, "v-"+k); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	s.Close()

	// Simulate a fresh process: open the same directory with a brand new,
	// empty in-memory indexer and rebuild it from the region log.
	s2, err := Open[string, string](cfg, stringCodec(), stringCodec())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if err := s2.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	for _, k := range []string{"a", "b", "c"} {
		got, err := s2.Get(ctx, k)
		if err != nil {
			t.Fatalf("Get(%s) after recover: %v", k, err)
		}
		if got != "v-"+k {
			t.Fatalf("Get(%s) = %q, want %q", k, got, "v-"+k)
		}
	}
}
