package frame

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressValueRoundTripZstd(t *testing.T) {
	value := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 64))

	stored, err := CompressValue(CompressionZstd, value)
	if err != nil {
		t.Fatalf("CompressValue: %v", err)
	}
	if len(stored) >= len(value) {
		t.Fatalf("compressed length %d not smaller than original %d for repetitive input", len(stored), len(value))
	}

	got, err := DecompressValue(CompressionZstd, stored)
	if err != nil {
		t.Fatalf("DecompressValue: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Fatalf("round trip mismatch: got %q want %q", got, value)
	}
}

func TestCompressValueNoneIsIdentity(t *testing.T) {
	value := []byte("uncompressed")
	stored, err := CompressValue(CompressionNone, value)
	if err != nil {
		t.Fatalf("CompressValue: %v", err)
	}
	if &stored[0] != &value[0] {
		t.Fatal("CompressionNone should return the same backing array, not a copy")
	}
}

func TestEncodeDecodeRoundTripWithCompression(t *testing.T) {
	key := []byte("session:99")
	value := []byte(strings.Repeat("payload-", 32))

	stored, err := CompressValue(CompressionZstd, value)
	if err != nil {
		t.Fatalf("CompressValue: %v", err)
	}

	h := EntryHeader{
		Hash:        HashKey(key),
		KeyLen:      uint32(len(key)),
		ValueLen:    uint32(len(stored)),
		Sequence:    1,
		Checksum:    Checksum(stored, key),
		Compression: CompressionZstd,
	}
	buf := make([]byte, h.EntryLen())
	Encode(buf, h, stored, key)

	gotHeader, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	gotStored, gotKey, err := Decode(buf, gotHeader)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(gotKey) != string(key) {
		t.Fatalf("key = %q, want %q", gotKey, key)
	}
	gotValue, err := DecompressValue(gotHeader.Compression, gotStored)
	if err != nil {
		t.Fatalf("DecompressValue: %v", err)
	}
	if string(gotValue) != string(value) {
		t.Fatalf("value = %q, want %q", gotValue, value)
	}
}
