package frame

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	key := []byte("session:42")
	value := []byte("the quick brown fox")

	h := EntryHeader{
		Hash:     HashKey(key),
		KeyLen:   uint32(len(key)),
		ValueLen: uint32(len(value)),
		Sequence: 7,
		Checksum: Checksum(value, key),
	}

	buf := make([]byte, h.EntryLen())
	Encode(buf, h, value, key)

	gotHeader, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if gotHeader != h {
		t.Fatalf("decoded header = %+v, want %+v", gotHeader, h)
	}

	gotValue, gotKey, err := Decode(buf, gotHeader)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(gotValue) != string(value) {
		t.Fatalf("value = %q, want %q", gotValue, value)
	}
	if string(gotKey) != string(key) {
		t.Fatalf("key = %q, want %q", gotKey, key)
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	key, value := []byte("k"), []byte("v")
	h := EntryHeader{KeyLen: 1, ValueLen: 1, Checksum: Checksum(value, key) ^ 0xFF}
	buf := make([]byte, h.EntryLen())
	Encode(buf, h, value, key)

	if _, _, err := Decode(buf, h); err != ErrChecksumMismatch {
		t.Fatalf("Decode err = %v, want ErrChecksumMismatch", err)
	}
}

func TestDecodeHeaderShort(t *testing.T) {
	if _, err := DecodeHeader(make([]byte, HeaderSize-1)); err != ErrShortHeader {
		t.Fatalf("DecodeHeader err = %v, want ErrShortHeader", err)
	}
}

func TestPaddedLenAlignment(t *testing.T) {
	h := EntryHeader{KeyLen: 3, ValueLen: 5}
	padded := h.PaddedLen(4096)
	if padded%4096 != 0 {
		t.Fatalf("PaddedLen = %d, not a multiple of 4096", padded)
	}
	if padded < h.EntryLen() {
		t.Fatalf("PaddedLen = %d, shorter than EntryLen = %d", padded, h.EntryLen())
	}
}
