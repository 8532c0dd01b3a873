package frame

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstd's Encoder/Decoder hold real state (concurrency workers, window
// buffers); building one per call would defeat the point of a fast codec.
// EncodeAll/DecodeAll on a single shared encoder/decoder are documented as
// safe for concurrent use, so one process-wide pair is enough.
var (
	zstdEncoder  *zstd.Encoder
	zstdDecoder  *zstd.Decoder
	zstdInitOnce sync.Once
	zstdInitErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdInitOnce.Do(func() {
		zstdEncoder, zstdInitErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdInitErr != nil {
			return
		}
		zstdDecoder, zstdInitErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdInitErr
}

// CompressValue applies c to value, returning the (possibly identical)
// bytes to store on disk. CompressionNone is a no-op.
func CompressValue(c Compression, value []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return value, nil
	case CompressionZstd:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("hybridcache/frame: zstd init: %w", err)
		}
		return enc.EncodeAll(value, make([]byte, 0, len(value))), nil
	default:
		return nil, fmt.Errorf("hybridcache/frame: unknown compression %d", c)
	}
}

// DecompressValue reverses CompressValue given the compression the frame's
// header was written with.
func DecompressValue(c Compression, stored []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return stored, nil
	case CompressionZstd:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("hybridcache/frame: zstd init: %w", err)
		}
		out, err := dec.DecodeAll(stored, nil)
		if err != nil {
			return nil, fmt.Errorf("hybridcache/frame: zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("hybridcache/frame: unknown compression %d", c)
	}
}
