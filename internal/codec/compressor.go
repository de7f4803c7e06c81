package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"charsync/internal/codec/interfaces"
)

// maxDecompressedSize bounds inflation of inbound payloads.
const maxDecompressedSize = 64 << 20

type ZstdCompression struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func (z *ZstdCompression) Compress(val []byte) ([]byte, error) {
	return z.encoder.EncodeAll(val, make([]byte, 0, len(val)/2)), nil
}

func (z *ZstdCompression) Decompress(val []byte) ([]byte, error) {
	return z.decoder.DecodeAll(val, nil)
}

// NewZstdCompressor is used for data at rest: the store file and SQLite blobs.
func NewZstdCompressor() (interfaces.CompressorInterface, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0), zstd.WithDecoderMaxMemory(maxDecompressedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &ZstdCompression{encoder: encoder, decoder: decoder}, nil
}

// GzipCompression produces the wire encoding peers expect.
type GzipCompression struct {
	level int
}

func NewGzipCompressor() *GzipCompression {
	return &GzipCompression{level: gzip.BestCompression}
}

func (g *GzipCompression) Compress(val []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, g.level)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(val); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *GzipCompression) Decompress(val []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(val))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxDecompressedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", maxDecompressedSize)
	}
	return out, nil
}

// IsGzip reports whether data starts with the gzip magic bytes 0x1F 0x8B.
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
