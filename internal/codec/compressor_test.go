package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZstdCompression_Roundtrip(t *testing.T) {
	c, err := NewZstdCompressor()
	require.NoError(t, err)

	original := []byte(`{"characters":[{"guid":"a","name":"Alrik"}]}`)
	compressed, err := c.Compress(original)
	require.NoError(t, err)
	assert.NotEqual(t, original, compressed)

	decompressed, err := c.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

func TestZstdCompression_EmptyData(t *testing.T) {
	c, err := NewZstdCompressor()
	require.NoError(t, err)

	compressed, err := c.Compress([]byte{})
	require.NoError(t, err)

	decompressed, err := c.Decompress(compressed)
	require.NoError(t, err)
	assert.Empty(t, decompressed)
}

func TestZstdCompression_DecompressInvalidData(t *testing.T) {
	c, err := NewZstdCompressor()
	require.NoError(t, err)

	_, err = c.Decompress([]byte("not valid zstd data"))
	assert.Error(t, err)
}

func TestGzipCompression_Roundtrip(t *testing.T) {
	g := NewGzipCompressor()
	original := bytes.Repeat([]byte(`{"timestamp":1,"category":"Journal.Note"}`), 1000)

	compressed, err := g.Compress(original)
	require.NoError(t, err)
	assert.True(t, IsGzip(compressed))
	assert.Less(t, len(compressed), len(original)/4)

	decompressed, err := g.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

func TestGzipCompression_DecompressTruncated(t *testing.T) {
	g := NewGzipCompressor()
	compressed, err := g.Compress(bytes.Repeat([]byte("abcdefgh"), 4096))
	require.NoError(t, err)

	_, err = g.Decompress(compressed[:len(compressed)/2])
	assert.Error(t, err)
}

func TestIsGzip(t *testing.T) {
	assert.True(t, IsGzip([]byte{0x1f, 0x8b, 0x08}))
	assert.False(t, IsGzip([]byte(`{"version":3}`)))
	assert.False(t, IsGzip([]byte{0x1f}))
	assert.False(t, IsGzip(nil))
}
