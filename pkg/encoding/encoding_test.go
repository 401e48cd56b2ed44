package encoding

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundtrip(t *testing.T, c Compressor, payload []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := c.Compress(&buf)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := c.Decompress(&buf)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return out
}

func TestGzipRoundtrip(t *testing.T) {
	payload := bytes.Repeat([]byte("service registry assembly "), 64)
	got := roundtrip(t, NewGzip(), payload)
	assert.Equal(t, payload, got)
}

func TestIdentityRoundtrip(t *testing.T) {
	payload := []byte("untouched")
	got := roundtrip(t, identityCompressor{}, payload)
	assert.Equal(t, payload, got)
}

func TestRegistryLookupAndOrder(t *testing.T) {
	r := NewRegistry(identityCompressor{}, NewGzip())

	c, ok := r.Lookup(Gzip)
	require.True(t, ok)
	assert.Equal(t, Gzip, c.Name())

	_, ok = r.Lookup("zstd")
	assert.False(t, ok)

	assert.Equal(t, []string{Identity, Gzip}, r.Names())
}

func TestRegistryReplaceKeepsOrder(t *testing.T) {
	r := NewRegistry(NewGzip())
	r.Register(NewGzip())

	assert.Equal(t, []string{Gzip}, r.Names(), "re-registering a name must not duplicate it")
}

func TestDefaultRegistries(t *testing.T) {
	assert.Same(t, DefaultCompressors(), DefaultCompressors(), "default compressor registry is a singleton")
	assert.Same(t, DefaultDecompressors(), DefaultDecompressors())

	for _, name := range []string{Identity, Gzip} {
		_, ok := DefaultCompressors().Lookup(name)
		assert.True(t, ok, "default compressors carry %s", name)
		_, ok = DefaultDecompressors().Lookup(name)
		assert.True(t, ok, "default decompressors carry %s", name)
	}
}
