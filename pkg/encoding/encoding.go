// Package encoding provides the compressor registries a server advertises.
//
// Compressors are opaque to the assembly layer: it only stores them keyed by
// name and hands the registries to the finished server. The process-wide
// defaults carry identity and gzip.
package encoding

import (
	"io"
	"sync"
)

// Identity is the name of the no-op compressor.
const Identity = "identity"

// Compressor compresses and decompresses message payloads, keyed by the name
// advertised on the wire.
type Compressor interface {
	// Name returns the wire name of the compression scheme.
	Name() string
	// Compress wraps w so writes are compressed. Close must flush.
	Compress(w io.Writer) (io.WriteCloser, error)
	// Decompress wraps r so reads are decompressed.
	Decompress(r io.Reader) (io.Reader, error)
}

// Registry maps compression scheme names to compressors. A zero-value
// Registry is not usable; construct with NewRegistry.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Compressor
	names  []string
}

// NewRegistry creates a registry holding the given compressors.
func NewRegistry(comps ...Compressor) *Registry {
	r := &Registry{byName: make(map[string]Compressor)}
	for _, c := range comps {
		r.Register(c)
	}
	return r
}

// Register installs c, replacing any compressor with the same name.
func (r *Registry) Register(c Compressor) {
	if c == nil {
		panic("encoding: nil compressor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[c.Name()]; !ok {
		r.names = append(r.names, c.Name())
	}
	r.byName[c.Name()] = c
}

// Lookup returns the compressor registered under name.
func (r *Registry) Lookup(name string) (Compressor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// Names returns the registered scheme names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

var (
	defaultCompressorsOnce sync.Once
	defaultCompressors     *Registry

	defaultDecompressorsOnce sync.Once
	defaultDecompressors     *Registry
)

// DefaultCompressors returns the lazily-initialized process-wide compressor
// registry, carrying identity and gzip.
func DefaultCompressors() *Registry {
	defaultCompressorsOnce.Do(func() {
		defaultCompressors = NewRegistry(identityCompressor{}, NewGzip())
	})
	return defaultCompressors
}

// DefaultDecompressors returns the lazily-initialized process-wide
// decompressor registry, carrying identity and gzip.
func DefaultDecompressors() *Registry {
	defaultDecompressorsOnce.Do(func() {
		defaultDecompressors = NewRegistry(identityCompressor{}, NewGzip())
	})
	return defaultDecompressors
}

// identityCompressor passes payloads through untouched.
type identityCompressor struct{}

func (identityCompressor) Name() string { return Identity }

func (identityCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (identityCompressor) Decompress(r io.Reader) (io.Reader, error) {
	return r, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
