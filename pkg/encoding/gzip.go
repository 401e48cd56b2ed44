package encoding

import (
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Gzip is the name of the gzip compression scheme.
const Gzip = "gzip"

// gzipCompressor implements the gzip scheme with pooled writers.
type gzipCompressor struct {
	writers sync.Pool
}

// NewGzip creates a gzip Compressor.
func NewGzip() Compressor {
	return &gzipCompressor{
		writers: sync.Pool{
			New: func() any {
				return gzip.NewWriter(io.Discard)
			},
		},
	}
}

func (*gzipCompressor) Name() string { return Gzip }

func (c *gzipCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	gz := c.writers.Get().(*gzip.Writer)
	gz.Reset(w)
	return &pooledGzipWriter{Writer: gz, pool: &c.writers}, nil
}

func (*gzipCompressor) Decompress(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}

type pooledGzipWriter struct {
	*gzip.Writer
	pool *sync.Pool
}

func (w *pooledGzipWriter) Close() error {
	err := w.Writer.Close()
	w.pool.Put(w.Writer)
	return err
}
