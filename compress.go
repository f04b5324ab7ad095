package storagehandler

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// Codec is a pluggable compression codec used by CompressAndUpload and
// DownloadAndDecompress.
type Codec interface {
	// Extension returns the filename suffix for the compressed form,
	// including the dot.
	Extension() string

	// Compress wraps dst; bytes written to the returned writer are
	// compressed into dst. Close flushes without closing dst.
	Compress(dst io.Writer) (io.WriteCloser, error)

	// Decompress wraps src; reads from the returned reader yield the
	// decompressed payload.
	Decompress(src io.Reader) (io.ReadCloser, error)
}

// GzipCodec is the default Codec.
type GzipCodec struct {
	// Level is a gzip compression level; zero means gzip.DefaultCompression.
	Level int
}

func (GzipCodec) Extension() string { return ".gz" }

func (c GzipCodec) Compress(dst io.Writer) (io.WriteCloser, error) {
	level := c.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	return gzip.NewWriterLevel(dst, level)
}

func (GzipCodec) Decompress(src io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(src)
}
