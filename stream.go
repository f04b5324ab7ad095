package storagehandler

import (
	"io"
)

// DefaultChunkSize is the chunk size used by streaming operations when
// none is configured.
const DefaultChunkSize = 1024 * 1024

// ChunkStream is a finite, single-pass sequence of byte chunks read from
// a backend. Each chunk is at most the configured chunk size; the last
// chunk may be shorter. Chunks are delivered strictly in file order.
type ChunkStream struct {
	rc        io.ReadCloser
	path      string
	buf       []byte
	delivered int64
	done      bool
}

func newChunkStream(rc io.ReadCloser, path string, chunkSize int) *ChunkStream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkStream{rc: rc, path: path, buf: make([]byte, chunkSize)}
}

// Next returns the next chunk, or io.EOF when the stream is exhausted.
// The returned slice is only valid until the following Next call. Any
// failure mid-stream surfaces as a *TransferError carrying the byte count
// delivered so far.
func (s *ChunkStream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	n, err := io.ReadFull(s.rc, s.buf)
	if n > 0 {
		s.delivered += int64(n)
	}

	switch err {
	case nil:
		return s.buf[:n], nil
	case io.ErrUnexpectedEOF:
		s.done = true
		return s.buf[:n], nil
	case io.EOF:
		s.done = true
		return nil, io.EOF
	default:
		s.done = true
		return nil, &TransferError{Op: "stream_read", Path: s.path, BytesTransferred: s.delivered, Err: err}
	}
}

// BytesRead returns the number of bytes delivered so far.
func (s *ChunkStream) BytesRead() int64 {
	return s.delivered
}

// Close releases the underlying read handle. Abandoning a stream without
// draining it is safe; Close is all that is required.
func (s *ChunkStream) Close() error {
	s.done = true
	return s.rc.Close()
}

// pipeChunks drains r into an open write handle in chunkSize pieces,
// preserving order. On failure the handle is aborted so backends with
// atomic commit leave nothing visible, and the error reports how many
// bytes went through.
func pipeChunks(h WriteHandle, r io.Reader, chunkSize int, op, path string) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var written int64
	buf := make([]byte, chunkSize)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			wn, werr := h.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				_ = h.Abort()
				return written, &TransferError{Op: op, Path: path, BytesTransferred: written, Err: werr}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = h.Abort()
			return written, &TransferError{Op: op, Path: path, BytesTransferred: written, Err: rerr}
		}
	}

	if err := h.Close(); err != nil {
		_ = h.Abort()
		return written, &TransferError{Op: op, Path: path, BytesTransferred: written, Err: err}
	}

	return written, nil
}
