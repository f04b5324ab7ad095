package storagehandler

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestChunkStreamExactMultiple(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 4*8)
	s := newChunkStream(io.NopCloser(bytes.NewReader(payload)), "p", 8)
	defer s.Close()

	var chunks int
	var got []byte
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if len(chunk) != 8 {
			t.Errorf("chunk %d has %d bytes, want 8", chunks, len(chunk))
		}
		chunks++
		got = append(got, chunk...)
	}
	if chunks != 4 {
		t.Errorf("chunks = %d, want 4", chunks)
	}
	if !bytes.Equal(got, payload) {
		t.Error("concatenated chunks differ from payload")
	}
}

func TestChunkStreamShortFinalChunk(t *testing.T) {
	payload := []byte("abcdefghij") // 10 bytes, chunk 4: 4+4+2
	s := newChunkStream(io.NopCloser(bytes.NewReader(payload)), "p", 4)
	defer s.Close()

	var sizes []int
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		sizes = append(sizes, len(chunk))
	}
	want := []int{4, 4, 2}
	if len(sizes) != len(want) {
		t.Fatalf("sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("sizes = %v, want %v", sizes, want)
			break
		}
	}
	if s.BytesRead() != 10 {
		t.Errorf("BytesRead() = %d, want 10", s.BytesRead())
	}
}

func TestChunkStreamEmpty(t *testing.T) {
	s := newChunkStream(io.NopCloser(bytes.NewReader(nil)), "p", 8)
	defer s.Close()

	chunk, err := s.Next()
	if err != io.EOF {
		t.Fatalf("Next() = %v bytes, %v, want io.EOF", len(chunk), err)
	}
	// Next stays at EOF.
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("second Next() error = %v, want io.EOF", err)
	}
}

// failingReader yields n bytes then fails.
type failingReader struct {
	n    int
	read int
}

func (r *failingReader) Read(b []byte) (int, error) {
	if r.read >= r.n {
		return 0, errors.New("read exploded")
	}
	take := min(len(b), r.n-r.read)
	for i := range take {
		b[i] = 'a'
	}
	r.read += take
	return take, nil
}

func TestChunkStreamMidReadFailure(t *testing.T) {
	s := newChunkStream(io.NopCloser(&failingReader{n: 6}), "p", 4)
	defer s.Close()

	if _, err := s.Next(); err != nil {
		t.Fatalf("first Next() error = %v", err)
	}

	_, err := s.Next()
	var terr *TransferError
	if !errors.As(err, &terr) {
		t.Fatalf("Next() error = %v, want *TransferError", err)
	}
	if terr.BytesTransferred != 6 {
		t.Errorf("BytesTransferred = %d, want 6", terr.BytesTransferred)
	}
}

// countingHandle records writes and whether the handle was aborted.
type countingHandle struct {
	buf      bytes.Buffer
	failAt   int // fail the write once this many bytes are in, 0 disables
	aborted  bool
	closed   bool
	closeErr error
}

func (h *countingHandle) Write(b []byte) (int, error) {
	if h.failAt > 0 && h.buf.Len()+len(b) > h.failAt {
		room := h.failAt - h.buf.Len()
		h.buf.Write(b[:room])
		return room, errors.New("write exploded")
	}
	return h.buf.Write(b)
}

func (h *countingHandle) Close() error {
	h.closed = true
	return h.closeErr
}

func (h *countingHandle) Abort() error {
	h.aborted = true
	return nil
}

func TestPipeChunks(t *testing.T) {
	payload := bytes.Repeat([]byte("z"), 10000)
	h := &countingHandle{}

	n, err := pipeChunks(h, bytes.NewReader(payload), 4096, "op", "p")
	if err != nil {
		t.Fatalf("pipeChunks() error = %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("n = %d, want %d", n, len(payload))
	}
	if !h.closed {
		t.Error("handle not closed")
	}
	if h.aborted {
		t.Error("handle aborted on success")
	}
	if !bytes.Equal(h.buf.Bytes(), payload) {
		t.Error("written bytes differ from payload")
	}
}

func TestPipeChunksWriteFailureAborts(t *testing.T) {
	payload := bytes.Repeat([]byte("z"), 10000)
	h := &countingHandle{failAt: 5000}

	_, err := pipeChunks(h, bytes.NewReader(payload), 4096, "op", "p")
	var terr *TransferError
	if !errors.As(err, &terr) {
		t.Fatalf("pipeChunks() error = %v, want *TransferError", err)
	}
	if !h.aborted {
		t.Error("handle not aborted on write failure")
	}
	if terr.BytesTransferred != 5000 {
		t.Errorf("BytesTransferred = %d, want 5000", terr.BytesTransferred)
	}
}

func TestPipeChunksCloseFailureAborts(t *testing.T) {
	h := &countingHandle{closeErr: errors.New("commit exploded")}

	_, err := pipeChunks(h, bytes.NewReader([]byte("data")), 4096, "op", "p")
	var terr *TransferError
	if !errors.As(err, &terr) {
		t.Fatalf("pipeChunks() error = %v, want *TransferError", err)
	}
	if !h.aborted {
		t.Error("handle not aborted on close failure")
	}
}
