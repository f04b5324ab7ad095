package storagehandler

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestGzipCodecRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the same phrase over and over "), 500)

	var compressed bytes.Buffer
	codec := GzipCodec{}

	w, err := codec.Compress(&compressed)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if compressed.Len() >= len(payload) {
		t.Errorf("compressed %d bytes, want smaller than %d", compressed.Len(), len(payload))
	}

	r, err := codec.Decompress(bytes.NewReader(compressed.Bytes()))
	if err != nil {
		t.Fatalf("Decompress() error = %v", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("round trip differs: %d bytes, want %d", len(got), len(payload))
	}
}

func TestGzipCodecLevel(t *testing.T) {
	payload := bytes.Repeat([]byte("abcabcabc"), 2000)

	sizeAt := func(level int) int {
		var buf bytes.Buffer
		w, err := GzipCodec{Level: level}.Compress(&buf)
		if err != nil {
			t.Fatalf("Compress(level %d) error = %v", level, err)
		}
		if _, err := w.Write(payload); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
		return buf.Len()
	}

	if fast, best := sizeAt(gzip.BestSpeed), sizeAt(gzip.BestCompression); best > fast {
		t.Errorf("best compression produced %d bytes, fast %d", best, fast)
	}
}

func TestGzipCodecExtension(t *testing.T) {
	if ext := (GzipCodec{}).Extension(); ext != ".gz" {
		t.Errorf("Extension() = %q, want .gz", ext)
	}
}
