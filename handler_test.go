package storagehandler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestHandler(t *testing.T, drv *memDriver) *Handler {
	t.Helper()
	drv.register(SchemeS3)

	h, err := New("s3://test-bucket/base",
		WithLogger(slog.New(slog.DiscardHandler)),
		WithMaxRetries(0),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestWriteReadRoundTrip(t *testing.T) {
	drv := newMemDriver()
	h := newTestHandler(t, drv)
	ctx := context.Background()

	payload := []byte("hello storage")
	if err := h.WriteFile(ctx, "sub/greeting.txt", payload, true); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	got, err := h.ReadFile(ctx, "sub/greeting.txt", true)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadFile() = %q, want %q", got, payload)
	}

	// The driver saw the resolved key, not the logical path.
	if _, ok := drv.get("base/sub/greeting.txt"); !ok {
		t.Errorf("expected key base/sub/greeting.txt in driver, have %v", keysOf(drv))
	}
}

func keysOf(drv *memDriver) []string {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	keys := make([]string, 0, len(drv.files))
	for k := range drv.files {
		keys = append(keys, k)
	}
	return keys
}

func TestReadFileNotExist(t *testing.T) {
	h := newTestHandler(t, newMemDriver())

	_, err := h.ReadFile(context.Background(), "missing.txt", true)
	if !IsNotExist(err) {
		t.Errorf("ReadFile() error = %v, want ErrNotExist", err)
	}
}

func TestUploadDownloadFile(t *testing.T) {
	drv := newMemDriver()
	h := newTestHandler(t, drv)
	ctx := context.Background()
	tmp := t.TempDir()

	src := filepath.Join(tmp, "in.txt")
	if err := os.WriteFile(src, []byte("file content"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := h.UploadFile(ctx, src, "data/in.txt", true); err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}
	if got, _ := drv.get("base/data/in.txt"); got != "file content" {
		t.Errorf("uploaded content = %q, want %q", got, "file content")
	}

	dst := filepath.Join(tmp, "nested", "out.txt")
	if err := h.DownloadFile(ctx, "data/in.txt", dst, true); err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "file content" {
		t.Errorf("downloaded content = %q, want %q", got, "file content")
	}
}

func TestDownloadFileNotExist(t *testing.T) {
	h := newTestHandler(t, newMemDriver())
	dst := filepath.Join(t.TempDir(), "out.txt")

	err := h.DownloadFile(context.Background(), "missing.txt", dst, true)
	if !IsNotExist(err) {
		t.Fatalf("DownloadFile() error = %v, want ErrNotExist", err)
	}
	// A failed download leaves no partial file.
	if _, serr := os.Stat(dst); !os.IsNotExist(serr) {
		t.Errorf("partial file left behind at %s", dst)
	}
}

func TestUploadFileMissingLocal(t *testing.T) {
	h := newTestHandler(t, newMemDriver())

	err := h.UploadFile(context.Background(), filepath.Join(t.TempDir(), "nope"), "x", true)
	if !IsNotExist(err) {
		t.Errorf("UploadFile() error = %v, want ErrNotExist", err)
	}
}

func TestDeleteFileIdempotent(t *testing.T) {
	drv := newMemDriver()
	drv.put("base/a.txt", "x")
	h := newTestHandler(t, drv)
	ctx := context.Background()

	if err := h.DeleteFile(ctx, "a.txt", true); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}
	// Second delete of the same path still succeeds.
	if err := h.DeleteFile(ctx, "a.txt", true); err != nil {
		t.Errorf("second DeleteFile() error = %v", err)
	}
}

func TestExistsAndMetadata(t *testing.T) {
	drv := newMemDriver()
	drv.put("base/present.txt", "data")
	h := newTestHandler(t, drv)
	ctx := context.Background()

	ok, err := h.Exists(ctx, "present.txt", true)
	if err != nil || !ok {
		t.Errorf("Exists(present) = %v, %v, want true, nil", ok, err)
	}
	ok, err = h.Exists(ctx, "absent.txt", true)
	if err != nil || ok {
		t.Errorf("Exists(absent) = %v, %v, want false, nil", ok, err)
	}

	fi, err := h.GetFileMetadata(ctx, "present.txt", true)
	if err != nil {
		t.Fatalf("GetFileMetadata() error = %v", err)
	}
	if fi == nil || fi.Size != 4 {
		t.Errorf("metadata = %+v, want size 4", fi)
	}

	fi, err = h.GetFileMetadata(ctx, "absent.txt", true)
	if err != nil || fi != nil {
		t.Errorf("GetFileMetadata(absent) = %+v, %v, want nil, nil", fi, err)
	}
}

func TestListFiles(t *testing.T) {
	drv := newMemDriver()
	drv.put("base/a.txt", "1")
	drv.put("base/sub/b.txt", "2")
	drv.put("base/sub/deep/c.txt", "3")
	h := newTestHandler(t, drv)
	ctx := context.Background()

	shallow, err := h.ListFiles(ctx, "", true)
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	// One file plus one synthesized directory.
	if len(shallow) != 2 {
		t.Fatalf("ListFiles() = %d entries, want 2: %+v", len(shallow), shallow)
	}
	var sawDir bool
	for _, fi := range shallow {
		if fi.IsDir && fi.Name == "sub" {
			sawDir = true
		}
	}
	if !sawDir {
		t.Errorf("expected synthesized directory entry for sub, got %+v", shallow)
	}

	deep, err := h.ListFilesRecursive(ctx, "", true)
	if err != nil {
		t.Fatalf("ListFilesRecursive() error = %v", err)
	}
	if len(deep) != 3 {
		t.Errorf("ListFilesRecursive() = %d entries, want 3: %+v", len(deep), deep)
	}
}

func TestGlobFiles(t *testing.T) {
	drv := newMemDriver()
	drv.put("base/logs/2026/jan.json", "{}")
	drv.put("base/logs/2026/feb.json", "{}")
	drv.put("base/logs/2026/notes.txt", "n")
	drv.put("base/other/mar.json", "{}")
	h := newTestHandler(t, drv)

	got, err := h.GlobFiles(context.Background(), "logs/**.json", true)
	if err != nil {
		t.Fatalf("GlobFiles() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GlobFiles() = %d entries, want 2: %+v", len(got), got)
	}
	for _, fi := range got {
		if !strings.HasSuffix(fi.Path, ".json") || !strings.HasPrefix(fi.Path, "base/logs/") {
			t.Errorf("unexpected match %q", fi.Path)
		}
	}
}

func TestRenameFallback(t *testing.T) {
	drv := newMemDriver()
	drv.put("base/old.txt", "content")
	h := newTestHandler(t, drv)

	if err := h.Rename(context.Background(), "old.txt", "new.txt", true); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if _, ok := drv.get("base/old.txt"); ok {
		t.Error("source still present after rename")
	}
	if got, _ := drv.get("base/new.txt"); got != "content" {
		t.Errorf("destination content = %q, want %q", got, "content")
	}
}

func TestRenameCopyFailureLeavesSource(t *testing.T) {
	drv := newMemDriver()
	drv.put("base/old.txt", "content")
	drv.openWriteErrs = []error{errors.New("backend write refused")}
	h := newTestHandler(t, drv)

	if err := h.Rename(context.Background(), "old.txt", "new.txt", true); err == nil {
		t.Fatal("Rename() succeeded, want error")
	}
	if got, ok := drv.get("base/old.txt"); !ok || got != "content" {
		t.Errorf("source damaged after failed rename: %q, %v", got, ok)
	}
	if _, ok := drv.get("base/new.txt"); ok {
		t.Error("partial destination left after failed rename")
	}
}

func TestRenameDeleteFailureLeavesBoth(t *testing.T) {
	drv := newMemDriver()
	drv.put("base/old.txt", "content")
	drv.deleteErr = errors.New("delete refused")
	h := newTestHandler(t, drv)

	err := h.Rename(context.Background(), "old.txt", "new.txt", true)
	var terr *TransferError
	if !errors.As(err, &terr) {
		t.Fatalf("Rename() error = %v, want *TransferError", err)
	}
	if _, ok := drv.get("base/old.txt"); !ok {
		t.Error("source missing after delete failure")
	}
	if got, _ := drv.get("base/new.txt"); got != "content" {
		t.Errorf("destination content = %q, want %q", got, "content")
	}
}

func TestCopy(t *testing.T) {
	drv := newMemDriver()
	drv.put("base/src.txt", "payload")
	h := newTestHandler(t, drv)

	if err := h.Copy(context.Background(), "src.txt", "dst.txt", true); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if got, _ := drv.get("base/src.txt"); got != "payload" {
		t.Error("source changed by copy")
	}
	if got, _ := drv.get("base/dst.txt"); got != "payload" {
		t.Errorf("destination content = %q, want %q", got, "payload")
	}
}

func TestCreateDirectoryNoop(t *testing.T) {
	h := newTestHandler(t, newMemDriver())

	// Object stores have implicit directories; creating one succeeds.
	if err := h.CreateDirectory(context.Background(), "some/dir", true); err != nil {
		t.Errorf("CreateDirectory() error = %v", err)
	}
	// Creating it again also succeeds.
	if err := h.CreateDirectory(context.Background(), "some/dir", true); err != nil {
		t.Errorf("second CreateDirectory() error = %v", err)
	}
}

func TestDeleteDirectory(t *testing.T) {
	drv := newMemDriver()
	drv.put("base/dir/a.txt", "1")
	drv.put("base/dir/sub/b.txt", "2")
	drv.put("base/keep.txt", "3")
	h := newTestHandler(t, drv)

	if err := h.DeleteDirectory(context.Background(), "dir", true); err != nil {
		t.Fatalf("DeleteDirectory() error = %v", err)
	}
	if _, ok := drv.get("base/dir/a.txt"); ok {
		t.Error("directory contents survived DeleteDirectory")
	}
	if _, ok := drv.get("base/keep.txt"); !ok {
		t.Error("sibling file removed by DeleteDirectory")
	}
}

func TestStreamWriteAndRead(t *testing.T) {
	drv := newMemDriver()
	h := newTestHandler(t, drv)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("abcdefgh"), 40000) // 320000 bytes
	n, err := h.StreamWrite(ctx, "big.bin", bytes.NewReader(payload), true)
	if err != nil {
		t.Fatalf("StreamWrite() error = %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("StreamWrite() = %d bytes, want %d", n, len(payload))
	}

	stream, err := h.StreamRead(ctx, "big.bin", 4096, true)
	if err != nil {
		t.Fatalf("StreamRead() error = %v", err)
	}
	defer stream.Close()

	var got []byte
	for {
		chunk, cerr := stream.Next()
		if cerr == io.EOF {
			break
		}
		if cerr != nil {
			t.Fatalf("Next() error = %v", cerr)
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("streamed read differs: got %d bytes, want %d", len(got), len(payload))
	}
	if stream.BytesRead() != int64(len(payload)) {
		t.Errorf("BytesRead() = %d, want %d", stream.BytesRead(), len(payload))
	}
}

func TestCompressAndUploadRoundTrip(t *testing.T) {
	drv := newMemDriver()
	h := newTestHandler(t, drv)
	ctx := context.Background()
	tmp := t.TempDir()

	payload := bytes.Repeat([]byte("compressible data "), 1000)
	src := filepath.Join(tmp, "raw.txt")
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := h.CompressAndUpload(ctx, src, "raw.txt.gz", true); err != nil {
		t.Fatalf("CompressAndUpload() error = %v", err)
	}
	stored, ok := drv.get("base/raw.txt.gz")
	if !ok {
		t.Fatal("compressed object not stored")
	}
	if len(stored) >= len(payload) {
		t.Errorf("stored %d bytes, want smaller than %d", len(stored), len(payload))
	}

	dst := filepath.Join(tmp, "restored.txt")
	if err := h.DownloadAndDecompress(ctx, "raw.txt.gz", dst, true); err != nil {
		t.Fatalf("DownloadAndDecompress() error = %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("decompressed content differs: %d bytes, want %d", len(got), len(payload))
	}
}

func TestPresignUnsupported(t *testing.T) {
	h := newTestHandler(t, newMemDriver())

	_, err := h.GeneratePresignedURL(context.Background(), "f.txt", time.Minute, true)
	if !IsNotSupported(err) {
		t.Errorf("GeneratePresignedURL() error = %v, want ErrNotSupported", err)
	}
}

func TestSetPermissionsWithoutACLSupport(t *testing.T) {
	h := newTestHandler(t, newMemDriver())

	// Backends without ACLs log and succeed.
	if err := h.SetPermissions(context.Background(), "f.txt", "private", true); err != nil {
		t.Errorf("SetPermissions() error = %v, want nil", err)
	}
}

func TestWatchUnsupported(t *testing.T) {
	h := newTestHandler(t, newMemDriver())

	_, err := h.Watch(context.Background(), "**.json", true)
	if !IsNotSupported(err) {
		t.Errorf("Watch() error = %v, want ErrNotSupported", err)
	}
}

func TestSafeWriteFileRequiresFileScheme(t *testing.T) {
	h := newTestHandler(t, newMemDriver())

	err := h.SafeWriteFile(context.Background(), "f.txt", []byte("x"), true)
	if !IsNotSupported(err) {
		t.Errorf("SafeWriteFile() error = %v, want ErrNotSupported", err)
	}
}

func TestChecksum(t *testing.T) {
	drv := newMemDriver()
	drv.put("base/f.txt", "hello world")
	h := newTestHandler(t, drv)

	sum, err := h.Checksum(context.Background(), "f.txt", ChecksumSHA256, true)
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if sum != want {
		t.Errorf("Checksum() = %q, want %q", sum, want)
	}
}

func TestTraversalRejectedEverywhere(t *testing.T) {
	h := newTestHandler(t, newMemDriver())
	ctx := context.Background()

	if _, err := h.ReadFile(ctx, "../../etc/passwd", true); !IsInvalidPath(err) {
		t.Errorf("ReadFile traversal error = %v, want ErrInvalidPath", err)
	}
	if err := h.WriteFile(ctx, "../../escape", []byte("x"), true); !IsInvalidPath(err) {
		t.Errorf("WriteFile traversal error = %v, want ErrInvalidPath", err)
	}
	if err := h.DeleteFile(ctx, "../../escape", true); !IsInvalidPath(err) {
		t.Errorf("DeleteFile traversal error = %v, want ErrInvalidPath", err)
	}
}

func TestCloseRejectsFurtherOps(t *testing.T) {
	drv := newMemDriver()
	h := newTestHandler(t, drv)

	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	_, err := h.ReadFile(context.Background(), "f.txt", true)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("ReadFile after Close error = %v, want ErrClosed", err)
	}
}
