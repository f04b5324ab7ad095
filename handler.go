package storagehandler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// Handler is the unified storage façade. It composes path resolution,
// session management and chunked streaming over one backend root, and
// normalizes backend differences behind a single operation set.
//
// A Handler is safe for concurrent use. Backends with stateful sessions
// (SFTP) serialize mutating operations internally; object-store and
// local operations proceed fully in parallel.
type Handler struct {
	uri       *URI
	resolver  *Resolver
	conn      *connManager
	log       *slog.Logger
	codec     Codec
	chunkSize int
	timeout   time.Duration
}

// New creates a Handler rooted at storageURL (scheme://authority/base).
// The scheme must have a registered driver; driver packages register
// themselves when imported.
func New(storageURL string, opts ...HandlerOption) (*Handler, error) {
	uri, err := ParseURI(storageURL)
	if err != nil {
		return nil, err
	}

	o := defaultHandlerOptions()
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.cfg
	if cfg == nil {
		cfg = &Config{ChunkSize: DefaultChunkSize, MaxRetries: 3}
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	chunkSize := o.chunkSize
	if chunkSize <= 0 {
		chunkSize = cfg.ChunkSize
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	retries := o.retries
	if retries < 0 {
		retries = cfg.MaxRetries
	}
	if retries < 0 {
		retries = 3
	}

	timeout := o.timeout
	if timeout == 0 && cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	codec := o.codec
	if codec == nil {
		codec = GzipCodec{}
	}

	factory, err := lookupDriver(uri.Scheme)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		uri:       uri,
		resolver:  NewResolver(uri),
		log:       logger.With("scheme", uri.Scheme, "root", uri.String()),
		codec:     codec,
		chunkSize: chunkSize,
		timeout:   timeout,
	}
	h.conn = newConnManager(func(ctx context.Context) (Driver, error) {
		return factory(ctx, uri, cfg)
	}, retries, h.log)

	h.log.Info("initialized storage handler")
	return h, nil
}

// FromEnv creates a Handler with configuration loaded from the
// environment.
func FromEnv(storageURL string, opts ...HandlerOption) (*Handler, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	return New(storageURL, append([]HandlerOption{WithConfig(cfg)}, opts...)...)
}

// URI returns the storage root.
func (h *Handler) URI() *URI {
	return h.uri
}

// Close tears down the backend session. The handler is unusable after.
func (h *Handler) Close() error {
	return h.conn.close()
}

// opCtx applies the configured per-call timeout.
func (h *Handler) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout > 0 {
		return context.WithTimeout(ctx, h.timeout)
	}
	return ctx, func() {}
}

// ============================================================================
// Listing
// ============================================================================

// ListFiles lists the immediate children of a directory or key prefix.
func (h *Handler) ListFiles(ctx context.Context, prefix string, relative bool) ([]FileInfo, error) {
	return h.list(ctx, prefix, relative, false)
}

// ListFilesRecursive lists all descendants of a directory or key prefix.
func (h *Handler) ListFilesRecursive(ctx context.Context, prefix string, relative bool) ([]FileInfo, error) {
	return h.list(ctx, prefix, relative, true)
}

func (h *Handler) list(ctx context.Context, prefix string, relative, recursive bool) ([]FileInfo, error) {
	rp, err := h.resolver.Resolve(prefix, relative)
	if err != nil {
		return nil, err
	}
	ctx, cancel := h.opCtx(ctx)
	defer cancel()

	var entries []FileInfo
	err = h.conn.do(ctx, "list", func(d Driver) error {
		var lerr error
		entries, lerr = d.List(ctx, rp.Native, recursive)
		return lerr
	})
	if err != nil {
		return nil, err
	}
	h.log.Debug("listed files", "prefix", rp.Native, "recursive", recursive, "count", len(entries))
	return entries, nil
}

// GlobFiles lists files whose backend-native path matches a glob
// pattern such as "logs/**/*.json" or "config/*.yaml".
func (h *Handler) GlobFiles(ctx context.Context, pattern string, relative bool) ([]FileInfo, error) {
	rp, err := h.resolver.Resolve(pattern, relative)
	if err != nil {
		return nil, err
	}

	g, err := glob.Compile(rp.Native, '/')
	if err != nil {
		return nil, NewPathError("glob_files", pattern, err)
	}

	// List from the longest static prefix to bound the enumeration.
	static := rp.Native
	if i := strings.IndexAny(static, "*?[{"); i >= 0 {
		static = static[:i]
	}
	if i := strings.LastIndex(static, "/"); i >= 0 {
		static = static[:i]
	} else {
		static = ""
	}

	ctx, cancel := h.opCtx(ctx)
	defer cancel()

	var entries []FileInfo
	err = h.conn.do(ctx, "glob", func(d Driver) error {
		var lerr error
		entries, lerr = d.List(ctx, static, true)
		return lerr
	})
	if err != nil {
		return nil, err
	}

	matched := entries[:0]
	for _, fi := range entries {
		if g.Match(fi.Path) {
			matched = append(matched, fi)
		}
	}
	return matched, nil
}

// ============================================================================
// Whole-file transfer
// ============================================================================

// UploadFile uploads a local file to remote storage, creating the remote
// parent directory as needed.
func (h *Handler) UploadFile(ctx context.Context, localPath, remotePath string, relative bool) error {
	rp, err := h.resolver.Resolve(remotePath, relative)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewPathError("upload_file", localPath, ErrNotExist)
		}
		return NewPathError("upload_file", localPath, err)
	}
	defer f.Close()

	err = h.conn.do(ctx, "upload_file", func(d Driver) error {
		// Retries restart the transfer from the beginning.
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return serr
		}
		return h.writeStream(ctx, d, rp.Native, f, "upload_file")
	})
	if err != nil {
		return err
	}
	h.log.Info("uploaded file", "local", localPath, "remote", rp.Native)
	return nil
}

// DownloadFile downloads a remote file to local storage. The local file
// is staged to a temporary path and renamed on success, so a failed
// download never leaves a partial file behind. Fails with ErrNotExist
// when the remote file is absent.
func (h *Handler) DownloadFile(ctx context.Context, remotePath, localPath string, relative bool) error {
	rp, err := h.resolver.Resolve(remotePath, relative)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return NewPathError("download_file", localPath, err)
	}

	err = h.conn.do(ctx, "download_file", func(d Driver) error {
		rc, oerr := d.OpenRead(ctx, rp.Native)
		if oerr != nil {
			return oerr
		}
		defer rc.Close()
		return stageToLocal(rc, localPath)
	})
	if err != nil {
		return err
	}
	h.log.Info("downloaded file", "remote", rp.Native, "local", localPath)
	return nil
}

// stageToLocal writes r to a sibling temp file and renames it into place.
func stageToLocal(r io.Reader, localPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".partial-*")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), localPath)
}

// ReadFile reads an entire remote file into memory. Use for small files
// only; prefer StreamRead for large payloads.
func (h *Handler) ReadFile(ctx context.Context, remotePath string, relative bool) ([]byte, error) {
	rp, err := h.resolver.Resolve(remotePath, relative)
	if err != nil {
		return nil, err
	}
	ctx, cancel := h.opCtx(ctx)
	defer cancel()

	var data []byte
	err = h.conn.do(ctx, "read_file", func(d Driver) error {
		rc, oerr := d.OpenRead(ctx, rp.Native)
		if oerr != nil {
			return oerr
		}
		defer rc.Close()
		var rerr error
		data, rerr = io.ReadAll(rc)
		return rerr
	})
	if err != nil {
		return nil, err
	}
	h.log.Debug("read file", "path", rp.Native, "bytes", len(data))
	return data, nil
}

// WriteFile writes data to a remote file, creating the parent directory
// as needed.
func (h *Handler) WriteFile(ctx context.Context, remotePath string, data []byte, relative bool) error {
	rp, err := h.resolver.Resolve(remotePath, relative)
	if err != nil {
		return err
	}
	ctx, cancel := h.opCtx(ctx)
	defer cancel()

	err = h.conn.do(ctx, "write_file", func(d Driver) error {
		return h.writeStream(ctx, d, rp.Native, bytes.NewReader(data), "write_file")
	})
	if err != nil {
		return err
	}
	h.log.Info("wrote file", "path", rp.Native, "bytes", len(data))
	return nil
}

// writeStream ensures the parent directory exists, opens a write handle
// and pipes r through in chunks.
func (h *Handler) writeStream(ctx context.Context, d Driver, native string, r io.Reader, op string) error {
	if dir := path.Dir(native); dir != "." && dir != "/" {
		if err := d.Mkdir(ctx, dir); err != nil {
			return err
		}
	}
	wh, err := d.OpenWrite(ctx, native)
	if err != nil {
		return err
	}
	_, err = pipeChunks(wh, r, h.chunkSize, op, native)
	return err
}

// SafeWriteFile writes data guarded by a sibling lock file, so
// concurrent writers to the same path do not interleave. Only supported
// on the file scheme.
func (h *Handler) SafeWriteFile(ctx context.Context, remotePath string, data []byte, relative bool) error {
	if h.uri.Scheme != SchemeFile {
		return NewPathError("safe_write_file", remotePath, fmt.Errorf("%w: file locking requires the file scheme", ErrNotSupported))
	}

	rp, err := h.resolver.Resolve(remotePath, relative)
	if err != nil {
		return err
	}

	lockPath := filepath.FromSlash(rp.Native) + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return NewPathError("safe_write_file", remotePath, err)
	}

	// Acquire by exclusive create; poll until the holder releases.
	for {
		lock, lerr := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if lerr == nil {
			lock.Close()
			break
		}
		if !os.IsExist(lerr) {
			return NewPathError("safe_write_file", remotePath, lerr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
	defer os.Remove(lockPath)

	return h.WriteFile(ctx, remotePath, data, relative)
}

// ============================================================================
// Deletion and existence
// ============================================================================

// DeleteFile removes a remote file. Deleting a non-existent file
// succeeds silently.
func (h *Handler) DeleteFile(ctx context.Context, remotePath string, relative bool) error {
	rp, err := h.resolver.Resolve(remotePath, relative)
	if err != nil {
		return err
	}
	ctx, cancel := h.opCtx(ctx)
	defer cancel()

	err = h.conn.do(ctx, "delete_file", func(d Driver) error {
		return d.Delete(ctx, rp.Native)
	})
	if err != nil {
		if IsNotExist(err) {
			h.log.Warn("delete of non-existent file", "path", rp.Native)
			return nil
		}
		return err
	}
	h.log.Info("deleted file", "path", rp.Native)
	return nil
}

// DeleteDirectory removes a directory and its contents. Removing a
// non-existent directory succeeds silently.
func (h *Handler) DeleteDirectory(ctx context.Context, remotePath string, relative bool) error {
	rp, err := h.resolver.Resolve(remotePath, relative)
	if err != nil {
		return err
	}
	ctx, cancel := h.opCtx(ctx)
	defer cancel()

	err = h.conn.do(ctx, "delete_directory", func(d Driver) error {
		return d.RemoveAll(ctx, rp.Native)
	})
	if err != nil {
		if IsNotExist(err) {
			return nil
		}
		return err
	}
	h.log.Info("deleted directory", "path", rp.Native)
	return nil
}

// Exists reports whether a file or directory exists. On object stores a
// directory exists when any key carries its prefix.
func (h *Handler) Exists(ctx context.Context, remotePath string, relative bool) (bool, error) {
	fi, err := h.GetFileMetadata(ctx, remotePath, relative)
	if err != nil {
		return false, err
	}
	return fi != nil, nil
}

// GetFileMetadata returns normalized metadata, or (nil, nil) when the
// path does not exist. Absence is never an error.
func (h *Handler) GetFileMetadata(ctx context.Context, remotePath string, relative bool) (*FileInfo, error) {
	rp, err := h.resolver.Resolve(remotePath, relative)
	if err != nil {
		return nil, err
	}
	ctx, cancel := h.opCtx(ctx)
	defer cancel()

	var fi *FileInfo
	err = h.conn.do(ctx, "stat", func(d Driver) error {
		var serr error
		fi, serr = d.Stat(ctx, rp.Native)
		return serr
	})
	if err != nil {
		return nil, err
	}
	return fi, nil
}

// ============================================================================
// Rename and copy
// ============================================================================

// Rename moves a file. Backends without a native rename fall back to
// copy-then-delete: the source is deleted only after the copy is
// verified complete, so a failed copy leaves the source intact. If the
// copy commits but the source delete fails, both paths are left in
// place and a *TransferError is returned.
func (h *Handler) Rename(ctx context.Context, oldPath, newPath string, relative bool) error {
	src, err := h.resolver.Resolve(oldPath, relative)
	if err != nil {
		return err
	}
	dst, err := h.resolver.Resolve(newPath, relative)
	if err != nil {
		return err
	}
	ctx, cancel := h.opCtx(ctx)
	defer cancel()

	err = h.conn.do(ctx, "rename", func(d Driver) error {
		rerr := d.Rename(ctx, src.Native, dst.Native)
		if !IsNotSupported(rerr) {
			return rerr
		}
		return h.copyThenDelete(ctx, d, src.Native, dst.Native)
	})
	if err != nil {
		return err
	}
	h.log.Info("renamed", "from", src.Native, "to", dst.Native)
	return nil
}

// copyThenDelete is the rename fallback for backends without a native
// rename. Order matters: copy, verify, then delete the source.
func (h *Handler) copyThenDelete(ctx context.Context, d Driver, src, dst string) error {
	srcInfo, err := d.Stat(ctx, src)
	if err != nil {
		return err
	}
	if srcInfo == nil {
		return NewPathError("rename", src, ErrNotExist)
	}

	if err := h.copyOne(ctx, d, src, dst); err != nil {
		// Destination may hold a partial object on backends without
		// atomic commit; remove it so the failed rename leaves only
		// the intact source.
		_ = d.Delete(ctx, dst)
		return err
	}

	dstInfo, err := d.Stat(ctx, dst)
	if err != nil {
		return err
	}
	if dstInfo == nil || dstInfo.Size != srcInfo.Size {
		_ = d.Delete(ctx, dst)
		var got int64
		if dstInfo != nil {
			got = dstInfo.Size
		}
		return &TransferError{
			Op:               "rename",
			Path:             src,
			BytesTransferred: got,
			Err:              fmt.Errorf("copy verification failed: want %d bytes, got %d", srcInfo.Size, got),
		}
	}

	if err := d.Delete(ctx, src); err != nil {
		// Copy committed; both paths intact. Surface rather than roll back.
		return &TransferError{
			Op:               "rename",
			Path:             src,
			BytesTransferred: srcInfo.Size,
			Err:              fmt.Errorf("copy committed but source delete failed: %w", err),
		}
	}
	return nil
}

// Copy copies a file within the same storage root, using server-side
// copy where the backend supports it.
func (h *Handler) Copy(ctx context.Context, srcPath, dstPath string, relative bool) error {
	src, err := h.resolver.Resolve(srcPath, relative)
	if err != nil {
		return err
	}
	dst, err := h.resolver.Resolve(dstPath, relative)
	if err != nil {
		return err
	}
	ctx, cancel := h.opCtx(ctx)
	defer cancel()

	err = h.conn.do(ctx, "copy", func(d Driver) error {
		return h.copyOne(ctx, d, src.Native, dst.Native)
	})
	if err != nil {
		return err
	}
	h.log.Info("copied", "from", src.Native, "to", dst.Native)
	return nil
}

func (h *Handler) copyOne(ctx context.Context, d Driver, src, dst string) error {
	if copier, ok := d.(CanCopy); ok {
		return copier.Copy(ctx, src, dst)
	}

	rc, err := d.OpenRead(ctx, src)
	if err != nil {
		return err
	}
	defer rc.Close()
	return h.writeStream(ctx, d, dst, rc, "copy")
}

// ============================================================================
// Directories
// ============================================================================

// CreateDirectory creates a directory and any missing parents. On object
// stores directories are implicit, so this is a no-op success. Creating
// an existing directory succeeds.
func (h *Handler) CreateDirectory(ctx context.Context, remotePath string, relative bool) error {
	rp, err := h.resolver.Resolve(remotePath, relative)
	if err != nil {
		return err
	}
	ctx, cancel := h.opCtx(ctx)
	defer cancel()

	err = h.conn.do(ctx, "create_directory", func(d Driver) error {
		return d.Mkdir(ctx, rp.Native)
	})
	if err != nil {
		return err
	}
	h.log.Debug("created directory", "path", rp.Native)
	return nil
}

// ============================================================================
// Streaming
// ============================================================================

// StreamRead opens a remote file as a finite, single-pass chunk
// sequence. Pass chunkSize <= 0 for the handler default. The caller must
// Close the stream; abandoning it mid-way releases the underlying handle.
func (h *Handler) StreamRead(ctx context.Context, remotePath string, chunkSize int, relative bool) (*ChunkStream, error) {
	rp, err := h.resolver.Resolve(remotePath, relative)
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = h.chunkSize
	}

	var rc io.ReadCloser
	err = h.conn.do(ctx, "stream_read", func(d Driver) error {
		var oerr error
		rc, oerr = d.OpenRead(ctx, rp.Native)
		return oerr
	})
	if err != nil {
		return nil, err
	}
	return newChunkStream(rc, rp.Native, chunkSize), nil
}

// StreamWrite consumes r and writes its bytes to a remote file in
// order. On backends with atomic commit a mid-stream failure leaves
// nothing visible; on local/SFTP a partial file may remain and the
// returned *TransferError reports how many bytes went through.
func (h *Handler) StreamWrite(ctx context.Context, remotePath string, r io.Reader, relative bool) (int64, error) {
	rp, err := h.resolver.Resolve(remotePath, relative)
	if err != nil {
		return 0, err
	}

	// A generic reader cannot be replayed, so only session acquisition
	// is retried, not the transfer itself.
	d, err := h.conn.driver(ctx)
	if err != nil {
		return 0, err
	}

	if dir := path.Dir(rp.Native); dir != "." && dir != "/" {
		if err := d.Mkdir(ctx, dir); err != nil {
			return 0, err
		}
	}
	wh, err := d.OpenWrite(ctx, rp.Native)
	if err != nil {
		if IsConnection(err) {
			h.conn.invalidate(d)
		}
		return 0, err
	}

	n, err := pipeChunks(wh, r, h.chunkSize, "stream_write", rp.Native)
	if err != nil {
		if IsConnection(err) {
			h.conn.invalidate(d)
		}
		return n, err
	}
	h.log.Info("streamed write", "path", rp.Native, "bytes", n)
	return n, nil
}

// ============================================================================
// Compression
// ============================================================================

// CompressAndUpload compresses a local file through the handler codec
// and uploads the compressed form to remote storage.
func (h *Handler) CompressAndUpload(ctx context.Context, localPath, remotePath string, relative bool) error {
	rp, err := h.resolver.Resolve(remotePath, relative)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewPathError("compress_and_upload", localPath, ErrNotExist)
		}
		return NewPathError("compress_and_upload", localPath, err)
	}
	defer f.Close()

	d, err := h.conn.driver(ctx)
	if err != nil {
		return err
	}
	if dir := path.Dir(rp.Native); dir != "." && dir != "/" {
		if err := d.Mkdir(ctx, dir); err != nil {
			return err
		}
	}
	wh, err := d.OpenWrite(ctx, rp.Native)
	if err != nil {
		return err
	}

	cw, err := h.codec.Compress(wh)
	if err != nil {
		_ = wh.Abort()
		return err
	}

	n, err := io.Copy(cw, f)
	if err == nil {
		err = cw.Close()
	}
	if err != nil {
		_ = wh.Abort()
		return &TransferError{Op: "compress_and_upload", Path: rp.Native, BytesTransferred: n, Err: err}
	}
	if err := wh.Close(); err != nil {
		_ = wh.Abort()
		return &TransferError{Op: "compress_and_upload", Path: rp.Native, BytesTransferred: n, Err: err}
	}

	h.log.Info("compressed and uploaded", "local", localPath, "remote", rp.Native, "raw_bytes", n)
	return nil
}

// DownloadAndDecompress downloads a compressed remote file and stages
// the decompressed payload to localPath atomically.
func (h *Handler) DownloadAndDecompress(ctx context.Context, remotePath, localPath string, relative bool) error {
	rp, err := h.resolver.Resolve(remotePath, relative)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return NewPathError("download_and_decompress", localPath, err)
	}

	err = h.conn.do(ctx, "download_and_decompress", func(d Driver) error {
		rc, oerr := d.OpenRead(ctx, rp.Native)
		if oerr != nil {
			return oerr
		}
		defer rc.Close()

		dr, derr := h.codec.Decompress(rc)
		if derr != nil {
			return derr
		}
		defer dr.Close()
		return stageToLocal(dr, localPath)
	})
	if err != nil {
		return err
	}
	h.log.Info("downloaded and decompressed", "remote", rp.Native, "local", localPath)
	return nil
}

// ============================================================================
// Presigned URLs, permissions, checksums, watching
// ============================================================================

// GeneratePresignedURL mints a time-limited download URL. Fails with
// ErrNotSupported on backends without presigning (local, SFTP).
func (h *Handler) GeneratePresignedURL(ctx context.Context, remotePath string, expires time.Duration, relative bool) (string, error) {
	return h.presign(ctx, remotePath, expires, relative, false)
}

// GeneratePresignedUploadURL mints a time-limited upload URL.
func (h *Handler) GeneratePresignedUploadURL(ctx context.Context, remotePath string, expires time.Duration, relative bool) (string, error) {
	return h.presign(ctx, remotePath, expires, relative, true)
}

func (h *Handler) presign(ctx context.Context, remotePath string, expires time.Duration, relative, upload bool) (string, error) {
	rp, err := h.resolver.Resolve(remotePath, relative)
	if err != nil {
		return "", err
	}
	ctx, cancel := h.opCtx(ctx)
	defer cancel()

	var signedURL string
	err = h.conn.do(ctx, "presign", func(d Driver) error {
		signer, ok := d.(CanPresign)
		if !ok {
			return NewPathError("presign", rp.Native, fmt.Errorf("%w: presigned URLs on %s", ErrNotSupported, h.uri.Scheme))
		}
		var serr error
		if upload {
			signedURL, serr = signer.SignedUploadURL(ctx, rp.Native, expires)
		} else {
			signedURL, serr = signer.SignedURL(ctx, rp.Native, expires)
		}
		return serr
	})
	return signedURL, err
}

// SetPermissions applies an ACL name (for example "private" or
// "public-read") to a remote file. Backends without an access-control
// concept log a warning and succeed.
func (h *Handler) SetPermissions(ctx context.Context, remotePath, acl string, relative bool) error {
	rp, err := h.resolver.Resolve(remotePath, relative)
	if err != nil {
		return err
	}
	ctx, cancel := h.opCtx(ctx)
	defer cancel()

	return h.conn.do(ctx, "set_permissions", func(d Driver) error {
		setter, ok := d.(CanSetACL)
		if !ok {
			h.log.Warn("backend has no ACL support, permissions unchanged", "path", rp.Native)
			return nil
		}
		if err := setter.SetACL(ctx, rp.Native, acl); err != nil {
			return err
		}
		h.log.Info("set permissions", "path", rp.Native, "acl", acl)
		return nil
	})
}

// Checksum reads a remote file and returns its hex-encoded checksum.
func (h *Handler) Checksum(ctx context.Context, remotePath string, algorithm ChecksumAlgorithm, relative bool) (string, error) {
	rp, err := h.resolver.Resolve(remotePath, relative)
	if err != nil {
		return "", err
	}

	var sum string
	err = h.conn.do(ctx, "checksum", func(d Driver) error {
		rc, oerr := d.OpenRead(ctx, rp.Native)
		if oerr != nil {
			return oerr
		}
		defer rc.Close()
		var cerr error
		sum, cerr = CalculateChecksum(rc, algorithm)
		return cerr
	})
	return sum, err
}

// Watch registers for change notification on paths matching a glob
// pattern. Fails with ErrNotSupported on backends without watching.
func (h *Handler) Watch(ctx context.Context, pattern string, relative bool) (ChangeToken, error) {
	rp, err := h.resolver.Resolve(pattern, relative)
	if err != nil {
		return nil, err
	}

	var token ChangeToken
	err = h.conn.do(ctx, "watch", func(d Driver) error {
		watcher, ok := d.(CanWatch)
		if !ok {
			return NewPathError("watch", rp.Native, fmt.Errorf("%w: watching on %s", ErrNotSupported, h.uri.Scheme))
		}
		var werr error
		token, werr = watcher.Watch(ctx, rp.Native)
		return werr
	})
	return token, err
}
