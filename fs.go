package storagehandler

import (
	"context"
	"io"
	"time"
)

// FileInfo represents file/directory metadata normalized across backends.
// Object stores report synthesized directories (derived from key prefixes)
// with IsDir set and zero Size.
type FileInfo struct {
	Name        string
	Path        string
	Size        int64
	ModTime     time.Time
	IsDir       bool
	ContentType string
	ETag        string
	Metadata    map[string]string
}

// WriteHandle is an open write stream to a single backend object or file.
// Close commits the write; on backends with atomic commit (object stores,
// local staging) nothing is visible until Close returns nil. Abort discards
// any partial state and is a no-op after a successful Close.
type WriteHandle interface {
	io.WriteCloser

	// Abort discards the in-flight write. Safe to call after a failed
	// Write or Close.
	Abort() error
}

// Driver is the primitive operation set a backend must implement. Paths
// are backend-native (filesystem paths for local/SFTP, object keys for
// S3/GCS) as produced by the Resolver; drivers never re-resolve.
type Driver interface {
	// Scheme returns the URI scheme this driver serves.
	Scheme() string

	// OpenRead opens a file for streaming read.
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)

	// OpenWrite opens a file for streaming write. Parent directories are
	// created as needed on backends that have them.
	OpenWrite(ctx context.Context, path string) (WriteHandle, error)

	// Stat returns metadata, or (nil, nil) when the path does not exist.
	// Absence is never an error.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// List enumerates entries under a prefix. Non-recursive listing
	// returns immediate children only; object stores synthesize
	// directories from common prefixes.
	List(ctx context.Context, prefix string, recursive bool) ([]FileInfo, error)

	// Delete removes a file. Deleting a non-existent path succeeds.
	Delete(ctx context.Context, path string) error

	// Rename performs a native rename. Backends without one return
	// ErrNotSupported; the handler falls back to copy-then-delete.
	Rename(ctx context.Context, src, dst string) error

	// Mkdir creates a directory and parents. A no-op success on object
	// stores, where directories are implicit.
	Mkdir(ctx context.Context, path string) error

	// RemoveAll removes a directory and its contents.
	RemoveAll(ctx context.Context, path string) error

	// Close releases the backend session.
	Close() error
}

// ============================================================================
// Optional Capability Interfaces
// ============================================================================
// Drivers expose optional capabilities through type assertion:
//
//	if c, ok := drv.(CanCopy); ok {
//	    c.Copy(ctx, src, dst)
//	}

// CanCopy indicates the backend supports server-side copy, avoiding a
// read-then-write round trip.
type CanCopy interface {
	Copy(ctx context.Context, src, dst string) error
}

// CanPresign indicates the backend can mint time-limited URLs granting
// direct access without further authentication.
type CanPresign interface {
	// SignedURL creates a presigned URL for downloading a file.
	SignedURL(ctx context.Context, path string, expires time.Duration) (string, error)

	// SignedUploadURL creates a presigned URL for uploading a file.
	SignedUploadURL(ctx context.Context, path string, expires time.Duration) (string, error)
}

// CanSetACL indicates the backend has an access-control concept. Local
// filesystems map ACL names to POSIX mode bits; object stores map them to
// bucket/object ACL grants.
type CanSetACL interface {
	SetACL(ctx context.Context, path, acl string) error
}

// ChangeToken signals that a watched path set has changed. Tokens are
// single-use: once HasChanged reports true it stays true.
type ChangeToken interface {
	HasChanged() bool

	// RegisterChangeCallback registers a callback invoked on change.
	// Returns a function to unregister it.
	RegisterChangeCallback(callback func()) (unregister func())

	// Stop releases the watch resources behind the token.
	Stop()
}

// CanWatch indicates the backend supports change notification for paths
// matching a glob pattern.
type CanWatch interface {
	Watch(ctx context.Context, pattern string) (ChangeToken, error)
}
