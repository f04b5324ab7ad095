package storagehandler

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Supported URI schemes
const (
	SchemeFile = "file"
	SchemeSFTP = "sftp"
	SchemeGCS  = "gs"
	SchemeS3   = "s3"
)

// URI identifies a storage root: scheme, authority (host or bucket) and
// base path. It is immutable once the handler is constructed; every
// relative path resolves against it.
type URI struct {
	Scheme    string
	Authority string // host[:port] for sftp, bucket for s3/gs, empty for file
	BasePath  string // absolute base path within the backend namespace
	Username  string // optional user info (sftp)
}

// ParseURI parses a storage root URI of the form scheme://authority/base.
func ParseURI(raw string) (*URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPath, raw, err)
	}

	switch u.Scheme {
	case SchemeFile, SchemeSFTP, SchemeGCS, SchemeS3:
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidPath, u.Scheme)
	}

	uri := &URI{
		Scheme:    u.Scheme,
		Authority: u.Host,
		BasePath:  path.Clean("/" + u.Path),
	}
	if u.User != nil {
		uri.Username = u.User.Username()
	}

	switch u.Scheme {
	case SchemeS3, SchemeGCS:
		if uri.Authority == "" {
			return nil, fmt.Errorf("%w: %s URI requires a bucket", ErrInvalidPath, u.Scheme)
		}
	case SchemeSFTP:
		if uri.Authority == "" {
			return nil, fmt.Errorf("%w: sftp URI requires a host", ErrInvalidPath)
		}
	case SchemeFile:
		// file://host is not meaningful; fold any host into the path.
		if u.Host != "" {
			uri.Authority = ""
			uri.BasePath = path.Clean("/" + u.Host + "/" + u.Path)
		}
	}

	return uri, nil
}

// String reassembles the root URI.
func (u *URI) String() string {
	return u.Scheme + "://" + u.Authority + u.BasePath
}

// ResolvedPath is a logical path plus its backend-native representation:
// a filesystem path for file/sftp, an object key for s3/gs. Derived on
// every call, never persisted.
type ResolvedPath struct {
	Logical string
	Native  string
}

// Resolver maps logical paths to backend-native ones, confined to a root
// URI. Resolution is deterministic and idempotent: resolving an already
// resolved path yields the same result.
type Resolver struct {
	uri         *URI
	base        string
	objectStore bool
}

// NewResolver creates a Resolver rooted at uri.
func NewResolver(uri *URI) *Resolver {
	return &Resolver{
		uri:         uri,
		base:        path.Clean("/" + uri.BasePath),
		objectStore: uri.Scheme == SchemeS3 || uri.Scheme == SchemeGCS,
	}
}

// Resolve maps p to its backend-native form. When relative is true, p is
// joined to the configured base path and must not escape it. When false,
// p is absolute within the backend namespace; a full URI argument must
// carry the resolver's scheme and authority. Traversal outside the root
// fails with ErrInvalidPath.
func (r *Resolver) Resolve(p string, relative bool) (ResolvedPath, error) {
	p = strings.TrimSpace(p)

	// A full URI is allowed as an absolute path as long as it stays on
	// the same backend root.
	if strings.Contains(p, "://") {
		u, err := url.Parse(p)
		if err != nil {
			return ResolvedPath{}, fmt.Errorf("%w: %s: %v", ErrInvalidPath, p, err)
		}
		if u.Scheme != r.uri.Scheme {
			return ResolvedPath{}, fmt.Errorf("%w: scheme %q does not match root %q", ErrInvalidPath, u.Scheme, r.uri.Scheme)
		}
		if u.Host != r.uri.Authority {
			return ResolvedPath{}, fmt.Errorf("%w: authority %q does not match root %q", ErrInvalidPath, u.Host, r.uri.Authority)
		}
		p = u.Path
		relative = false
	}

	var abs string
	if relative {
		cleaned := path.Clean(strings.TrimPrefix(p, "/"))
		if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			return ResolvedPath{}, fmt.Errorf("%w: %s escapes storage root", ErrInvalidPath, p)
		}
		abs = path.Join(r.base, cleaned)
	} else {
		cleaned := path.Clean("/" + p)
		// Clean resolves ".." lexically, but reject paths that tried to
		// climb above the namespace root.
		if strings.HasPrefix(path.Clean(p), "../") || path.Clean(p) == ".." {
			return ResolvedPath{}, fmt.Errorf("%w: %s escapes storage root", ErrInvalidPath, p)
		}
		abs = cleaned
	}

	native := abs
	if r.objectStore {
		native = strings.TrimPrefix(abs, "/")
	}

	return ResolvedPath{Logical: p, Native: native}, nil
}

// Root returns the resolved base path itself.
func (r *Resolver) Root() ResolvedPath {
	rp, _ := r.Resolve("", true)
	return rp
}
