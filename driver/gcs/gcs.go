// Package gcs provides a Google Cloud Storage driver. GCS writers
// commit on Close, so an aborted write leaves no partial object.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	storage "github.com/zoctipus/StorageHandler"
)

// Driver is a GCS backend scoped to one bucket. Paths it receives are
// object keys without a leading slash.
type Driver struct {
	client *gcstorage.Client
	bucket string
}

// New creates a GCS driver over an existing client.
func New(client *gcstorage.Client, bucket string) *Driver {
	return &Driver{client: client, bucket: bucket}
}

// Scheme implements storage.Driver.
func (d *Driver) Scheme() string {
	return storage.SchemeGCS
}

func (d *Driver) object(key string) *gcstorage.ObjectHandle {
	return d.client.Bucket(d.bucket).Object(key)
}

// OpenRead implements storage.Driver.
func (d *Driver) OpenRead(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := d.object(key).NewReader(ctx)
	if err != nil {
		return nil, mapGCSError("read", key, err)
	}
	return r, nil
}

// OpenWrite implements storage.Driver. The object becomes visible only
// when Close commits it; Abort cancels the writer's context, which
// discards the upload.
func (d *Driver) OpenWrite(ctx context.Context, key string) (storage.WriteHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	w := d.object(key).NewWriter(wctx)
	w.ContentType = contentTypeOf(key)
	return &writeHandle{w: w, cancel: cancel, key: key}, nil
}

type writeHandle struct {
	w      *gcstorage.Writer
	cancel context.CancelFunc
	key    string
	done   bool
}

func (w *writeHandle) Write(b []byte) (int, error) {
	n, err := w.w.Write(b)
	if err != nil {
		return n, mapGCSError("write", w.key, err)
	}
	return n, nil
}

func (w *writeHandle) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	defer w.cancel()
	if err := w.w.Close(); err != nil {
		return mapGCSError("write", w.key, err)
	}
	return nil
}

func (w *writeHandle) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	// Cancelling before Close discards the staged upload.
	w.cancel()
	w.w.Close()
	return nil
}

// Stat implements storage.Driver. A key that exists is a file; a key
// that is a prefix of other keys is a synthesized directory.
func (d *Driver) Stat(ctx context.Context, key string) (*storage.FileInfo, error) {
	attrs, err := d.object(key).Attrs(ctx)
	if err == nil {
		return fileInfo(key, attrs), nil
	}
	if !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return nil, mapGCSError("stat", key, err)
	}

	probe := strings.TrimSuffix(key, "/") + "/"
	if key == "" {
		probe = ""
	}
	it := d.client.Bucket(d.bucket).Objects(ctx, &gcstorage.Query{Prefix: probe})
	if _, ierr := it.Next(); ierr == nil {
		return &storage.FileInfo{
			Name:  path.Base(key),
			Path:  key,
			IsDir: true,
		}, nil
	} else if ierr != iterator.Done {
		return nil, mapGCSError("stat", key, ierr)
	}
	return nil, nil
}

func fileInfo(key string, attrs *gcstorage.ObjectAttrs) *storage.FileInfo {
	return &storage.FileInfo{
		Name:        path.Base(key),
		Path:        key,
		Size:        attrs.Size,
		ModTime:     attrs.Updated,
		ContentType: attrs.ContentType,
		ETag:        attrs.Etag,
		Metadata:    attrs.Metadata,
	}
}

// List implements storage.Driver. Non-recursive listings use a query
// delimiter; the resulting prefixes become synthesized directories.
func (d *Driver) List(ctx context.Context, prefix string, recursive bool) ([]storage.FileInfo, error) {
	listPrefix := strings.TrimSuffix(prefix, "/")
	if listPrefix != "" {
		listPrefix += "/"
	}

	q := &gcstorage.Query{Prefix: listPrefix}
	if !recursive {
		q.Delimiter = "/"
	}

	var out []storage.FileInfo
	it := d.client.Bucket(d.bucket).Objects(ctx, q)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, mapGCSError("list", prefix, err)
		}
		if attrs.Prefix != "" {
			dir := strings.TrimSuffix(attrs.Prefix, "/")
			out = append(out, storage.FileInfo{
				Name:  path.Base(dir),
				Path:  dir,
				IsDir: true,
			})
			continue
		}
		if attrs.Name == listPrefix {
			continue
		}
		out = append(out, *fileInfo(attrs.Name, attrs))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Delete implements storage.Driver. Deleting a missing object succeeds.
func (d *Driver) Delete(ctx context.Context, key string) error {
	err := d.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return mapGCSError("delete", key, err)
	}
	return nil
}

// Rename implements storage.Driver. GCS has no native rename; the
// handler falls back to copy-then-delete using Copy below.
func (d *Driver) Rename(ctx context.Context, src, dst string) error {
	return storage.NewPathError("rename", src, storage.ErrNotSupported)
}

// Mkdir implements storage.Driver. Directories are implicit in GCS.
func (d *Driver) Mkdir(ctx context.Context, key string) error {
	return nil
}

// RemoveAll implements storage.Driver, deleting every object under the
// prefix.
func (d *Driver) RemoveAll(ctx context.Context, prefix string) error {
	listPrefix := strings.TrimSuffix(prefix, "/")
	if listPrefix != "" {
		listPrefix += "/"
	}

	it := d.client.Bucket(d.bucket).Objects(ctx, &gcstorage.Query{Prefix: listPrefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return mapGCSError("remove_all", prefix, err)
		}
		if derr := d.object(attrs.Name).Delete(ctx); derr != nil &&
			!errors.Is(derr, gcstorage.ErrObjectNotExist) {
			return mapGCSError("remove_all", attrs.Name, derr)
		}
	}
}

// Close implements storage.Driver.
func (d *Driver) Close() error {
	return d.client.Close()
}

// Copy implements storage.CanCopy with GCS's server-side copier.
func (d *Driver) Copy(ctx context.Context, src, dst string) error {
	_, err := d.object(dst).CopierFrom(d.object(src)).Run(ctx)
	if err != nil {
		return mapGCSError("copy", src, err)
	}
	return nil
}

// SignedURL implements storage.CanPresign for downloads using V4
// signing.
func (d *Driver) SignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	url, err := d.client.Bucket(d.bucket).SignedURL(key, &gcstorage.SignedURLOptions{
		Scheme:  gcstorage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(expires),
	})
	if err != nil {
		return "", mapGCSError("presign", key, err)
	}
	return url, nil
}

// SignedUploadURL implements storage.CanPresign for uploads.
func (d *Driver) SignedUploadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	url, err := d.client.Bucket(d.bucket).SignedURL(key, &gcstorage.SignedURLOptions{
		Scheme:  gcstorage.SigningSchemeV4,
		Method:  http.MethodPut,
		Expires: time.Now().Add(expires),
	})
	if err != nil {
		return "", mapGCSError("presign", key, err)
	}
	return url, nil
}

// SetACL implements storage.CanSetACL with predefined object ACL grants.
func (d *Driver) SetACL(ctx context.Context, key, acl string) error {
	obj := d.object(key)
	switch acl {
	case "private":
		// Strip AllUsers and leave owner access in place.
		if err := obj.ACL().Delete(ctx, gcstorage.AllUsers); err != nil {
			var apiErr *googleapi.Error
			if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
				return mapGCSError("set_acl", key, err)
			}
		}
		return nil
	case "public-read", "public":
		if err := obj.ACL().Set(ctx, gcstorage.AllUsers, gcstorage.RoleReader); err != nil {
			return mapGCSError("set_acl", key, err)
		}
		return nil
	case "authenticated-read":
		if err := obj.ACL().Set(ctx, gcstorage.AllAuthenticatedUsers, gcstorage.RoleReader); err != nil {
			return mapGCSError("set_acl", key, err)
		}
		return nil
	default:
		return storage.NewPathError("set_acl", key, fmt.Errorf("unknown acl %q", acl))
	}
}

func contentTypeOf(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// mapGCSError translates client failures into the shared error taxonomy.
func mapGCSError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gcstorage.ErrObjectNotExist) || errors.Is(err, gcstorage.ErrBucketNotExist) {
		return storage.NewPathError(op, key, storage.ErrNotExist)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return storage.NewPathError(op, key, storage.ErrNotExist)
		case http.StatusUnauthorized, http.StatusForbidden:
			return storage.NewPathError(op, key, fmt.Errorf("%w: %v", storage.ErrAuth, err))
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return storage.NewPathError(op, key, fmt.Errorf("%w: %v", storage.ErrConnection, err))
		}
	}
	if storage.IsTransientNet(err) {
		return storage.NewPathError(op, key, fmt.Errorf("%w: %v", storage.ErrConnection, err))
	}
	return storage.NewPathError(op, key, err)
}
