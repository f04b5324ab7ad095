// Package local provides a local filesystem driver. Writes are staged
// to a sibling temp file and renamed into place on Close, so a failed
// or aborted write never leaves a partial file at the target path.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	storage "github.com/zoctipus/StorageHandler"
)

// Driver is a local filesystem backend rooted at a directory. All paths
// it receives are absolute slash paths within that root.
type Driver struct {
	root string
}

// New creates a local driver rooted at root, creating the directory if
// it does not exist.
func New(root string) (*Driver, error) {
	absRoot, err := filepath.Abs(filepath.FromSlash(root))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, err
	}
	return &Driver{root: absRoot}, nil
}

// Scheme implements storage.Driver.
func (d *Driver) Scheme() string {
	return storage.SchemeFile
}

// Root returns the absolute root directory.
func (d *Driver) Root() string {
	return d.root
}

// hostPath converts a resolved slash path to a host filesystem path.
// Paths arrive pre-resolved and absolute; anything outside the root
// means the caller bypassed resolution and is rejected.
func (d *Driver) hostPath(op, p string) (string, error) {
	full := filepath.FromSlash(filepath.Clean(p))
	if !filepath.IsAbs(full) {
		full = filepath.Join(d.root, full)
	}
	rel, err := filepath.Rel(d.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", storage.NewPathError(op, p, storage.ErrInvalidPath)
	}
	return full, nil
}

// OpenRead implements storage.Driver.
func (d *Driver) OpenRead(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := d.hostPath("read", p)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, mapOSError("read", p, err)
	}
	if fi, serr := f.Stat(); serr == nil && fi.IsDir() {
		f.Close()
		return nil, storage.NewPathError("read", p, storage.ErrNotDir)
	}
	return f, nil
}

// OpenWrite implements storage.Driver.
func (d *Driver) OpenWrite(ctx context.Context, p string) (storage.WriteHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := d.hostPath("write", p)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, mapOSError("write", p, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return nil, mapOSError("write", p, err)
	}
	return &writeHandle{f: tmp, target: full, path: p}, nil
}

// writeHandle stages writes to a temp file; Close renames it into place.
type writeHandle struct {
	f      *os.File
	target string
	path   string
	done   bool
}

func (w *writeHandle) Write(b []byte) (int, error) {
	return w.f.Write(b)
}

func (w *writeHandle) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.f.Close(); err != nil {
		os.Remove(w.f.Name())
		return mapOSError("write", w.path, err)
	}
	if err := os.Rename(w.f.Name(), w.target); err != nil {
		os.Remove(w.f.Name())
		return mapOSError("write", w.path, err)
	}
	return nil
}

func (w *writeHandle) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.f.Close()
	return os.Remove(w.f.Name())
}

// Stat implements storage.Driver.
func (d *Driver) Stat(ctx context.Context, p string) (*storage.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := d.hostPath("stat", p)
	if err != nil {
		return nil, err
	}

	fi, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, mapOSError("stat", p, err)
	}
	return d.fileInfo(p, fi), nil
}

func (d *Driver) fileInfo(p string, fi os.FileInfo) *storage.FileInfo {
	info := &storage.FileInfo{
		Name:    fi.Name(),
		Path:    filepath.ToSlash(p),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		IsDir:   fi.IsDir(),
	}
	if !fi.IsDir() {
		info.ContentType = mime.TypeByExtension(filepath.Ext(fi.Name()))
	}
	return info
}

// List implements storage.Driver.
func (d *Driver) List(ctx context.Context, prefix string, recursive bool) ([]storage.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := d.hostPath("list", prefix)
	if err != nil {
		return nil, err
	}

	if fi, serr := os.Stat(full); serr != nil {
		return nil, mapOSError("list", prefix, serr)
	} else if !fi.IsDir() {
		return nil, storage.NewPathError("list", prefix, storage.ErrNotDir)
	}

	var out []storage.FileInfo
	if !recursive {
		entries, rerr := os.ReadDir(full)
		if rerr != nil {
			return nil, mapOSError("list", prefix, rerr)
		}
		for _, de := range entries {
			fi, ierr := de.Info()
			if ierr != nil {
				continue
			}
			out = append(out, *d.fileInfo(joinSlash(prefix, de.Name()), fi))
		}
		return out, nil
	}

	err = filepath.WalkDir(full, func(hp string, de fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if hp == full {
			return nil
		}
		rel, rerr := filepath.Rel(full, hp)
		if rerr != nil {
			return rerr
		}
		fi, ierr := de.Info()
		if ierr != nil {
			return nil
		}
		out = append(out, *d.fileInfo(joinSlash(prefix, filepath.ToSlash(rel)), fi))
		return nil
	})
	if err != nil {
		return nil, mapOSError("list", prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Delete implements storage.Driver. Deleting a missing file succeeds.
func (d *Driver) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := d.hostPath("delete", p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return mapOSError("delete", p, err)
	}
	return nil
}

// Rename implements storage.Driver with a native rename.
func (d *Driver) Rename(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	srcFull, err := d.hostPath("rename", src)
	if err != nil {
		return err
	}
	dstFull, err := d.hostPath("rename", dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstFull), 0o755); err != nil {
		return mapOSError("rename", dst, err)
	}
	if err := os.Rename(srcFull, dstFull); err != nil {
		return mapOSError("rename", src, err)
	}
	return nil
}

// Mkdir implements storage.Driver.
func (d *Driver) Mkdir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := d.hostPath("mkdir", p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return mapOSError("mkdir", p, err)
	}
	return nil
}

// RemoveAll implements storage.Driver.
func (d *Driver) RemoveAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := d.hostPath("remove_all", p)
	if err != nil {
		return err
	}
	if full == d.root {
		return storage.NewPathError("remove_all", p, fmt.Errorf("%w: refusing to remove storage root", storage.ErrInvalidPath))
	}
	if err := os.RemoveAll(full); err != nil {
		return mapOSError("remove_all", p, err)
	}
	return nil
}

// SetACL maps ACL names onto POSIX mode bits.
func (d *Driver) SetACL(ctx context.Context, p, acl string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := d.hostPath("set_acl", p)
	if err != nil {
		return err
	}

	var mode os.FileMode
	switch acl {
	case "private":
		mode = 0o600
	case "public-read", "public":
		mode = 0o644
	case "public-read-write":
		mode = 0o666
	default:
		return storage.NewPathError("set_acl", p, fmt.Errorf("unknown acl %q", acl))
	}
	if err := os.Chmod(full, mode); err != nil {
		return mapOSError("set_acl", p, err)
	}
	return nil
}

// Close implements storage.Driver. The local driver holds no session.
func (d *Driver) Close() error {
	return nil
}

func joinSlash(prefix, name string) string {
	if prefix == "" || prefix == "/" {
		return "/" + name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}

func mapOSError(op, p string, err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return storage.NewPathError(op, p, storage.ErrNotExist)
	case os.IsExist(err):
		return storage.NewPathError(op, p, storage.ErrExist)
	default:
		return storage.NewPathError(op, p, err)
	}
}
