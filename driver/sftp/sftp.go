// Package sftp provides an SFTP driver over SSH. Writes are staged to a
// temp file on the remote host and renamed into place on Close.
package sftp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	storage "github.com/zoctipus/StorageHandler"
)

// Config holds SFTP connection settings.
type Config struct {
	Addr       string // host[:port]
	Username   string
	Password   string
	PrivateKey []byte // PEM encoded
}

// Driver is an SFTP backend. The SSH session is established eagerly at
// construction so credential problems surface immediately; a dropped
// session is re-established on the next operation.
type Driver struct {
	mu      sync.Mutex
	client  *sftp.Client
	sshConn *ssh.Client
	cfg     Config
	closed  bool
}

// New creates an SFTP driver and connects.
func New(cfg Config) (*Driver, error) {
	d := &Driver{cfg: cfg}
	if err := d.connect(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Driver) connect() error {
	sshCfg := &ssh.ClientConfig{
		User:            d.cfg.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	if len(d.cfg.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(d.cfg.PrivateKey)
		if err != nil {
			return fmt.Errorf("%w: parse private key: %v", storage.ErrAuth, err)
		}
		sshCfg.Auth = append(sshCfg.Auth, ssh.PublicKeys(signer))
	}
	if d.cfg.Password != "" {
		sshCfg.Auth = append(sshCfg.Auth, ssh.Password(d.cfg.Password))
	}
	if len(sshCfg.Auth) == 0 {
		return fmt.Errorf("%w: no authentication method configured", storage.ErrAuth)
	}

	addr := d.cfg.Addr
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	sshConn, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") ||
			strings.Contains(err.Error(), "handshake failed") {
			return fmt.Errorf("%w: %v", storage.ErrAuth, err)
		}
		return fmt.Errorf("%w: dial %s: %v", storage.ErrConnection, addr, err)
	}

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return fmt.Errorf("%w: open sftp subsystem: %v", storage.ErrConnection, err)
	}

	d.sshConn = sshConn
	d.client = client
	return nil
}

// session returns a live client, reconnecting if the previous session
// was torn down.
func (d *Driver) session() (*sftp.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, storage.ErrClosed
	}
	if d.client == nil {
		if err := d.connect(); err != nil {
			return nil, err
		}
	}
	return d.client, nil
}

// Scheme implements storage.Driver.
func (d *Driver) Scheme() string {
	return storage.SchemeSFTP
}

// OpenRead implements storage.Driver.
func (d *Driver) OpenRead(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := d.session()
	if err != nil {
		return nil, err
	}
	f, err := c.Open(p)
	if err != nil {
		return nil, mapSFTPError("read", p, err)
	}
	return f, nil
}

// OpenWrite implements storage.Driver.
func (d *Driver) OpenWrite(ctx context.Context, p string) (storage.WriteHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := d.session()
	if err != nil {
		return nil, err
	}

	if dir := path.Dir(p); dir != "." && dir != "/" {
		if err := c.MkdirAll(dir); err != nil {
			return nil, mapSFTPError("write", p, err)
		}
	}

	tmp := tempName(p)
	f, err := c.Create(tmp)
	if err != nil {
		return nil, mapSFTPError("write", p, err)
	}
	return &writeHandle{c: c, f: f, tmp: tmp, target: p}, nil
}

func tempName(p string) string {
	var b [4]byte
	rand.Read(b[:])
	return path.Join(path.Dir(p), "."+path.Base(p)+".tmp-"+hex.EncodeToString(b[:]))
}

type writeHandle struct {
	c      *sftp.Client
	f      *sftp.File
	tmp    string
	target string
	done   bool
}

func (w *writeHandle) Write(b []byte) (int, error) {
	n, err := w.f.Write(b)
	if err != nil {
		return n, mapSFTPError("write", w.target, err)
	}
	return n, nil
}

func (w *writeHandle) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.f.Close(); err != nil {
		w.c.Remove(w.tmp)
		return mapSFTPError("write", w.target, err)
	}
	if err := w.c.PosixRename(w.tmp, w.target); err != nil {
		// Some servers lack the posix-rename extension.
		w.c.Remove(w.target)
		if rerr := w.c.Rename(w.tmp, w.target); rerr != nil {
			w.c.Remove(w.tmp)
			return mapSFTPError("write", w.target, rerr)
		}
	}
	return nil
}

func (w *writeHandle) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.f.Close()
	return w.c.Remove(w.tmp)
}

// Stat implements storage.Driver.
func (d *Driver) Stat(ctx context.Context, p string) (*storage.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := d.session()
	if err != nil {
		return nil, err
	}
	fi, err := c.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, mapSFTPError("stat", p, err)
	}
	return fileInfo(p, fi), nil
}

func fileInfo(p string, fi os.FileInfo) *storage.FileInfo {
	return &storage.FileInfo{
		Name:    fi.Name(),
		Path:    p,
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		IsDir:   fi.IsDir(),
	}
}

// List implements storage.Driver.
func (d *Driver) List(ctx context.Context, prefix string, recursive bool) ([]storage.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := d.session()
	if err != nil {
		return nil, err
	}

	if !recursive {
		entries, rerr := c.ReadDir(prefix)
		if rerr != nil {
			return nil, mapSFTPError("list", prefix, rerr)
		}
		out := make([]storage.FileInfo, 0, len(entries))
		for _, fi := range entries {
			out = append(out, *fileInfo(path.Join(prefix, fi.Name()), fi))
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
		return out, nil
	}

	var out []storage.FileInfo
	walker := c.Walk(prefix)
	for walker.Step() {
		if werr := walker.Err(); werr != nil {
			return nil, mapSFTPError("list", walker.Path(), werr)
		}
		if walker.Path() == prefix {
			continue
		}
		out = append(out, *fileInfo(walker.Path(), walker.Stat()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Delete implements storage.Driver. Deleting a missing file succeeds.
func (d *Driver) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := d.session()
	if err != nil {
		return err
	}
	if err := c.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return mapSFTPError("delete", p, err)
	}
	return nil
}

// Rename implements storage.Driver with a native server-side rename.
func (d *Driver) Rename(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := d.session()
	if err != nil {
		return err
	}
	if dir := path.Dir(dst); dir != "." && dir != "/" {
		if err := c.MkdirAll(dir); err != nil {
			return mapSFTPError("rename", dst, err)
		}
	}
	if err := c.PosixRename(src, dst); err != nil {
		if rerr := c.Rename(src, dst); rerr != nil {
			return mapSFTPError("rename", src, rerr)
		}
	}
	return nil
}

// Mkdir implements storage.Driver.
func (d *Driver) Mkdir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := d.session()
	if err != nil {
		return err
	}
	if err := c.MkdirAll(p); err != nil {
		return mapSFTPError("mkdir", p, err)
	}
	return nil
}

// RemoveAll implements storage.Driver.
func (d *Driver) RemoveAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := d.session()
	if err != nil {
		return err
	}
	if err := c.RemoveAll(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return mapSFTPError("remove_all", p, err)
	}
	return nil
}

// SetACL maps ACL names onto POSIX mode bits via chmod.
func (d *Driver) SetACL(ctx context.Context, p, acl string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := d.session()
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
	if err := c.Chmod(p, mode); err != nil {
		return mapSFTPError("set_acl", p, err)
	}
	return nil
}

// Close implements storage.Driver.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true

	var errs []error
	if d.client != nil {
		errs = append(errs, d.client.Close())
		d.client = nil
	}
	if d.sshConn != nil {
		errs = append(errs, d.sshConn.Close())
		d.sshConn = nil
	}
	return errors.Join(errs...)
}

// mapSFTPError translates pkg/sftp and transport failures into the
// shared error taxonomy.
func mapSFTPError(op, p string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrNotExist):
		return storage.NewPathError(op, p, storage.ErrNotExist)
	case errors.Is(err, os.ErrExist):
		return storage.NewPathError(op, p, storage.ErrExist)
	case errors.Is(err, os.ErrPermission):
		return storage.NewPathError(op, p, fmt.Errorf("%w: %v", storage.ErrAuth, err))
	case errors.Is(err, io.EOF), errors.Is(err, sftp.ErrSSHFxConnectionLost), storage.IsTransientNet(err):
		return storage.NewPathError(op, p, fmt.Errorf("%w: %v", storage.ErrConnection, err))
	default:
		return storage.NewPathError(op, p, err)
	}
}
