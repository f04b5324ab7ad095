package local

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	storage "github.com/zoctipus/StorageHandler"
)

// Watch implements storage.CanWatch using fsnotify. The returned token
// fires once; callers watch again for subsequent changes.
func (d *Driver) Watch(ctx context.Context, pattern string) (storage.ChangeToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, storage.NewPathError("watch", pattern, err)
	}

	// fsnotify watches directories, not patterns; watch from the longest
	// static directory prefix and filter events through the glob.
	staticDir := pattern
	if i := strings.IndexAny(staticDir, "*?[{"); i >= 0 {
		staticDir = staticDir[:i]
	}
	if i := strings.LastIndex(staticDir, "/"); i >= 0 {
		staticDir = staticDir[:i]
	}
	root, err := d.hostPath("watch", staticDir)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, storage.NewPathError("watch", pattern, err)
	}

	addDirs := func(base string) error {
		return filepath.WalkDir(base, func(p string, de fs.DirEntry, werr error) error {
			if werr != nil || !de.IsDir() {
				return nil
			}
			return w.Add(p)
		})
	}
	if _, serr := os.Stat(root); serr == nil {
		if err := addDirs(root); err != nil {
			w.Close()
			return nil, storage.NewPathError("watch", pattern, err)
		}
	} else if err := w.Add(filepath.Dir(root)); err != nil {
		w.Close()
		return nil, storage.NewPathError("watch", pattern, err)
	}

	token := storage.NewCallbackChangeToken(func() { w.Close() })

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Create != 0 {
					if fi, serr := os.Stat(ev.Name); serr == nil && fi.IsDir() {
						_ = addDirs(ev.Name)
					}
				}
				if g.Match(filepath.ToSlash(ev.Name)) {
					token.SignalChange()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return token, nil
}
