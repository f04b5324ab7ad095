package storagehandler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SyncAction classifies the outcome of one file during a sync pass.
type SyncAction string

const (
	SyncCopied  SyncAction = "copied"
	SyncSkipped SyncAction = "skipped"
	SyncFailed  SyncAction = "failed"
)

// SyncOutcome records what happened to a single file.
type SyncOutcome struct {
	Path   string
	Action SyncAction
	Bytes  int64
	Err    error
}

// SyncReport aggregates a sync pass. A pass keeps going after
// individual file failures; Err() folds them together afterwards.
type SyncReport struct {
	Outcomes []SyncOutcome
	Copied   int
	Skipped  int
	Failed   int
}

func (r *SyncReport) record(o SyncOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Action {
	case SyncCopied:
		r.Copied++
	case SyncSkipped:
		r.Skipped++
	case SyncFailed:
		r.Failed++
	}
}

// Err returns the joined per-file errors, or nil when every file
// synced or was skipped.
func (r *SyncReport) Err() error {
	if r.Failed == 0 {
		return nil
	}
	errs := make([]error, 0, r.Failed)
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Path, o.Err))
		}
	}
	return errors.Join(errs...)
}

// SyncFromLocal mirrors a local directory tree into remote storage,
// one-way and additive: files missing or stale on the remote side are
// uploaded, nothing is deleted, and remote-only files are untouched. A
// remote file is stale when its size differs from the local file or its
// modification time is older. Running twice with no local changes
// transfers nothing the second time.
func (h *Handler) SyncFromLocal(ctx context.Context, localDir, remotePrefix string, relative bool) (*SyncReport, error) {
	rp, err := h.resolver.Resolve(remotePrefix, relative)
	if err != nil {
		return nil, err
	}

	if fi, serr := os.Stat(localDir); serr != nil {
		if os.IsNotExist(serr) {
			return nil, NewPathError("sync_from_local", localDir, ErrNotExist)
		}
		return nil, NewPathError("sync_from_local", localDir, serr)
	} else if !fi.IsDir() {
		return nil, NewPathError("sync_from_local", localDir, ErrNotDir)
	}

	// One listing up front instead of a stat per file.
	remote := make(map[string]FileInfo)
	err = h.conn.do(ctx, "sync_from_local", func(d Driver) error {
		entries, lerr := d.List(ctx, rp.Native, true)
		if lerr != nil {
			return lerr
		}
		clear(remote)
		for _, fi := range entries {
			if !fi.IsDir {
				remote[fi.Path] = fi
			}
		}
		return nil
	})
	if err != nil && !IsNotExist(err) {
		return nil, err
	}

	report := &SyncReport{}
	walkErr := filepath.WalkDir(localDir, func(p string, de fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if de.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, rerr := filepath.Rel(localDir, p)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		target := joinKey(rp.Native, rel)

		info, ierr := de.Info()
		if ierr != nil {
			report.record(SyncOutcome{Path: rel, Action: SyncFailed, Err: ierr})
			return nil
		}

		if rfi, ok := remote[target]; ok && rfi.Size == info.Size() && !rfi.ModTime.Before(info.ModTime()) {
			report.record(SyncOutcome{Path: rel, Action: SyncSkipped})
			return nil
		}

		if uerr := h.uploadOne(ctx, p, target); uerr != nil {
			h.log.Warn("sync upload failed", "path", rel, "error", uerr)
			report.record(SyncOutcome{Path: rel, Action: SyncFailed, Err: uerr})
			return nil
		}
		report.record(SyncOutcome{Path: rel, Action: SyncCopied, Bytes: info.Size()})
		return nil
	})
	if walkErr != nil {
		return report, walkErr
	}

	h.log.Info("sync from local complete",
		"local", localDir, "remote", rp.Native,
		"copied", report.Copied, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

// SyncToLocal mirrors a remote prefix into a local directory tree,
// one-way and additive, with the same staleness rule as SyncFromLocal.
func (h *Handler) SyncToLocal(ctx context.Context, remotePrefix, localDir string, relative bool) (*SyncReport, error) {
	rp, err := h.resolver.Resolve(remotePrefix, relative)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, NewPathError("sync_to_local", localDir, err)
	}

	var entries []FileInfo
	err = h.conn.do(ctx, "sync_to_local", func(d Driver) error {
		var lerr error
		entries, lerr = d.List(ctx, rp.Native, true)
		return lerr
	})
	if err != nil {
		if IsNotExist(err) {
			return &SyncReport{}, nil
		}
		return nil, err
	}

	report := &SyncReport{}
	for _, rfi := range entries {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(rfi.Path, rp.Native), "/")
		if rel == "" {
			rel = rfi.Name
		}
		local := filepath.Join(localDir, filepath.FromSlash(rel))

		if rfi.IsDir {
			if merr := os.MkdirAll(local, 0o755); merr != nil {
				report.record(SyncOutcome{Path: rel, Action: SyncFailed, Err: merr})
			}
			continue
		}

		if lfi, serr := os.Stat(local); serr == nil &&
			lfi.Size() == rfi.Size && !lfi.ModTime().Before(rfi.ModTime) {
			report.record(SyncOutcome{Path: rel, Action: SyncSkipped})
			continue
		}

		if derr := h.downloadOne(ctx, rfi.Path, local); derr != nil {
			h.log.Warn("sync download failed", "path", rel, "error", derr)
			report.record(SyncOutcome{Path: rel, Action: SyncFailed, Err: derr})
			continue
		}
		report.record(SyncOutcome{Path: rel, Action: SyncCopied, Bytes: rfi.Size})
	}

	h.log.Info("sync to local complete",
		"remote", rp.Native, "local", localDir,
		"copied", report.Copied, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

// uploadOne transfers one local file to a pre-resolved native path.
func (h *Handler) uploadOne(ctx context.Context, localPath, native string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return h.conn.do(ctx, "sync_upload", func(d Driver) error {
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return serr
		}
		return h.writeStream(ctx, d, native, f, "sync_upload")
	})
}

// downloadOne transfers one pre-resolved native path to a local file,
// staged atomically.
func (h *Handler) downloadOne(ctx context.Context, native, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return h.conn.do(ctx, "sync_download", func(d Driver) error {
		rc, oerr := d.OpenRead(ctx, native)
		if oerr != nil {
			return oerr
		}
		defer rc.Close()
		return stageToLocal(rc, localPath)
	})
}

// joinKey joins a native prefix and a slash-relative path without
// introducing a leading slash on object-store keys.
func joinKey(prefix, rel string) string {
	if prefix == "" || prefix == "/" || prefix == "." {
		return rel
	}
	return strings.TrimSuffix(prefix, "/") + "/" + rel
}
