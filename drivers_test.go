package storagehandler

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// memDriver is an in-memory object-store driver used across the handler
// tests. It behaves like S3: keys without a leading slash, implicit
// directories, no native rename. Error injection fields let tests force
// specific failures.
type memDriver struct {
	mu    sync.Mutex
	files map[string]memFile

	openReadErrs  []error // consumed one per OpenRead
	openWriteErrs []error // consumed one per OpenWrite
	deleteErr     error
	closed        bool
}

type memFile struct {
	data    []byte
	modTime time.Time
}

func newMemDriver() *memDriver {
	return &memDriver{files: make(map[string]memFile)}
}

// register installs a factory returning this exact driver instance so a
// test can inspect state after handler calls.
func (m *memDriver) register(scheme string) {
	RegisterDriver(scheme, func(_ context.Context, _ *URI, _ *Config) (Driver, error) {
		return m, nil
	})
}

func (m *memDriver) put(key, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = memFile{data: []byte(content), modTime: time.Now()}
}

func (m *memDriver) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[key]
	return string(f.data), ok
}

func (m *memDriver) Scheme() string { return SchemeS3 }

func (m *memDriver) OpenRead(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.openReadErrs) > 0 {
		err := m.openReadErrs[0]
		m.openReadErrs = m.openReadErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f, ok := m.files[key]
	if !ok {
		return nil, NewPathError("read", key, ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func (m *memDriver) OpenWrite(ctx context.Context, key string) (WriteHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.openWriteErrs) > 0 {
		err := m.openWriteErrs[0]
		m.openWriteErrs = m.openWriteErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &memWriteHandle{drv: m, key: key}, nil
}

type memWriteHandle struct {
	drv  *memDriver
	key  string
	buf  bytes.Buffer
	done bool
}

func (w *memWriteHandle) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

func (w *memWriteHandle) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	w.drv.mu.Lock()
	defer w.drv.mu.Unlock()
	w.drv.files[w.key] = memFile{data: w.buf.Bytes(), modTime: time.Now()}
	return nil
}

func (w *memWriteHandle) Abort() error {
	w.done = true
	return nil
}

func (m *memDriver) Stat(ctx context.Context, key string) (*FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[key]; ok {
		return &FileInfo{
			Name:    path.Base(key),
			Path:    key,
			Size:    int64(len(f.data)),
			ModTime: f.modTime,
		}, nil
	}
	prefix := strings.TrimSuffix(key, "/") + "/"
	for k := range m.files {
		if strings.HasPrefix(k, prefix) {
			return &FileInfo{Name: path.Base(key), Path: key, IsDir: true}, nil
		}
	}
	return nil, nil
}

func (m *memDriver) List(ctx context.Context, prefix string, recursive bool) ([]FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	listPrefix := strings.TrimSuffix(prefix, "/")
	if listPrefix != "" {
		listPrefix += "/"
	}

	var out []FileInfo
	dirs := make(map[string]bool)
	for k, f := range m.files {
		if !strings.HasPrefix(k, listPrefix) {
			continue
		}
		rest := strings.TrimPrefix(k, listPrefix)
		if !recursive {
			if i := strings.Index(rest, "/"); i >= 0 {
				dirs[listPrefix+rest[:i]] = true
				continue
			}
		}
		out = append(out, FileInfo{
			Name:    path.Base(k),
			Path:    k,
			Size:    int64(len(f.data)),
			ModTime: f.modTime,
		})
	}
	for d := range dirs {
		out = append(out, FileInfo{Name: path.Base(d), Path: d, IsDir: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memDriver) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.files, key)
	return nil
}

func (m *memDriver) Rename(ctx context.Context, src, dst string) error {
	return NewPathError("rename", src, ErrNotSupported)
}

func (m *memDriver) Mkdir(ctx context.Context, key string) error { return nil }

func (m *memDriver) RemoveAll(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := strings.TrimSuffix(prefix, "/") + "/"
	for k := range m.files {
		if strings.HasPrefix(k, p) || k == prefix {
			delete(m.files, k)
		}
	}
	return nil
}

func (m *memDriver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
