package vfs

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrInjected is returned by MemFS writes while a write fault is armed.
var ErrInjected = errors.New("vfs: injected write fault")

// MemFS is an in-memory FS. Files opened for reading see a snapshot taken at
// open time, like a file descriptor on a file that is later unlinked.
type MemFS struct {
	mu          sync.Mutex
	dirs        map[string]bool
	files       map[string][]byte
	failWrites  bool
	failRemoves bool
}

// NewMem returns an empty in-memory filesystem.
func NewMem() *MemFS {
	return &MemFS{
		dirs:  map[string]bool{},
		files: map[string][]byte{},
	}
}

// SetWriteFault makes every subsequent Write and Sync fail with ErrInjected
// until it is called again with false.
func (m *MemFS) SetWriteFault(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = on
}

// SetRemoveFault makes every subsequent RemoveFile fail with ErrInjected
// until it is called again with false.
func (m *MemFS) SetRemoveFault(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRemoves = on
}

// Files returns the sorted paths of all regular files.
func (m *MemFS) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Corrupt overwrites bytes of an existing file starting at off.
func (m *MemFS) Corrupt(name string, off int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := m.files[filepath.Clean(name)]
	copy(buf[off:], data)
}

// TruncateFile cuts an existing file to size bytes.
func (m *MemFS) TruncateFile(name string, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = filepath.Clean(name)
	if buf, ok := m.files[name]; ok && size < len(buf) {
		m.files[name] = buf[:size]
	}
}

func (m *MemFS) DirExists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirs[filepath.Clean(path)]
}

func (m *MemFS) Mkdir(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := filepath.Clean(path); ; p = filepath.Dir(p) {
		if _, ok := m.files[p]; ok {
			return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
		}
		m.dirs[p] = true
		if parent := filepath.Dir(p); parent == p {
			return nil
		}
	}
}

func (m *MemFS) Rmdir(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	if !m.dirs[path] {
		return &fs.PathError{Op: "rmdir", Path: path, Err: fs.ErrNotExist}
	}
	if len(m.childrenLocked(path)) > 0 {
		return &fs.PathError{Op: "rmdir", Path: path, Err: errors.New("directory not empty")}
	}
	delete(m.dirs, path)
	return nil
}

func (m *MemFS) RemoveFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	if m.failRemoves {
		return ErrInjected
	}
	if _, ok := m.files[path]; !ok {
		return &fs.PathError{Op: "remove", Path: path, Err: fs.ErrNotExist}
	}
	delete(m.files, path)
	return nil
}

func (m *MemFS) ListEntries(path string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	if !m.dirs[path] {
		return nil, &fs.PathError{Op: "readdir", Path: path, Err: fs.ErrNotExist}
	}
	names := m.childrenLocked(path)
	sort.Strings(names)
	return names, nil
}

func (m *MemFS) childrenLocked(dir string) []string {
	var names []string
	prefix := dir + string(filepath.Separator)
	collect := func(p string) {
		if rest, ok := strings.CutPrefix(p, prefix); ok && !strings.ContainsRune(rest, filepath.Separator) {
			names = append(names, rest)
		}
	}
	for p := range m.files {
		collect(p)
	}
	for p := range m.dirs {
		if p != dir {
			collect(p)
		}
	}
	return names
}

func (m *MemFS) checkParentLocked(name string) error {
	if dir := filepath.Dir(name); !m.dirs[dir] {
		return &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return nil
}

func (m *MemFS) Create(name string) (WritableFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = filepath.Clean(name)
	if err := m.checkParentLocked(name); err != nil {
		return nil, err
	}
	m.files[name] = nil
	return &memWritableFile{fs: m, name: name}, nil
}

func (m *MemFS) OpenAppend(name string) (WritableFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = filepath.Clean(name)
	if err := m.checkParentLocked(name); err != nil {
		return nil, err
	}
	if _, ok := m.files[name]; !ok {
		m.files[name] = nil
	}
	return &memWritableFile{fs: m, name: name}, nil
}

func (m *MemFS) OpenRandomAccess(name string) (RandomAccessFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = filepath.Clean(name)
	data, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &memRandomAccessFile{data: append([]byte(nil), data...)}, nil
}

func (m *MemFS) Rename(oldname, newname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldname, newname = filepath.Clean(oldname), filepath.Clean(newname)
	data, ok := m.files[oldname]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldname, Err: fs.ErrNotExist}
	}
	if err := m.checkParentLocked(newname); err != nil {
		return err
	}
	delete(m.files, oldname)
	m.files[newname] = data
	return nil
}

type memWritableFile struct {
	fs     *MemFS
	name   string
	closed bool
}

func (f *memWritableFile) Write(p []byte) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.closed {
		return 0, fs.ErrClosed
	}
	if f.fs.failWrites {
		return 0, ErrInjected
	}
	if _, ok := f.fs.files[f.name]; !ok {
		return 0, &fs.PathError{Op: "write", Path: f.name, Err: fs.ErrNotExist}
	}
	f.fs.files[f.name] = append(f.fs.files[f.name], p...)
	return len(p), nil
}

func (f *memWritableFile) Sync() error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.fs.failWrites {
		return ErrInjected
	}
	return nil
}

func (f *memWritableFile) Truncate(size int64) error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	buf := f.fs.files[f.name]
	if size < int64(len(buf)) {
		f.fs.files[f.name] = buf[:size]
	}
	return nil
}

func (f *memWritableFile) Close() error {
	f.closed = true
	return nil
}

type memRandomAccessFile struct {
	data []byte
}

func (f *memRandomAccessFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("vfs: negative offset")
	}
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memRandomAccessFile) Size() int64 { return int64(len(f.data)) }

func (f *memRandomAccessFile) Close() error { return nil }
