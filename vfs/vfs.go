// Package vfs is the filesystem capability the storage core runs on.
//
// The core never touches the os package directly: directory checks,
// directory creation and removal, listing, and positioned file I/O all go
// through FS so tests can run against memory or inject write failures.
package vfs

import (
	"io"
	"os"
)

// FS is the filesystem interface.
type FS interface {
	// DirExists reports whether path exists and is a directory.
	DirExists(path string) bool

	// Mkdir creates path and any missing parents.
	Mkdir(path string) error

	// Rmdir removes an empty directory.
	Rmdir(path string) error

	// RemoveFile deletes a regular file.
	RemoveFile(path string) error

	// ListEntries returns the names (not paths) of the entries in path.
	ListEntries(path string) ([]string, error)

	// Create creates a new writable file, truncating any existing one.
	Create(name string) (WritableFile, error)

	// OpenAppend opens name for appending, creating it if needed.
	OpenAppend(name string) (WritableFile, error)

	// OpenRandomAccess opens an existing file for positioned reads.
	OpenRandomAccess(name string) (RandomAccessFile, error)

	// Rename atomically renames a file.
	Rename(oldname, newname string) error
}

// WritableFile is a file that can be written to.
type WritableFile interface {
	io.Writer
	io.Closer

	// Sync flushes the file contents to stable storage.
	Sync() error

	// Truncate changes the size of the file.
	Truncate(size int64) error
}

// RandomAccessFile is a file that can be read at any offset.
type RandomAccessFile interface {
	io.ReaderAt
	io.Closer

	// Size returns the file size.
	Size() int64
}

type osFS struct{}

// Default returns the OS filesystem.
func Default() FS {
	return osFS{}
}

func (osFS) DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (osFS) Mkdir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func (osFS) Rmdir(path string) error {
	return os.Remove(path)
}

func (osFS) RemoveFile(path string) error {
	return os.Remove(path)
}

func (osFS) ListEntries(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (osFS) Create(name string) (WritableFile, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (osFS) OpenAppend(name string) (WritableFile, error) {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (osFS) OpenRandomAccess(name string) (RandomAccessFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &osRandomAccessFile{File: f, size: info.Size()}, nil
}

func (osFS) Rename(oldname, newname string) error {
	return os.Rename(oldname, newname)
}

type osRandomAccessFile struct {
	*os.File
	size int64
}

func (f *osRandomAccessFile) Size() int64 { return f.size }
