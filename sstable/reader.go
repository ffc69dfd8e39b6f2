package sstable

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/AmrMurad1/gostore/shared"
	"github.com/AmrMurad1/gostore/sstable/filter"
	"github.com/AmrMurad1/gostore/vfs"
)

// SSTable is an open, immutable sorted run. The header, filter and index are
// held in memory; values are read from the file on demand.
type SSTable struct {
	fs         vfs.FS
	path       string
	id         uint64
	file       vfs.RandomAccessFile
	header     shared.Header
	filter     *filter.Filter
	index      []shared.IndexRecord
	blobOffset int64
	blobLen    uint64
}

func corruptf(path, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", shared.ErrCorruptRun, path, fmt.Sprintf(format, args...))
}

func idFromPath(path string) uint64 {
	_, id, _ := parseRunFileName(filepath.Base(path))
	return id
}

// Open loads the metadata of the run at path and validates it against the
// file length.
func Open(fs vfs.FS, path string) (*SSTable, error) {
	file, err := fs.OpenRandomAccess(path)
	if err != nil {
		return nil, err
	}
	sstable, err := load(fs, path, file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return sstable, nil
}

func load(fs vfs.FS, path string, file vfs.RandomAccessFile) (*SSTable, error) {
	size := file.Size()
	if size < shared.RunOverhead {
		return nil, corruptf(path, "file is %d bytes, shorter than header and filter", size)
	}

	//read header and filter
	prefix := make([]byte, shared.RunOverhead)
	if _, err := file.ReadAt(prefix, 0); err != nil {
		return nil, corruptf(path, "read header: %v", err)
	}
	header := decodeHeader(prefix[:shared.HeaderSize])
	if header.Count == 0 {
		return nil, corruptf(path, "run has no entries")
	}
	if header.Count > uint64(size-shared.RunOverhead)/shared.IndexEntrySize {
		return nil, corruptf(path, "count %d does not fit in %d bytes", header.Count, size)
	}
	bloom, err := filter.Decode(prefix[shared.HeaderSize:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	//read index
	indexLen := int64(header.Count) * shared.IndexEntrySize
	indexBytes := make([]byte, indexLen)
	if _, err := file.ReadAt(indexBytes, shared.RunOverhead); err != nil {
		return nil, corruptf(path, "read index: %v", err)
	}
	index := decodeIndex(indexBytes)

	blobOffset := shared.RunOverhead + indexLen
	blobLen := uint64(size - blobOffset)
	for i, record := range index {
		if i > 0 && record.Key <= index[i-1].Key {
			return nil, corruptf(path, "index keys out of order at entry %d", i)
		}
		if i == 0 && record.Offset != 0 {
			return nil, corruptf(path, "first value offset is %d", record.Offset)
		}
		if i > 0 && record.Offset <= index[i-1].Offset {
			return nil, corruptf(path, "value offsets not increasing at entry %d", i)
		}
		if uint64(record.Offset) >= blobLen {
			return nil, corruptf(path, "value offset %d beyond blob of %d bytes", record.Offset, blobLen)
		}
	}
	if shared.Key(header.MinKey) != index[0].Key || shared.Key(header.MaxKey) != index[len(index)-1].Key {
		return nil, corruptf(path, "header range [%d, %d] disagrees with index", header.MinKey, header.MaxKey)
	}

	return &SSTable{
		fs:         fs,
		path:       path,
		id:         idFromPath(path),
		file:       file,
		header:     header,
		filter:     bloom,
		index:      index,
		blobOffset: blobOffset,
		blobLen:    blobLen,
	}, nil
}

func (s *SSTable) Timestamp() uint64 {
	return s.header.Timestamp
}

func (s *SSTable) Scope() shared.Scope {
	return s.header.Scope()
}

func (s *SSTable) Count() int {
	return len(s.index)
}

func (s *SSTable) Path() string {
	return s.path
}

// ID is the sequence number encoded in the file name.
func (s *SSTable) ID() uint64 {
	return s.id
}

// Size is the length of the run file in bytes.
func (s *SSTable) Size() uint64 {
	return uint64(s.blobOffset) + s.blobLen
}

// valueRange returns the [start, end) blob offsets of entry i.
func (s *SSTable) valueRange(i int) (uint64, uint64) {
	start := uint64(s.index[i].Offset)
	end := s.blobLen
	if i+1 < len(s.index) {
		end = uint64(s.index[i+1].Offset)
	}
	return start, end
}

// Get returns the stored value for key, which may be the tombstone.
func (s *SSTable) Get(key shared.Key) ([]byte, bool, error) {
	if !s.Scope().Contains(key) || !s.filter.MayContain(key) {
		return nil, false, nil
	}

	i := sort.Search(len(s.index), func(i int) bool {
		return s.index[i].Key >= key
	})
	if i == len(s.index) || s.index[i].Key != key {
		return nil, false, nil
	}

	start, end := s.valueRange(i)
	value := make([]byte, end-start)
	if _, err := s.file.ReadAt(value, s.blobOffset+int64(start)); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, false, corruptf(s.path, "value of key %d is truncated", key)
		}
		return nil, false, err
	}
	return value, true, nil
}

// ReadAll decodes every entry of the run in key order.
func (s *SSTable) ReadAll() ([]shared.Entry, error) {
	entries := make([]shared.Entry, 0, len(s.index))
	it := s.newIterator()
	for {
		entry, err := it.next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return entries, nil
		}
		entries = append(entries, *entry)
	}
}

func (s *SSTable) Close() error {
	return s.file.Close()
}

// Remove closes the run and deletes its file.
func (s *SSTable) Remove() error {
	return errors.Join(s.file.Close(), s.fs.RemoveFile(s.path))
}
