package sstable

import (
	"bufio"
	"errors"
	"fmt"
	"math"

	"github.com/AmrMurad1/gostore/shared"
	"github.com/AmrMurad1/gostore/sstable/filter"
	"github.com/AmrMurad1/gostore/vfs"
)

// Write persists src as a new sorted run at path. The bytes go to a
// temporary file that is synced, closed and only then renamed to path, so a
// failed write never leaves a half-written run under a run name.
func Write(fs vfs.FS, path string, timestamp uint64, src shared.Source) (*SSTable, error) {
	count := src.Len()
	if count == 0 {
		return nil, errors.New("sstable: refusing to write an empty run")
	}

	index := make([]shared.IndexRecord, 0, count)
	bloom := filter.New()
	var blobLen uint64
	for key, value := range src.All() {
		if n := len(index); n > 0 && key <= index[n-1].Key {
			return nil, fmt.Errorf("sstable: key %d written after %d", key, index[n-1].Key)
		}
		if len(value) == 0 {
			return nil, fmt.Errorf("sstable: empty value for key %d", key)
		}
		if blobLen > math.MaxUint32 {
			return nil, fmt.Errorf("sstable: value blob exceeds %d bytes", uint64(math.MaxUint32))
		}
		index = append(index, shared.IndexRecord{Key: key, Offset: uint32(blobLen)})
		bloom.Add(key)
		blobLen += uint64(len(value))
	}
	if len(index) != count {
		return nil, fmt.Errorf("sstable: source reported %d entries, yielded %d", count, len(index))
	}

	header := shared.Header{
		Timestamp: timestamp,
		Count:     uint64(count),
		MinKey:    uint64(index[0].Key),
		MaxKey:    uint64(index[count-1].Key),
	}
	filterBytes := bloom.Encode()

	tmpPath := path + tmpSuffix
	if err := writeFile(fs, tmpPath, header, filterBytes, index, src); err != nil {
		_ = fs.RemoveFile(tmpPath)
		return nil, err
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		_ = fs.RemoveFile(tmpPath)
		return nil, fmt.Errorf("sstable: rename %s: %w", tmpPath, err)
	}

	file, err := fs.OpenRandomAccess(path)
	if err != nil {
		return nil, err
	}
	return &SSTable{
		fs:         fs,
		path:       path,
		id:         idFromPath(path),
		file:       file,
		header:     header,
		filter:     bloom,
		index:      index,
		blobOffset: int64(shared.RunOverhead + shared.IndexEntrySize*count),
		blobLen:    blobLen,
	}, nil
}

func writeFile(fs vfs.FS, path string, header shared.Header, filterBytes []byte, index []shared.IndexRecord, src shared.Source) error {
	file, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("sstable: create %s: %w", path, err)
	}
	writer := bufio.NewWriterSize(file, 64<<10)

	err = func() error {
		if _, err := writer.Write(encodeHeader(header)); err != nil {
			return err
		}
		if _, err := writer.Write(filterBytes); err != nil {
			return err
		}
		if _, err := writer.Write(encodeIndex(index)); err != nil {
			return err
		}
		for _, value := range src.All() {
			if _, err := writer.Write(value); err != nil {
				return err
			}
		}
		if err := writer.Flush(); err != nil {
			return err
		}
		return file.Sync()
	}()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("sstable: write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("sstable: close %s: %w", path, err)
	}
	return nil
}
