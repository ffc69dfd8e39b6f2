package memtable

import (
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"

	"github.com/klauspost/compress/s2"
	"github.com/zeebo/xxh3"

	"github.com/AmrMurad1/gostore/shared"
	"github.com/AmrMurad1/gostore/vfs"
)

// WAL record format:
//
//	[ length : 4 bytes ]  size of the compressed payload
//	[ xxh3   : 8 bytes ]  checksum of the compressed payload
//	[ payload          ]  s2(key u64 ++ value)
const walHeaderSize = 4 + 8

const walFileName = "wal.log"

type Wal struct {
	fs     vfs.FS
	path   string
	writer vfs.WritableFile
	sync   bool

	// size is the length of the intact prefix; a failed append is cut back
	// to it.
	size int64
}

// NewWal opens (or creates) the log in dir. Call Retrieve before the first
// Append to recover entries left by a previous process.
func NewWal(fs vfs.FS, dir string, sync bool) (*Wal, error) {
	w := &Wal{
		fs:   fs,
		path: filepath.Join(dir, walFileName),
		sync: sync,
	}
	return w, w.Open()
}

func (w *Wal) Open() error {
	file, err := w.fs.OpenAppend(w.path)
	if err != nil {
		return fmt.Errorf("WAL %q cannot open file: %w", w.path, err)
	}

	reader, err := w.fs.OpenRandomAccess(w.path)
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("WAL %q cannot stat file: %w", w.path, err)
	}
	w.size = reader.Size()
	_ = reader.Close()

	w.writer = file
	return nil
}

func (w *Wal) Path() string {
	return w.path
}

func encodeRecord(entry shared.Entry) []byte {
	payload := make([]byte, 8+len(entry.Value))
	binary.LittleEndian.PutUint64(payload, uint64(entry.Key))
	copy(payload[8:], entry.Value)
	compressed := s2.Encode(nil, payload)

	buf := make([]byte, walHeaderSize, walHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(compressed)))
	binary.LittleEndian.PutUint64(buf[4:12], xxh3.Hash(compressed))
	return append(buf, compressed...)
}

// decodeRecord parses the record at the start of data and returns it with
// its encoded size. io.ErrUnexpectedEOF means the record is torn.
func decodeRecord(data []byte) (shared.Entry, int, error) {
	if len(data) < walHeaderSize {
		return shared.Entry{}, 0, io.ErrUnexpectedEOF
	}
	length := int(binary.LittleEndian.Uint32(data[0:4]))
	want := binary.LittleEndian.Uint64(data[4:12])
	if len(data)-walHeaderSize < length {
		return shared.Entry{}, 0, io.ErrUnexpectedEOF
	}

	compressed := data[walHeaderSize : walHeaderSize+length]
	if got := xxh3.Hash(compressed); got != want {
		return shared.Entry{}, 0, fmt.Errorf("%w: checksum %x, want %x", shared.ErrCorruptWAL, got, want)
	}
	payload, err := s2.Decode(nil, compressed)
	if err != nil {
		return shared.Entry{}, 0, fmt.Errorf("%w: %v", shared.ErrCorruptWAL, err)
	}
	if len(payload) < 8 {
		return shared.Entry{}, 0, fmt.Errorf("%w: payload is %d bytes", shared.ErrCorruptWAL, len(payload))
	}

	return shared.Entry{
		Key:   shared.Key(binary.LittleEndian.Uint64(payload)),
		Value: payload[8:],
	}, walHeaderSize + length, nil
}

// Append logs entry. On failure the log is truncated back to its previous
// length so a torn record cannot hide later ones from replay.
func (w *Wal) Append(entry shared.Entry) error {
	record := encodeRecord(entry)
	if _, err := w.writer.Write(record); err != nil {
		_ = w.writer.Truncate(w.size)
		return fmt.Errorf("WAL append: %w", err)
	}
	if w.sync {
		if err := w.writer.Sync(); err != nil {
			_ = w.writer.Truncate(w.size)
			return fmt.Errorf("WAL sync: %w", err)
		}
	}
	w.size += int64(len(record))
	return nil
}

// Retrieve feeds every intact record to apply in log order. A torn or
// corrupt tail is cut off at the last good record; truncated reports whether
// that happened.
func (w *Wal) Retrieve(apply func(shared.Entry)) (records int, truncated bool, err error) {
	file, err := w.fs.OpenRandomAccess(w.path)
	if err != nil {
		return 0, false, fmt.Errorf("WAL %q cannot open for replay: %w", w.path, err)
	}
	defer file.Close()

	data := make([]byte, file.Size())
	if _, err := file.ReadAt(data, 0); err != nil && err != io.EOF {
		return 0, false, fmt.Errorf("WAL %q read: %w", w.path, err)
	}

	offset := 0
	for offset < len(data) {
		entry, n, err := decodeRecord(data[offset:])
		if err != nil {
			if err := w.writer.Truncate(int64(offset)); err != nil {
				return records, false, fmt.Errorf("WAL %q truncate: %w", w.path, err)
			}
			w.size = int64(offset)
			return records, true, nil
		}
		apply(entry)
		records++
		offset += n
	}
	w.size = int64(offset)
	return records, false, nil
}

// Clear empties the log once its contents are safely in a sorted run.
func (w *Wal) Clear() error {
	if err := w.writer.Truncate(0); err != nil {
		return fmt.Errorf("WAL %q truncate: %w", w.path, err)
	}
	w.size = 0
	if w.sync {
		return w.writer.Sync()
	}
	return nil
}

func (w *Wal) Close() error {
	return w.writer.Close()
}
