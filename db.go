// Package gostore is an embedded key-value store for uint64 keys built as a
// log-structured merge tree: writes land in a skip-list memtable backed by a
// write-ahead log and are flushed into tiers of immutable sorted runs that
// compact downward as they fill.
package gostore

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AmrMurad1/gostore/memtable"
	"github.com/AmrMurad1/gostore/shared"
	"github.com/AmrMurad1/gostore/sstable"
)

type Key = shared.Key

type LevelStats = sstable.LevelStats

type Stats struct {
	MemtableEntries   int
	MemtableFootprint uint64
	Levels            []LevelStats
}

// DB is safe for concurrent use; all operations are serialized.
type DB struct {
	mu             sync.Mutex
	dir            string
	opts           Options
	logger         *slog.Logger
	memtable       *memtable.Memtable
	wal            *memtable.Wal
	sstableManager *sstable.SSManager
	closed         bool
}

// Open opens the store rooted at dir, creating it if needed. Runs left by a
// previous process are loaded and the write-ahead log is replayed.
func Open(dir string, opts ...func(*Options)) (*DB, error) {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if err := options.validate(); err != nil {
		return nil, err
	}

	db := &DB{
		dir:      dir,
		opts:     options,
		logger:   options.Logger,
		memtable: memtable.NewMemtable(options.MaxRunBytes),
	}

	var err error
	db.sstableManager, err = sstable.NewSSManager(options.FS, dir, sstable.SSTableConfig{
		MaxRunBytes:         options.MaxRunBytes,
		RecoveryConcurrency: options.RecoveryConcurrency,
		Logger:              options.Logger,
	})
	if err != nil {
		db.logger.Error("setup failed", slog.String("dir", dir), slog.Any("error", err))
		return nil, err
	}

	if !options.DisableWAL {
		db.wal, err = memtable.NewWal(options.FS, dir, options.SyncWAL)
		if err == nil {
			err = db.replayWal()
		}
		if err != nil {
			db.logger.Error("setup failed", slog.String("dir", dir), slog.Any("error", err))
			if db.wal != nil {
				_ = db.wal.Close()
			}
			_ = db.sstableManager.Close()
			return nil, err
		}
	}

	return db, nil
}

func (db *DB) replayWal() error {
	var entries []shared.Entry
	records, truncated, err := db.wal.Retrieve(func(entry shared.Entry) {
		entries = append(entries, entry)
	})
	if err != nil {
		return err
	}

	// A smaller MaxRunBytes than the previous process used can make the log
	// outgrow the memtable.
	flushed := false
	for _, entry := range entries {
		if db.memtable.Put(entry.Key, entry.Value) {
			continue
		}
		if err := db.sstableManager.AddSSTable(db.memtable); err != nil {
			return err
		}
		db.memtable.Clear()
		flushed = true
		if !db.memtable.Put(entry.Key, entry.Value) {
			return fmt.Errorf("%w: key %d in WAL with %d value bytes", shared.ErrValueTooLarge, entry.Key, len(entry.Value))
		}
	}
	if flushed {
		if err := db.rewriteWal(); err != nil {
			return err
		}
	}

	if records > 0 || truncated {
		db.logger.Info("wal replayed",
			slog.Int("records", records),
			slog.Bool("truncated", truncated),
			slog.Int("entries", db.memtable.Len()))
	}
	return nil
}

func (db *DB) rewriteWal() error {
	if err := db.wal.Clear(); err != nil {
		return err
	}
	for key, value := range db.memtable.All() {
		if err := db.wal.Append(shared.Entry{Key: key, Value: value}); err != nil {
			return err
		}
	}
	return nil
}

// Put stores value under key. Empty values and the tombstone literal are
// rejected with ErrInvalidValue.
func (db *DB) Put(key Key, value []byte) error {
	if len(value) == 0 || shared.IsTombstone(value) {
		return fmt.Errorf("%w: %q", shared.ErrInvalidValue, value)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return shared.ErrClosed
	}
	return db.write(key, bytes.Clone(value))
}

// write logs the entry before the memtable sees it, so a write that fails
// leaves no trace.
func (db *DB) write(key Key, value []byte) error {
	if !db.memtable.Fits(key, value) {
		if err := db.flushToDisk(); err != nil {
			return err
		}
		if !db.memtable.Fits(key, value) {
			return fmt.Errorf("%w: key %d with %d value bytes", shared.ErrValueTooLarge, key, len(value))
		}
	}
	if db.wal != nil {
		if err := db.wal.Append(shared.Entry{Key: key, Value: value}); err != nil {
			return err
		}
	}
	db.memtable.Put(key, value)
	return nil
}

// Get returns the current value of key. A missing or deleted key yields
// (nil, false, nil).
func (db *DB) Get(key Key) ([]byte, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, false, shared.ErrClosed
	}
	return db.get(key)
}

func (db *DB) get(key Key) ([]byte, bool, error) {
	if value, ok := db.memtable.Get(key); ok {
		if shared.IsTombstone(value) {
			return nil, false, nil
		}
		return bytes.Clone(value), true, nil
	}
	return db.sstableManager.Get(key)
}

// Delete removes key and reports whether it existed. Nothing is written for
// a key that is already absent.
func (db *DB) Delete(key Key) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return false, shared.ErrClosed
	}

	_, exists, err := db.get(key)
	if err != nil || !exists {
		return false, err
	}
	if err := db.write(key, shared.Tombstone); err != nil {
		return false, err
	}
	return true, nil
}

// Flush writes the memtable out as a tier 0 run, compacting as needed.
func (db *DB) Flush() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return shared.ErrClosed
	}
	return db.flushToDisk()
}

// flushToDisk keeps the memtable and the log intact on failure, so a retry
// only rewrites data that is already stored.
func (db *DB) flushToDisk() error {
	if db.memtable.Len() == 0 {
		return nil
	}
	if err := db.sstableManager.AddSSTable(db.memtable); err != nil {
		return err
	}
	db.memtable.Clear()
	if db.wal != nil {
		return db.wal.Clear()
	}
	return nil
}

// Reset deletes every key: the memtable, the log and all levels.
func (db *DB) Reset() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return shared.ErrClosed
	}

	db.memtable.Clear()
	var errs []error
	if db.wal != nil {
		errs = append(errs, db.wal.Clear())
	}
	errs = append(errs, db.sstableManager.Clear())
	db.logger.Info("store reset", slog.String("dir", db.dir))
	return errors.Join(errs...)
}

func (db *DB) Stats() (Stats, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return Stats{}, shared.ErrClosed
	}
	return Stats{
		MemtableEntries:   db.memtable.Len(),
		MemtableFootprint: db.memtable.Footprint(),
		Levels:            db.sstableManager.Stats(),
	}, nil
}

// Close flushes the memtable and releases every open file. Closing twice is
// a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	errs := []error{db.flushToDisk()}
	if db.wal != nil {
		errs = append(errs, db.wal.Close())
	}
	errs = append(errs, db.sstableManager.Close())
	return errors.Join(errs...)
}
