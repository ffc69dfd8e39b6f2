package sstable

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/AmrMurad1/gostore/shared"
	"github.com/AmrMurad1/gostore/vfs"
)

type SSTableConfig struct {
	// MaxRunBytes caps the file size of every run a merge writes. Flushed
	// runs are bounded by the memtable budget instead.
	MaxRunBytes uint64

	// RecoveryConcurrency bounds how many runs are opened at once on startup.
	RecoveryConcurrency int

	Logger *slog.Logger
}

// SSManager owns the on-disk levels under dir. It is not safe for concurrent
// use; callers serialize access.
type SSManager struct {
	fs     vfs.FS
	dir    string
	config SSTableConfig
	logger *slog.Logger
	levels []*Level

	// timestamp is handed to the next flushed run.
	timestamp uint64
	nextID    uint64
}

// RunInfo describes one run for Stats.
type RunInfo struct {
	Path      string
	Timestamp uint64
	Scope     shared.Scope
	Count     int
	Size      uint64
}

type LevelStats struct {
	Tier     int
	Capacity int
	Runs     []RunInfo
}

func NewSSManager(fs vfs.FS, dir string, config SSTableConfig) (*SSManager, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	m := &SSManager{
		fs:        fs,
		dir:       dir,
		config:    config,
		logger:    config.Logger,
		timestamp: 1,
		nextID:    1,
	}

	if !fs.DirExists(dir) {
		if err := fs.Mkdir(dir); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return m, nil
	}

	if err := m.recover(); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

// recover loads level-0, level-1, ... until the first missing level
// directory.
func (m *SSManager) recover() error {
	var maxTimestamp, maxID uint64
	runs := 0
	for tier := 0; m.fs.DirExists(filepath.Join(m.dir, levelDirName(tier))); tier++ {
		level := NewLevel(m.fs, m.dir, tier)
		timestamp, id, err := level.Load(m.config.RecoveryConcurrency)
		if err != nil {
			return fmt.Errorf("failed to recover level %d: %w", tier, err)
		}
		m.levels = append(m.levels, level)
		maxTimestamp = max(maxTimestamp, timestamp)
		maxID = max(maxID, id)
		runs += level.Len()
	}
	m.timestamp = maxTimestamp + 1
	m.nextID = maxID + 1

	m.logger.Info("recovered storage",
		slog.String("dir", m.dir),
		slog.Int("levels", len(m.levels)),
		slog.Int("runs", runs),
		slog.Uint64("next_timestamp", m.timestamp))
	return nil
}

func (m *SSManager) createLevel(tier int) error {
	level := NewLevel(m.fs, m.dir, tier)
	if err := m.fs.Mkdir(level.Dir()); err != nil {
		return fmt.Errorf("failed to create level %d: %w", tier, err)
	}
	m.levels = append(m.levels, level)
	return nil
}

func (m *SSManager) newRunPath(tier int, timestamp uint64) string {
	path := filepath.Join(m.dir, levelDirName(tier), runFileName(timestamp, m.nextID))
	m.nextID++
	return path
}

// AddSSTable writes src as a new tier 0 run with the next timestamp and then
// compacts any level that overflowed. Empty sources are ignored.
func (m *SSManager) AddSSTable(src shared.Source) error {
	if src.Len() == 0 {
		return nil
	}
	if len(m.levels) == 0 {
		if err := m.createLevel(0); err != nil {
			return err
		}
	}

	timestamp := m.timestamp
	run, err := Write(m.fs, m.newRunPath(0, timestamp), timestamp, src)
	if err != nil {
		return fmt.Errorf("failed to flush memtable: %w", err)
	}
	m.timestamp++
	m.levels[0].Append(run)

	m.logger.Info("memtable flushed",
		slog.String("path", run.Path()),
		slog.Uint64("timestamp", timestamp),
		slog.Int("entries", run.Count()))

	return m.fixLevels()
}

// fixLevels walks every level top down and compacts each one holding more
// runs than its capacity into the level below. Levels within capacity are
// skipped rather than ending the walk, so a level left full by an earlier
// failed compaction is drained on the next flush.
func (m *SSManager) fixLevels() error {
	for i := 0; i < len(m.levels); i++ {
		if m.levels[i].Len() <= m.levels[i].Capacity() {
			continue
		}
		if err := m.compactLevel(i); err != nil {
			return fmt.Errorf("compaction of level %d failed: %w", i, err)
		}
	}
	m.listSSTables()
	return nil
}

func (m *SSManager) compactLevel(i int) error {
	upper := m.levels[i]
	var victims []*SSTable
	if i == 0 {
		victims = upper.PopOldest(upper.Len())
	} else {
		victims = upper.PopOldest(upper.Len() - upper.Capacity())
	}

	if i == len(m.levels)-1 {
		if err := m.createLevel(i + 1); err != nil {
			for _, run := range victims {
				upper.Append(run)
			}
			return err
		}
	}
	lower := m.levels[i+1]

	scope := victims[0].Scope()
	for _, run := range victims[1:] {
		scope = scope.Union(run.Scope())
	}
	partners := lower.TakeRange(lower.RangeOverlap(scope))
	dropTombstones := i+1 == len(m.levels)-1

	m.logger.Info("compaction started",
		slog.Int("level", i),
		slog.Int("victims", len(victims)),
		slog.Int("partners", len(partners)),
		slog.Bool("drop_tombstones", dropTombstones))

	inputs := slices.Concat(victims, partners)
	outputs, err := m.compactSSTables(i+1, inputs, dropTombstones)
	if err != nil {
		for _, run := range victims {
			upper.Append(run)
		}
		for _, run := range partners {
			lower.Append(run)
		}
		return err
	}

	if err := m.retire(inputs); err != nil {
		var errs []error
		for _, run := range outputs {
			if rmErr := run.Remove(); rmErr != nil {
				errs = append(errs, rmErr)
			}
		}
		for _, run := range victims {
			upper.Append(run)
		}
		for _, run := range partners {
			lower.Append(run)
		}
		return errors.Join(append([]error{err}, errs...)...)
	}
	for _, run := range outputs {
		lower.Append(run)
	}

	for _, run := range inputs {
		retired := run.Path() + tmpSuffix
		if err := errors.Join(run.Close(), m.fs.RemoveFile(retired)); err != nil {
			m.logger.Warn("failed to delete compacted run",
				slog.String("path", retired),
				slog.Any("error", err))
		}
	}

	m.logger.Info("compaction finished",
		slog.Int("level", i),
		slog.Int("outputs", len(outputs)))
	return nil
}

// retire renames every input run to its temporary name. Load sweeps those, so
// once a run is retired a failed delete can no longer bring it back. On error
// the runs already renamed are moved back.
func (m *SSManager) retire(inputs []*SSTable) error {
	for n, run := range inputs {
		if err := m.fs.Rename(run.Path(), run.Path()+tmpSuffix); err != nil {
			for _, done := range inputs[:n] {
				if undoErr := m.fs.Rename(done.Path()+tmpSuffix, done.Path()); undoErr != nil {
					err = errors.Join(err, undoErr)
				}
			}
			return fmt.Errorf("failed to retire run %s: %w", run.Path(), err)
		}
	}
	return nil
}

func (m *SSManager) compactSSTables(tier int, inputs []*SSTable, dropTombstones bool) ([]*SSTable, error) {
	return Merge(m.fs, inputs, dropTombstones, m.config.MaxRunBytes, func(timestamp uint64) string {
		return m.newRunPath(tier, timestamp)
	})
}

// Get returns the newest stored version of key across all levels. On equal
// timestamps the lower tier wins. A tombstone reads as not found.
func (m *SSManager) Get(key shared.Key) ([]byte, bool, error) {
	var (
		value     []byte
		timestamp uint64
		found     bool
	)
	for _, level := range m.levels {
		v, ts, ok, err := level.Get(key)
		if err != nil {
			return nil, false, fmt.Errorf("error searching level %d: %w", level.Tier(), err)
		}
		if ok && (!found || ts > timestamp) {
			value, timestamp, found = v, ts, true
		}
	}
	if !found || shared.IsTombstone(value) {
		return nil, false, nil
	}
	return value, true, nil
}

// Clear deletes every run and level directory and starts the timestamp over.
func (m *SSManager) Clear() error {
	var errs []error
	for _, level := range m.levels {
		if err := level.DeleteAll(); err != nil {
			errs = append(errs, err)
		}
	}
	m.levels = nil
	m.timestamp = 1
	m.nextID = 1
	return errors.Join(errs...)
}

func (m *SSManager) Stats() []LevelStats {
	stats := make([]LevelStats, 0, len(m.levels))
	for _, level := range m.levels {
		ls := LevelStats{Tier: level.Tier(), Capacity: level.Capacity()}
		for _, run := range level.Runs() {
			ls.Runs = append(ls.Runs, RunInfo{
				Path:      run.Path(),
				Timestamp: run.Timestamp(),
				Scope:     run.Scope(),
				Count:     run.Count(),
				Size:      run.Size(),
			})
		}
		stats = append(stats, ls)
	}
	return stats
}

// listSSTables dumps the level layout at debug level.
func (m *SSManager) listSSTables() {
	for _, level := range m.levels {
		m.logger.Debug("level layout",
			slog.Int("level", level.Tier()),
			slog.Int("runs", level.Len()),
			slog.Int("capacity", level.Capacity()))
	}
}

func (m *SSManager) Close() error {
	var errs []error
	for _, level := range m.levels {
		if err := level.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
