package sstable

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/huandu/skiplist"
	"golang.org/x/sync/errgroup"

	"github.com/AmrMurad1/gostore/shared"
	"github.com/AmrMurad1/gostore/vfs"
)

// catalogKey orders a level's runs oldest first. The id keeps two runs with
// the same timestamp and minimum key apart.
type catalogKey struct {
	timestamp uint64
	minKey    shared.Key
	id        uint64
}

func compareCatalogKeys(a, b interface{}) int {
	ka := a.(catalogKey)
	kb := b.(catalogKey)
	switch {
	case ka.timestamp != kb.timestamp:
		if ka.timestamp < kb.timestamp {
			return -1
		}
		return 1
	case ka.minKey != kb.minKey:
		return shared.CompareKeys(ka.minKey, kb.minKey)
	case ka.id < kb.id:
		return -1
	case ka.id > kb.id:
		return 1
	}
	return 0
}

func keyOf(run *SSTable) catalogKey {
	return catalogKey{timestamp: run.Timestamp(), minKey: run.Scope().Min, id: run.ID()}
}

// Level is one tier of the tree. Tier 0 runs may overlap; from tier 1 on the
// runs of a level have pairwise disjoint key ranges. Each run is held twice:
// in the catalog, ordered by age, and in byRange, ordered by minimum key.
type Level struct {
	fs      vfs.FS
	tier    int
	dir     string
	catalog *skiplist.SkipList
	byRange []*SSTable
}

func NewLevel(fs vfs.FS, root string, tier int) *Level {
	return &Level{
		fs:      fs,
		tier:    tier,
		dir:     filepath.Join(root, levelDirName(tier)),
		catalog: skiplist.New(skiplist.GreaterThanFunc(compareCatalogKeys)),
	}
}

func (l *Level) Tier() int {
	return l.tier
}

func (l *Level) Dir() string {
	return l.dir
}

func (l *Level) Len() int {
	return l.catalog.Len()
}

// Capacity is the number of runs the level holds before it must compact.
func (l *Level) Capacity() int {
	return 1 << (l.tier + 1)
}

func (l *Level) Append(run *SSTable) {
	l.catalog.Set(keyOf(run), run)
	i := sort.Search(len(l.byRange), func(i int) bool {
		return l.byRange[i].Scope().Min > run.Scope().Min
	})
	l.byRange = slices.Insert(l.byRange, i, run)
}

// Runs lists the level's runs oldest first.
func (l *Level) Runs() []*SSTable {
	runs := make([]*SSTable, 0, l.catalog.Len())
	for elem := l.catalog.Front(); elem != nil; elem = elem.Next() {
		runs = append(runs, elem.Value.(*SSTable))
	}
	return runs
}

func (l *Level) remove(run *SSTable) {
	l.catalog.Remove(keyOf(run))
	l.byRange = slices.DeleteFunc(l.byRange, func(r *SSTable) bool { return r == run })
}

// PopOldest removes and returns up to k runs with the smallest
// (timestamp, minimum key) order.
func (l *Level) PopOldest(k int) []*SSTable {
	var popped []*SSTable
	for elem := l.catalog.Front(); elem != nil && len(popped) < k; elem = elem.Next() {
		popped = append(popped, elem.Value.(*SSTable))
	}
	for _, run := range popped {
		l.remove(run)
	}
	return popped
}

// RangeOverlap returns the half-open interval [first, last) of byRange whose
// runs intersect scope. It relies on the runs being disjoint.
func (l *Level) RangeOverlap(scope shared.Scope) (first, last int) {
	first = sort.Search(len(l.byRange), func(i int) bool {
		return l.byRange[i].Scope().Max >= scope.Min
	})
	last = sort.Search(len(l.byRange), func(i int) bool {
		return l.byRange[i].Scope().Min > scope.Max
	})
	return first, last
}

// TakeRange removes the runs byRange[first:last] from the level.
func (l *Level) TakeRange(first, last int) []*SSTable {
	taken := slices.Clone(l.byRange[first:last])
	for _, run := range taken {
		l.remove(run)
	}
	return taken
}

// Get looks key up in the level. It returns the stored value, which may be
// the tombstone, and the timestamp of the run it came from.
func (l *Level) Get(key shared.Key) ([]byte, uint64, bool, error) {
	if l.tier == 0 {
		var (
			value     []byte
			timestamp uint64
			found     bool
		)
		for elem := l.catalog.Front(); elem != nil; elem = elem.Next() {
			run := elem.Value.(*SSTable)
			if !run.Scope().Contains(key) {
				continue
			}
			v, ok, err := run.Get(key)
			if err != nil {
				return nil, 0, false, err
			}
			if ok && (!found || run.Timestamp() >= timestamp) {
				value, timestamp, found = v, run.Timestamp(), true
			}
		}
		return value, timestamp, found, nil
	}

	i := sort.Search(len(l.byRange), func(i int) bool {
		return l.byRange[i].Scope().Max >= key
	})
	if i == len(l.byRange) || !l.byRange[i].Scope().Contains(key) {
		return nil, 0, false, nil
	}
	run := l.byRange[i]
	value, ok, err := run.Get(key)
	if err != nil || !ok {
		return nil, 0, false, err
	}
	return value, run.Timestamp(), true, nil
}

// Load opens every run file in the level directory, at most concurrency at a
// time, and removes leftover temporary files. It returns the largest
// timestamp and id seen.
func (l *Level) Load(concurrency int) (maxTimestamp, maxID uint64, err error) {
	names, err := l.fs.ListEntries(l.dir)
	if err != nil {
		return 0, 0, err
	}

	var paths []string
	for _, name := range names {
		path := filepath.Join(l.dir, name)
		if strings.HasSuffix(name, tmpSuffix) {
			if err := l.fs.RemoveFile(path); err != nil {
				return 0, 0, fmt.Errorf("remove partial run %s: %w", path, err)
			}
			continue
		}
		if _, _, ok := parseRunFileName(name); ok {
			paths = append(paths, path)
		}
	}

	runs := make([]*SSTable, len(paths))
	var g errgroup.Group
	g.SetLimit(max(concurrency, 1))
	for i, path := range paths {
		g.Go(func() error {
			run, err := Open(l.fs, path)
			if err != nil {
				return err
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, run := range runs {
			if run != nil {
				_ = run.Close()
			}
		}
		return 0, 0, err
	}

	for _, run := range runs {
		l.Append(run)
		maxTimestamp = max(maxTimestamp, run.Timestamp())
		maxID = max(maxID, run.ID())
	}
	return maxTimestamp, maxID, nil
}

// DeleteAll removes every run file and the level directory.
func (l *Level) DeleteAll() error {
	var errs []error
	for _, run := range l.Runs() {
		if err := run.Remove(); err != nil {
			errs = append(errs, err)
		}
		l.remove(run)
	}
	if err := l.fs.Rmdir(l.dir); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (l *Level) Close() error {
	var errs []error
	for _, run := range l.Runs() {
		if err := run.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
