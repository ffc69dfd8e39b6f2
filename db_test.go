package gostore

import (
	"bytes"
	"fmt"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AmrMurad1/gostore/shared"
	"github.com/AmrMurad1/gostore/vfs"
)

const testRunBytes = 64 << 10

func openTest(t *testing.T, fs vfs.FS, extra ...func(*Options)) *DB {
	t.Helper()
	opts := append([]func(*Options){func(o *Options) {
		o.FS = fs
		o.Logger = slog.New(slog.DiscardHandler)
		o.MaxRunBytes = testRunBytes
	}}, extra...)
	db, err := Open("db", opts...)
	require.NoError(t, err)
	return db
}

func mustGet(t *testing.T, db *DB, key Key) (string, bool) {
	t.Helper()
	v, ok, err := db.Get(key)
	require.NoError(t, err)
	return string(v), ok
}

func sValue(i int) []byte {
	return bytes.Repeat([]byte("s"), i+1)
}

func TestPutGetDelete(t *testing.T) {
	db := openTest(t, vfs.NewMem())
	defer db.Close()

	require.NoError(t, db.Put(1, []byte("SE")))
	v, ok := mustGet(t, db, 1)
	require.True(t, ok)
	assert.Equal(t, "SE", v)

	existed, err := db.Delete(1)
	require.NoError(t, err)
	assert.True(t, existed)

	_, ok = mustGet(t, db, 1)
	assert.False(t, ok)

	existed, err = db.Delete(1)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestPutRejectsInvalidValues(t *testing.T) {
	db := openTest(t, vfs.NewMem())
	defer db.Close()

	assert.ErrorIs(t, db.Put(1, nil), ErrInvalidValue)
	assert.ErrorIs(t, db.Put(1, []byte{}), ErrInvalidValue)
	assert.ErrorIs(t, db.Put(1, []byte("~DELETED~")), ErrInvalidValue)

	_, ok := mustGet(t, db, 1)
	assert.False(t, ok)
}

func TestPutValueTooLarge(t *testing.T) {
	db := openTest(t, vfs.NewMem())
	defer db.Close()

	require.NoError(t, db.Put(1, []byte("small")))
	huge := make([]byte, testRunBytes)
	huge[0] = 'x'
	assert.ErrorIs(t, db.Put(2, huge), ErrValueTooLarge)

	v, ok := mustGet(t, db, 1)
	require.True(t, ok)
	assert.Equal(t, "small", v)
	_, ok = mustGet(t, db, 2)
	assert.False(t, ok)
}

func TestPutCopiesValue(t *testing.T) {
	db := openTest(t, vfs.NewMem())
	defer db.Close()

	value := []byte("abc")
	require.NoError(t, db.Put(1, value))
	value[0] = 'X'

	v, _ := mustGet(t, db, 1)
	assert.Equal(t, "abc", v)
}

func TestManyKeysForceCompaction(t *testing.T) {
	db := openTest(t, vfs.NewMem())
	defer db.Close()

	for i := range 1024 {
		require.NoError(t, db.Put(Key(i), sValue(i)))
	}

	stats, err := db.Stats()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(stats.Levels), 2, "at least one compaction into level 1")
	assert.NotEmpty(t, stats.Levels[1].Runs)

	for i := range 1024 {
		v, ok := mustGet(t, db, Key(i))
		require.True(t, ok, "key %d", i)
		assert.Len(t, v, i+1, "key %d", i)
	}
}

func TestDeleteEvenKeys(t *testing.T) {
	db := openTest(t, vfs.NewMem())
	defer db.Close()

	const n = 1024
	for i := range n {
		require.NoError(t, db.Put(Key(i), sValue(i)))
	}
	for i := 0; i < n; i += 2 {
		existed, err := db.Delete(Key(i))
		require.NoError(t, err)
		assert.True(t, existed, "key %d", i)
	}

	for i := range n {
		v, ok := mustGet(t, db, Key(i))
		if i%2 == 0 {
			assert.False(t, ok, "key %d", i)
			continue
		}
		require.True(t, ok, "key %d", i)
		assert.Len(t, v, i+1)
	}
}

func TestRandomOperationsMatchMap(t *testing.T) {
	db := openTest(t, vfs.NewMem(), func(o *Options) { o.MaxRunBytes = 24 << 10 })
	defer db.Close()

	r := rand.New(rand.NewSource(1))
	model := map[Key]string{}
	for op := range 6000 {
		key := Key(r.Intn(500))
		switch r.Intn(10) {
		case 0, 1, 2:
			existed, err := db.Delete(key)
			require.NoError(t, err)
			_, want := model[key]
			require.Equal(t, want, existed, "op %d delete %d", op, key)
			delete(model, key)
		case 3, 4:
			v, ok := mustGet(t, db, key)
			want, wantOK := model[key]
			require.Equal(t, wantOK, ok, "op %d get %d", op, key)
			require.Equal(t, want, v)
		default:
			value := fmt.Sprintf("%d-%s", op, bytes.Repeat([]byte("v"), r.Intn(200)))
			require.NoError(t, db.Put(key, []byte(value)))
			model[key] = value
		}
	}

	stats, err := db.Stats()
	require.NoError(t, err)
	for _, level := range stats.Levels {
		assert.LessOrEqual(t, len(level.Runs), level.Capacity)
		if level.Tier == 0 {
			continue
		}
		for i := 1; i < len(level.Runs); i++ {
			for j := 0; j < i; j++ {
				assert.False(t, level.Runs[i].Scope.Overlaps(level.Runs[j].Scope))
			}
		}
	}

	for key := Key(0); key < 500; key++ {
		v, ok := mustGet(t, db, key)
		want, wantOK := model[key]
		assert.Equal(t, wantOK, ok, "key %d", key)
		assert.Equal(t, want, v, "key %d", key)
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)
	open := func() *DB {
		db, err := Open(dir, func(o *Options) {
			o.Logger = logger
			o.MaxRunBytes = testRunBytes
		})
		require.NoError(t, err)
		return db
	}

	db := open()
	for i := range 1024 {
		require.NoError(t, db.Put(Key(i), sValue(i)))
	}
	_, err := db.Delete(7)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db = open()
	defer db.Close()
	for i := range 1024 {
		v, ok := mustGet(t, db, Key(i))
		if i == 7 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok, "key %d", i)
		assert.Len(t, v, i+1)
	}

	require.NoError(t, db.Put(7, []byte("back")))
	v, ok := mustGet(t, db, 7)
	require.True(t, ok)
	assert.Equal(t, "back", v)
}

func TestWalRecoversUnflushedWrites(t *testing.T) {
	fs := vfs.NewMem()
	crashed := openTest(t, fs)
	require.NoError(t, crashed.Put(1, []byte("one")))
	require.NoError(t, crashed.Put(2, []byte("two")))
	_, err := crashed.Delete(1)
	require.NoError(t, err)
	// no Close: the process dies with everything still in the memtable

	db := openTest(t, fs)
	defer db.Close()
	_, ok := mustGet(t, db, 1)
	assert.False(t, ok)
	v, ok := mustGet(t, db, 2)
	require.True(t, ok)
	assert.Equal(t, "two", v)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MemtableEntries)
}

func TestFailedWalAppendLeavesNoTrace(t *testing.T) {
	fs := vfs.NewMem()
	crashed := openTest(t, fs)
	require.NoError(t, crashed.Put(1, []byte("one")))

	fs.SetWriteFault(true)
	assert.ErrorIs(t, crashed.Put(5, []byte("ghost")), vfs.ErrInjected)
	existed, err := crashed.Delete(1)
	assert.ErrorIs(t, err, vfs.ErrInjected)
	assert.False(t, existed)
	fs.SetWriteFault(false)

	_, ok := mustGet(t, crashed, 5)
	assert.False(t, ok)
	v, ok := mustGet(t, crashed, 1)
	require.True(t, ok)
	assert.Equal(t, "one", v)
	stats, err := crashed.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MemtableEntries)

	require.NoError(t, crashed.Put(2, []byte("two")))

	db := openTest(t, fs)
	defer db.Close()
	_, ok = mustGet(t, db, 5)
	assert.False(t, ok)
	v, ok = mustGet(t, db, 1)
	require.True(t, ok)
	assert.Equal(t, "one", v)
	v, ok = mustGet(t, db, 2)
	require.True(t, ok)
	assert.Equal(t, "two", v)
}

func TestWalReplayIntoSmallerBudget(t *testing.T) {
	fs := vfs.NewMem()
	crashed := openTest(t, fs)
	for i := range 40 {
		require.NoError(t, crashed.Put(Key(i), bytes.Repeat([]byte("w"), 1000)))
	}

	small := shared.Footprint(10, 10*1000)
	db := openTest(t, fs, func(o *Options) { o.MaxRunBytes = small })
	for i := range 40 {
		v, ok := mustGet(t, db, Key(i))
		require.True(t, ok, "key %d", i)
		assert.Len(t, v, 1000)
	}
	require.NoError(t, db.Close())

	db = openTest(t, fs, func(o *Options) { o.MaxRunBytes = small })
	defer db.Close()
	for i := range 40 {
		_, ok := mustGet(t, db, Key(i))
		assert.True(t, ok, "key %d", i)
	}
}

func TestDisableWAL(t *testing.T) {
	fs := vfs.NewMem()
	noWal := func(o *Options) { o.DisableWAL = true }

	crashed := openTest(t, fs, noWal)
	require.NoError(t, crashed.Put(1, []byte("one")))
	assert.NotContains(t, fs.Files(), "db/wal.log")

	db := openTest(t, fs, noWal)
	defer db.Close()
	_, ok := mustGet(t, db, 1)
	assert.False(t, ok)
}

func TestFlushFailureKeepsMemtable(t *testing.T) {
	fs := vfs.NewMem()
	db := openTest(t, fs, func(o *Options) { o.DisableWAL = true })
	defer db.Close()

	require.NoError(t, db.Put(1, []byte("one")))
	fs.SetWriteFault(true)
	assert.ErrorIs(t, db.Flush(), vfs.ErrInjected)
	fs.SetWriteFault(false)

	v, ok := mustGet(t, db, 1)
	require.True(t, ok)
	assert.Equal(t, "one", v)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MemtableEntries)
	require.Len(t, stats.Levels, 1)
	assert.Empty(t, stats.Levels[0].Runs)

	require.NoError(t, db.Flush())
	stats, err = db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.MemtableEntries)
	assert.Len(t, stats.Levels[0].Runs, 1)
}

func TestReset(t *testing.T) {
	fs := vfs.NewMem()
	db := openTest(t, fs)
	defer db.Close()

	for i := range 300 {
		require.NoError(t, db.Put(Key(i), sValue(i)))
	}
	require.NoError(t, db.Reset())

	for i := range 300 {
		_, ok := mustGet(t, db, Key(i))
		assert.False(t, ok)
	}
	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Empty(t, stats.Levels)
	assert.Zero(t, stats.MemtableEntries)

	require.NoError(t, db.Put(1, []byte("fresh")))
	v, ok := mustGet(t, db, 1)
	require.True(t, ok)
	assert.Equal(t, "fresh", v)
}

func TestClosed(t *testing.T) {
	db := openTest(t, vfs.NewMem())
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.Put(1, []byte("v")), ErrClosed)
	_, _, err := db.Get(1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.Delete(1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.Flush(), ErrClosed)
	assert.ErrorIs(t, db.Reset(), ErrClosed)
	_, err = db.Stats()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOptionsValidation(t *testing.T) {
	tests := []struct {
		name string
		opt  func(*Options)
	}{
		{"budget below one entry", func(o *Options) { o.MaxRunBytes = shared.RunOverhead }},
		{"budget past 32-bit offsets", func(o *Options) { o.MaxRunBytes = 1 << 40 }},
		{"no recovery workers", func(o *Options) { o.RecoveryConcurrency = 0 }},
		{"nil fs", func(o *Options) { o.FS = nil }},
		{"nil logger", func(o *Options) { o.Logger = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open("db", func(o *Options) { o.FS = vfs.NewMem() }, tt.opt)
			assert.Error(t, err)
		})
	}
}
