package sstable

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AmrMurad1/gostore/shared"
	"github.com/AmrMurad1/gostore/vfs"
)

func entriesOf(kv ...any) shared.Entries {
	var entries shared.Entries
	for i := 0; i < len(kv); i += 2 {
		entries = append(entries, shared.Entry{
			Key:   shared.Key(kv[i].(int)),
			Value: []byte(kv[i+1].(string)),
		})
	}
	return entries
}

func tomb() string {
	return string(shared.Tombstone)
}

func writeRun(t *testing.T, fs vfs.FS, dir string, timestamp, id uint64, entries shared.Entries) *SSTable {
	t.Helper()
	require.NoError(t, fs.Mkdir(dir))
	run, err := Write(fs, filepath.Join(dir, runFileName(timestamp, id)), timestamp, entries)
	require.NoError(t, err)
	return run
}

func readAll(t *testing.T, run *SSTable) map[shared.Key]string {
	t.Helper()
	entries, err := run.ReadAll()
	require.NoError(t, err)
	out := make(map[shared.Key]string, len(entries))
	for _, e := range entries {
		out[e.Key] = string(e.Value)
	}
	return out
}

func pathGenerator(dir string) func(uint64) string {
	id := uint64(1000)
	return func(timestamp uint64) string {
		id++
		return filepath.Join(dir, runFileName(timestamp, id))
	}
}

func le64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

func le32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func filesWithSuffix(fs *vfs.MemFS, suffix string) []string {
	var out []string
	for _, name := range fs.Files() {
		if strings.HasSuffix(name, suffix) {
			out = append(out, name)
		}
	}
	return out
}

func testConfig(budget uint64) SSTableConfig {
	return SSTableConfig{
		MaxRunBytes:         budget,
		RecoveryConcurrency: 4,
		Logger:              slog.New(slog.DiscardHandler),
	}
}

func valueOf(k shared.Key, version int) string {
	return fmt.Sprintf("v%d-%d", k, version)
}
