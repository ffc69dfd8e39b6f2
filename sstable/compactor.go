package sstable

import (
	"bufio"
	"container/heap"
	"errors"
	"fmt"
	"io"

	"github.com/AmrMurad1/gostore/shared"
	"github.com/AmrMurad1/gostore/vfs"
)

// SSTableIterator streams the entries of a run in key order, reading values
// sequentially from the blob.
type SSTableIterator struct {
	sstable *SSTable
	reader  *bufio.Reader
	pos     int
}

func (s *SSTable) newIterator() *SSTableIterator {
	section := io.NewSectionReader(s.file, s.blobOffset, int64(s.blobLen))
	return &SSTableIterator{
		sstable: s,
		reader:  bufio.NewReaderSize(section, 64<<10),
	}
}

// next returns the following entry, or nil once the run is exhausted.
func (it *SSTableIterator) next() (*shared.Entry, error) {
	if it.pos >= len(it.sstable.index) {
		return nil, nil
	}

	start, end := it.sstable.valueRange(it.pos)
	value := make([]byte, end-start)
	if _, err := io.ReadFull(it.reader, value); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, corruptf(it.sstable.path, "value blob truncated at entry %d", it.pos)
		}
		return nil, err
	}

	entry := &shared.Entry{Key: it.sstable.index[it.pos].Key, Value: value}
	it.pos++
	return entry, nil
}

type mergeItem struct {
	entry  *shared.Entry
	iter   *SSTableIterator
	source int
}

// mergeHeap orders by key, then newest run first, then input position.
type mergeHeap []*mergeItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if h[i].entry.Key != h[j].entry.Key {
		return h[i].entry.Key < h[j].entry.Key
	}
	ti, tj := h[i].iter.sstable.Timestamp(), h[j].iter.sstable.Timestamp()
	if ti != tj {
		return ti > tj
	}
	return h[i].source < h[j].source
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(*mergeItem)) }

func (h *mergeHeap) Pop() any {
	old := *h
	item := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return item
}

// Merge folds inputs into new runs with pairwise disjoint key ranges, each
// within budget bytes. For every key only the version from the newest input
// survives; ties go to the earlier input. With dropTombstones set, keys whose
// surviving version is a tombstone are left out entirely.
//
// Every output carries the largest input timestamp and is named by newPath.
// Inputs are left untouched. On error the outputs written so far are removed.
func Merge(fs vfs.FS, inputs []*SSTable, dropTombstones bool, budget uint64, newPath func(timestamp uint64) string) ([]*SSTable, error) {
	var timestamp uint64
	for _, input := range inputs {
		timestamp = max(timestamp, input.Timestamp())
	}

	var outputs []*SSTable
	fail := func(err error) ([]*SSTable, error) {
		for _, output := range outputs {
			_ = output.Remove()
		}
		return nil, err
	}

	h := make(mergeHeap, 0, len(inputs))
	for i, input := range inputs {
		it := input.newIterator()
		entry, err := it.next()
		if err != nil {
			return fail(err)
		}
		if entry != nil {
			h = append(h, &mergeItem{entry: entry, iter: it, source: i})
		}
	}
	heap.Init(&h)

	buffer := NewMergeBuffer(budget)
	flush := func() error {
		if buffer.Len() == 0 {
			return nil
		}
		run, err := Write(fs, newPath(timestamp), timestamp, buffer)
		if err != nil {
			return err
		}
		outputs = append(outputs, run)
		buffer.Reset()
		return nil
	}

	var lastKey shared.Key
	seen := false
	for h.Len() > 0 {
		top := h[0]
		entry := top.entry

		if !seen || entry.Key != lastKey {
			lastKey, seen = entry.Key, true
			if !(dropTombstones && entry.Deleted()) && !buffer.Add(entry.Key, entry.Value) {
				if err := flush(); err != nil {
					return fail(err)
				}
				if !buffer.Add(entry.Key, entry.Value) {
					return fail(fmt.Errorf("%w: key %d with %d value bytes", shared.ErrValueTooLarge, entry.Key, len(entry.Value)))
				}
			}
		}

		next, err := top.iter.next()
		if err != nil {
			return fail(err)
		}
		if next == nil {
			heap.Pop(&h)
			continue
		}
		top.entry = next
		heap.Fix(&h, 0)
	}

	if err := flush(); err != nil {
		return fail(err)
	}
	return outputs, nil
}
