package sstable

import (
	"iter"

	"github.com/AmrMurad1/gostore/shared"
)

// MergeBuffer collects merge output in key order until it holds one run's
// worth of bytes.
type MergeBuffer struct {
	entries    []shared.Entry
	valueBytes uint64
	budget     uint64
}

func NewMergeBuffer(budget uint64) *MergeBuffer {
	return &MergeBuffer{budget: budget}
}

// Add appends an entry whose key is greater than every key already held. It
// returns false, leaving the buffer unchanged, when the entry would push the
// run footprint past the budget.
func (b *MergeBuffer) Add(key shared.Key, value []byte) bool {
	if shared.Footprint(uint64(len(b.entries)+1), b.valueBytes+uint64(len(value))) > b.budget {
		return false
	}
	b.entries = append(b.entries, shared.Entry{Key: key, Value: value})
	b.valueBytes += uint64(len(value))
	return true
}

func (b *MergeBuffer) Len() int {
	return len(b.entries)
}

func (b *MergeBuffer) All() iter.Seq2[shared.Key, []byte] {
	return shared.Entries(b.entries).All()
}

func (b *MergeBuffer) Footprint() uint64 {
	return shared.Footprint(uint64(len(b.entries)), b.valueBytes)
}

func (b *MergeBuffer) Reset() {
	clear(b.entries)
	b.entries = b.entries[:0]
	b.valueBytes = 0
}
