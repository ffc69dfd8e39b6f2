package memtable

import (
	"iter"

	"github.com/AmrMurad1/gostore/shared"
)

// Memtable is the mutable write buffer. It refuses any write that would make
// its serialized form larger than one sorted run.
//
// Memtable is not safe for concurrent use; the store serializes access.
type Memtable struct {
	skiplist *SkipList
	budget   uint64
}

func NewMemtable(budget uint64) *Memtable {
	return &Memtable{
		skiplist: NewSkipList(),
		budget:   budget,
	}
}

// Get returns the stored value, which may be the tombstone.
func (m *Memtable) Get(key shared.Key) ([]byte, bool) {
	return m.skiplist.Get(key)
}

// Fits reports whether storing value under key keeps the table within its
// byte budget. It does not modify the table.
func (m *Memtable) Fits(key shared.Key, value []byte) bool {
	count := uint64(m.skiplist.Len())
	total := m.skiplist.ValueBytes()
	if old, ok := m.skiplist.Get(key); ok {
		total = total - uint64(len(old)) + uint64(len(value))
	} else {
		count++
		total += uint64(len(value))
	}
	return shared.Footprint(count, total) <= m.budget
}

// Put stores value under key unless the result would exceed the byte
// budget, in which case it returns false and leaves the table unchanged.
func (m *Memtable) Put(key shared.Key, value []byte) bool {
	if !m.Fits(key, value) {
		return false
	}
	m.skiplist.Set(key, value)
	return true
}

// Remove deletes key outright. Deletes through the store are tombstone
// writes; Remove exists for callers that own the table.
func (m *Memtable) Remove(key shared.Key) bool {
	return m.skiplist.Remove(key)
}

func (m *Memtable) Len() int {
	return m.skiplist.Len()
}

// All yields entries in increasing key order; a flush depends on it.
func (m *Memtable) All() iter.Seq2[shared.Key, []byte] {
	return m.skiplist.All()
}

// Footprint is the size the table would occupy as one sorted run.
func (m *Memtable) Footprint() uint64 {
	return shared.Footprint(uint64(m.skiplist.Len()), m.skiplist.ValueBytes())
}

func (m *Memtable) Clear() {
	m.skiplist.Clear()
}
