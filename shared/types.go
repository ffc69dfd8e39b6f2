package shared

import (
	"bytes"
	"cmp"
	"iter"
)

type Key uint64

// Tombstone is the reserved value that marks a deleted key.
var Tombstone = []byte("~DELETED~")

func IsTombstone(v []byte) bool {
	return bytes.Equal(v, Tombstone)
}

type Entry struct {
	Key   Key
	Value []byte
}

func (e Entry) Deleted() bool {
	return IsTombstone(e.Value)
}

func CompareKeys(k1, k2 Key) int {
	return cmp.Compare(k1, k2)
}

// Scope is an inclusive key interval.
type Scope struct {
	Min Key
	Max Key
}

func (s Scope) Contains(k Key) bool {
	return k >= s.Min && k <= s.Max
}

func (s Scope) Overlaps(o Scope) bool {
	return s.Min <= o.Max && o.Min <= s.Max
}

func (s Scope) Union(o Scope) Scope {
	return Scope{Min: min(s.Min, o.Min), Max: max(s.Max, o.Max)}
}

// Source is a re-iterable sequence of entries in strictly increasing key
// order. Writers walk it twice: once to build the index, once to stream values.
type Source interface {
	Len() int
	All() iter.Seq2[Key, []byte]
}

// Entries adapts a sorted slice to Source.
type Entries []Entry

func (e Entries) Len() int { return len(e) }

func (e Entries) All() iter.Seq2[Key, []byte] {
	return func(yield func(Key, []byte) bool) {
		for _, entry := range e {
			if !yield(entry.Key, entry.Value) {
				return
			}
		}
	}
}
