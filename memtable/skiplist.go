package memtable

import (
	"iter"
	"math/rand"
	"time"

	"github.com/AmrMurad1/gostore/shared"
)

const (
	nilIndex = -1
	head     = 0
)

// SkipList is an ordered map from Key to value. Nodes live in an arena and
// link to each other by index; a node's tower is its next slice, one
// successor per level, so an overwrite touches every level at once.
//
// Tower heights come from a fair coin with no upper bound. Keys are not
// attacker-chosen, so a predictable coin is acceptable.
type SkipList struct {
	nodes      []node
	free       []int
	level      int
	rand       *rand.Rand
	count      int
	valueBytes uint64
}

type node struct {
	key   shared.Key
	value []byte
	next  []int
}

func NewSkipList() *SkipList {
	s := &SkipList{
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.Clear()
	return s
}

// Len returns the number of keys.
func (s *SkipList) Len() int {
	return s.count
}

// ValueBytes returns the summed length of all stored values.
func (s *SkipList) ValueBytes() uint64 {
	return s.valueBytes
}

// Height returns the number of levels currently linked from the head.
func (s *SkipList) Height() int {
	return s.level
}

// search records in update, per level, the last node whose key is below key,
// and returns the bottom-level successor of that path.
func (s *SkipList) search(key shared.Key, update []int) int {
	curr := head
	for i := s.level - 1; i >= 0; i-- {
		for {
			next := s.nodes[curr].next[i]
			if next == nilIndex || s.nodes[next].key >= key {
				break
			}
			curr = next
		}
		if update != nil {
			update[i] = curr
		}
	}
	return s.nodes[curr].next[0]
}

func (s *SkipList) Get(key shared.Key) ([]byte, bool) {
	idx := s.search(key, nil)
	if idx != nilIndex && s.nodes[idx].key == key {
		return s.nodes[idx].value, true
	}
	return nil, false
}

// Set inserts key or overwrites its value.
func (s *SkipList) Set(key shared.Key, value []byte) {
	update := make([]int, s.level)
	idx := s.search(key, update)

	// update entry
	if idx != nilIndex && s.nodes[idx].key == key {
		s.valueBytes = s.valueBytes - uint64(len(s.nodes[idx].value)) + uint64(len(value))
		s.nodes[idx].value = value
		return
	}

	// add entry
	height := s.randomLevel()
	for s.level < height {
		s.nodes[head].next = append(s.nodes[head].next, nilIndex)
		update = append(update, head)
		s.level++
	}

	n := s.alloc(key, value, height)
	for i := 0; i < height; i++ {
		s.nodes[n].next[i] = s.nodes[update[i]].next[i]
		s.nodes[update[i]].next[i] = n
	}

	s.count++
	s.valueBytes += uint64(len(value))
}

// Remove unlinks every level of key's tower. It reports whether key existed.
func (s *SkipList) Remove(key shared.Key) bool {
	update := make([]int, s.level)
	idx := s.search(key, update)
	if idx == nilIndex || s.nodes[idx].key != key {
		return false
	}

	removed := s.nodes[idx]
	for i, next := range removed.next {
		s.nodes[update[i]].next[i] = next
	}
	for s.level > 1 && s.nodes[head].next[s.level-1] == nilIndex {
		s.nodes[head].next = s.nodes[head].next[:s.level-1]
		s.level--
	}

	s.nodes[idx] = node{}
	s.free = append(s.free, idx)
	s.count--
	s.valueBytes -= uint64(len(removed.value))
	return true
}

// All walks the bottom level in increasing key order. The list must not be
// modified during the walk.
func (s *SkipList) All() iter.Seq2[shared.Key, []byte] {
	return func(yield func(shared.Key, []byte) bool) {
		for curr := s.nodes[head].next[0]; curr != nilIndex; curr = s.nodes[curr].next[0] {
			if !yield(s.nodes[curr].key, s.nodes[curr].value) {
				return
			}
		}
	}
}

// Clear drops every node and resets the counters.
func (s *SkipList) Clear() {
	s.nodes = []node{{next: []int{nilIndex}}}
	s.free = nil
	s.level = 1
	s.count = 0
	s.valueBytes = 0
}

func (s *SkipList) alloc(key shared.Key, value []byte, height int) int {
	next := make([]int, height)
	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		s.nodes[idx] = node{key: key, value: value, next: next}
		return idx
	}
	s.nodes = append(s.nodes, node{key: key, value: value, next: next})
	return len(s.nodes) - 1
}

func (s *SkipList) randomLevel() int {
	level := 1
	for s.rand.Int63()&1 == 1 {
		level++
	}
	return level
}
