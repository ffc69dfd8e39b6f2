package shared

const (
	// MaxRunBytes is the default byte budget of one sorted run.
	MaxRunBytes uint64 = 1 << 21

	HeaderSize     = 32
	FilterBytes    = 10 * (1 << 10)
	FilterBits     = FilterBytes * 8
	IndexEntrySize = 12

	// RunOverhead is the fixed part of every run: header plus bloom filter.
	RunOverhead = HeaderSize + FilterBytes
)

// Header is the fixed prefix of a sorted run file.
type Header struct {
	Timestamp uint64
	Count     uint64
	MinKey    uint64
	MaxKey    uint64
}

func (h Header) Scope() Scope {
	return Scope{Min: Key(h.MinKey), Max: Key(h.MaxKey)}
}

// IndexRecord locates one value inside the value blob.
type IndexRecord struct {
	Key    Key
	Offset uint32
}

// Footprint is the on-disk size of a run holding count entries whose values
// add up to valueBytes. MemTable and MergeBuffer both budget with it, so
// anything accepted in memory fits in one run.
func Footprint(count, valueBytes uint64) uint64 {
	return RunOverhead + IndexEntrySize*count + valueBytes
}
