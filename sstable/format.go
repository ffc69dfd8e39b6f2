package sstable

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/AmrMurad1/gostore/shared"
)

// On-disk layout of a sorted run, all integers little-endian:
//
//	header   timestamp u64 | count u64 | min_key u64 | max_key u64
//	filter   shared.FilterBytes bytes of bloom bits
//	index    count x (key u64 | offset u32), keys strictly increasing
//	values   concatenated value bytes; length(i) = offset(i+1) - offset(i)
const (
	runSuffix   = ".sst"
	tmpSuffix   = ".tmp"
	levelPrefix = "level-"
)

func runFileName(timestamp, id uint64) string {
	return fmt.Sprintf("%d.%d%s", timestamp, id, runSuffix)
}

func parseRunFileName(name string) (timestamp, id uint64, ok bool) {
	if !strings.HasSuffix(name, runSuffix) {
		return 0, 0, false
	}
	n, err := fmt.Sscanf(name, "%d.%d.sst", &timestamp, &id)
	return timestamp, id, n == 2 && err == nil
}

func levelDirName(tier int) string {
	return fmt.Sprintf("%s%d", levelPrefix, tier)
}

func encodeHeader(h shared.Header) []byte {
	buf := make([]byte, 0, shared.HeaderSize)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint64(buf, h.Count)
	buf = binary.LittleEndian.AppendUint64(buf, h.MinKey)
	buf = binary.LittleEndian.AppendUint64(buf, h.MaxKey)
	return buf
}

func decodeHeader(buf []byte) shared.Header {
	return shared.Header{
		Timestamp: binary.LittleEndian.Uint64(buf[0:8]),
		Count:     binary.LittleEndian.Uint64(buf[8:16]),
		MinKey:    binary.LittleEndian.Uint64(buf[16:24]),
		MaxKey:    binary.LittleEndian.Uint64(buf[24:32]),
	}
}

func encodeIndex(records []shared.IndexRecord) []byte {
	buf := make([]byte, 0, len(records)*shared.IndexEntrySize)
	for _, record := range records {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(record.Key))
		buf = binary.LittleEndian.AppendUint32(buf, record.Offset)
	}
	return buf
}

func decodeIndex(buf []byte) []shared.IndexRecord {
	records := make([]shared.IndexRecord, len(buf)/shared.IndexEntrySize)
	for i := range records {
		entry := buf[i*shared.IndexEntrySize:]
		records[i] = shared.IndexRecord{
			Key:    shared.Key(binary.LittleEndian.Uint64(entry[0:8])),
			Offset: binary.LittleEndian.Uint32(entry[8:12]),
		}
	}
	return records
}
