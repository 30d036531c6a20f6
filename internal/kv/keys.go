package kv

import "encoding/binary"

// Key prefixes, one leading two-byte ASCII tag per the schema in §4.1.
var (
	prefixBasinConfig  = []byte("BC")
	prefixStreamConfig = []byte("SC")
	prefixRecordData   = []byte("SD")
	prefixTimeIndex    = []byte("ST")
	prefixTailPosition = []byte("SP")

	basinStreamSep = byte(0x23) // '#'
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// BasinConfigKey builds the "BC" ‖ basin_name key.
func BasinConfigKey(basin string) []byte {
	k := make([]byte, 0, len(prefixBasinConfig)+len(basin))
	k = append(k, prefixBasinConfig...)
	k = append(k, basin...)
	return k
}

// StreamConfigKey builds the "SC" ‖ basin_name ‖ 0x23 ‖ stream_name key.
func StreamConfigKey(basin, stream string) []byte {
	k := make([]byte, 0, len(prefixStreamConfig)+len(basin)+1+len(stream))
	k = append(k, prefixStreamConfig...)
	k = append(k, basin...)
	k = append(k, basinStreamSep)
	k = append(k, stream...)
	return k
}

// StreamConfigPrefix builds the "SC" ‖ basin_name ‖ 0x23 prefix used to scan
// every stream config belonging to a basin.
func StreamConfigPrefix(basin string) []byte {
	k := make([]byte, 0, len(prefixStreamConfig)+len(basin)+1)
	k = append(k, prefixStreamConfig...)
	k = append(k, basin...)
	k = append(k, basinStreamSep)
	return k
}

// RecordKey builds the "SD" ‖ StreamID(32) ‖ be_u64(seq_num) key.
func RecordKey(streamID [32]byte, seqNum uint64) []byte {
	k := make([]byte, 0, len(prefixRecordData)+32+8)
	k = append(k, prefixRecordData...)
	k = append(k, streamID[:]...)
	k = appendBE8(k, seqNum)
	return k
}

// RecordPrefix builds the "SD" ‖ StreamID prefix for range scans over a
// stream's record data.
func RecordPrefix(streamID [32]byte) []byte {
	k := make([]byte, 0, len(prefixRecordData)+32)
	k = append(k, prefixRecordData...)
	k = append(k, streamID[:]...)
	return k
}

// TimeIndexKey builds the "ST" ‖ StreamID(32) ‖ be_u64(timestamp) ‖
// be_u64(seq_num) key.
func TimeIndexKey(streamID [32]byte, timestampMs uint64, seqNum uint64) []byte {
	k := make([]byte, 0, len(prefixTimeIndex)+32+16)
	k = append(k, prefixTimeIndex...)
	k = append(k, streamID[:]...)
	k = appendBE8(k, timestampMs)
	k = appendBE8(k, seqNum)
	return k
}

// TimeIndexPrefix builds the "ST" ‖ StreamID prefix for range scans over a
// stream's timestamp index.
func TimeIndexPrefix(streamID [32]byte) []byte {
	k := make([]byte, 0, len(prefixTimeIndex)+32)
	k = append(k, prefixTimeIndex...)
	k = append(k, streamID[:]...)
	return k
}

// TimeIndexStartKey builds the "ST" ‖ StreamID ‖ be_u64(timestamp) lower
// bound used to seek a forward scan to the first entry at or after
// timestampMs (the trailing seq_num is omitted, sorting before any real
// entry at that timestamp).
func TimeIndexStartKey(streamID [32]byte, timestampMs uint64) []byte {
	k := make([]byte, 0, len(prefixTimeIndex)+32+8)
	k = append(k, prefixTimeIndex...)
	k = append(k, streamID[:]...)
	k = appendBE8(k, timestampMs)
	return k
}

// TailPositionKey builds the "SP" ‖ StreamID(32) key.
func TailPositionKey(streamID [32]byte) []byte {
	k := make([]byte, 0, len(prefixTailPosition)+32)
	k = append(k, prefixTailPosition...)
	k = append(k, streamID[:]...)
	return k
}
