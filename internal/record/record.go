// Package record implements the length-prefixed framing for a single
// immutable stream entry: seq_num and timestamp stored explicitly inside the
// encoded bytes (in addition to living in the SD key and the timestamp
// index), an ordered sequence of header name/value pairs, and an opaque
// body. Encoding is versioned with a leading byte and trailed with a
// CRC32C checksum so corruption is reported rather than silently accepted.
package record

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/wharfdb/wharf/internal/kv"
)

// Header is a single name/value byte-pair, order-preserving.
type Header struct {
	Name  []byte
	Value []byte
}

// Record is a single committed stream entry.
type Record struct {
	SeqNum      uint64
	TimestampMs uint64
	Headers     []Header
	Body        []byte
}

// formatVersion1 is the only encoding version this build understands.
const formatVersion1 = 1

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Encode serializes r as: version(1) | seq_num(8) | timestamp_ms(8) |
// header_count(varint) | { name_len(varint) name value_len(varint) value }* |
// body_len(varint) body | crc32c(everything above).
func Encode(r Record) []byte {
	var buf []byte
	buf = append(buf, formatVersion1)
	buf = appendBE8(buf, r.SeqNum)
	buf = appendBE8(buf, r.TimestampMs)
	buf = appendUvarint(buf, uint64(len(r.Headers)))
	for _, h := range r.Headers {
		buf = appendUvarint(buf, uint64(len(h.Name)))
		buf = append(buf, h.Name...)
		buf = appendUvarint(buf, uint64(len(h.Value)))
		buf = append(buf, h.Value...)
	}
	buf = appendUvarint(buf, uint64(len(r.Body)))
	buf = append(buf, r.Body...)

	crc := crc32.Checksum(buf, castagnoli)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	return append(buf, crcb[:]...)
}

// Decode is the inverse of Encode. It returns kv.ErrCorrupt on any framing
// mismatch, checksum failure, or unknown format version.
func Decode(b []byte) (Record, error) {
	if len(b) < 1+8+8+1+4 {
		return Record{}, kv.ErrCorrupt
	}
	body, trailer := b[:len(b)-4], b[len(b)-4:]
	expect := binary.BigEndian.Uint32(trailer)
	if crc32.Checksum(body, castagnoli) != expect {
		return Record{}, kv.ErrCorrupt
	}

	if body[0] != formatVersion1 {
		return Record{}, kv.ErrCorrupt
	}
	pos := 1

	seqNum, n := readBE8(body[pos:])
	if n < 0 {
		return Record{}, kv.ErrCorrupt
	}
	pos += n

	tsMs, n := readBE8(body[pos:])
	if n < 0 {
		return Record{}, kv.ErrCorrupt
	}
	pos += n

	headerCount, n := binary.Uvarint(body[pos:])
	if n <= 0 {
		return Record{}, kv.ErrCorrupt
	}
	pos += n

	headers := make([]Header, 0, headerCount)
	for i := uint64(0); i < headerCount; i++ {
		nameLen, n := binary.Uvarint(body[pos:])
		if n <= 0 {
			return Record{}, kv.ErrCorrupt
		}
		pos += n
		if pos+int(nameLen) > len(body) {
			return Record{}, kv.ErrCorrupt
		}
		name := append([]byte(nil), body[pos:pos+int(nameLen)]...)
		pos += int(nameLen)

		valueLen, n := binary.Uvarint(body[pos:])
		if n <= 0 {
			return Record{}, kv.ErrCorrupt
		}
		pos += n
		if pos+int(valueLen) > len(body) {
			return Record{}, kv.ErrCorrupt
		}
		value := append([]byte(nil), body[pos:pos+int(valueLen)]...)
		pos += int(valueLen)

		headers = append(headers, Header{Name: name, Value: value})
	}

	bodyLen, n := binary.Uvarint(body[pos:])
	if n <= 0 {
		return Record{}, kv.ErrCorrupt
	}
	pos += n
	if pos+int(bodyLen) != len(body) {
		return Record{}, kv.ErrCorrupt
	}
	payload := append([]byte(nil), body[pos:pos+int(bodyLen)]...)

	return Record{
		SeqNum:      seqNum,
		TimestampMs: tsMs,
		Headers:     headers,
		Body:        payload,
	}, nil
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func readBE8(b []byte) (uint64, int) {
	if len(b) < 8 {
		return 0, -1
	}
	return binary.BigEndian.Uint64(b[:8]), 8
}

func appendUvarint(dst []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(dst, tmp[:n]...)
}
