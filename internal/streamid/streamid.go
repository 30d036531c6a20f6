// Package streamid derives the 32-byte identifier that scopes every "SD"/
// "ST"/"SP" key to a single (basin, stream) pair.
package streamid

import "lukechampine.com/blake3"

// fieldSeparator domain-separates the basin and stream name so that
// ("ab", "c") and ("a", "bc") never collide.
const fieldSeparator = 0x00

// ID is the 32-byte Blake3 digest of basin_name || 0x00 || stream_name.
type ID [32]byte

// Derive computes the StreamID for a (basin, stream) pair. It is
// deterministic and depends on nothing but its inputs, so it is stable
// across process restarts.
func Derive(basin, stream string) ID {
	h := blake3.New(32, nil)
	h.Write([]byte(basin))
	h.Write([]byte{fieldSeparator})
	h.Write([]byte(stream))

	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

// String renders the identifier as lowercase hex, useful for logging.
func (id ID) String() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(id)*2)
	for i, b := range id {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}
