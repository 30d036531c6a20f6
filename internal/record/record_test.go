package record

import (
	"testing"

	"github.com/wharfdb/wharf/internal/kv"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := Record{
		SeqNum:      42,
		TimestampMs: 1_700_000_000_000,
		Headers: []Header{
			{Name: []byte("content-type"), Value: []byte("application/json")},
			{Name: []byte("x-empty"), Value: nil},
		},
		Body: []byte(`{"hello":"world"}`),
	}

	encoded := Encode(r)
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SeqNum != r.SeqNum || decoded.TimestampMs != r.TimestampMs {
		t.Fatalf("seq/timestamp mismatch: %+v", decoded)
	}
	if string(decoded.Body) != string(r.Body) {
		t.Fatalf("body mismatch: %q vs %q", decoded.Body, r.Body)
	}
	if len(decoded.Headers) != 2 {
		t.Fatalf("expected 2 headers, got %d", len(decoded.Headers))
	}
	if string(decoded.Headers[0].Name) != "content-type" || string(decoded.Headers[0].Value) != "application/json" {
		t.Fatalf("header 0 mismatch: %+v", decoded.Headers[0])
	}
}

func TestEncodeDecodeNoHeadersEmptyBody(t *testing.T) {
	r := Record{SeqNum: 0, TimestampMs: 0}
	decoded, err := Decode(Encode(r))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Headers) != 0 || len(decoded.Body) != 0 {
		t.Fatalf("expected empty headers/body, got %+v", decoded)
	}
}

func TestDecodeCorruptTruncated(t *testing.T) {
	r := Record{SeqNum: 1, TimestampMs: 1, Body: []byte("hello")}
	encoded := Encode(r)
	if _, err := Decode(encoded[:len(encoded)-2]); err != kv.ErrCorrupt {
		t.Fatalf("expected ErrCorrupt on truncation, got %v", err)
	}
}

func TestDecodeCorruptBitFlip(t *testing.T) {
	r := Record{SeqNum: 1, TimestampMs: 1, Body: []byte("hello")}
	encoded := Encode(r)
	encoded[len(encoded)/2] ^= 0xff
	if _, err := Decode(encoded); err != kv.ErrCorrupt {
		t.Fatalf("expected ErrCorrupt on bit flip, got %v", err)
	}
}

func TestDecodeCorruptUnknownVersion(t *testing.T) {
	r := Record{SeqNum: 1, TimestampMs: 1, Body: []byte("hello")}
	encoded := Encode(r)
	encoded[0] = 0xEE
	if _, err := Decode(encoded); err != kv.ErrCorrupt {
		t.Fatalf("expected ErrCorrupt on unknown version, got %v", err)
	}
}

func TestDecodeTooShort(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err != kv.ErrCorrupt {
		t.Fatalf("expected ErrCorrupt on too-short input, got %v", err)
	}
}
