package frame

import (
	"bytes"
	"testing"

	"github.com/marmos91/dsp/internal/dsp/wire"
)

func sampleFrame() Frame {
	return Frame{
		Type:              wire.FrameCommandReq,
		Version:           wire.Version{Major: 1, Minor: 0, Revision: 0},
		ExpectedCommandSN: 42,
		Prefix:            []byte{0x00, 0x00, 0x00, 0x07}, // e.g. xid=7
		Payload:           []byte("hello, dsp"),
		BulkData:          [][]byte{[]byte("bulk-region-one"), []byte("bulk-region-two")},
	}
}

func allDigests() []wire.DigestAlgorithm {
	return []wire.DigestAlgorithm{wire.DigestNone, wire.DigestCRC32, wire.DigestAdler32}
}

func allCompress() []wire.CompressAlgorithm {
	return []wire.CompressAlgorithm{wire.CompressNone, wire.CompressDeflate, wire.CompressGzip, wire.CompressLZ4}
}

func TestRoundTripAllOptionCombinations(t *testing.T) {
	f := sampleFrame()
	for _, hd := range allDigests() {
		for _, fd := range allDigests() {
			for _, pd := range allDigests() {
				for _, c := range allCompress() {
					for _, dd := range []bool{true, false} {
						opts := Options{HeaderDigest: hd, FrameDigest: fd, PayloadDigest: pd, Compress: c, DigestData: dd}
						encoded, err := Encode(f, opts)
						if err != nil {
							t.Fatalf("opts=%+v Encode: %v", opts, err)
						}
						decoded, n, err := Decode(encoded)
						if err != nil {
							t.Fatalf("opts=%+v Decode: %v", opts, err)
						}
						if n != len(encoded) {
							t.Errorf("opts=%+v consumed %d, want %d", opts, n, len(encoded))
						}
						if decoded.Type != f.Type || decoded.ExpectedCommandSN != f.ExpectedCommandSN {
							t.Errorf("opts=%+v header fields mismatch", opts)
						}
						if !bytes.Equal(decoded.Prefix, f.Prefix) {
							t.Errorf("opts=%+v prefix mismatch: got %v want %v", opts, decoded.Prefix, f.Prefix)
						}
						if !bytes.Equal(decoded.Payload, f.Payload) {
							t.Errorf("opts=%+v payload mismatch: got %q want %q", opts, decoded.Payload, f.Payload)
						}
						if len(decoded.BulkData) != len(f.BulkData) {
							t.Fatalf("opts=%+v bulk count mismatch: got %d want %d", opts, len(decoded.BulkData), len(f.BulkData))
						}
						for i := range f.BulkData {
							if !bytes.Equal(decoded.BulkData[i], f.BulkData[i]) {
								t.Errorf("opts=%+v bulk[%d] mismatch", opts, i)
							}
						}
					}
				}
			}
		}
	}
}

func TestDigestTamperingDetected(t *testing.T) {
	f := sampleFrame()
	opts := Options{PayloadDigest: wire.DigestCRC32}
	encoded, err := Encode(f, opts)
	if err != nil {
		t.Fatal(err)
	}
	// Flip a bit inside the payload region (after the fixed header+digest slot).
	tamperOffset := FixedHeaderSize + 4 + len(f.Prefix) + 10
	encoded[tamperOffset] ^= 0x01

	_, _, err = Decode(encoded)
	if err == nil {
		t.Fatal("expected BadDigest after tampering with payload bytes")
	}
	fe, ok := err.(*Error)
	if !ok || fe.Code != ErrBadDigest {
		t.Fatalf("got %v, want BadDigest", err)
	}
}

func TestHeaderDigestCoversPrecedingBytes(t *testing.T) {
	f := sampleFrame()
	opts := Options{HeaderDigest: wire.DigestCRC32, FrameDigest: wire.DigestAdler32}
	encoded, err := Encode(f, opts)
	if err != nil {
		t.Fatal(err)
	}
	// Flip a bit in the frame type byte, which precedes the header digest.
	encoded[4] ^= 0x01
	_, _, err = Decode(encoded)
	if err == nil {
		t.Fatal("expected BadDigest after tampering with a header-covered byte")
	}
}

func TestDecodeNeedsMoreOnShortBuffer(t *testing.T) {
	f := sampleFrame()
	encoded, err := Encode(f, Options{PayloadDigest: wire.DigestCRC32})
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = Decode(encoded[:len(encoded)-5])
	if !IsNeedsMore(err) {
		t.Fatalf("got %v, want ErrNeedsMore", err)
	}
}

func TestDecodeBadProtocolIdentifier(t *testing.T) {
	f := sampleFrame()
	encoded, err := Encode(f, Options{})
	if err != nil {
		t.Fatal(err)
	}
	encoded[0] = 'X'
	_, _, err = Decode(encoded)
	if err == nil {
		t.Fatal("expected ProtocolViolation for bad protocol id")
	}
}

func TestDecoderHandlesMultipleFramesInOneRead(t *testing.T) {
	f := sampleFrame()
	opts := Options{PayloadDigest: wire.DigestCRC32, Compress: wire.CompressDeflate}
	a, err := Encode(f, opts)
	if err != nil {
		t.Fatal(err)
	}
	f2 := f
	f2.ExpectedCommandSN = 99
	b, err := Encode(f2, opts)
	if err != nil {
		t.Fatal(err)
	}

	d := NewDecoder()
	d.Feed(append(append([]byte{}, a...), b...))

	got1, err := d.Next()
	if err != nil {
		t.Fatalf("first Next: %v", err)
	}
	if got1.ExpectedCommandSN != 42 {
		t.Errorf("first frame ExpectedCommandSN = %d, want 42", got1.ExpectedCommandSN)
	}

	got2, err := d.Next()
	if err != nil {
		t.Fatalf("second Next: %v", err)
	}
	if got2.ExpectedCommandSN != 99 {
		t.Errorf("second frame ExpectedCommandSN = %d, want 99", got2.ExpectedCommandSN)
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", d.Pending())
	}
}

func TestDecoderPartialFeedNeedsMore(t *testing.T) {
	f := sampleFrame()
	encoded, err := Encode(f, Options{HeaderDigest: wire.DigestAdler32})
	if err != nil {
		t.Fatal(err)
	}

	d := NewDecoder()
	d.Feed(encoded[:len(encoded)/2])
	if _, err := d.Next(); !IsNeedsMore(err) {
		t.Fatalf("got %v, want ErrNeedsMore on partial feed", err)
	}
	d.Feed(encoded[len(encoded)/2:])
	if _, err := d.Next(); err != nil {
		t.Fatalf("Next after full feed: %v", err)
	}
}
