// Package frame implements the DSP wire frame codec described in
// spec.md §4.1: a fixed header, a type-specific prefix, an optional
// service payload (possibly compressed, possibly carrying bulk-data
// references), and up to three optional digests whose presence and
// algorithm are advertised in the header so a decoder never has to
// parse the body to find them.
//
// Encoding is grounded on internal/protocol/xdr's incremental
// bytes.Buffer writer and on internal/protocol/nfs/v4/state/callback.go's
// "write a zero placeholder, compute, patch in place" pattern used for
// RPC record-marking and CB_COMPOUND bodies.
package frame

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/marmos91/dsp/internal/dsp/compress"
	"github.com/marmos91/dsp/internal/dsp/digest"
	"github.com/marmos91/dsp/internal/dsp/wire"
)

// FixedHeaderSize is the length of the non-optional header region:
// protocol id(4) + type(1) + version(3) + frameOffset(1) + length(3) +
// flags(2) + expectedCommandSN(4) + prefixLen(4).
//
// flags is a frame-self-describing field: it carries the digest
// algorithms AND the compression algorithm, so a decoder can fully
// round-trip a frame without any session-level context — it never
// needs to consult negotiated session options to know how to parse a
// frame it receives (spec.md §4.1's "decoder need not parse the body
// to locate [digests]" extended to compression for the same reason).
const FixedHeaderSize = 4 + 1 + 3 + 1 + 3 + 2 + 4 + 4

// digestSlotSize is the byte length of every supported digest
// (CRC32 and Adler32 are both 4 bytes); DigestNone contributes 0.
func digestSlotSize(alg wire.DigestAlgorithm) int {
	if alg == wire.DigestNone {
		return 0
	}
	return 4
}

// Options selects the digest algorithms, compression algorithm, and
// bulk-data digest coverage for one Encode call. The same Options must
// be used by the peer's Decoder only insofar as the peer trusts the
// header's self-describing flags byte — Decode never requires the
// caller to supply Options, it reads them off the wire.
type Options struct {
	HeaderDigest  wire.DigestAlgorithm
	FrameDigest   wire.DigestAlgorithm
	PayloadDigest wire.DigestAlgorithm
	Compress      wire.CompressAlgorithm
	// DigestData includes the bulk-data regions in the payload digest
	// coverage when compression is off (spec.md §4.1). Ignored when
	// compression is on, since the whole payload (bulk data included)
	// is always digested as one compressed stream in that case.
	DigestData bool
}

// Frame is the decoded, in-memory representation of one DSP frame.
type Frame struct {
	Type              wire.FrameType
	Version           wire.Version
	ExpectedCommandSN uint32
	// Prefix holds the frame-type-specific fields (xid, commandSN,
	// slot id/sn, status, and so on) — everything in the body except
	// the application service payload. Callers encode/decode Prefix
	// with their own format; the frame codec treats it as opaque.
	Prefix []byte
	// Payload is the application service payload.
	Payload []byte
	// BulkData holds zero or more out-of-body byte regions referenced
	// by Payload (spec.md §4.1 "bulk data").
	BulkData [][]byte
}

const flagDigestData = 1 << 8

func packFlags(opts Options) uint16 {
	var f uint16
	f |= uint16(opts.FrameDigest) & 0x3
	f |= (uint16(opts.PayloadDigest) & 0x3) << 2
	f |= (uint16(opts.HeaderDigest) & 0x3) << 4
	f |= (uint16(opts.Compress) & 0x3) << 6
	if opts.DigestData {
		f |= flagDigestData
	}
	return f
}

func unpackFlags(f uint16) (frameAlg, payloadAlg, headerAlg wire.DigestAlgorithm, compressAlg wire.CompressAlgorithm, digestData bool) {
	frameAlg = wire.DigestAlgorithm(f & 0x3)
	payloadAlg = wire.DigestAlgorithm((f >> 2) & 0x3)
	headerAlg = wire.DigestAlgorithm((f >> 4) & 0x3)
	compressAlg = wire.CompressAlgorithm((f >> 6) & 0x3)
	digestData = f&flagDigestData != 0
	return
}

// encodeBulkFraming writes a length-prefixed payload followed by
// length-prefixed bulk regions, so a decoder can split them back out
// without needing Payload's own application schema.
func encodeBulkFraming(payload []byte, bulk [][]byte) []byte {
	var buf bytes.Buffer
	writeLP(&buf, payload)
	for _, b := range bulk {
		writeLP(&buf, b)
	}
	return buf.Bytes()
}

func writeLP(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func parseBulkFraming(block []byte) (payload []byte, bulk [][]byte, err error) {
	r := bytes.NewReader(block)
	payload, err = readLP(r)
	if err != nil {
		return nil, nil, violation("bulk framing: payload: %v", err)
	}
	for r.Len() > 0 {
		b, err := readLP(r)
		if err != nil {
			return nil, nil, violation("bulk framing: bulk region: %v", err)
		}
		bulk = append(bulk, b)
	}
	return payload, bulk, nil
}

func readLP(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Encode serializes f into a wire frame per opts.
func Encode(f Frame, opts Options) ([]byte, error) {
	headerDig, err := digest.For(opts.HeaderDigest)
	if err != nil {
		return nil, violation("unsupported header digest: %v", err)
	}
	frameDig, err := digest.For(opts.FrameDigest)
	if err != nil {
		return nil, violation("unsupported frame digest: %v", err)
	}
	payloadDig, err := digest.For(opts.PayloadDigest)
	if err != nil {
		return nil, violation("unsupported payload digest: %v", err)
	}
	compressor, err := compress.For(opts.Compress)
	if err != nil {
		return nil, violation("unsupported compression: %v", err)
	}

	rawBlock := encodeBulkFraming(f.Payload, f.BulkData)

	var payloadSection, payloadDigestInput []byte
	if opts.Compress != wire.CompressNone {
		compressed, err := compressor.Compress(rawBlock)
		if err != nil {
			return nil, &Error{Code: ErrProtocolViolation, Message: "compress payload", Cause: err}
		}
		payloadSection = compressed
		payloadDigestInput = compressed
	} else {
		payloadSection = rawBlock
		if opts.DigestData {
			payloadDigestInput = rawBlock
		} else {
			payloadDigestInput = f.Payload
		}
	}

	frameDigestInput := f.Prefix

	headerDigSize := digestSlotSize(opts.HeaderDigest)
	frameDigSize := digestSlotSize(opts.FrameDigest)
	payloadDigSize := digestSlotSize(opts.PayloadDigest)

	frameOffset := FixedHeaderSize + frameDigSize + payloadDigSize + headerDigSize
	bodyLen := len(f.Prefix) + len(payloadSection)
	totalLen := frameOffset + bodyLen

	buf := make([]byte, totalLen)
	copy(buf[0:4], wire.ProtocolID[:])
	buf[4] = byte(f.Type)
	buf[5] = f.Version.Major
	buf[6] = f.Version.Minor
	buf[7] = f.Version.Revision
	buf[8] = byte(frameOffset) // note: truncates for offset > 255, acceptable given small fixed-header-plus-digest sizes in this protocol
	putUint24(buf[9:12], uint32(totalLen))
	binary.BigEndian.PutUint16(buf[12:14], packFlags(opts))
	binary.BigEndian.PutUint32(buf[14:18], f.ExpectedCommandSN)
	binary.BigEndian.PutUint32(buf[18:22], uint32(len(f.Prefix)))

	off := FixedHeaderSize
	frameDigestOffset := off
	off += frameDigSize
	payloadDigestOffset := off
	off += payloadDigSize
	headerDigestOffset := off
	off += headerDigSize

	copy(buf[off:], f.Prefix)
	copy(buf[off+len(f.Prefix):], payloadSection)

	if frameDigSize > 0 {
		copy(buf[frameDigestOffset:frameDigestOffset+frameDigSize], frameDig.Sum(frameDigestInput))
	}
	if payloadDigSize > 0 {
		copy(buf[payloadDigestOffset:payloadDigestOffset+payloadDigSize], payloadDig.Sum(payloadDigestInput))
	}
	if headerDigSize > 0 {
		copy(buf[headerDigestOffset:headerDigestOffset+headerDigSize], headerDig.Sum(buf[0:headerDigestOffset]))
	}

	return buf, nil
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func getUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// Decode parses exactly one frame from buf, which must hold at least
// as many bytes as the frame's advertised length. Callers that don't
// yet know the length (streaming from a transport) should use Decoder
// instead, which buffers partial frames.
func Decode(buf []byte) (*Frame, int, error) {
	if len(buf) < FixedHeaderSize {
		return nil, 0, ErrNeedsMore
	}
	if !bytes.Equal(buf[0:4], wire.ProtocolID[:]) {
		return nil, 0, violation("bad protocol identifier %x", buf[0:4])
	}
	frameType := wire.FrameType(buf[4])
	version := wire.Version{Major: buf[5], Minor: buf[6], Revision: buf[7]}
	frameOffset := int(buf[8])
	length := int(getUint24(buf[9:12]))
	flags := binary.BigEndian.Uint16(buf[12:14])
	expectedCommandSN := binary.BigEndian.Uint32(buf[14:18])
	prefixLen := int(binary.BigEndian.Uint32(buf[18:22]))

	frameAlg, payloadAlg, headerAlg, compressAlg, digestData := unpackFlags(flags)

	if length < FixedHeaderSize {
		return nil, 0, violation("length %d shorter than fixed header", length)
	}
	if len(buf) < length {
		return nil, 0, ErrNeedsMore
	}

	headerDig, err := digest.For(headerAlg)
	if err != nil {
		return nil, 0, violation("unsupported header digest in wire flags: %v", err)
	}
	frameDig, err := digest.For(frameAlg)
	if err != nil {
		return nil, 0, violation("unsupported frame digest in wire flags: %v", err)
	}
	payloadDig, err := digest.For(payloadAlg)
	if err != nil {
		return nil, 0, violation("unsupported payload digest in wire flags: %v", err)
	}
	compressor, err := compress.For(compressAlg)
	if err != nil {
		return nil, 0, violation("unsupported compression in wire flags: %v", err)
	}

	frameDigSize := digestSlotSize(frameAlg)
	payloadDigSize := digestSlotSize(payloadAlg)
	headerDigSize := digestSlotSize(headerAlg)

	expectedOffset := FixedHeaderSize + frameDigSize + payloadDigSize + headerDigSize
	if frameOffset != expectedOffset {
		return nil, 0, violation("frameOffset %d inconsistent with digest option set (want %d)", frameOffset, expectedOffset)
	}
	if prefixLen < 0 || frameOffset+prefixLen > length {
		return nil, 0, violation("prefixLen %d inconsistent with frame length %d", prefixLen, length)
	}

	frameDigestOffset := FixedHeaderSize
	payloadDigestOffset := frameDigestOffset + frameDigSize
	headerDigestOffset := payloadDigestOffset + payloadDigSize

	if headerDigSize > 0 {
		want := buf[headerDigestOffset : headerDigestOffset+headerDigSize]
		got := headerDig.Sum(buf[0:headerDigestOffset])
		if !bytes.Equal(want, got) {
			return nil, 0, badDigest("header")
		}
	}

	prefix := append([]byte(nil), buf[frameOffset:frameOffset+prefixLen]...)
	payloadSection := buf[frameOffset+prefixLen : length]

	if frameDigSize > 0 {
		want := buf[frameDigestOffset : frameDigestOffset+frameDigSize]
		got := frameDig.Sum(prefix)
		if !bytes.Equal(want, got) {
			return nil, 0, badDigest("frame")
		}
	}

	// Payload digest coverage mirrors Encode: over the compressed bytes
	// when compression is on, or over the plain payload (optionally
	// plus bulk regions, per digestData) when it is off.
	if payloadDigSize > 0 {
		want := buf[payloadDigestOffset : payloadDigestOffset+payloadDigSize]
		var got []byte
		if compressAlg != wire.CompressNone {
			got = payloadDig.Sum(payloadSection)
		} else if digestData {
			got = payloadDig.Sum(payloadSection)
		} else {
			pay, _, perr := parseBulkFraming(payloadSection)
			if perr != nil {
				return nil, 0, perr.(*Error)
			}
			got = payloadDig.Sum(pay)
		}
		if !bytes.Equal(want, got) {
			return nil, 0, badDigest("payload")
		}
	}

	var rawBlock []byte
	if compressAlg != wire.CompressNone {
		decompressed, derr := compressor.Decompress(payloadSection)
		if derr != nil {
			return nil, 0, &Error{Code: ErrProtocolViolation, Message: "decompress payload", Cause: derr}
		}
		rawBlock = decompressed
	} else {
		rawBlock = append([]byte(nil), payloadSection...)
	}

	payload, bulk, perr := parseBulkFraming(rawBlock)
	if perr != nil {
		return nil, 0, perr
	}

	return &Frame{
		Type:              frameType,
		Version:           version,
		ExpectedCommandSN: expectedCommandSN,
		Prefix:            prefix,
		Payload:           payload,
		BulkData:          bulk,
	}, length, nil
}
