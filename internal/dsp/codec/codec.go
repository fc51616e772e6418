// Package codec implements the DSP ServiceCodec contract from spec.md
// §6: the core never introspects application request/response types,
// it only calls through this capability object with byte streams.
//
// Two implementations are provided: a JSON reference codec and an XDR
// codec built on rasky/go-xdr/xdr2, the teacher's own RFC 4506
// marshaler (see internal/protocol/nfs/mount/handlers/mount.go's
// xdr.Unmarshal usage) — reused here as DSP's second, alternate codec
// to demonstrate ServiceCodec pluggability rather than hand-rolling a
// second wire format.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Claims describes application-level metadata about a request that
// the core needs without decoding the request body itself: whether
// re-execution is safe (idempotent) and a human-readable procedure
// name for logging. Application request types that want to advertise
// this implement Claimer; types that don't are treated as
// non-idempotent.
type Claims struct {
	Idempotent bool
	Procedure  string
}

// Claimer is implemented by application request types that can
// describe their own Claims.
type Claimer interface {
	Claims() Claims
}

// ServiceCodec encodes and decodes the three kinds of application
// payload a command exchange may carry. Claims are not part of this
// interface: ClaimsOf reads them from the request value itself.
type ServiceCodec interface {
	EncodeRequest(v any) ([]byte, error)
	DecodeRequest(data []byte, out any) error

	EncodeResponse(v any) ([]byte, error)
	DecodeResponse(data []byte, out any) error

	EncodeException(v any) ([]byte, error)
	DecodeException(data []byte, out any) error
}

// ClaimsOf extracts Claims from a decoded request value, defaulting to
// a zero Claims (non-idempotent, no procedure name) if the value
// doesn't implement Claimer.
func ClaimsOf(v any) Claims {
	if c, ok := v.(Claimer); ok {
		return c.Claims()
	}
	return Claims{}
}

// JSON is a ServiceCodec backed by encoding/json, useful as a
// reference implementation and for debugging.
type JSON struct{}

func (JSON) EncodeRequest(v any) ([]byte, error)   { return jsonEncode(v) }
func (JSON) EncodeResponse(v any) ([]byte, error)  { return jsonEncode(v) }
func (JSON) EncodeException(v any) ([]byte, error) { return jsonEncode(v) }

func (JSON) DecodeRequest(data []byte, out any) error   { return jsonDecode(data, out) }
func (JSON) DecodeResponse(data []byte, out any) error  { return jsonDecode(data, out) }
func (JSON) DecodeException(data []byte, out any) error { return jsonDecode(data, out) }

func jsonEncode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: json encode: %w", err)
	}
	return b, nil
}

func jsonDecode(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("codec: json decode: %w", err)
	}
	return nil
}

// XDR is a ServiceCodec backed by rasky/go-xdr/xdr2's reflection-based
// RFC 4506 marshaler.
type XDR struct{}

func (XDR) EncodeRequest(v any) ([]byte, error)   { return xdrEncode(v) }
func (XDR) EncodeResponse(v any) ([]byte, error)  { return xdrEncode(v) }
func (XDR) EncodeException(v any) ([]byte, error) { return xdrEncode(v) }

func (XDR) DecodeRequest(data []byte, out any) error   { return xdrDecode(data, out) }
func (XDR) DecodeResponse(data []byte, out any) error  { return xdrDecode(data, out) }
func (XDR) DecodeException(data []byte, out any) error { return xdrDecode(data, out) }

func xdrEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("codec: xdr encode: %w", err)
	}
	return buf.Bytes(), nil
}

func xdrDecode(data []byte, out any) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(data), out); err != nil {
		return fmt.Errorf("codec: xdr decode: %w", err)
	}
	return nil
}
