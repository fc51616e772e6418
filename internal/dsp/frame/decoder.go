package frame

import (
	"bytes"

	"github.com/marmos91/dsp/internal/dsp/wire"
)

// Decoder holds the per-transport cumulation buffer used to reassemble
// frames from a byte stream where reads may return partial or
// multiple frames at once (spec.md §4.1 "Ordering contract"). A
// Decoder is strictly per-connection, never shared across transports —
// the encoder, by contrast, is stateless per call and safe to share.
type Decoder struct {
	buf bytes.Buffer
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends newly read bytes to the cumulation buffer.
func (d *Decoder) Feed(data []byte) {
	d.buf.Write(data)
}

// Next attempts to decode one frame from the cumulation buffer. It
// returns ErrNeedsMore if the buffer does not yet hold a complete
// frame. On success it consumes exactly the decoded frame's bytes and
// then asserts the ordering contract: whatever remains must either be
// empty or begin with a valid protocol identifier, catching a torn
// frame immediately rather than letting it silently misparse later.
func (d *Decoder) Next() (*Frame, error) {
	f, consumed, err := Decode(d.buf.Bytes())
	if err != nil {
		return nil, err
	}
	d.buf.Next(consumed)

	remaining := d.buf.Bytes()
	if len(remaining) > 0 && len(remaining) >= 4 && !bytes.Equal(remaining[0:4], wire.ProtocolID[:]) {
		return nil, violation("torn frame: cumulation buffer does not start with protocol identifier after decode")
	}
	return f, nil
}

// Pending reports how many bytes are currently buffered.
func (d *Decoder) Pending() int {
	return d.buf.Len()
}
