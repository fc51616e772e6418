package frame

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a frame codec failure. This is a leaf package
// with no internal dependencies beyond digest/compress/wire, following
// the pkg/metadata/errors convention of a small closed ErrorCode enum.
type ErrorCode int

const (
	// ErrProtocolViolation covers bad protocol identifier, bad frame
	// type, bad version, or inconsistent offset/length fields.
	ErrProtocolViolation ErrorCode = iota + 1
	// ErrBadDigest indicates a digest mismatch on decode.
	ErrBadDigest
	// ErrBufferUnderrun indicates the decoder needs more bytes before
	// a full frame can be parsed (spec.md §4.1 "NEEDS_MORE").
	ErrBufferUnderrun
)

func (c ErrorCode) String() string {
	switch c {
	case ErrProtocolViolation:
		return "ProtocolViolation"
	case ErrBadDigest:
		return "BadDigest"
	case ErrBufferUnderrun:
		return "BufferUnderrun"
	default:
		return "Unknown"
	}
}

// Error is the typed error returned by Encode/Decode.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("frame: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("frame: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func violation(format string, args ...any) *Error {
	return &Error{Code: ErrProtocolViolation, Message: fmt.Sprintf(format, args...)}
}

func badDigest(region string) *Error {
	return &Error{Code: ErrBadDigest, Message: fmt.Sprintf("%s digest mismatch", region)}
}

// ErrNeedsMore is returned by Decoder.Next when the cumulation buffer
// does not yet hold a complete frame.
var ErrNeedsMore = &Error{Code: ErrBufferUnderrun, Message: "need more bytes"}

// IsNeedsMore reports whether err is (or wraps) ErrNeedsMore.
func IsNeedsMore(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == ErrBufferUnderrun
}
