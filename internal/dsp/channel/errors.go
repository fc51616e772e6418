package channel

import "errors"

var (
	// ErrClosed is returned by Execute and Abort once Shutdown has run.
	ErrClosed = errors.New("channel: closed")
	// ErrCommandNotFound is returned by Abort for an unknown or already
	// forgotten command id.
	ErrCommandNotFound = errors.New("channel: command not found")
	// ErrRequestTooLarge is returned by Execute when the encoded request
	// exceeds the channel's configured MaxRequestSize.
	ErrRequestTooLarge = errors.New("channel: encoded request exceeds MaxRequestSize")
	// ErrQueueFull is returned by Execute when the channel's pending
	// queue is already at its configured QueueDepth.
	ErrQueueFull = errors.New("channel: pending queue at configured depth")
)
