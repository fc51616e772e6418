package channel

import (
	"github.com/marmos91/dsp/internal/dsp/codec"
	"github.com/marmos91/dsp/internal/dsp/serial"
	"github.com/marmos91/dsp/internal/dsp/taskmgmt"
	"github.com/marmos91/dsp/internal/dsp/wire"
)

// Result is the outcome delivered once a Command reaches StateFinal.
type Result struct {
	Response []byte
	Err      error
	Aborted  bool
}

// Future is returned by Execute and Abort. Wait blocks until the
// command's result is available; it may be called any number of times
// and from any number of goroutines.
type Future struct {
	cmd *command
}

// Wait blocks until the command finishes and returns its Result.
func (f *Future) Wait() Result {
	<-f.cmd.done
	return f.cmd.result
}

// ID returns the command ID this Future tracks, for a later Abort call.
func (f *Future) ID() uint64 {
	return f.cmd.id
}

// command is the channel's private bookkeeping for one in-flight
// application request. All field access happens under the owning
// Channel's mutex except for barrier, which has its own synchronization
// by design (spec.md §5): it lets the dispatch/retry path perform the
// actual wire write without holding the channel mutex for the duration
// of the I/O, while still giving Abort a safe rendezvous point.
type command struct {
	id     uint64
	claims codec.Claims
	req    []byte

	state CommandState

	hasSlot   bool
	slotID    uint32
	slotSN    serial.Number
	commandSN serial.Number

	transportID uint64
	attempts    int

	barrier *taskmgmt.Barrier
	result  Result
	done    chan struct{}

	dispatchedOnce chan struct{}

	abortStatus wire.TaskMgmtStatus
}

func newCommand(id uint64, claims codec.Claims, req []byte) *command {
	return &command{
		id:             id,
		claims:         claims,
		req:            req,
		state:          StateInitial,
		barrier:        taskmgmt.NewBarrier(),
		done:           make(chan struct{}),
		dispatchedOnce: make(chan struct{}),
	}
}

func (c *command) future() *Future {
	return &Future{cmd: c}
}

// finish must be called with the owning Channel's mutex held.
func (c *command) finish(res Result) {
	c.state = StateFinal
	c.result = res
	close(c.done)
	c.markDispatched()
}

// markDispatched is idempotent and safe to call at most meaningfully
// once; later calls are no-ops. Used to unblock a sync-dispatch caller
// of Execute once the request has actually reached the wire (or failed
// to, having exhausted the attempt).
func (c *command) markDispatched() {
	select {
	case <-c.dispatchedOnce:
	default:
		close(c.dispatchedOnce)
	}
}
