// Package channel implements the client-side half of one DSP channel
// (fore or back): the per-command state machine of spec.md §4.3, the
// pending/retry/abort queue dispatch algorithm of spec.md §4.4, and
// the slot/transport/throttle wiring a command needs to get from
// Execute to a delivered Result.
//
// The queue-plus-background-worker shape is grounded on
// pkg/transfer/manager.go's job manager: a small set of long-lived
// goroutines, each draining one work queue under a shared
// sync.Cond-guarded monitor, woken by Broadcast whenever a queue
// transition might let them make progress. DSP generalizes that single
// queue into four (pending, retry, abort, plus the registry itself)
// because a command's next move depends on which failure put it there.
package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dsp/internal/dsp/codec"
	"github.com/marmos91/dsp/internal/dsp/frame"
	"github.com/marmos91/dsp/internal/dsp/scheduler"
	"github.com/marmos91/dsp/internal/dsp/serial"
	"github.com/marmos91/dsp/internal/dsp/slottable"
	"github.com/marmos91/dsp/internal/dsp/throttle"
	"github.com/marmos91/dsp/internal/dsp/transport"
	"github.com/marmos91/dsp/internal/dsp/wire"
	"github.com/marmos91/dsp/internal/logger"
)

// throttleBackoff is how long the dispatch loop waits before retrying
// a send that was refused by the throttler for lack of tokens.
const throttleBackoff = 50 * time.Millisecond

// Config selects a Channel's wire, scheduling, and dispatch behavior.
// Fields correspond to the Configurable options of spec.md §6.
type Config struct {
	Codec           codec.ServiceCodec
	Slots           uint32
	SchedulerPolicy wire.SchedulerPolicy
	BandwidthLimit  float64 // bytes/sec; <= 0 means unlimited
	FrameOptions    frame.Options
	Version         wire.Version
	// SyncDispatch makes Execute block until the command's first send
	// attempt has been made (successfully or not) before returning,
	// instead of returning as soon as the command is admitted.
	SyncDispatch bool
	// QueueDepth caps the number of commands waiting in the pending
	// queue (spec.md §6 FORE_QUEUE_DEPTH / BACK_QUEUE_DEPTH, one
	// Channel instance per direction). <= 0 means unbounded.
	QueueDepth uint32
	// MaxRequestSize caps the encoded byte length of an Execute request
	// (spec.md §6 FORE_MAX_REQUEST / BACK_MAX_REQUEST). <= 0 means
	// unbounded.
	MaxRequestSize int
	// MaxTransports caps how many transports may be Attach'ed at once
	// (spec.md §6 MAX_TRANSPORTS). <= 0 means unbounded. Attach silently
	// refuses (logging a warning) once this many are already attached.
	MaxTransports uint32
}

// Channel is one fore or back channel: a command registry plus the
// queues and background tasks that move commands through spec.md
// §4.3's state machine.
type Channel struct {
	cfg Config

	mu   sync.Mutex
	cond *sync.Cond

	slots     *slottable.SlotTable
	sched     *scheduler.Scheduler
	throttler *throttle.Throttler
	commandSN serial.Number

	nextCommandID uint64
	registry      map[uint64]*command

	pendingQ []*command
	retryQ   []*command
	abortQ   []*command

	transports map[uint64]*transport.Transport
	connected  bool
	closed     bool

	wg sync.WaitGroup
}

// New constructs a Channel and starts its three background dispatch
// tasks (restart, retry, abort). Call Shutdown to stop them.
func New(cfg Config) *Channel {
	ch := &Channel{
		cfg:        cfg,
		slots:      slottable.New(cfg.Slots),
		sched:      scheduler.New(cfg.SchedulerPolicy),
		throttler:  throttle.New(cfg.BandwidthLimit),
		commandSN:  serial.NewCommandSN(),
		registry:   make(map[uint64]*command),
		transports: make(map[uint64]*transport.Transport),
	}
	ch.cond = sync.NewCond(&ch.mu)

	ch.wg.Add(3)
	go ch.restartTask()
	go ch.retryTask()
	go ch.abortTask()
	return ch
}

// Attach adds a transport to the channel's scheduling pool and begins
// reading frames from it. The transport is automatically detached if
// its read loop exits for any reason (peer close, idle timeout, ctx
// cancellation).
func (ch *Channel) Attach(ctx context.Context, tr *transport.Transport) {
	ch.mu.Lock()
	if ch.cfg.MaxTransports > 0 && uint32(len(ch.transports)) >= ch.cfg.MaxTransports {
		ch.mu.Unlock()
		logger.Warn("channel: refusing attach, at configured MaxTransports",
			"transportID", tr.ID(), "maxTransports", ch.cfg.MaxTransports)
		tr.Reset()
		return
	}
	ch.transports[tr.ID()] = tr
	ch.connected = true
	ch.sched.Attach(tr)
	ch.mu.Unlock()
	ch.cond.Broadcast()

	go func() {
		_ = tr.Run(ctx, ch.handleFrame)
		ch.Detach(tr)
	}()
}

// Detach removes a transport from scheduling and re-homes whatever was
// in flight on it: ACTIVE commands go to RETRY, in-progress aborts go
// back onto the abort queue to be reissued elsewhere.
func (ch *Channel) Detach(tr *transport.Transport) {
	ch.mu.Lock()
	delete(ch.transports, tr.ID())
	ch.sched.Detach(tr)
	ch.connected = len(ch.transports) > 0

	for _, cmd := range ch.registry {
		if cmd.transportID != tr.ID() {
			continue
		}
		switch cmd.state {
		case StateActive:
			cmd.state = StateRetry
			ch.retryQ = append(ch.retryQ, cmd)
		case StateAbort:
			// The abort attempt itself was lost; re-issue it. A real
			// wire-visible INDOUBT leg would precede this, but since
			// no response can possibly have crossed this dead
			// transport in either direction we collapse straight back
			// to ABORT and requeue.
			ch.abortQ = append(ch.abortQ, cmd)
		}
	}
	ch.mu.Unlock()
	ch.cond.Broadcast()
}

// Execute submits req for delivery on this channel, encoding it with
// the configured codec. The returned Future resolves once a response,
// an unrecoverable error, or an abort confirmation arrives.
func (ch *Channel) Execute(req any) (*Future, error) {
	encoded, err := ch.cfg.Codec.EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("channel: encode request: %w", err)
	}
	if ch.cfg.MaxRequestSize > 0 && len(encoded) > ch.cfg.MaxRequestSize {
		return nil, ErrRequestTooLarge
	}
	claims := codec.ClaimsOf(req)

	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil, ErrClosed
	}
	if ch.cfg.QueueDepth > 0 && uint32(len(ch.pendingQ)) >= ch.cfg.QueueDepth {
		ch.mu.Unlock()
		return nil, ErrQueueFull
	}
	id := ch.nextCommandID
	ch.nextCommandID++
	cmd := newCommand(id, claims, encoded)
	cmd.state = StatePending
	ch.registry[id] = cmd
	ch.pendingQ = append(ch.pendingQ, cmd)
	ch.mu.Unlock()
	ch.cond.Broadcast()

	if ch.cfg.SyncDispatch {
		<-cmd.dispatchedOnce
	}
	return cmd.future(), nil
}

// Abort requests cancellation of commandID. It is safe to call
// concurrently with the command's own completion: while the command is
// still registered, Abort returns a Future that resolves to the
// command's actual final outcome, whether that is the abort taking
// effect or the command completing first. A command whose COMMAND_RESP
// or TASKMGMT_RESP has already been handled is no longer registered,
// and Abort returns ErrCommandNotFound for it.
func (ch *Channel) Abort(commandID uint64) (*Future, error) {
	ch.mu.Lock()
	cmd, ok := ch.registry[commandID]
	if !ok {
		ch.mu.Unlock()
		return nil, ErrCommandNotFound
	}

	switch cmd.state {
	case StateFinal:
		ch.mu.Unlock()
		return cmd.future(), nil

	case StatePending:
		ch.pendingQ = removeCommand(ch.pendingQ, cmd)
		cmd.finish(Result{Aborted: true})
		ch.mu.Unlock()
		return cmd.future(), nil

	case StateRetry:
		ch.retryQ = removeCommand(ch.retryQ, cmd)
		cmd.state = StateAbort
		ch.abortQ = append(ch.abortQ, cmd)
		ch.mu.Unlock()
		ch.cond.Broadcast()
		return cmd.future(), nil

	case StateActive, StateIndoubt:
		// Rendezvous with dispatch's barrier before handing the
		// command to the abort task, so a task-management request
		// never overtakes the original request it targets on the
		// wire.
		ch.mu.Unlock()
		cmd.barrier.Abort()
		ch.mu.Lock()
		if cmd.state == StateFinal {
			ch.mu.Unlock()
			return cmd.future(), nil
		}
		cmd.state = StateAbort
		ch.abortQ = append(ch.abortQ, cmd)
		ch.mu.Unlock()
		ch.cond.Broadcast()
		return cmd.future(), nil

	case StateAbort, StateInitial:
		// already on the abort path, or not yet admitted anywhere;
		// either way there's nothing more to do here.
	}
	ch.mu.Unlock()
	ch.cond.Broadcast()
	return cmd.future(), nil
}

// Shutdown stops the background dispatch tasks and fails every
// outstanding command with ErrClosed. Attached transports are reset.
func (ch *Channel) Shutdown() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	for _, cmd := range ch.registry {
		if cmd.state != StateFinal {
			cmd.finish(Result{Err: ErrClosed})
		}
	}
	transports := make([]*transport.Transport, 0, len(ch.transports))
	for _, tr := range ch.transports {
		transports = append(transports, tr)
	}
	ch.mu.Unlock()
	ch.cond.Broadcast()
	ch.wg.Wait()

	for _, tr := range transports {
		tr.Reset()
	}
}

func removeCommand(q []*command, target *command) []*command {
	out := q[:0]
	for _, c := range q {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}

// restartTask drains pendingQ: commands here have never been sent, or
// were bounced back after a scheduling/slot/throttle failure.
func (ch *Channel) restartTask() {
	defer ch.wg.Done()
	for {
		ch.mu.Lock()
		for len(ch.pendingQ) == 0 && !ch.closed {
			ch.cond.Wait()
		}
		if ch.closed {
			ch.mu.Unlock()
			return
		}
		cmd := ch.pendingQ[0]
		ch.pendingQ = ch.pendingQ[1:]
		ch.mu.Unlock()

		ch.dispatch(cmd, false)
	}
}

// retryTask drains retryQ: commands here already hold a slot and
// commandSN and only need a (new) transport.
func (ch *Channel) retryTask() {
	defer ch.wg.Done()
	for {
		ch.mu.Lock()
		for len(ch.retryQ) == 0 && !ch.closed {
			ch.cond.Wait()
		}
		if ch.closed {
			ch.mu.Unlock()
			return
		}
		cmd := ch.retryQ[0]
		ch.retryQ = ch.retryQ[1:]
		ch.mu.Unlock()

		ch.dispatch(cmd, true)
	}
}

// abortTask drains abortQ, issuing or reissuing task-management
// exchanges for each command on it.
func (ch *Channel) abortTask() {
	defer ch.wg.Done()
	for {
		ch.mu.Lock()
		for len(ch.abortQ) == 0 && !ch.closed {
			ch.cond.Wait()
		}
		if ch.closed {
			ch.mu.Unlock()
			return
		}
		cmd := ch.abortQ[0]
		ch.abortQ = ch.abortQ[1:]
		ch.mu.Unlock()

		ch.dispatchAbort(cmd)
	}
}

// dispatch attempts to put cmd on the wire. isRetry indicates the
// command already holds a slot and commandSN from a prior attempt.
func (ch *Channel) dispatch(cmd *command, isRetry bool) {
	ch.mu.Lock()
	if cmd.state == StateFinal {
		ch.mu.Unlock()
		return
	}

	if !isRetry && !cmd.hasSlot {
		slotID, slotSN, err := ch.slots.Reserve(cmd.id)
		if err != nil {
			// No free slot yet; back of the pending line, woken again
			// the next time a slot is released.
			cmd.state = StatePending
			ch.pendingQ = append(ch.pendingQ, cmd)
			ch.mu.Unlock()
			return
		}
		cmd.hasSlot = true
		cmd.slotID = slotID
		cmd.slotSN = slotSN
		cmd.commandSN = ch.commandSN
		ch.commandSN = ch.commandSN.Next()
	}

	if !ch.connected {
		cmd.state = StatePending
		ch.pendingQ = append(ch.pendingQ, cmd)
		ch.mu.Unlock()
		return
	}

	var tr *transport.Transport
	var schedErr error
	if isRetry {
		t, err := ch.sched.ScheduleExcluding(cmd.transportID)
		tr, schedErr = asTransport(t), err
	} else {
		t, err := ch.sched.Schedule()
		tr, schedErr = asTransport(t), err
	}
	if schedErr != nil {
		if isRetry {
			cmd.state = StateRetry
			ch.retryQ = append(ch.retryQ, cmd)
		} else {
			cmd.state = StatePending
			ch.pendingQ = append(ch.pendingQ, cmd)
		}
		ch.mu.Unlock()
		return
	}

	if !ch.throttler.TryConsume(len(cmd.req)) {
		if isRetry {
			ch.retryQ = append(ch.retryQ, cmd)
		} else {
			ch.pendingQ = append(ch.pendingQ, cmd)
		}
		ch.mu.Unlock()
		time.AfterFunc(throttleBackoff, func() { ch.cond.Broadcast() })
		return
	}

	cmd.transportID = tr.ID()
	cmd.attempts++
	cmd.state = StateActive
	ch.mu.Unlock()

	if err := cmd.barrier.Block(); err != nil {
		// An abort won the race for this command between us picking it
		// off the queue and reaching the barrier; the abort path now
		// owns it.
		cmd.markDispatched()
		return
	}

	f := frame.Frame{
		Type:              wire.FrameCommandReq,
		Version:           ch.cfg.Version,
		ExpectedCommandSN: cmd.commandSN.Value,
		Prefix: commandReqPrefix{
			CommandID: cmd.id,
			CommandSN: cmd.commandSN.Value,
			SlotID:    cmd.slotID,
			SlotSN:    cmd.slotSN.Value,
		}.encode(),
		Payload: cmd.req,
	}

	tr.IncrementOutstanding()
	sendErr := tr.Send(f, ch.cfg.FrameOptions)
	cmd.barrier.Release()
	cmd.markDispatched()

	if sendErr != nil {
		tr.DecrementOutstanding()
		ch.mu.Lock()
		if cmd.state == StateActive {
			cmd.state = StateRetry
			ch.retryQ = append(ch.retryQ, cmd)
		}
		ch.mu.Unlock()
		ch.cond.Broadcast()
	}
}

// dispatchAbort sends a task-management request for cmd over a
// scheduled transport. It does nothing for a command that has left
// StateAbort, and puts cmd back on the abort queue if the send fails
// (commands that never reached the wire are finished by Abort itself).
func (ch *Channel) dispatchAbort(cmd *command) {
	ch.mu.Lock()
	if cmd.state != StateAbort {
		ch.mu.Unlock()
		return
	}
	if !ch.connected {
		// Nothing to send to; wait for reconnection before retrying.
		ch.mu.Unlock()
		return
	}
	tr, err := ch.sched.Schedule()
	if err != nil {
		ch.mu.Unlock()
		return
	}
	ch.mu.Unlock()

	f := frame.Frame{
		Type:    wire.FrameTaskMgmtReq,
		Version: ch.cfg.Version,
		Prefix:  taskMgmtReqPrefix{CommandID: cmd.id}.encode(),
	}
	tr.IncrementOutstanding()
	if err := tr.Send(f, ch.cfg.FrameOptions); err != nil {
		tr.DecrementOutstanding()
		ch.mu.Lock()
		if cmd.state == StateAbort {
			ch.abortQ = append(ch.abortQ, cmd)
		}
		ch.mu.Unlock()
		ch.cond.Broadcast()
	}
}

// handleFrame routes an inbound frame to its command, releasing the
// slot it occupied and finishing it. It is called from a transport's
// read loop goroutine, never while the channel mutex is held.
func (ch *Channel) handleFrame(f *frame.Frame) {
	switch f.Type {
	case wire.FrameCommandResp:
		ch.handleCommandResp(f)
	case wire.FrameTaskMgmtResp:
		ch.handleTaskMgmtResp(f)
	default:
		logger.Warn("channel: unexpected frame type in command/back channel", "type", f.Type.String())
	}
}

func (ch *Channel) handleCommandResp(f *frame.Frame) {
	prefix, err := decodeCommandRespPrefix(f.Prefix)
	if err != nil {
		logger.Warn("channel: malformed command response", "error", err)
		return
	}

	ch.mu.Lock()
	cmd, ok := ch.registry[prefix.CommandID]
	if !ok {
		ch.mu.Unlock()
		return
	}
	if tr, ok := ch.transports[cmd.transportID]; ok {
		tr.DecrementOutstanding()
	}
	if cmd.hasSlot {
		_ = ch.slots.Confirm(cmd.slotID, cmd.claims.Idempotent, f.Payload)
		_ = ch.slots.Release(cmd.slotID)
	}
	delete(ch.registry, prefix.CommandID)

	var res Result
	if prefix.Status == wire.StatusSuccess {
		res = Result{Response: f.Payload}
	} else {
		res = Result{Err: fmt.Errorf("channel: command %d failed: %s", prefix.CommandID, prefix.Status)}
	}
	if cmd.state != StateFinal {
		cmd.finish(res)
	}
	ch.mu.Unlock()
}

func (ch *Channel) handleTaskMgmtResp(f *frame.Frame) {
	prefix, err := decodeTaskMgmtRespPrefix(f.Prefix)
	if err != nil {
		logger.Warn("channel: malformed task management response", "error", err)
		return
	}

	ch.mu.Lock()
	cmd, ok := ch.registry[prefix.CommandID]
	if !ok {
		ch.mu.Unlock()
		return
	}
	if tr, ok := ch.transports[cmd.transportID]; ok {
		tr.DecrementOutstanding()
	}
	cmd.abortStatus = prefix.Status
	if cmd.hasSlot {
		_ = ch.slots.Release(cmd.slotID)
	}
	delete(ch.registry, prefix.CommandID)
	if cmd.state != StateFinal {
		if prefix.Status == wire.TaskMgmtUnabortable {
			cmd.finish(Result{Err: fmt.Errorf("channel: abort of command %d failed: %s", prefix.CommandID, prefix.Status)})
		} else {
			cmd.finish(Result{Aborted: true})
		}
	}
	ch.mu.Unlock()
}

func asTransport(t scheduler.Transport) *transport.Transport {
	if t == nil {
		return nil
	}
	return t.(*transport.Transport)
}
