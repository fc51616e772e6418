package channel

import (
	"context"
	"sync"

	"github.com/marmos91/dsp/internal/dsp/frame"
	"github.com/marmos91/dsp/internal/dsp/transport"
	"github.com/marmos91/dsp/internal/dsp/wire"
	"github.com/marmos91/dsp/internal/logger"
)

// Handler processes one COMMAND_REQ's decoded payload and returns the
// encoded response payload. DSP treats the two ends of a channel as
// symmetric (spec.md §3); Handler is the hook a server-side process
// plugs its own request dispatch into, generalizing the echo
// responder this package's own tests used before a production server
// existed.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Responder answers COMMAND_REQ and TASKMGMT_REQ frames arriving on a
// transport with exactly one Handler. Each COMMAND_REQ runs Handler in
// its own goroutine so a slow application request never blocks the
// read loop from noticing a TASKMGMT_REQ that targets it.
type Responder struct {
	handler        Handler
	opts           frame.Options
	maxResponse    int // spec.md §6 FORE_MAX_RESPONSE/BACK_MAX_RESPONSE; <= 0 means unbounded

	mu     sync.Mutex
	active map[uint64]context.CancelFunc
}

// NewResponder returns a Responder that answers every COMMAND_REQ by
// calling handler. opts controls the digest/compression options used
// on every frame this Responder sends back. maxResponse caps the
// encoded response size the Responder will put on the wire; a
// handler result exceeding it is dropped and logged rather than sent,
// so no COMMAND_RESP goes back for that command.
func NewResponder(handler Handler, opts frame.Options, maxResponse int) *Responder {
	return &Responder{
		handler:     handler,
		opts:        opts,
		maxResponse: maxResponse,
		active:      make(map[uint64]context.CancelFunc),
	}
}

// Serve drives tr's read loop, answering requests until ctx is
// canceled or the transport dies. It blocks like transport.Run.
func (r *Responder) Serve(ctx context.Context, tr *transport.Transport) error {
	return tr.Run(ctx, func(f *frame.Frame) {
		r.handleFrame(ctx, tr, f)
	})
}

func (r *Responder) handleFrame(ctx context.Context, tr *transport.Transport, f *frame.Frame) {
	switch f.Type {
	case wire.FrameCommandReq:
		r.handleCommandReq(ctx, tr, f)
	case wire.FrameTaskMgmtReq:
		r.handleTaskMgmtReq(tr, f)
	}
}

func (r *Responder) handleCommandReq(ctx context.Context, tr *transport.Transport, f *frame.Frame) {
	prefix, err := decodeCommandReqPrefix(f.Prefix)
	if err != nil {
		logger.Warn("responder: malformed command request", "error", err)
		return
	}

	cmdCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.active[prefix.CommandID] = cancel
	r.mu.Unlock()

	payload := f.Payload
	go r.execute(cmdCtx, cancel, tr, prefix, payload)
}

func (r *Responder) execute(ctx context.Context, cancel context.CancelFunc, tr *transport.Transport, prefix commandReqPrefix, payload []byte) {
	defer cancel()
	resp, err := r.handler(ctx, payload)

	r.mu.Lock()
	_, stillActive := r.active[prefix.CommandID]
	delete(r.active, prefix.CommandID)
	r.mu.Unlock()

	if !stillActive {
		// Aborted out from under the handler; TASKMGMT_RESP already sent.
		return
	}
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		logger.Warn("responder: handler failed", "commandID", prefix.CommandID, "error", err)
		return
	}
	if r.maxResponse > 0 && len(resp) > r.maxResponse {
		logger.Warn("responder: handler response exceeds MaxResponseSize, dropping",
			"commandID", prefix.CommandID, "size", len(resp), "max", r.maxResponse)
		return
	}

	respFrame := frame.Frame{
		Type: wire.FrameCommandResp,
		Prefix: commandRespPrefix{
			CommandID: prefix.CommandID,
			SlotID:    prefix.SlotID,
			SlotSN:    prefix.SlotSN,
			Status:    wire.StatusSuccess,
		}.encode(),
		Payload: resp,
	}
	if err := tr.Send(respFrame, r.opts); err != nil {
		logger.Warn("responder: send command response", "commandID", prefix.CommandID, "error", err)
	}
}

func (r *Responder) handleTaskMgmtReq(tr *transport.Transport, f *frame.Frame) {
	prefix, err := decodeTaskMgmtReqPrefix(f.Prefix)
	if err != nil {
		logger.Warn("responder: malformed task management request", "error", err)
		return
	}

	r.mu.Lock()
	cancel, ok := r.active[prefix.CommandID]
	delete(r.active, prefix.CommandID)
	r.mu.Unlock()

	status := wire.TaskMgmtAlreadyCompleted
	if ok {
		cancel()
		status = wire.TaskMgmtAbortedAfterStart
	}

	resp := frame.Frame{
		Type: wire.FrameTaskMgmtResp,
		Prefix: taskMgmtRespPrefix{
			CommandID: prefix.CommandID,
			Status:    status,
		}.encode(),
	}
	if err := tr.Send(resp, r.opts); err != nil {
		logger.Warn("responder: send task management response", "commandID", prefix.CommandID, "error", err)
	}
}
