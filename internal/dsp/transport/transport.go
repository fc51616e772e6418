// Package transport implements one physical DSP connection: framing,
// the read loop that feeds the frame.Decoder's cumulation buffer, and
// reset signaling when the connection can no longer carry traffic.
//
// The read-loop shape (deadline-bounded io.Read into a reusable
// buffer, context cancellation checked between reads, logger.Debug/Warn
// on framing problems) is grounded on
// internal/adapter/smb/framing.go's ReadRequest, adapted from SMB2's
// NetBIOS-length-prefixed framing (which reads exactly one message at
// a time) to DSP's cumulation-buffer decoder (which may hold zero,
// one, or several pending frames after any single Read).
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dsp/internal/dsp/frame"
	"github.com/marmos91/dsp/internal/logger"
)

// readChunkSize is the buffer size for each conn.Read call. Frames
// larger than this simply span multiple reads; the decoder's
// cumulation buffer absorbs the difference.
const readChunkSize = 64 * 1024

// ctxPollInterval bounds how long a single conn.Read blocks before Run
// re-checks ctx.Done(), since net.Conn reads do not observe context
// cancellation directly.
const ctxPollInterval = 250 * time.Millisecond

// Transport carries DSP frames over one net.Conn. A Transport is safe
// for concurrent Send calls (writes are serialized under writeMu,
// following WriteNetBIOSFrame's "single point for all wire writes"
// convention) but Run must only be invoked once.
type Transport struct {
	id   uint64
	conn net.Conn

	writeMu     sync.Mutex
	decoder     *frame.Decoder
	outstanding atomic.Int64
	live        atomic.Bool

	resetOnce sync.Once
	resetCh   chan struct{}
	resetErr  error

	writeTimeout time.Duration
	readTimeout  time.Duration
}

// New wraps conn as transport id, identified to peers and to the
// scheduler by id.
func New(id uint64, conn net.Conn, writeTimeout, readTimeout time.Duration) *Transport {
	t := &Transport{
		id:           id,
		conn:         conn,
		decoder:      frame.NewDecoder(),
		resetCh:      make(chan struct{}),
		writeTimeout: writeTimeout,
		readTimeout:  readTimeout,
	}
	t.live.Store(true)
	return t
}

// ID satisfies scheduler.Transport.
func (t *Transport) ID() uint64 { return t.id }

// Live satisfies scheduler.Transport.
func (t *Transport) Live() bool { return t.live.Load() }

// Outstanding satisfies scheduler.Transport: the number of exchanges
// sent on this transport awaiting a response.
func (t *Transport) Outstanding() int { return int(t.outstanding.Load()) }

// IncrementOutstanding records that one more exchange is in flight on
// this transport. Called by the channel immediately before Send.
func (t *Transport) IncrementOutstanding() { t.outstanding.Add(1) }

// DecrementOutstanding records that an in-flight exchange completed
// (successfully or otherwise). Called by the channel once a matching
// response or reset is observed.
func (t *Transport) DecrementOutstanding() { t.outstanding.Add(-1) }

// Send encodes f per opts and writes it to the connection. A write
// failure resets the transport and is returned to the caller.
func (t *Transport) Send(f frame.Frame, opts frame.Options) error {
	encoded, err := frame.Encode(f, opts)
	if err != nil {
		return fmt.Errorf("transport %d: encode: %w", t.id, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return fmt.Errorf("transport %d: set write deadline: %w", t.id, err)
		}
	}
	if _, err := t.conn.Write(encoded); err != nil {
		t.reset(fmt.Errorf("transport %d: write: %w", t.id, err))
		return err
	}
	return nil
}

// Run drives the read loop until ctx is canceled, the connection is
// closed, or a protocol violation tears the transport down. Each
// decoded frame is passed to handle. Run resets the transport before
// returning on any terminal condition.
func (t *Transport) Run(ctx context.Context, handle func(*frame.Frame)) error {
	buf := make([]byte, readChunkSize)
	lastActivity := time.Now()
	for {
		select {
		case <-ctx.Done():
			t.reset(ctx.Err())
			return ctx.Err()
		default:
		}

		// Bound each Read to ctxPollInterval so a connection with no
		// traffic still lets us notice ctx cancellation promptly; this
		// is independent of the caller's idle readTimeout, which is
		// enforced separately below across possibly many such polls.
		if err := t.conn.SetReadDeadline(time.Now().Add(ctxPollInterval)); err != nil {
			t.reset(err)
			return err
		}

		n, err := t.conn.Read(buf)
		if n > 0 {
			lastActivity = time.Now()
			t.decoder.Feed(buf[:n])
			if drainErr := t.drain(handle); drainErr != nil {
				t.reset(drainErr)
				return drainErr
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if t.readTimeout > 0 && time.Since(lastActivity) > t.readTimeout {
					idleErr := fmt.Errorf("transport %d: idle read timeout", t.id)
					t.reset(idleErr)
					return idleErr
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				logger.Debug("transport read loop: peer closed connection", "transportID", t.id)
			} else {
				logger.Warn("transport read loop: read error", "transportID", t.id, "error", err)
			}
			t.reset(err)
			return err
		}
	}
}

// drain pulls every complete frame currently buffered in the decoder.
func (t *Transport) drain(handle func(*frame.Frame)) error {
	for {
		f, err := t.decoder.Next()
		if err != nil {
			if frame.IsNeedsMore(err) {
				return nil
			}
			return err
		}
		handle(f)
	}
}

// reset marks the transport dead and closes the underlying connection
// exactly once. Safe to call concurrently and redundantly; only the
// first call's cause is recorded.
func (t *Transport) reset(cause error) {
	t.resetOnce.Do(func() {
		t.live.Store(false)
		t.resetErr = cause
		_ = t.conn.Close()
		close(t.resetCh)
	})
}

// Reset tears the transport down deliberately, e.g. on detach.
func (t *Transport) Reset() {
	t.reset(errors.New("transport: deliberately reset"))
}

// Done returns a channel closed once this transport has reset.
func (t *Transport) Done() <-chan struct{} {
	return t.resetCh
}

// Err returns the cause of the reset, or nil if the transport is
// still live.
func (t *Transport) Err() error {
	select {
	case <-t.resetCh:
		return t.resetErr
	default:
		return nil
	}
}
