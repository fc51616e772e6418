// Package dspclient is the public entry point for driving a DSP
// session from outside the module: it dials a transport, wires it
// into an internal/dsp/channel.Channel, and exposes Execute/Abort
// without requiring the caller to know anything about slots,
// scheduling, or the wire codec.
package dspclient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/marmos91/dsp/internal/dsp/channel"
	"github.com/marmos91/dsp/internal/dsp/codec"
	"github.com/marmos91/dsp/internal/dsp/frame"
	"github.com/marmos91/dsp/internal/dsp/transport"
	"github.com/marmos91/dsp/internal/dsp/wire"
)

// Options configures the Channel a Client drives. The zero value picks
// the JSON codec, round-robin scheduling, one slot, and no bandwidth
// limit — workable defaults for talking to a single dspd peer.
type Options struct {
	Codec           codec.ServiceCodec
	Slots           uint32
	SchedulerPolicy wire.SchedulerPolicy
	BandwidthLimit  float64
	FrameOptions    frame.Options
	SyncDispatch    bool
	QueueDepth      uint32
	MaxRequestSize  int
	MaxTransports   uint32
	// WriteTimeout/ReadTimeout are passed straight to transport.New; a
	// non-zero ReadTimeout is DSP's MIN_KEEPALIVE_TIME (spec.md §6): the
	// transport is torn down after this long without any traffic.
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	// SendBufferSize/ReceiveBufferSize set the dialed TCP socket's
	// SO_SNDBUF/SO_RCVBUF (spec.md §6 SOCKET_SEND_BUFFER /
	// SOCKET_RECEIVE_BUFFER). 0 leaves the OS default in place.
	SendBufferSize    int
	ReceiveBufferSize int
}

func (o Options) withDefaults() Options {
	if o.Codec == nil {
		o.Codec = codec.JSON{}
	}
	if o.Slots == 0 {
		o.Slots = 1
	}
	return o
}

// Client is a single DSP fore channel dialed against one remote
// transport endpoint.
type Client struct {
	ch     *channel.Channel
	tr     *transport.Transport
	cancel context.CancelFunc
}

// Dial connects to addr over network (e.g. "tcp"), attaches the
// resulting connection to a fresh Channel as transport ID 1, and
// returns a Client ready for Execute/Abort. The dialed connection is
// torn down when Close is called.
func Dial(ctx context.Context, network, addr string, opts Options) (*Client, error) {
	opts = opts.withDefaults()

	conn, err := (&net.Dialer{}).DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dspclient: dial %s %s: %w", network, addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if opts.SendBufferSize > 0 {
			_ = tcp.SetWriteBuffer(opts.SendBufferSize)
		}
		if opts.ReceiveBufferSize > 0 {
			_ = tcp.SetReadBuffer(opts.ReceiveBufferSize)
		}
	}

	ch := channel.New(channel.Config{
		Codec:           opts.Codec,
		Slots:           opts.Slots,
		SchedulerPolicy: opts.SchedulerPolicy,
		BandwidthLimit:  opts.BandwidthLimit,
		FrameOptions:    opts.FrameOptions,
		SyncDispatch:    opts.SyncDispatch,
		QueueDepth:      opts.QueueDepth,
		MaxRequestSize:  opts.MaxRequestSize,
		MaxTransports:   opts.MaxTransports,
	})

	runCtx, cancel := context.WithCancel(ctx)
	tr := transport.New(1, conn, opts.WriteTimeout, opts.ReadTimeout)
	ch.Attach(runCtx, tr)

	return &Client{ch: ch, tr: tr, cancel: cancel}, nil
}

// Execute submits req on the underlying channel. See
// internal/dsp/channel.Channel.Execute.
func (c *Client) Execute(req any) (*channel.Future, error) {
	return c.ch.Execute(req)
}

// Abort requests cancellation of the command identified by
// future.ID(). See internal/dsp/channel.Channel.Abort.
func (c *Client) Abort(commandID uint64) (*channel.Future, error) {
	return c.ch.Abort(commandID)
}

// Close tears down the channel and its dialed transport. Outstanding
// commands fail with channel.ErrClosed.
func (c *Client) Close() error {
	c.cancel()
	c.ch.Shutdown()
	return nil
}
