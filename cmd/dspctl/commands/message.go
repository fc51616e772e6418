package commands

import (
	"context"
	"fmt"

	"github.com/marmos91/dsp/internal/dsp/channel"
	"github.com/marmos91/dsp/internal/dsp/codec"
	"github.com/marmos91/dsp/internal/dsp/frame"
	"github.com/marmos91/dsp/pkg/dspclient"
)

// message is dspctl's demo request/response payload: an arbitrary text
// field dspd's reference responder echoes straight back.
type message struct {
	Text string `json:"text"`
}

func (message) Claims() codec.Claims {
	return codec.Claims{Idempotent: true, Procedure: "Echo"}
}

func serviceCodec() (codec.ServiceCodec, error) {
	switch flags.Codec {
	case "xdr":
		return codec.XDR{}, nil
	default:
		return codec.JSON{}, nil
	}
}

func dial(ctx context.Context) (*dspclient.Client, error) {
	svcCodec, err := serviceCodec()
	if err != nil {
		return nil, err
	}
	return dspclient.Dial(ctx, flags.Network, flags.Addr, dspclient.Options{
		Codec:           svcCodec,
		SchedulerPolicy: schedulerPolicy(),
		SyncDispatch:    flags.SyncDispatch,
		FrameOptions:    frame.Options{},
		ReadTimeout:     flags.Timeout,
		WriteTimeout:    flags.Timeout,
	})
}

func decodeEcho(svcCodec codec.ServiceCodec, data []byte) (string, error) {
	var out message
	if err := svcCodec.DecodeResponse(data, &out); err != nil {
		return "", fmt.Errorf("dspctl: decode response: %w", err)
	}
	return out.Text, nil
}

func withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, flags.Timeout)
}

// waitChan adapts Future.Wait's blocking call into a channel so a
// caller can select on it alongside a context deadline.
func waitChan(f *channel.Future) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		f.Wait()
		close(done)
	}()
	return done
}
