package dspclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dsp/internal/dsp/channel"
	"github.com/marmos91/dsp/internal/dsp/codec"
	"github.com/marmos91/dsp/internal/dsp/frame"
	"github.com/marmos91/dsp/internal/dsp/transport"
)

type echoRequest struct {
	Msg string `json:"msg"`
}

func (echoRequest) Claims() codec.Claims { return codec.Claims{Idempotent: true, Procedure: "Echo"} }

func startEchoServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		var id uint64 = 100
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			id++
			resp := channel.NewResponder(func(_ context.Context, payload []byte) ([]byte, error) {
				return payload, nil
			}, frame.Options{}, 0)
			tr := transport.New(id, conn, 0, 0)
			go resp.Serve(ctx, tr)
		}
	}()

	return ln.Addr().String(), func() {
		cancel()
		ln.Close()
	}
}

func TestDialExecuteRoundTrip(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Dial(ctx, "tcp", addr, Options{})
	require.NoError(t, err)
	defer client.Close()

	future, err := client.Execute(echoRequest{Msg: "hi"})
	require.NoError(t, err)

	res := future.Wait()
	require.NoError(t, res.Err)

	var decoded echoRequest
	require.NoError(t, codec.JSON{}.DecodeResponse(res.Response, &decoded))
	require.Equal(t, "hi", decoded.Msg)
}

func TestDialAbort(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Dial(ctx, "tcp", addr, Options{})
	require.NoError(t, err)
	defer client.Close()

	future, err := client.Execute(echoRequest{Msg: "racey"})
	require.NoError(t, err)

	abortFuture, err := client.Abort(future.ID())
	require.NoError(t, err)

	res := abortFuture.Wait()
	require.NoError(t, res.Err)
}
