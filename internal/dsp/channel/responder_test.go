package channel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/marmos91/dsp/internal/dsp/codec"
	"github.com/marmos91/dsp/internal/dsp/frame"
	"github.com/marmos91/dsp/internal/dsp/transport"
)

func TestResponderEchoesThroughChannel(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	ch := New(testConfig())
	defer ch.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cli := transport.New(1, clientConn, 0, 0)
	ch.Attach(ctx, cli)

	resp := NewResponder(func(_ context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	}, frame.Options{}, 0)
	srv := transport.New(99, serverConn, 0, 0)
	go resp.Serve(ctx, srv)

	future, err := ch.Execute(echoRequest{Msg: "via-responder"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	select {
	case <-future.cmd.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
	res := future.Wait()
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	var decoded echoRequest
	if err := (codec.JSON{}).DecodeResponse(res.Response, &decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.Msg != "via-responder" {
		t.Errorf("decoded.Msg = %q, want %q", decoded.Msg, "via-responder")
	}
}

func TestResponderAbortsBlockedHandler(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	ch := New(testConfig())
	defer ch.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cli := transport.New(1, clientConn, 0, 0)
	ch.Attach(ctx, cli)

	started := make(chan struct{})
	resp := NewResponder(func(ctx context.Context, _ []byte) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, frame.Options{}, 0)
	srv := transport.New(99, serverConn, 0, 0)
	go resp.Serve(ctx, srv)

	future, err := ch.Execute(echoRequest{Msg: "blocked"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("responder handler never started")
	}

	abortFuture, err := ch.Abort(future.ID())
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}

	select {
	case <-abortFuture.cmd.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for abort to complete")
	}
	if res := abortFuture.Wait(); !res.Aborted {
		t.Errorf("expected Aborted=true, got %+v", res)
	}
}
