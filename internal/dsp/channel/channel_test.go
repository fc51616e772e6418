package channel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/marmos91/dsp/internal/dsp/codec"
	"github.com/marmos91/dsp/internal/dsp/frame"
	"github.com/marmos91/dsp/internal/dsp/transport"
	"github.com/marmos91/dsp/internal/dsp/wire"
)

type echoRequest struct {
	Msg string
}

func (echoRequest) Claims() codec.Claims { return codec.Claims{Idempotent: true, Procedure: "Echo"} }

func testConfig() Config {
	return Config{
		Codec:           codec.JSON{},
		Slots:           4,
		SchedulerPolicy: wire.SchedulerRoundRobin,
		BandwidthLimit:  0,
	}
}

// attachEchoServer wires conn as a transport that answers every
// COMMAND_REQ with a COMMAND_RESP echoing the payload back, standing
// in for the symmetric peer DSP never expands on its own.
func attachEchoServer(t *testing.T, conn net.Conn) *transport.Transport {
	t.Helper()
	srv := transport.New(99, conn, 0, 0)
	go func() {
		_ = srv.Run(context.Background(), func(f *frame.Frame) {
			if f.Type != wire.FrameCommandReq {
				return
			}
			prefix, err := decodeCommandReqPrefix(f.Prefix)
			if err != nil {
				return
			}
			resp := frame.Frame{
				Type: wire.FrameCommandResp,
				Prefix: commandRespPrefix{
					CommandID: prefix.CommandID,
					SlotID:    prefix.SlotID,
					SlotSN:    prefix.SlotSN,
					Status:    wire.StatusSuccess,
				}.encode(),
				Payload: f.Payload,
			}
			_ = srv.Send(resp, frame.Options{})
		})
	}()
	return srv
}

func TestExecuteHappyPath(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	ch := New(testConfig())
	defer ch.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cli := transport.New(1, clientConn, 0, 0)
	ch.Attach(ctx, cli)
	attachEchoServer(t, serverConn)

	future, err := ch.Execute(echoRequest{Msg: "hello"})
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
	if decoded.Msg != "hello" {
		t.Errorf("decoded.Msg = %q, want %q", decoded.Msg, "hello")
	}
}

func TestAbortPendingCommandCompletesLocally(t *testing.T) {
	ch := New(testConfig())
	defer ch.Shutdown()

	// No transport attached: the command can never leave StatePending.
	future, err := ch.Execute(echoRequest{Msg: "stuck"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	abortFuture, err := ch.Abort(future.cmd.id)
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}

	select {
	case <-abortFuture.cmd.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for abort to complete")
	}
	res := abortFuture.Wait()
	if !res.Aborted {
		t.Errorf("expected Aborted=true for a pending abort, got %+v", res)
	}
}

func TestAbortUnknownCommand(t *testing.T) {
	ch := New(testConfig())
	defer ch.Shutdown()

	if _, err := ch.Abort(12345); err != ErrCommandNotFound {
		t.Errorf("Abort(unknown) error = %v, want ErrCommandNotFound", err)
	}
}

func TestAbortActiveCommandGetsTaskMgmtResp(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	ch := New(testConfig())
	defer ch.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cli := transport.New(1, clientConn, 0, 0)
	ch.Attach(ctx, cli)

	received := make(chan commandReqPrefix, 1)
	srv := transport.New(99, serverConn, 0, 0)
	go func() {
		_ = srv.Run(context.Background(), func(f *frame.Frame) {
			switch f.Type {
			case wire.FrameCommandReq:
				prefix, err := decodeCommandReqPrefix(f.Prefix)
				if err != nil {
					return
				}
				received <- prefix
				// Deliberately never answer the COMMAND_REQ: the
				// client's Abort must race it instead.
			case wire.FrameTaskMgmtReq:
				prefix, err := decodeTaskMgmtReqPrefix(f.Prefix)
				if err != nil {
					return
				}
				resp := frame.Frame{
					Type: wire.FrameTaskMgmtResp,
					Prefix: taskMgmtRespPrefix{
						CommandID: prefix.CommandID,
						Status:    wire.TaskMgmtAbortedAfterStart,
					}.encode(),
				}
				_ = srv.Send(resp, frame.Options{})
			}
		})
	}()

	future, err := ch.Execute(echoRequest{Msg: "in-flight"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the command request")
	}

	abortFuture, err := ch.Abort(future.cmd.id)
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}

	select {
	case <-abortFuture.cmd.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for abort to complete")
	}
	res := abortFuture.Wait()
	if !res.Aborted {
		t.Errorf("expected Aborted=true, got %+v", res)
	}
}

func TestShutdownFailsOutstandingCommands(t *testing.T) {
	ch := New(testConfig())

	future, err := ch.Execute(echoRequest{Msg: "never sent"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	ch.Shutdown()

	res := future.Wait()
	if res.Err != ErrClosed {
		t.Errorf("res.Err = %v, want ErrClosed", res.Err)
	}

	if _, err := ch.Execute(echoRequest{Msg: "after shutdown"}); err != ErrClosed {
		t.Errorf("Execute after Shutdown error = %v, want ErrClosed", err)
	}
}

func TestSyncDispatchBlocksUntilAttempted(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cfg := testConfig()
	cfg.SyncDispatch = true
	ch := New(cfg)
	defer ch.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cli := transport.New(1, clientConn, 0, 0)
	ch.Attach(ctx, cli)
	attachEchoServer(t, serverConn)

	done := make(chan struct{})
	go func() {
		if _, err := ch.Execute(echoRequest{Msg: "sync"}); err != nil {
			t.Errorf("Execute: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sync-dispatch Execute never returned")
	}
}
