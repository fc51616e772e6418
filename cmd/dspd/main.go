// Command dspd is a reference DSP daemon: it listens for transports
// and answers COMMAND_REQ/TASKMGMT_REQ frames with a responder, so an
// operator (or dspctl) has something real to exercise a DSP session
// against.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/dsp/internal/dsp/channel"
	"github.com/marmos91/dsp/internal/dsp/transport"
	"github.com/marmos91/dsp/internal/logger"
	"github.com/marmos91/dsp/pkg/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string
var listenOverride string

func main() {
	root := &cobra.Command{
		Use:   "dspd",
		Short: "DSP reference daemon",
		Long:  "dspd accepts transports and answers DSP command exchanges, exercising internal/dsp/channel's server side end to end.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a dsp.yaml config file")
	root.PersistentFlags().StringVar(&listenOverride, "listen", "", "override the configured listen address")

	root.AddCommand(serveCmd(), versionCmd(), configDumpCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithFlags(configPath, nil)
			if err != nil {
				return err
			}
			if listenOverride != "" {
				cfg.Listen = listenOverride
			}
			if err := logger.Init(logger.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: cfg.Logging.Output,
			}); err != nil {
				return fmt.Errorf("dspd: init logger: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print dspd's build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dspd %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func configDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-dump",
		Short: "print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithFlags(configPath, nil)
			if err != nil {
				return err
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

// run listens on cfg.Listen and, for every accepted connection, serves
// a responder that echoes every request payload back (see serveConn)
// — a minimal but genuine peer, standing in for an
// application dispatch table spec.md deliberately leaves unspecified
// (the protocol core is symmetric; what a command request *means* is
// out of scope).
func run(ctx context.Context, cfg config.Config) error {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("dspd: listen %s: %w", cfg.Listen, err)
	}
	defer ln.Close()
	logger.Info("dspd: listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var nextTransportID uint64 = 1
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("dspd: accept failed", "error", err)
			continue
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			if cfg.Transport.SocketSendBuffer > 0 {
				_ = tcp.SetWriteBuffer(cfg.Transport.SocketSendBuffer)
			}
			if cfg.Transport.SocketReceiveBuffer > 0 {
				_ = tcp.SetReadBuffer(cfg.Transport.SocketReceiveBuffer)
			}
		}

		id := nextTransportID
		nextTransportID++
		go serveConn(ctx, cfg, id, conn)
	}
}

// serveConn answers one accepted connection's COMMAND_REQ/TASKMGMT_REQ
// frames with a Responder. It does not also Attach a client Channel to
// the same transport: transport.Run owns the one read loop a
// connection gets, and here dspd only ever plays the responding half
// of the exchange (cmd/dspctl plays the Channel/Execute half).
func serveConn(ctx context.Context, cfg config.Config, id uint64, conn net.Conn) {
	defer conn.Close()
	logger.Info("dspd: transport connected", "transportID", id, "remote", conn.RemoteAddr().String())

	frameOpts, err := cfg.FrameOptions()
	if err != nil {
		logger.Error("dspd: build frame options", "error", err)
		return
	}

	resp := channel.NewResponder(echoHandler, frameOpts, cfg.Fore.MaxResponse)
	tr := transport.New(id, conn, cfg.Transport.MinKeepaliveTime, cfg.Transport.MinKeepaliveTime)

	if err := resp.Serve(ctx, tr); err != nil {
		logger.Debug("dspd: transport closed", "transportID", id, "error", err)
	}
}

func echoHandler(_ context.Context, payload []byte) ([]byte, error) {
	return payload, nil
}
