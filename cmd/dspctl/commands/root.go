// Package commands implements dspctl's cobra command tree: a root
// command carrying the global connection flags, shaped after the
// teacher's own dittofsctl root command (a cmdutil.Flags struct synced
// from persistent flags in PersistentPreRunE, subcommands registered
// as separate files in this package).
package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dsp/internal/dsp/wire"
)

// Flags holds the connection-level settings every subcommand needs,
// synced from the root command's persistent flags before any
// subcommand's RunE runs.
type Flags struct {
	Addr         string
	Network      string
	Codec        string
	Scheduler    string
	Timeout      time.Duration
	SyncDispatch bool
}

var flags Flags

var rootCmd = &cobra.Command{
	Use:           "dspctl",
	Short:         "Drive a DSP session against a dspd peer",
	Long:          "dspctl dials a dspd listener, opens a DSP fore channel over it, and runs one execute or abort exchange per invocation.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flags.Network == "" {
			flags.Network = "tcp"
		}
		if flags.Codec != "json" && flags.Codec != "xdr" {
			return fmt.Errorf("dspctl: --codec must be json or xdr, got %q", flags.Codec)
		}
		if flags.Scheduler != "round_robin" && flags.Scheduler != "least_queue" {
			return fmt.Errorf("dspctl: --scheduler must be round_robin or least_queue, got %q", flags.Scheduler)
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.Addr, "addr", "127.0.0.1:7391", "dspd listen address to dial")
	pf.StringVar(&flags.Network, "network", "tcp", "network to dial (tcp)")
	pf.StringVar(&flags.Codec, "codec", "json", "wire codec (json|xdr)")
	pf.StringVar(&flags.Scheduler, "scheduler", "round_robin", "transport scheduler policy (round_robin|least_queue)")
	pf.DurationVar(&flags.Timeout, "timeout", 5*time.Second, "dial and command timeout")
	pf.BoolVar(&flags.SyncDispatch, "sync-dispatch", false, "block execute until the first send attempt completes")

	rootCmd.AddCommand(executeCmd(), abortCmd())
}

func schedulerPolicy() wire.SchedulerPolicy {
	if flags.Scheduler == "least_queue" {
		return wire.SchedulerLeastQueue
	}
	return wire.SchedulerRoundRobin
}

// Execute runs the root command; main calls this directly.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd exposes the root command for tests that want to invoke
// it via cobra's own Execute machinery rather than calling Execute.
func GetRootCmd() *cobra.Command {
	return rootCmd
}
