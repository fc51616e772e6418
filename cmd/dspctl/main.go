// Command dspctl drives a DSP session against a running dspd: it
// dials a fore channel and exercises Execute/Abort from the command
// line.
package main

import (
	"fmt"
	"os"

	"github.com/marmos91/dsp/cmd/dspctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
