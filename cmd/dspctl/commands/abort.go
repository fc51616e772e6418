package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func abortCmd() *cobra.Command {
	var text string
	var after time.Duration

	cmd := &cobra.Command{
		Use:   "abort",
		Short: "submit one command, then abort it before it can complete",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()

			client, err := dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			future, err := client.Execute(message{Text: text})
			if err != nil {
				return fmt.Errorf("dspctl: execute: %w", err)
			}
			fmt.Printf("submitted command %d\n", future.ID())

			select {
			case <-time.After(after):
			case <-ctx.Done():
			}

			abortFuture, err := client.Abort(future.ID())
			if err != nil {
				return fmt.Errorf("dspctl: abort: %w", err)
			}

			select {
			case <-ctx.Done():
				return fmt.Errorf("dspctl: timed out waiting for abort: %w", ctx.Err())
			case <-waitChan(abortFuture):
			}

			res := abortFuture.Wait()
			if res.Err != nil {
				return fmt.Errorf("dspctl: abort failed: %w", res.Err)
			}
			fmt.Printf("aborted: %v\n", res.Aborted)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "blocked", "text payload to echo through dspd")
	cmd.Flags().DurationVar(&after, "after", 0, "delay before issuing the abort")
	return cmd
}
