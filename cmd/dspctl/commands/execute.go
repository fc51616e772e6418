package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func executeCmd() *cobra.Command {
	var text string

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "submit one command and wait for its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()

			client, err := dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			svcCodec, err := serviceCodec()
			if err != nil {
				return err
			}

			future, err := client.Execute(message{Text: text})
			if err != nil {
				return fmt.Errorf("dspctl: execute: %w", err)
			}
			fmt.Printf("submitted command %d\n", future.ID())

			select {
			case <-ctx.Done():
				return fmt.Errorf("dspctl: timed out waiting for result: %w", ctx.Err())
			case <-waitChan(future):
			}

			res := future.Wait()
			if res.Err != nil {
				return fmt.Errorf("dspctl: command failed: %w", res.Err)
			}
			if res.Aborted {
				fmt.Println("command aborted")
				return nil
			}
			reply, err := decodeEcho(svcCodec, res.Response)
			if err != nil {
				return err
			}
			fmt.Printf("reply: %s\n", reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "hello", "text payload to echo through dspd")
	return cmd
}
