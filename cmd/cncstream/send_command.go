package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/arloliu/go-cnc/stream"
	"github.com/spf13/cobra"
)

func newSendCommand(ctx *commandContext) *cobra.Command {
	var unlock bool
	var keepGoing bool

	cmd := &cobra.Command{
		Use:   "send <line>...",
		Short: "Send commands one at a time and print the responses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := ctx.connect(cmd)
			if err != nil {
				return err
			}
			defer ctl.Close()

			out := cmd.OutOrStdout()
			timeout := ctx.requestTimeout()

			if unlock {
				reqCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
				err := ctl.Unlock(reqCtx)
				cancel()
				if err != nil {
					return fmt.Errorf("unlock: %w", err)
				}
				fmt.Fprintln(out, "unlocked")
			}

			var failed error
			for _, line := range args {
				reqCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
				resp, err := ctl.Execute(reqCtx, line)
				cancel()

				for _, l := range resp.Lines() {
					fmt.Fprintln(out, l)
				}

				var lineErr *stream.LineError
				switch {
				case err == nil:
					fmt.Fprintf(out, "%s: ok\n", line)
				case errors.As(err, &lineErr):
					fmt.Fprintf(out, "%s: error %d %s\n", line, lineErr.Code, lineErr.Message)
					if failed == nil {
						failed = fmt.Errorf("%s: %w", line, err)
					}
					if !keepGoing {
						return failed
					}
				default:
					return fmt.Errorf("%s: %w", line, err)
				}
			}

			return failed
		},
	}

	cmd.Flags().BoolVar(&unlock, "unlock", false, "Clear an alarm before sending")
	cmd.Flags().BoolVarP(&keepGoing, "keep-going", "k", false, "Continue after a line the controller rejected")
	return cmd
}
