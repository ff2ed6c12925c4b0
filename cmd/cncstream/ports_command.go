package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/arloliu/go-cnc/transport"
	"github.com/spf13/cobra"
)

func newPortsCommand(ctx *commandContext) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:         "ports",
		Short:       "List serial ports a controller may be attached to",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			ports, err := transport.ListPorts()
			if err != nil {
				return fmt.Errorf("list ports: %w", err)
			}
			if len(ports) == 0 {
				fmt.Fprintln(out, "No candidate serial ports found")
			} else {
				rows := make([][]string, 0, len(ports))
				for _, p := range ports {
					rows = append(rows, []string{p.Name, yesNo(p.IsUSB), p.VID, p.PID, p.SerialNumber, p.Product})
				}
				fmt.Fprintln(out, renderTable([]string{"Port", "USB", "VID", "PID", "Serial", "Product"}, rows))
			}

			if !watch {
				return nil
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			fmt.Fprintln(out, "Watching for devices, press Ctrl+C to stop")

			err = transport.Watch(runCtx, ctx.logger(cmd.ErrOrStderr()), func(ev transport.PortEvent) {
				fmt.Fprintf(out, "%-8s %s\n", ev.Action, ev.Port)
			})
			if err != nil {
				return fmt.Errorf("watch ports: %w", err)
			}
			<-runCtx.Done()

			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and print ports as they appear and disappear")
	return cmd
}
