package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/arloliu/go-cnc/controller"
	"github.com/arloliu/go-cnc/event"
	"github.com/arloliu/go-cnc/firmware"
	"github.com/arloliu/go-cnc/machine"
	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Connect and print the machine status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := ctx.connect(cmd)
			if err != nil {
				return err
			}
			defer ctl.Close()

			st, err := awaitStatus(ctl, ctx.requestTimeout())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderStatus(st, isTerminal(out)))
			return nil
		},
	}
}

// awaitStatus asks for a status report and returns the snapshot it produced.
func awaitStatus(ctl *controller.Controller, timeout time.Duration) (*machine.MachineStatus, error) {
	updated := make(chan struct{}, 1)
	h := ctl.RegisterListener(func(ev event.Event) {
		if ev.Kind() == event.KindStatusUpdated {
			select {
			case updated <- struct{}{}:
			default:
			}
		}
	})
	defer ctl.UnregisterListener(h)

	if err := ctl.SendRealtime(firmware.StatusQuery); err != nil {
		return nil, err
	}

	select {
	case <-updated:
		return ctl.Status(), nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no status report within %s", timeout)
	}
}

func renderStatus(st *machine.MachineStatus, colorize bool) string {
	fw := st.Firmware
	rows := [][]string{
		{"State", stateLabel(st.State, colorize)},
		{"Firmware", fmt.Sprintf("%s %s", fw.Family, fw.Version)},
		{"Machine", formatPosition(st.MachinePosition)},
		{"Work", formatPosition(st.WorkPosition)},
		{"Work offset", formatPosition(st.WorkOffset)},
		{"Feed", formatFloat(st.FeedRate)},
		{"Spindle", formatFloat(st.SpindleSpeed)},
		{"Overrides", fmt.Sprintf("feed %d%% rapid %d%% spindle %d%%", st.Overrides.Feed, st.Overrides.Rapid, st.Overrides.Spindle)},
	}
	if st.BufferAvailable >= 0 {
		rows = append(rows, []string{"Buffer free", strconv.Itoa(st.BufferAvailable)})
	}
	if st.Pins != "" {
		rows = append(rows, []string{"Pins", st.Pins})
	}
	if st.Alarm != nil {
		rows = append(rows, []string{"Alarm", fmt.Sprintf("%d %s", st.Alarm.Code, st.Alarm.Description)})
	}

	return renderTable([]string{"Field", "Value"}, rows)
}
