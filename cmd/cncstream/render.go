package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/arloliu/go-cnc/machine"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var upper = cases.Upper(language.Und)

func renderTable(headers []string, rows [][]string, rightAligned ...int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(rightAligned))
	for _, col := range rightAligned {
		configs = append(configs, table.ColumnConfig{Number: col, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// stateLabel renders a machine state as an upper case badge, colored on terminals.
func stateLabel(state machine.State, colorize bool) string {
	label := upper.String(state.String())
	if !colorize {
		return label
	}

	switch state {
	case machine.Idle:
		return text.FgGreen.Sprint(label)
	case machine.Run, machine.Jog, machine.Home, machine.Check:
		return text.FgCyan.Sprint(label)
	case machine.Hold, machine.Door, machine.Sleep:
		return text.FgYellow.Sprint(label)
	case machine.Alarm:
		return text.FgRed.Sprint(label)
	default:
		return label
	}
}

func formatPosition(p machine.Position) string {
	return fmt.Sprintf("X%s Y%s Z%s", formatFloat(p[machine.AxisX]), formatFloat(p[machine.AxisY]), formatFloat(p[machine.AxisZ]))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
