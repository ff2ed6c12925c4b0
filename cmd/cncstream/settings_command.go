package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Print the firmware settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := ctx.connect(cmd)
			if err != nil {
				return err
			}
			defer ctl.Close()

			reqCtx, cancel := context.WithTimeout(cmd.Context(), ctx.requestTimeout())
			defer cancel()
			settings, err := ctl.ReadSettings(reqCtx)
			if err != nil {
				return fmt.Errorf("read settings: %w", err)
			}

			keys := make([]string, 0, len(settings))
			for k := range settings {
				keys = append(keys, k)
			}
			sortSettingKeys(keys)

			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				rows = append(rows, []string{k, settings[k]})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Setting", "Value"}, rows, 2))
			return nil
		},
	}

	cmd.AddCommand(newSettingsSetCommand(ctx))
	return cmd
}

func newSettingsSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write one firmware setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := ctx.connect(cmd)
			if err != nil {
				return err
			}
			defer ctl.Close()

			reqCtx, cancel := context.WithTimeout(cmd.Context(), ctx.requestTimeout())
			defer cancel()
			if err := ctl.WriteSetting(reqCtx, args[0], args[1]); err != nil {
				return fmt.Errorf("write setting: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "$%s=%s\n", strings.TrimPrefix(args[0], "$"), args[1])
			return nil
		},
	}
}

// sortSettingKeys orders numeric keys by value and puts named keys after them.
func sortSettingKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
}
