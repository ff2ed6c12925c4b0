package main

import (
	"github.com/arloliu/go-cnc/transport"
	"github.com/spf13/cobra"
)

// newRootCommand builds the command tree. A non-nil opener replaces the device transport.
func newRootCommand(opener transport.Opener) *cobra.Command {
	var configFlag string
	var logLevelFlag string
	var addressFlag string

	ctx := newCommandContext(&configFlag, &logLevelFlag, &addressFlag)
	ctx.opener = opener

	rootCmd := &cobra.Command{
		Use:           "cncstream",
		Short:         "Stream G-code to CNC controllers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVarP(&addressFlag, "port", "p", "", "Serial port, host:port or ws:// URL of the controller")

	rootCmd.AddCommand(newPortsCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newSendCommand(ctx))
	rootCmd.AddCommand(newStreamCommand(ctx))
	rootCmd.AddCommand(newSettingsCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
