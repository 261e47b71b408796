package main

import (
	"github.com/spf13/cobra"

	"github.com/okian/equity/pkg/logger"
)

type rootFlags struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "equity-load",
		Short: "Load and verification tool for the equity service",
		Long: `equity-load submits skewed, inconsistently spelled assignments to a running
equity service, replays a sample to exercise deduplication and compares the
service's live audit with one computed locally.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return logger.Init(
				logger.WithFormat(flags.logFormat),
				logger.WithLevel(flags.logLevel),
				logger.WithOutput(cmd.ErrOrStderr()),
			)
		},
	}
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", logger.FormatConsole, "log format: text, json, console")

	cmd.AddCommand(newRunCmd())
	return cmd
}
