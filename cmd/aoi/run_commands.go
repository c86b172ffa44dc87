package main

import (
	"github.com/spf13/cobra"

	"aoi/internal/daemonrun"
)

func newControllerCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool
	var stdin bool
	cmd := &cobra.Command{
		Use:   "controller",
		Short: "Run the capture controller in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts := daemonrun.Options{LogLevel: logLevel, Development: development}
			if cmd.Flags().Changed("stdin") {
				opts.Stdin = &stdin
			}
			return daemonrun.Controller(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log lines")
	cmd.Flags().BoolVar(&stdin, "stdin", false, "Read barcode scans from standard input (overrides scanner.stdin)")
	return cmd
}

func newStationRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the station agent in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Station(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log lines")
	return cmd
}
