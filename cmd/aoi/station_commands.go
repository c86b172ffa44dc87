package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"aoi/internal/ipc"
)

func newStationCommand(ctx *commandContext) *cobra.Command {
	stationCmd := &cobra.Command{
		Use:   "station",
		Short: "Run or control a camera station agent",
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the station agent connection state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(processStation, func(client *ipc.Client) error {
				resp, err := client.StationStatus()
				if err != nil {
					return err
				}
				if statusJSON {
					return writeJSON(cmd, resp)
				}
				stdout := cmd.OutOrStdout()
				printSection(stdout, "Station", stationLines(resp.Status, shouldColorize(stdout)), shouldColorize(stdout))
				return nil
			})
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw status as JSON")

	setIDCmd := &cobra.Command{
		Use:   "set-id <1-4>",
		Short: "Assign and persist this station's camera ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("camera id must be a number between 1 and 4: %q", args[0])
			}
			return ctx.withClient(processStation, func(client *ipc.Client) error {
				resp, err := client.SetCameraID(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Camera ID set to %d\n", resp.CameraID)
				return nil
			})
		},
	}

	reconnectCmd := &cobra.Command{
		Use:   "reconnect",
		Short: "Drop the controller connection and dial again",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(processStation, func(client *ipc.Client) error {
				if err := client.Reconnect(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Reconnect requested")
				return nil
			})
		},
	}

	captureCmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture and send one image without a shutter command",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(processStation, func(client *ipc.Client) error {
				resp, err := client.Capture()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Image sent (%d captures this run)\n", resp.Captures)
				return nil
			})
		},
	}

	stationCmd.AddCommand(newStationRunCommand(ctx))
	stationCmd.AddCommand(statusCmd, setIDCmd, reconnectCmd, captureCmd)
	return stationCmd
}
