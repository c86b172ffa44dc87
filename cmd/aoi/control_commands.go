package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"aoi/internal/ipc"
)

func newControlCommands(ctx *commandContext) []*cobra.Command {
	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show controller, workflow, and station status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			client, err := ctx.dialClient(processController)
			if err != nil {
				if statusJSON {
					return err
				}
				fmt.Fprintln(stdout, renderStatusLine("Controller", statusError, "Not running", colorize))
				return nil
			}
			defer client.Close()

			resp, err := client.Status()
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, resp)
			}
			snap := resp.Snapshot
			printSection(stdout, "Controller", controllerLines(resp.Status, colorize), colorize)
			printSection(stdout, "Workflow", workflowLines(snap.State, colorize), colorize)
			printSection(stdout, "Stations", presenceLines(snap.Presence, colorize), colorize)
			printSection(stdout, "Notices", noticeLines(snap.Notices, colorize), colorize)
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw status as JSON")

	stepCmd := &cobra.Command{
		Use:   "step <Step1|Step2|Step3>",
		Short: "Select the active workflow step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(processController, func(client *ipc.Client) error {
				resp, err := client.Step(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Active step: %s\n", resp.Step)
				return nil
			})
		},
	}

	toggleCmd := &cobra.Command{
		Use:   "toggle",
		Short: "Enable or disable Step2",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(processController, func(client *ipc.Client) error {
				resp, err := client.Toggle()
				if err != nil {
					return err
				}
				state := "disabled"
				if resp.Step2Enabled {
					state = "enabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Step2 %s (active step: %s)\n", state, resp.Step)
				return nil
			})
		},
	}

	shutterCmd := &cobra.Command{
		Use:   "shutter",
		Short: "Trigger the cameras for the active step",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(processController, func(client *ipc.Client) error {
				resp, err := client.Shutter()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Targets) == 0 {
					fmt.Fprintln(stdout, "No stations online; nothing triggered")
					return nil
				}
				fmt.Fprintf(stdout, "Shutter sent to %d of %d stations\n", resp.Delivered, len(resp.Targets))
				keys := make([]string, 0, len(resp.Failed))
				for k := range resp.Failed {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(stdout, "  connection %s: %s\n", k, resp.Failed[k])
				}
				if len(keys) > 0 {
					return errors.New("shutter not delivered to every station")
				}
				return nil
			})
		},
	}

	var scanField string
	scanCmd := &cobra.Command{
		Use:   "scan <text>",
		Short: "Feed barcode text to the controller",
		Long: "Feed barcode text to the controller as if it came from the scanner.\n" +
			"Without --field the text goes to the focused input.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(processController, func(client *ipc.Client) error {
				resp, err := client.Scan(scanField, strings.Join(args, " "))
				if err != nil {
					return err
				}
				state := resp.State
				fmt.Fprintf(cmd.OutOrStdout(), "Operator: %s  Serial: %s  Step: %s  Focus: %s\n",
					dash(state.Operator), dash(state.Serial), state.Step, state.Focus)
				return nil
			})
		},
	}
	scanCmd.Flags().StringVar(&scanField, "field", "", "Target input: operator, serial, or code")

	return []*cobra.Command{statusCmd, stepCmd, toggleCmd, shutterCmd, scanCmd}
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
