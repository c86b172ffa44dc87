package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"aoi/internal/ipc"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history [serial date]",
		Short: "List recent capture sessions or the images of one session",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return fmt.Errorf("history needs both serial and date (YYYYMMDD)")
			}
			return ctx.withClient(processController, func(client *ipc.Client) error {
				if len(args) == 2 {
					resp, err := client.SessionImages(args[0], args[1])
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(cmd, resp.Images)
					}
					return printSessionImages(cmd, resp)
				}
				resp, err := client.Sessions(limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Sessions)
				}
				return printSessions(cmd, resp)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of sessions to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func printSessions(cmd *cobra.Command, resp *ipc.SessionsResponse) error {
	stdout := cmd.OutOrStdout()
	if len(resp.Sessions) == 0 {
		fmt.Fprintln(stdout, "No capture sessions recorded")
		return nil
	}
	rows := make([][]string, 0, len(resp.Sessions))
	var images, failures int
	for _, s := range resp.Sessions {
		images += s.Images
		failures += s.Failures
		rows = append(rows, []string{
			s.Date,
			s.Serial,
			strconv.Itoa(s.Images),
			strconv.Itoa(s.Failures),
			dash(s.LastResult),
			s.LastSeen.Local().Format(time.DateTime),
		})
	}
	fmt.Fprintln(stdout, renderTable(
		[]column{{title: "Date"}, {title: "Serial"}, {title: "Images", numeric: true}, {title: "Failures", numeric: true}, {title: "Check"}, {title: "Last Seen"}},
		rows,
		[]string{"", fmt.Sprintf("%d sessions", len(resp.Sessions)), strconv.Itoa(images), strconv.Itoa(failures)},
	))
	return nil
}

func printSessionImages(cmd *cobra.Command, resp *ipc.SessionImagesResponse) error {
	stdout := cmd.OutOrStdout()
	if len(resp.Images) == 0 {
		fmt.Fprintln(stdout, "No images recorded for that session")
		return nil
	}
	rows := make([][]string, 0, len(resp.Images))
	for _, img := range resp.Images {
		result := img.Path
		if img.Error != "" {
			result = "error: " + img.Error
		}
		rows = append(rows, []string{
			img.RecordedAt.Local().Format(time.TimeOnly),
			img.Step,
			strconv.Itoa(img.CameraID),
			dash(img.Operator),
			strconv.Itoa(img.Bytes),
			result,
		})
	}
	fmt.Fprintln(stdout, renderTable(
		[]column{{title: "Time"}, {title: "Step"}, {title: "Camera", numeric: true}, {title: "Operator"}, {title: "Bytes", numeric: true}, {title: "Result"}},
		rows,
		nil,
	))
	return nil
}
