package main

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"camrecorder/internal/daemon"
)

func newSegmentsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "segments",
		Short: "List recorded segments and their upload state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var resp daemon.SegmentsResponse
			if err := client.getJSON(cmd.Context(), "/api/segments", &resp); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			if len(resp.Segments) == 0 {
				fmt.Fprintln(out, "No segments on disk")
				return nil
			}
			fmt.Fprintln(out, segmentsTable(resp.Segments, shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw segment list")
	return cmd
}

func segmentsTable(views []daemon.SegmentView, colorize bool) string {
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		detail := v.PlaybackRef
		if detail == "" {
			detail = v.LastError
		}
		attempts := ""
		if v.Attempts > 0 {
			attempts = fmt.Sprintf("%d", v.Attempts)
		}
		rows = append(rows, []string{
			filepath.Base(v.Path),
			humanize.IBytes(uint64(max(v.SizeBytes, 0))),
			v.Status,
			attempts,
			detail,
		})
	}
	return renderTable(
		[]string{"Segment", "Size", "Status", "Attempts", "Link / Error"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignLeft},
		colorize,
	)
}
