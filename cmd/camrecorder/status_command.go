package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"camrecorder/internal/daemon"
	"camrecorder/internal/queue"
	"camrecorder/internal/workflow"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running recorder",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var status daemon.Status
			if err := client.getJSON(cmd.Context(), "/api/status", &status); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			for _, line := range statusLines(status, time.Now(), shouldColorize(out)) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status document")
	return cmd
}

func statusLines(st daemon.Status, now time.Time, colorize bool) []string {
	wf := st.Workflow
	lines := renderSectionHeader("Recorder", colorize)

	runKind := statusOK
	if !st.Running || wf.Phase == workflow.PhaseStopped {
		runKind = statusError
	} else if wf.Phase == workflow.PhaseBackoff {
		runKind = statusWarn
	}
	lines = append(lines, renderStatusLine("Running", runKind, fmt.Sprintf("%s (pid %d, phase %s)", yesNo(st.Running), st.PID, wf.Phase), colorize))
	if !wf.StartedAt.IsZero() {
		lines = append(lines, renderStatusLine("Up since", statusInfo, humanize.RelTime(wf.StartedAt, now, "ago", "from now"), colorize))
	}
	if wf.Recording != "" {
		since := ""
		if !wf.RecordingSince.IsZero() {
			since = " for " + now.Sub(wf.RecordingSince).Round(time.Second).String()
		}
		lines = append(lines, renderStatusLine("Recording", statusOK, filepath.Base(wf.Recording)+since, colorize))
	}
	if wf.LastSegment != "" {
		lines = append(lines, renderStatusLine("Last segment", statusInfo, filepath.Base(wf.LastSegment), colorize))
	}
	if wf.LastCaptureError != "" {
		lines = append(lines, renderStatusLine("Capture error", statusWarn, wf.LastCaptureError, colorize))
	}
	lines = append(lines, renderStatusLine("Segments", statusInfo,
		fmt.Sprintf("%d completed, %d partial, %d failed, %d evicted", wf.Completed, wf.Partial, wf.CaptureFailures, wf.Evicted), colorize))
	diskKind := statusInfo
	if wf.FreeBytes > 0 && wf.FreeBytes < 1<<30 {
		diskKind = statusWarn
	}
	lines = append(lines, renderStatusLine("Disk", diskKind,
		fmt.Sprintf("%s used, %s free", humanize.IBytes(uint64(max(wf.UsageBytes, 0))), humanize.IBytes(wf.FreeBytes)), colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Uploads", colorize)...)
	up := wf.Upload
	stateKind := statusInfo
	if up.State == queue.StateWaitingNetwork {
		stateKind = statusWarn
	}
	lines = append(lines, renderStatusLine("State", stateKind, up.State, colorize))
	if up.Current != "" {
		lines = append(lines, renderStatusLine("Uploading", statusOK, fmt.Sprintf("%s (attempt %d)", filepath.Base(up.Current), up.Attempt), colorize))
	}
	lines = append(lines, renderStatusLine("Queue", statusInfo, fmt.Sprintf("%d waiting", len(wf.Pending)), colorize))
	lines = append(lines, renderStatusLine("Session", statusInfo,
		fmt.Sprintf("%d uploaded, %d failed, %d skipped", up.Uploaded, up.Failed, up.Skipped), colorize))
	if up.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusWarn, up.LastError, colorize))
	}

	if len(st.Journal) > 0 {
		keys := make([]string, 0, len(st.Journal))
		for k := range st.Journal {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%d", k, st.Journal[k]))
		}
		lines = append(lines, renderStatusLine("Journal", statusInfo, strings.Join(parts, " "), colorize))
	}
	return lines
}
