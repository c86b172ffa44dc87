package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"aoi/internal/agent"
	"aoi/internal/daemon"
	"aoi/internal/protocol"
	"aoi/internal/station"
	"aoi/internal/workflow"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func controllerLines(status daemon.Status, colorize bool) []string {
	lines := []string{
		renderStatusLine("Controller", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize),
		renderStatusLine("Station listener", statusInfo, status.Listen, colorize),
	}
	if status.APIAddr != "" {
		lines = append(lines, renderStatusLine("HTTP API", statusInfo, status.APIAddr, colorize))
	}
	lines = append(lines, renderStatusLine("Image directory", statusInfo, status.ImageDir, colorize))
	if status.HistoryPath != "" {
		lines = append(lines, renderStatusLine("History", statusInfo, status.HistoryPath, colorize))
	}
	return lines
}

func workflowLines(state workflow.State, colorize bool) []string {
	step2 := "disabled"
	if state.Step2Enabled {
		step2 = "enabled"
	}
	lines := []string{
		renderStatusLine("Step", statusInfo, fmt.Sprintf("%s (Step2 %s)", state.Step, step2), colorize),
		valueLine("Operator", state.Operator, colorize),
		valueLine("Serial", state.Serial, colorize),
		renderStatusLine("Scanner focus", statusInfo, string(state.Focus), colorize),
	}
	for _, step := range workflow.Steps {
		counts := state.Previews[step]
		if len(counts) == 0 {
			continue
		}
		ids := make([]protocol.CameraID, 0, len(counts))
		for id := range counts {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			parts = append(parts, fmt.Sprintf("cam%d=%d", id, counts[id]))
		}
		lines = append(lines, renderStatusLine(string(step)+" previews", statusInfo, strings.Join(parts, " "), colorize))
	}
	return lines
}

func valueLine(label, value string, colorize bool) string {
	if strings.TrimSpace(value) == "" {
		return renderStatusLine(label, statusWarn, "not scanned", colorize)
	}
	return renderStatusLine(label, statusOK, value, colorize)
}

func presenceLines(presence station.Presence, colorize bool) []string {
	lines := make([]string, 0, len(protocol.AllCameras))
	for _, id := range protocol.AllCameras {
		label := fmt.Sprintf("Camera %d", id)
		if presence[id] {
			lines = append(lines, renderStatusLine(label, statusOK, "online", colorize))
			continue
		}
		lines = append(lines, renderStatusLine(label, statusWarn, "offline", colorize))
	}
	return lines
}

func noticeLines(notices []workflow.Notice, colorize bool) []string {
	lines := make([]string, 0, len(notices))
	for _, n := range notices {
		lines = append(lines, renderStatusLine(string(n.Kind), statusWarn, n.Message, colorize))
	}
	return lines
}

func stationLines(status agent.Status, colorize bool) []string {
	kind := statusWarn
	switch status.State {
	case agent.StateIdle, agent.StateCapturing:
		kind = statusOK
	case agent.StateConnected, agent.StateResolving:
		kind = statusInfo
	}
	lines := []string{renderStatusLine("Station", kind, string(status.State), colorize)}
	if status.CameraID.Valid() {
		lines = append(lines, renderStatusLine("Camera ID", statusInfo, status.CameraID.String(), colorize))
	} else {
		lines = append(lines, renderStatusLine("Camera ID", statusError, "not set; run `aoi station set-id`", colorize))
	}
	if status.Controller != "" {
		msg := status.Controller
		if !status.ConnectedAt.IsZero() {
			msg = fmt.Sprintf("%s since %s", msg, status.ConnectedAt.Local().Format(time.TimeOnly))
		}
		lines = append(lines, renderStatusLine("Controller", statusInfo, msg, colorize))
	}
	lines = append(lines, renderStatusLine("Captures", statusInfo, fmt.Sprintf("%d", status.Captures), colorize))
	if status.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, status.LastError, colorize))
	}
	return lines
}

func printSection(w io.Writer, title string, lines []string, colorize bool) {
	if len(lines) == 0 {
		return
	}
	for _, line := range renderSectionHeader(title, colorize) {
		fmt.Fprintln(w, line)
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
}
