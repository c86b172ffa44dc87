// Package dispatch fans controller commands out to station connections.
package dispatch

import (
	"fmt"
	"log/slog"
	"slices"

	"aoi/internal/logging"
	"aoi/internal/protocol"
	"aoi/internal/station"
	"aoi/internal/workflow"
)

// Source returns the live links currently bound to any of targets.
type Source interface {
	Links(targets []protocol.CameraID) []station.Link
}

// Report summarizes one fan-out.
type Report struct {
	Command   string
	Targets   []protocol.CameraID
	Delivered []station.ConnID
	Failed    map[station.ConnID]error
}

// Dispatcher writes command frames to matching links. Links that do not match
// a target are skipped silently; write failures are reported but do not stop
// the fan-out.
type Dispatcher struct {
	source Source
	logger *slog.Logger
}

func New(source Source, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{source: source, logger: logging.NewComponentLogger(logger, "dispatch")}
}

// Send writes "<cmd>\n" to every link whose identity is in targets.
func (d *Dispatcher) Send(cmd string, targets []protocol.CameraID) (Report, error) {
	if !protocol.ValidCommandName(cmd) {
		return Report{}, fmt.Errorf("invalid command name %q", cmd)
	}
	payload := protocol.AppendCommand(nil, cmd)
	report := Report{Command: cmd, Targets: slices.Clone(targets)}

	for _, link := range d.source.Links(targets) {
		if err := link.Send(payload); err != nil {
			if report.Failed == nil {
				report.Failed = make(map[station.ConnID]error)
			}
			report.Failed[link.ID()] = err
			logging.WarnWithContext(d.logger, "command write failed", "command_write_failed",
				logging.String(logging.FieldConnID, string(link.ID())),
				logging.String("command", cmd),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "station will be dropped when its reader sees the broken connection"),
				logging.String(logging.FieldImpact, "station did not capture"),
			)
			continue
		}
		report.Delivered = append(report.Delivered, link.ID())
	}
	d.logger.Info("command sent",
		logging.String("command", cmd),
		logging.String("targets", fmt.Sprint(targets)),
		logging.Int("delivered", len(report.Delivered)),
	)
	return report, nil
}

// ShutterTargets decides which cameras a shutter broadcast reaches: only
// camera 4 while Step2 is enabled and active, otherwise every online camera.
func ShutterTargets(step2Enabled bool, step workflow.Step, presence station.Presence) []protocol.CameraID {
	if step2Enabled && step == workflow.Step2 {
		return []protocol.CameraID{protocol.MaxCameraID}
	}
	return presence.Online()
}
