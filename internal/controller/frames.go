package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aoi/internal/imagestore"
	"aoi/internal/logging"
	"aoi/internal/protocol"
	"aoi/internal/workflow"
)

func frameType(f protocol.Frame) string {
	switch f.(type) {
	case protocol.Handshake:
		return "hello"
	case protocol.IdentityUpdate:
		return "cam_id"
	case protocol.ImageHeader:
		return "image_header"
	case protocol.ImageBody:
		return "image_body"
	case protocol.Command:
		return "command"
	default:
		return "unknown"
	}
}

func (c *Controller) handleFrame(ctx context.Context, l *link, frame protocol.Frame) {
	if c.metrics != nil {
		c.metrics.FramesReceived.WithLabelValues(frameType(frame)).Inc()
	}
	if id, ok := protocol.Identity(frame); ok {
		c.identify(l, id)
		return
	}
	switch f := frame.(type) {
	case protocol.ImageBody:
		c.receiveImage(ctx, l, f)
	case protocol.Command:
		c.logger.Debug("ignoring command from station",
			logging.String(logging.FieldConnID, string(l.id)),
			logging.String("command", f.Name),
		)
	}
}

func (c *Controller) identify(l *link, id protocol.CameraID) {
	if !id.Valid() {
		c.logger.Warn("station announced invalid camera id",
			logging.String(logging.FieldConnID, string(l.id)),
			logging.Int(logging.FieldCameraID, int(id)),
		)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	changes := c.registry.IdentitySeen(l.id, id)
	c.presenceChangedLocked(changes)
	c.commitLocked()
}

// receiveImage captures the session context at the moment the body
// completes, records the preview, and queues the write.
func (c *Controller) receiveImage(ctx context.Context, l *link, body protocol.ImageBody) {
	if !body.CameraID.Valid() {
		c.logger.Warn("image dropped: invalid camera id",
			logging.String(logging.FieldConnID, string(l.id)),
			logging.Int(logging.FieldCameraID, int(body.CameraID)),
		)
		return
	}

	c.mu.Lock()
	c.registry.Touch(l.id)
	img := imagestore.Image{
		Serial:   c.machine.Serial(),
		Operator: c.machine.Operator(),
		Step:     c.machine.Step(),
		CameraID: body.CameraID,
		Date:     imagestore.DateKey(c.now()),
		Data:     body.Data,
	}
	if strings.TrimSpace(img.Serial) != "" {
		c.machine.RecordPreview(img.Step, img.CameraID, img.Data)
		c.commitLocked()
	}
	c.mu.Unlock()

	c.logger.Info("image received",
		logging.String(logging.FieldCameraID, body.CameraID.String()),
		logging.String(logging.FieldStep, string(img.Step)),
		logging.String(logging.FieldSerial, img.Serial),
		logging.Int("bytes", len(img.Data)),
	)

	if err := c.writer.Enqueue(ctx, imagestore.Job{Kind: imagestore.JobSave, Image: img}); err != nil {
		logging.WarnWithContext(c.logger, "image not queued for writing", "enqueue_failed",
			logging.String(logging.FieldCameraID, body.CameraID.String()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "image discarded"),
		)
	}
}

// onDiskResult runs on the writer goroutine for every finished job. Jobs it
// returns run before anything else queued.
func (c *Controller) onDiskResult(res imagestore.Result) []imagestore.Job {
	switch res.Job.Kind {
	case imagestore.JobSave:
		return c.onSaved(res)
	case imagestore.JobCount:
		return c.onCounted(res)
	}
	return nil
}

func (c *Controller) onSaved(res imagestore.Result) []imagestore.Job {
	img := res.Job.Image
	c.metrics.ObserveWrite(string(img.Step), len(img.Data), res.Took, res.Err)
	c.recordImage(res)

	if res.Err != nil {
		if errors.Is(res.Err, imagestore.ErrBlankSerial) {
			c.logger.Warn("image not saved: no serial number scanned",
				logging.String(logging.FieldCameraID, img.CameraID.String()),
				logging.String(logging.FieldStep, string(img.Step)),
			)
			return nil
		}
		name := imagestore.FileName(img.Step, img.CameraID, img.Operator)
		logging.ErrorWithContext(c.logger, "image write failed", "write_failed",
			logging.String(logging.FieldSerial, img.Serial),
			logging.String("file", name),
			logging.Error(res.Err),
			logging.String(logging.FieldErrorHint, "check free space and permissions on the image directory"),
		)
		c.RaiseNotice(workflow.NoticeWriteFailed, fmt.Sprintf("Could not save %s", name))
		c.publish(notificationsWriteFailed(img, name, res.Err))
		return nil
	}

	if img.Step != workflow.Step3 {
		return nil
	}
	c.mu.Lock()
	start := c.machine.BeginCompletionCheck(img.Serial)
	c.commitLocked()
	c.mu.Unlock()
	if !start {
		return nil
	}
	return []imagestore.Job{{Kind: imagestore.JobCount, Serial: img.Serial, Date: img.Date}}
}

func (c *Controller) onCounted(res imagestore.Result) []imagestore.Job {
	job := res.Job
	count := res.Count
	if res.Err != nil {
		c.logger.Warn("session count failed",
			logging.String(logging.FieldSerial, job.Serial),
			logging.Error(res.Err),
		)
		count = 0
	}

	c.mu.Lock()
	expected := c.machine.ExpectedCount()
	operator := c.machine.Operator()
	result := c.machine.FinishCompletionCheck(job.Serial, count)
	c.commitLocked()
	c.mu.Unlock()

	c.logger.Info("completion check",
		logging.String(logging.FieldSerial, job.Serial),
		logging.Int("count", count),
		logging.Int("expected", expected),
		logging.String("result", result.String()),
	)

	switch result {
	case workflow.CompletionRecheck:
		return []imagestore.Job{{Kind: imagestore.JobCount, Serial: job.Serial, Date: job.Date}}
	case workflow.CompletionComplete, workflow.CompletionIncomplete:
		if c.metrics != nil {
			c.metrics.CompletionChecks.WithLabelValues(result.String()).Inc()
		}
		c.recordCheck(job, expected, count, result)
		c.publish(sessionEvent(result, job.Serial, operator, count, expected))
	}
	return nil
}
