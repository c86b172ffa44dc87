package controller

import (
	"context"
	"time"

	"aoi/internal/history"
	"aoi/internal/imagestore"
	"aoi/internal/logging"
	"aoi/internal/notifications"
	"aoi/internal/workflow"
)

const (
	sideEffectTimeout = 10 * time.Second
	outboxSize        = 32
)

type notification struct {
	event   notifications.Event
	payload notifications.Payload
}

func notificationsWriteFailed(img imagestore.Image, name string, err error) notification {
	return notification{
		event: notifications.EventWriteFailed,
		payload: notifications.Payload{
			"serial": img.Serial,
			"file":   name,
			"error":  err.Error(),
		},
	}
}

func sessionEvent(result workflow.CompletionResult, serial, operator string, count, expected int) notification {
	event := notifications.EventSessionIncomplete
	if result == workflow.CompletionComplete {
		event = notifications.EventSessionComplete
	}
	return notification{
		event: event,
		payload: notifications.Payload{
			"serial":   serial,
			"operator": operator,
			"count":    count,
			"expected": expected,
		},
	}
}

// publish queues n for delivery and never blocks. It is called from the
// writer goroutine, which must keep saving while ntfy is slow or unreachable.
func (c *Controller) publish(n notification) {
	select {
	case c.outbox <- n:
	default:
		logging.WarnWithContext(c.logger, "notification dropped", "notification_queue_full",
			logging.String("event", string(n.event)),
			logging.String(logging.FieldImpact, "operator is not notified of this event"),
		)
	}
}

// deliverNotifications sends queued notifications in order until the outbox
// is closed.
func (c *Controller) deliverNotifications() {
	defer close(c.outboxDone)
	for n := range c.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		if err := c.notifier.Publish(ctx, n.event, n.payload); err != nil {
			c.logger.Warn("notification failed",
				logging.String("event", string(n.event)),
				logging.Error(err),
			)
		}
		cancel()
	}
}

func (c *Controller) recordImage(res imagestore.Result) {
	if c.history == nil {
		return
	}
	img := res.Job.Image
	rec := history.ImageRecord{
		Serial:     img.Serial,
		Date:       img.Date,
		Step:       string(img.Step),
		CameraID:   int(img.CameraID),
		Operator:   img.Operator,
		Path:       res.Path,
		Bytes:      len(img.Data),
		RecordedAt: c.now(),
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := c.history.RecordImage(ctx, rec); err != nil {
		c.logger.Warn("history write failed", logging.Error(err))
	}
}

func (c *Controller) recordCheck(job imagestore.Job, expected, count int, result workflow.CompletionResult) {
	if c.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	err := c.history.RecordCheck(ctx, history.CheckRecord{
		Serial:     job.Serial,
		Date:       job.Date,
		Expected:   expected,
		Count:      count,
		Result:     result.String(),
		RecordedAt: c.now(),
	})
	if err != nil {
		c.logger.Warn("history write failed", logging.Error(err))
	}
}
