package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"aoi/internal/dispatch"
	"aoi/internal/history"
	"aoi/internal/imagestore"
	"aoi/internal/logging"
	"aoi/internal/metrics"
	"aoi/internal/notifications"
	"aoi/internal/protocol"
	"aoi/internal/station"
	"aoi/internal/workflow"
)

// Options configures a Controller. Store is required; everything else is
// optional.
type Options struct {
	Store     *imagestore.Store
	History   *history.Store
	Notifier  notifications.Service
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Presenter Presenter

	Step2Enabled    bool
	NoticeTTL       time.Duration
	CompletionGrace time.Duration
	MaxImageSize    int
	WriteQueue      int

	Now func() time.Time
}

// Controller is the coordinating process state.
type Controller struct {
	mu         sync.Mutex
	registry   *station.Registry
	machine    *workflow.Machine
	links      map[station.ConnID]*link
	presenters map[int]Presenter
	nextSub    int
	snapSeq    uint64
	noticeSeq  uint64
	timers     map[*time.Timer]struct{}
	closed     bool
	draining   bool

	writer     *imagestore.Writer
	dispatcher *dispatch.Dispatcher
	history    *history.Store
	notifier   notifications.Service
	outbox     chan notification
	outboxDone chan struct{}
	metrics    *metrics.Metrics
	logger     *slog.Logger

	noticeTTL time.Duration
	grace     time.Duration
	maxImage  int
	now       func() time.Time

	conns sync.WaitGroup
}

// New builds a controller and starts its disk writer.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, errors.New("controller: image store is required")
	}
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = 2 * time.Second
	}
	if opts.CompletionGrace <= 0 {
		opts.CompletionGrace = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = notifications.NewNoop()
	}

	c := &Controller{
		registry:   station.NewRegistry(),
		machine:    workflow.NewMachine(opts.Step2Enabled),
		links:      make(map[station.ConnID]*link),
		presenters: make(map[int]Presenter),
		timers:     make(map[*time.Timer]struct{}),
		history:    opts.History,
		notifier:   opts.Notifier,
		outbox:     make(chan notification, outboxSize),
		outboxDone: make(chan struct{}),
		metrics:    opts.Metrics,
		logger:     logging.NewComponentLogger(opts.Logger, "controller"),
		noticeTTL:  opts.NoticeTTL,
		grace:      opts.CompletionGrace,
		maxImage:   opts.MaxImageSize,
		now:        opts.Now,
	}
	if opts.Presenter != nil {
		c.Subscribe(opts.Presenter)
	}
	c.dispatcher = dispatch.New(linkSource{c}, opts.Logger)
	c.writer = imagestore.NewWriter(opts.Store, opts.WriteQueue, c.onDiskResult, opts.Logger)
	c.writer.Start()
	go c.deliverNotifications()
	return c, nil
}

// Close drains queued disk work and pending notifications and cancels notice
// timers. Connection readers are stopped by Serve when its context ends.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for t := range c.timers {
		t.Stop()
	}
	clear(c.timers)
	c.mu.Unlock()
	c.writer.Close()
	// The writer is the only publisher, so the outbox can close now.
	close(c.outbox)
	<-c.outboxDone
}

// Subscribe registers p for every future snapshot and immediately presents
// the current one. The returned func unregisters it.
func (c *Controller) Subscribe(p Presenter) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.presenters[id] = p
	p.Present(c.snapshotLocked())
	return func() {
		c.mu.Lock()
		delete(c.presenters, id)
		c.mu.Unlock()
	}
}

// Snapshot returns the current presentation state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Seq:      c.snapSeq,
		Time:     c.now(),
		State:    c.machine.State(),
		Presence: c.registry.Presence(),
		Stations: c.registry.Stations(),
	}
}

// commitLocked schedules expiry for any notice raised since the last commit
// and publishes a snapshot.
func (c *Controller) commitLocked() {
	for _, n := range c.machine.Notices() {
		if n.Seq <= c.noticeSeq {
			continue
		}
		c.noticeSeq = n.Seq
		c.scheduleNoticeLocked(n)
	}
	c.snapSeq++
	snap := c.snapshotLocked()
	for _, p := range c.presenters {
		p.Present(snap)
	}
}

func (c *Controller) scheduleNoticeLocked(n workflow.Notice) {
	if c.closed {
		return
	}
	delay := c.noticeTTL
	expire := func() bool { return c.machine.Expire(n.Kind, n.Seq) }
	if n.Kind == workflow.NoticeIncomplete {
		delay = c.grace
		expire = func() bool { return c.machine.ResolveIncomplete(n.Seq) }
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.timers, timer)
		if c.closed {
			return
		}
		if expire() {
			if n.Kind == workflow.NoticeIncomplete {
				c.logger.Info("incomplete session returned to Step1",
					logging.String(logging.FieldEventType, "incomplete_reset"),
				)
			}
			c.commitLocked()
		}
	})
	c.timers[timer] = struct{}{}
}

// RequestStep moves the session to step.
func (c *Controller) RequestStep(step workflow.Step) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.machine.RequestStep(step)
	c.commitLocked()
	if err != nil {
		c.logger.Info("step change refused",
			logging.String(logging.FieldStep, string(step)),
			logging.Error(err),
		)
		return err
	}
	c.logger.Info("step changed", logging.String(logging.FieldStep, string(step)))
	return nil
}

// ToggleStep2 flips the Step2 toggle and returns the new value.
func (c *Controller) ToggleStep2() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	enabled := c.machine.ToggleStep2()
	c.commitLocked()
	c.logger.Info("step2 toggled", logging.Bool("enabled", enabled))
	return enabled
}

// Scan applies scanner input to field. Empty field means the focused one. A
// shutter code triggers a broadcast after the lock is released.
func (c *Controller) Scan(ctx context.Context, field workflow.Field, text string) error {
	c.mu.Lock()
	var (
		action workflow.Action
		err    error
	)
	if field == "" {
		action, err = c.machine.ScanFocused(text)
	} else {
		action, err = c.machine.Scan(field, text)
	}
	c.commitLocked()
	c.mu.Unlock()

	if err != nil {
		c.logger.Info("scan rejected", logging.String("field", string(field)), logging.Error(err))
		return err
	}
	if action == workflow.ActionShutter {
		_, err = c.BroadcastShutter(ctx)
	}
	return err
}

// RaiseNotice shows a transient notice raised outside the workflow, such as a
// scanner hotplug event.
func (c *Controller) RaiseNotice(kind workflow.NoticeKind, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine.Raise(kind, message)
	c.commitLocked()
}

// Send writes cmd to every connection whose identity is in targets.
func (c *Controller) Send(cmd string, targets []protocol.CameraID) (dispatch.Report, error) {
	report, err := c.dispatcher.Send(cmd, targets)
	if err == nil && c.metrics != nil {
		c.metrics.CommandsSent.WithLabelValues(cmd).Add(float64(len(report.Delivered)))
	}
	return report, err
}

// BroadcastShutter sends a shutter command to the cameras the current step
// calls for, evaluated against live presence.
func (c *Controller) BroadcastShutter(context.Context) (dispatch.Report, error) {
	c.mu.Lock()
	targets := dispatch.ShutterTargets(c.machine.Step2Enabled(), c.machine.Step(), c.registry.Presence())
	step := c.machine.Step()
	c.mu.Unlock()

	report, err := c.Send(protocol.CommandShutter, targets)
	if err != nil {
		return report, err
	}
	c.logger.Info("shutter broadcast",
		logging.String(logging.FieldStep, string(step)),
		logging.String("targets", fmt.Sprint(targets)),
		logging.Int("delivered", len(report.Delivered)),
	)
	return report, nil
}

type linkSource struct{ c *Controller }

func (s linkSource) Links(targets []protocol.CameraID) []station.Link {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.registry.Links(targets)
}
