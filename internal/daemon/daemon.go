package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"aoi/internal/config"
	"aoi/internal/controller"
	"aoi/internal/history"
	"aoi/internal/logging"
	"aoi/internal/metrics"
	"aoi/internal/notifications"
)

// Options carries the optional collaborators the API and status surface
// expose.
type Options struct {
	Metrics  *metrics.Metrics
	History  *history.Store
	Notifier notifications.Service
	Logger   *slog.Logger
}

// Daemon coordinates the controller's process-level services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	ctrl     *controller.Controller
	metrics  *metrics.Metrics
	history  *history.Store
	notifier notifications.Service
	logger   *slog.Logger

	lockPath string
	lock     *flock.Flock
	api      *apiServer
	events   *eventHub

	running     atomic.Bool
	startedAt   time.Time
	unsubscribe func()
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                `json:"running"`
	PID          int                 `json:"pid"`
	StartedAt    time.Time           `json:"started_at,omitzero"`
	LockFilePath string              `json:"lock_file_path"`
	Listen       string              `json:"listen"`
	APIAddr      string              `json:"api_addr,omitempty"`
	ImageDir     string              `json:"image_dir"`
	HistoryPath  string              `json:"history_path,omitempty"`
	Snapshot     controller.Snapshot `json:"snapshot"`
}

// New constructs a daemon around ctrl.
func New(cfg *config.Config, ctrl *controller.Controller, opts Options) (*Daemon, error) {
	if cfg == nil || ctrl == nil {
		return nil, errors.New("daemon requires config and controller")
	}
	if opts.Notifier == nil {
		opts.Notifier = notifications.NewNoop()
	}
	logger := logging.NewComponentLogger(opts.Logger, "daemon")
	d := &Daemon{
		cfg:      cfg,
		ctrl:     ctrl,
		metrics:  opts.Metrics,
		history:  opts.History,
		notifier: opts.Notifier,
		logger:   logger,
		lockPath: cfg.LockPath("controller"),
		events:   newEventHub(logger),
	}
	d.api = newAPIServer(cfg, d, opts.Logger)
	return d, nil
}

// Start acquires the single-instance lock, subscribes the websocket feed to
// the controller, and starts the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	lock, err := AcquireLock(d.lockPath)
	if err != nil {
		return err
	}
	d.lock = lock
	d.unsubscribe = d.ctrl.Subscribe(d.events)

	if err := d.api.start(ctx); err != nil {
		d.unsubscribe()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}
	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("aoi controller daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts the API down and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.api.stop()
	d.events.closeAll()
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("aoi controller daemon stopped")
}

// Controller returns the wrapped controller.
func (d *Daemon) Controller() *controller.Controller {
	return d.ctrl
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	st := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    d.startedAt,
		LockFilePath: d.lockPath,
		Listen:       d.cfg.Controller.Listen,
		APIAddr:      d.api.addr(),
		ImageDir:     d.cfg.Paths.ImageDir,
		Snapshot:     d.ctrl.Snapshot(),
	}
	if d.history != nil {
		st.HistoryPath = d.history.Path()
	}
	return st
}

// Sessions returns recent capture sessions from history.
func (d *Daemon) Sessions(ctx context.Context, limit int) ([]history.Session, error) {
	if d.history == nil {
		return nil, errors.New("capture history disabled")
	}
	return d.history.Sessions(ctx, limit)
}

// SessionImages returns the images recorded for one session.
func (d *Daemon) SessionImages(ctx context.Context, serial, date string) ([]history.ImageRecord, error) {
	if d.history == nil {
		return nil, errors.New("capture history disabled")
	}
	return d.history.SessionImages(ctx, serial, date)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
