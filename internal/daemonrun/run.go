package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"aoi/internal/agent"
	"aoi/internal/capture"
	"aoi/internal/config"
	"aoi/internal/controller"
	"aoi/internal/daemon"
	"aoi/internal/discovery"
	"aoi/internal/history"
	"aoi/internal/imagestore"
	"aoi/internal/ipc"
	"aoi/internal/logging"
	"aoi/internal/metrics"
	"aoi/internal/notifications"
	"aoi/internal/preflight"
	"aoi/internal/scanner"
)

// Options configures process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Stdin overrides the configured scanner.stdin setting when non-nil.
	Stdin *bool
}

// Controller runs the coordinating process until ctx ends or a signal arrives.
func Controller(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, "controller", opts)
	if err != nil {
		return err
	}
	logger = logger.With(logging.String("run_id", uuid.NewString()))

	if err := checkPreflight(logger, preflight.RunController(cfg)); err != nil {
		return err
	}

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg.HistoryPath())
		if err != nil {
			logging.WarnWithContext(logger, "capture history unavailable", "history_open_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check paths.state_dir permissions"),
				logging.String(logging.FieldImpact, "sessions are not recorded"),
			)
			store = nil
		} else {
			defer store.Close()
		}
	}

	notifier := notifications.NewService(cfg)
	m := metrics.New()

	ctrl, err := controller.New(controller.Options{
		Store:           imagestore.NewStore(cfg.Paths.ImageDir),
		History:         store,
		Notifier:        notifier,
		Metrics:         m,
		Logger:          logger,
		Step2Enabled:    cfg.Workflow.Step2Enabled,
		NoticeTTL:       cfg.NoticeTTL(),
		CompletionGrace: cfg.CompletionGrace(),
		MaxImageSize:    cfg.MaxImageBytes(),
		WriteQueue:      cfg.Workflow.WriteQueue,
	})
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}
	defer ctrl.Close()

	d, err := daemon.New(cfg, ctrl, daemon.Options{
		Metrics:  m,
		History:  store,
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		return err
	}
	defer d.Stop()

	ln, err := net.Listen("tcp", cfg.Controller.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Controller.Listen, err)
	}
	logger.Info("accepting stations", logging.String("listen", ln.Addr().String()))

	if cfg.Controller.Advertise {
		if adv, err := advertise(cfg, ln.Addr().String()); err != nil {
			logging.WarnWithContext(logger, "service advertisement failed", "mdns_register_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "set station.controller_addr on each station"),
				logging.String(logging.FieldImpact, "stations cannot discover the controller automatically"),
			)
		} else {
			defer adv.Shutdown()
		}
	}

	ipcServer, err := ipc.NewControllerServer(signalCtx, cfg.ControllerSocketPath(), d, logger)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if cfg.Scanner.WatchHotplug {
		monitor := scanner.NewHotplugMonitor(ctrl, logger)
		_ = monitor.Start(signalCtx)
		defer monitor.Stop()
	}

	readStdin := cfg.Scanner.Stdin
	if opts.Stdin != nil {
		readStdin = *opts.Stdin
	}
	if readStdin {
		go func() {
			if err := scanner.ReadLines(signalCtx, os.Stdin, ctrl, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("scanner input closed", logging.Error(err))
			}
		}()
	}

	err = ctrl.Serve(signalCtx, ln)
	logger.Info("aoi controller shutting down")
	return err
}

// Station runs a camera station agent until ctx ends or a signal arrives.
func Station(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, "station", opts)
	if err != nil {
		return err
	}

	lock, err := daemon.AcquireLock(cfg.LockPath("station"))
	if err != nil {
		return err
	}
	defer lock.Unlock()

	if err := checkPreflight(logger, preflight.RunStation(cfg)); err != nil {
		return err
	}

	capturer, err := capture.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("capture source: %w", err)
	}

	a, err := agent.New(agent.Options{
		Resolver: discovery.ResolverFromConfig(cfg, logger),
		Capturer: capturer,
		Identity: agent.IdentityStore{Path: cfg.Station.CameraIDFile},
		Redial:   cfg.RedialInterval(),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create station agent: %w", err)
	}

	ipcServer, err := ipc.NewStationServer(signalCtx, cfg.StationSocketPath(), a, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	logger.Info("aoi station started", logging.Int(logging.FieldCameraID, int(a.CameraID())))
	err = a.Run(signalCtx)
	logger.Info("aoi station shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newLogger(cfg *config.Config, process string, opts Options) (*slog.Logger, error) {
	if strings.TrimSpace(opts.LogLevel) != "" || opts.Development {
		level := opts.LogLevel
		if strings.TrimSpace(level) == "" {
			level = cfg.Logging.Level
		}
		logger, err := logging.New(logging.Options{
			Level:       level,
			Format:      cfg.Logging.Format,
			Development: opts.Development,
		})
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		return logger, nil
	}
	logger, err := logging.NewFromConfig(cfg, process)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

func checkPreflight(logger *slog.Logger, results []preflight.Result) error {
	for _, r := range results {
		if r.Passed {
			logger.Debug("preflight passed", logging.String("check", r.Name), logging.String("detail", r.Detail))
		}
	}
	failed := preflight.Failed(results)
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, 0, len(failed))
	for _, r := range failed {
		logging.ErrorWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
		)
		parts = append(parts, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	return fmt.Errorf("preflight failed: %s", strings.Join(parts, "; "))
}

func advertise(cfg *config.Config, addr string) (*discovery.Advertisement, error) {
	port, err := discovery.ListenPort(addr)
	if err != nil {
		return nil, err
	}
	return discovery.Advertise(cfg.Controller.ServiceName, port)
}
