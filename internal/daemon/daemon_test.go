package daemon_test

import (
	"context"
	"errors"
	"testing"

	"aoi/internal/config"
	"aoi/internal/controller"
	"aoi/internal/daemon"
	"aoi/internal/imagestore"
	"aoi/internal/testsupport"
)

func newController(t *testing.T, cfg *config.Config) *controller.Controller {
	t.Helper()
	ctrl, err := controller.New(controller.Options{Store: imagestore.NewStore(cfg.Paths.ImageDir)})
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	t.Cleanup(ctrl.Close)
	return ctrl
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := daemon.New(cfg, newController(t, cfg), daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status()
	if !status.Running || status.APIAddr == "" {
		t.Fatalf("unexpected status: %+v", status)
	}

	// A second controller on the same state dir must refuse to start.
	other, err := daemon.New(cfg, newController(t, cfg), daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := other.Start(ctx); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("second start error = %v, want ErrAlreadyRunning", err)
	}

	d.Stop()
	if d.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
	if err := other.Start(ctx); err != nil {
		t.Fatalf("start after release: %v", err)
	}
	other.Stop()
}

func TestTestNotificationWithoutTopic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = ""
	d, err := daemon.New(cfg, newController(t, cfg), daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	sent, msg, err := d.TestNotification(context.Background())
	if err != nil || sent || msg != "ntfy topic not configured" {
		t.Fatalf("TestNotification = %v, %q, %v", sent, msg, err)
	}
	if _, err := d.Sessions(context.Background(), 5); err == nil {
		t.Fatal("expected error without history store")
	}
}
