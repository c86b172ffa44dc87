package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"aoi/internal/agent"
	"aoi/internal/capture"
	"aoi/internal/config"
	"aoi/internal/controller"
	"aoi/internal/daemon"
	"aoi/internal/discovery"
	"aoi/internal/imagestore"
	"aoi/internal/ipc"
	"aoi/internal/logging"
	"aoi/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	ctrl       *controller.Controller
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
	cancel     context.CancelFunc
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	logger := logging.NewNop()
	ctrl, err := controller.New(controller.Options{
		Store:  imagestore.NewStore(cfg.Paths.ImageDir),
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	d, err := daemon.New(cfg, ctrl, daemon.Options{
		History: testsupport.MustOpenHistory(t, cfg),
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := filepath.Join(t.TempDir(), "cli.sock")
	srv, err := ipc.NewControllerServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewControllerServer: %v", err)
	}
	srv.Serve()

	env := &cliTestEnv{
		cfg:        cfg,
		ctrl:       ctrl,
		daemon:     d,
		server:     srv,
		socketPath: socketPath,
		configPath: configPath,
		cancel:     cancel,
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		ctrl.Close()
	})

	return env
}

// setupStationEnv serves a station agent that never dials; its resolver
// points nowhere.
func setupStationEnv(t *testing.T) (string, string) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	a, err := agent.New(agent.Options{
		Resolver: discovery.Static{},
		Capturer: capture.FileCapturer{Path: filepath.Join(t.TempDir(), "missing.jpg")},
		Identity: agent.IdentityStore{Path: cfg.Station.CameraIDFile},
		Logger:   logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := filepath.Join(t.TempDir(), "station.sock")
	srv, err := ipc.NewStationServer(ctx, socketPath, a, logging.NewNop())
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewStationServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return socketPath, configPath
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
