package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"aoi/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ImageDir = filepath.Join(base, "images")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Controller.Listen = "127.0.0.1:0"
	cfgVal.Controller.APIBind = "127.0.0.1:0"
	cfgVal.Controller.Advertise = false
	cfgVal.Station.CameraIDFile = filepath.Join(base, "state", "camera_id")
	cfgVal.Workflow.NoticeTTLMillis = 50
	cfgVal.Workflow.CompletionGraceMillis = 50

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithStep2 sets the initial Step2 toggle.
func WithStep2(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Step2Enabled = enabled
	}
}

// WithControllerAddr points the station at a fixed controller address.
func WithControllerAddr(addr string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Station.ControllerAddr = addr
	}
}

// WithStubbedCapture writes a capture script that prints payload to stdout and
// configures it as the station capture command.
func WithStubbedCapture(payload string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, "capture")
		script := []byte("#!/bin/sh\nprintf '%s' '" + payload + "'\n")
		if err := os.WriteFile(target, script, 0o755); err != nil {
			b.t.Fatalf("write capture stub: %v", err)
		}
		b.cfg.Station.CaptureCommand = target
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.ImageDir)
}
