package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aoi/internal/testsupport"
)

type blockingCapturer struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingCapturer) Capture(ctx context.Context) ([]byte, error) {
	close(b.started)
	<-b.release
	return []byte("frame"), nil
}

func TestExclusiveRejectsConcurrentCapture(t *testing.T) {
	inner := &blockingCapturer{started: make(chan struct{}), release: make(chan struct{})}
	ex := NewExclusive(inner)

	done := make(chan error, 1)
	go func() {
		_, err := ex.Capture(context.Background())
		done <- err
	}()
	<-inner.started

	if _, err := ex.Capture(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second capture error = %v, want ErrBusy", err)
	}
	close(inner.release)
	if err := <-done; err != nil {
		t.Fatalf("first capture: %v", err)
	}
	if ex.Busy() {
		t.Fatal("still busy after capture finished")
	}
}

func TestCommandCapturerReturnsStdout(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedCapture("JPEGDATA"))
	capturer, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	data, err := capturer.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if string(data) != "JPEGDATA" {
		t.Fatalf("data = %q", data)
	}
}

func TestCommandCapturerIncludesStderrOnFailure(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fail")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho 'no camera' >&2\nexit 3\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	c, err := NewCommandCapturer(script, time.Second)
	if err != nil {
		t.Fatalf("NewCommandCapturer: %v", err)
	}
	_, err = c.Capture(context.Background())
	if err == nil {
		t.Fatal("expected failure")
	}
	if got := err.Error(); !strings.Contains(got, "no camera") {
		t.Fatalf("error %q does not carry stderr", got)
	}
}

func TestFileCapturer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.jpg")
	testsupport.WriteFile(t, path, 3)
	data, err := FileCapturer{Path: path}.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(data) != 3 {
		t.Fatalf("len = %d", len(data))
	}
}

func TestFromConfigRequiresSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Station.CaptureCommand = ""
	cfg.Station.CaptureFile = ""
	if _, err := FromConfig(cfg); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("error = %v, want ErrNotConfigured", err)
	}
}
