// Package capture produces the image bytes a station sends after a shutter
// command.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"aoi/internal/config"
)

var (
	// ErrBusy is returned while another capture is still running. Requests
	// are rejected, never queued.
	ErrBusy = errors.New("capture already in progress")
	// ErrNotConfigured means neither a capture command nor a capture file is set.
	ErrNotConfigured = errors.New("no capture source configured")
)

// Capturer takes one picture.
type Capturer interface {
	Capture(ctx context.Context) ([]byte, error)
}

// CommandCapturer runs an external program, typically ffmpeg writing a single
// JPEG frame to stdout, and returns what it printed.
type CommandCapturer struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// NewCommandCapturer splits command on whitespace into program and arguments.
func NewCommandCapturer(command string, timeout time.Duration) (*CommandCapturer, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, ErrNotConfigured
	}
	return &CommandCapturer{Path: fields[0], Args: fields[1:], Timeout: timeout}, nil
}

func (c *CommandCapturer) Capture(ctx context.Context) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %w (stderr: %s)", c.Path, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// FileCapturer returns the current contents of a fixed file, for stations
// whose camera software drops its latest frame on disk.
type FileCapturer struct {
	Path string
}

func (f FileCapturer) Capture(context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read capture file: %w", err)
	}
	return data, nil
}

// Exclusive allows one capture at a time through next.
type Exclusive struct {
	next Capturer
	busy atomic.Bool
}

func NewExclusive(next Capturer) *Exclusive {
	return &Exclusive{next: next}
}

func (e *Exclusive) Capture(ctx context.Context) ([]byte, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer e.busy.Store(false)
	return e.next.Capture(ctx)
}

// Busy reports whether a capture is running.
func (e *Exclusive) Busy() bool {
	return e.busy.Load()
}

// FromConfig builds the capturer named by the station config, wrapped in
// Exclusive.
func FromConfig(cfg *config.Config) (*Exclusive, error) {
	var next Capturer
	switch {
	case strings.TrimSpace(cfg.Station.CaptureCommand) != "":
		cmd, err := NewCommandCapturer(cfg.Station.CaptureCommand, cfg.CaptureTimeout())
		if err != nil {
			return nil, err
		}
		next = cmd
	case strings.TrimSpace(cfg.Station.CaptureFile) != "":
		next = FileCapturer{Path: cfg.Station.CaptureFile}
	default:
		return nil, ErrNotConfigured
	}
	return NewExclusive(next), nil
}
