package agent

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"aoi/internal/capture"
	"aoi/internal/discovery"
	"aoi/internal/protocol"
)

type captureFunc func(ctx context.Context) ([]byte, error)

func (f captureFunc) Capture(ctx context.Context) ([]byte, error) { return f(ctx) }

type fakeController struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakeController(t *testing.T) *fakeController {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fc := &fakeController{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			fc.conns <- c
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return fc
}

func (fc *fakeController) accept(t *testing.T) (net.Conn, *bufio.Reader) {
	t.Helper()
	select {
	case c := <-fc.conns:
		t.Cleanup(func() { _ = c.Close() })
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		return c, bufio.NewReader(c)
	case <-time.After(2 * time.Second):
		t.Fatal("station never connected")
		return nil, nil
	}
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	return strings.TrimSuffix(line, "\n")
}

func startAgent(t *testing.T, addr string, capturer capture.Capturer, id protocol.CameraID) (*Agent, IdentityStore) {
	t.Helper()
	store := IdentityStore{Path: filepath.Join(t.TempDir(), "camera_id")}
	if id != 0 {
		if err := store.Save(id); err != nil {
			t.Fatalf("seed id: %v", err)
		}
	}
	a, err := New(Options{
		Resolver: discovery.Static{Addr: addr},
		Capturer: capturer,
		Identity: store,
		Redial:   20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return a, store
}

func TestHandshakeAndShutterSendsImage(t *testing.T) {
	fc := newFakeController(t)
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	capturer := capture.NewExclusive(captureFunc(func(context.Context) ([]byte, error) {
		return payload, nil
	}))
	startAgent(t, fc.ln.Addr().String(), capturer, 2)

	conn, r := fc.accept(t)
	if got := readLine(t, r); got != "HELLO;2" {
		t.Fatalf("handshake = %q", got)
	}
	if _, err := conn.Write([]byte("shutter\n")); err != nil {
		t.Fatalf("write shutter: %v", err)
	}
	if got := readLine(t, r); got != "IMAGE;2;4" {
		t.Fatalf("header = %q", got)
	}
	body := make([]byte, 4)
	if _, err := io.ReadFull(r, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("body = % x", body)
	}
}

func TestPlainCapturerIsGuarded(t *testing.T) {
	fc := newFakeController(t)
	release := make(chan struct{})
	var calls atomic.Int32
	capturer := captureFunc(func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("x"), nil
	})
	a, _ := startAgent(t, fc.ln.Addr().String(), capturer, 1)

	conn, r := fc.accept(t)
	readLine(t, r)
	if _, err := conn.Write([]byte("shutter\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.Status().State != StateCapturing && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	err := a.Capture(context.Background())
	close(release)
	if !errors.Is(err, capture.ErrBusy) {
		t.Fatalf("second capture err = %v, want ErrBusy", err)
	}
	if got := readLine(t, r); got != "IMAGE;1;1" {
		t.Fatalf("header = %q", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("capturer ran %d times, want 1", calls.Load())
	}
}

func TestShutterDuringCaptureIsRejected(t *testing.T) {
	fc := newFakeController(t)
	release := make(chan struct{})
	var calls atomic.Int32
	capturer := capture.NewExclusive(captureFunc(func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("x"), nil
	}))
	a, _ := startAgent(t, fc.ln.Addr().String(), capturer, 1)

	conn, r := fc.accept(t)
	readLine(t, r)
	if _, err := conn.Write([]byte("shutter\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.Status().State != StateCapturing && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := conn.Write([]byte("SHUTTER\nshutter\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	close(release)

	if got := readLine(t, r); got != "IMAGE;1;1" {
		t.Fatalf("header = %q", got)
	}
	readLine(t, r)
	if calls.Load() != 1 {
		t.Fatalf("capturer ran %d times, want 1", calls.Load())
	}
	_ = conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if extra, err := r.ReadString('\n'); err == nil {
		t.Fatalf("unexpected extra frame %q", extra)
	}
}

func TestSetCameraIDAnnouncesWithoutReconnecting(t *testing.T) {
	fc := newFakeController(t)
	capturer := capture.NewExclusive(captureFunc(func(context.Context) ([]byte, error) { return nil, nil }))
	a, store := startAgent(t, fc.ln.Addr().String(), capturer, 1)

	_, r := fc.accept(t)
	readLine(t, r)
	waitState(t, a, StateIdle)

	if err := a.SetCameraID(3); err != nil {
		t.Fatalf("SetCameraID: %v", err)
	}
	if got := readLine(t, r); got != "CAM_ID;3" {
		t.Fatalf("update = %q", got)
	}
	if id, err := store.Load(); err != nil || id != 3 {
		t.Fatalf("persisted id = %v, %v", id, err)
	}
	select {
	case <-fc.conns:
		t.Fatal("SetCameraID opened a new connection")
	case <-time.After(50 * time.Millisecond):
	}
	if err := a.SetCameraID(7); !errors.Is(err, ErrInvalidCameraID) {
		t.Fatalf("SetCameraID(7) error = %v", err)
	}
}

func TestReconnectStartsFreshConnection(t *testing.T) {
	fc := newFakeController(t)
	capturer := capture.NewExclusive(captureFunc(func(context.Context) ([]byte, error) { return nil, nil }))
	a, _ := startAgent(t, fc.ln.Addr().String(), capturer, 4)

	first, r1 := fc.accept(t)
	readLine(t, r1)
	waitState(t, a, StateIdle)

	a.Reconnect()

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := r1.ReadString('\n'); err == nil {
		t.Fatal("old connection still open")
	}
	_, r2 := fc.accept(t)
	if got := readLine(t, r2); got != "HELLO;4" {
		t.Fatalf("handshake after reconnect = %q", got)
	}
}

func TestRedialsAfterControllerDrop(t *testing.T) {
	fc := newFakeController(t)
	capturer := capture.NewExclusive(captureFunc(func(context.Context) ([]byte, error) { return nil, nil }))
	startAgent(t, fc.ln.Addr().String(), capturer, 2)

	first, r := fc.accept(t)
	readLine(t, r)
	_ = first.Close()

	_, r2 := fc.accept(t)
	if got := readLine(t, r2); got != "HELLO;2" {
		t.Fatalf("handshake after redial = %q", got)
	}
}

func TestCaptureRequiresConnection(t *testing.T) {
	store := IdentityStore{Path: filepath.Join(t.TempDir(), "camera_id")}
	a, err := New(Options{
		Resolver: discovery.Static{},
		Capturer: captureFunc(func(context.Context) ([]byte, error) { return nil, nil }),
		Identity: store,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Capture(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Capture error = %v", err)
	}
	if st := a.Status(); st.State != StateDisconnected || st.CameraID != 0 {
		t.Fatalf("status = %+v", st)
	}
	// Disconnected stations still persist their new identity.
	if err := a.SetCameraID(2); err != nil {
		t.Fatalf("SetCameraID: %v", err)
	}
	if id, _ := store.Load(); id != 2 {
		t.Fatalf("persisted id = %v", id)
	}
}

func TestIdentityStoreRejectsGarbage(t *testing.T) {
	store := IdentityStore{Path: filepath.Join(t.TempDir(), "camera_id")}
	if id, err := store.Load(); err != nil || id != 0 {
		t.Fatalf("missing file = %v, %v", id, err)
	}
	if err := store.Save(4); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id, err := store.Load(); err != nil || id != 4 {
		t.Fatalf("Load = %v, %v", id, err)
	}
	if err := writeString(store.Path, "four"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := store.Load(); err == nil {
		t.Fatal("garbage camera id accepted")
	}
}

func waitState(t *testing.T, a *Agent, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.Status().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", a.Status().State, want)
}

func writeString(path, s string) error {
	return os.WriteFile(path, []byte(s), 0o644)
}
