package controller

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"aoi/internal/imagestore"
	"aoi/internal/notifications"
	"aoi/internal/protocol"
	"aoi/internal/testsupport"
	"aoi/internal/workflow"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.Local)

const testDate = "20261019"

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) has(event notifications.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

type harness struct {
	ctrl     *Controller
	imageDir string
	notifier *recordingNotifier
	ctx      context.Context
}

// blockingNotifier holds every Publish until release is closed.
type blockingNotifier struct {
	started chan notifications.Event
	release chan struct{}
}

func (b *blockingNotifier) Publish(ctx context.Context, event notifications.Event, _ notifications.Payload) error {
	select {
	case b.started <- event:
	default:
	}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newHarness(t *testing.T, step2 bool) *harness {
	t.Helper()
	notifier := &recordingNotifier{}
	h := newHarnessWithNotifier(t, step2, notifier)
	h.notifier = notifier
	return h
}

func newHarnessWithNotifier(t *testing.T, step2 bool, notifier notifications.Service) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithStep2(step2))
	ctrl, err := New(Options{
		Store:           imagestore.NewStore(cfg.Paths.ImageDir),
		History:         testsupport.MustOpenHistory(t, cfg),
		Notifier:        notifier,
		Step2Enabled:    step2,
		NoticeTTL:       cfg.NoticeTTL(),
		CompletionGrace: cfg.CompletionGrace(),
		MaxImageSize:    cfg.MaxImageBytes(),
		Now:             func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		ctrl.Close()
	})
	return &harness{ctrl: ctrl, imageDir: cfg.Paths.ImageDir, ctx: ctx}
}

// connect attaches one end of a pipe to the controller and returns the
// station end plus a channel of command lines the station receives.
func (h *harness) connect(t *testing.T) (net.Conn, <-chan string) {
	t.Helper()
	server, client := net.Pipe()
	go h.ctrl.HandleConn(h.ctx, server)
	lines := make(chan string, 8)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(client)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	t.Cleanup(func() { _ = client.Close() })
	return client, lines
}

func (h *harness) scan(t *testing.T, field workflow.Field, text string) {
	t.Helper()
	if err := h.ctrl.Scan(h.ctx, field, text); err != nil {
		t.Fatalf("Scan(%s, %q): %v", field, text, err)
	}
}

func write(t *testing.T, conn net.Conn, chunks ...string) {
	t.Helper()
	for _, chunk := range chunks {
		if _, err := conn.Write([]byte(chunk)); err != nil {
			t.Fatalf("write %q: %v", chunk, err)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestImageSplitAcrossReadsIsPersisted(t *testing.T) {
	h := newHarness(t, false)
	h.scan(t, workflow.FieldOperator, "op7")
	h.scan(t, workflow.FieldSerial, "SN100")

	conn, _ := h.connect(t)
	write(t, conn, "HELLO;2\nIMA", "GE;2;4\n\xDE\xAD", "\xBE\xEF")

	waitFor(t, "camera 2 online", func() bool {
		return h.ctrl.Snapshot().Presence[2]
	})
	path := filepath.Join(h.imageDir, testDate, "SN100", "Step1_2_op7.jpg")
	waitFor(t, "image on disk", func() bool {
		_, err := os.Stat(path)
		return err == nil
	})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if string(data) != "\xDE\xAD\xBE\xEF" {
		t.Fatalf("image bytes = % x", data)
	}
	snap := h.ctrl.Snapshot()
	if snap.Previews[workflow.Step1][2] != 4 {
		t.Fatalf("preview size = %v, want 4", snap.Previews)
	}
	if snap.Presence[1] || snap.Presence[3] || snap.Presence[4] {
		t.Fatalf("unexpected presence %v", snap.Presence)
	}
}

func TestImageWithoutSerialIsNotSaved(t *testing.T) {
	h := newHarness(t, false)
	conn, _ := h.connect(t)
	write(t, conn, "HELLO;1\n", "IMAGE;1;2\nhi")

	waitFor(t, "camera 1 online", func() bool { return h.ctrl.Snapshot().Presence[1] })
	// A second identity frame proves the image body was consumed.
	write(t, conn, "CAM_ID;1\n")
	time.Sleep(20 * time.Millisecond)

	entries, _ := os.ReadDir(h.imageDir)
	if len(entries) != 0 {
		t.Fatalf("expected no session directories, found %d", len(entries))
	}
	if len(h.ctrl.Snapshot().Previews) != 0 {
		t.Fatal("preview recorded without a serial")
	}
}

func TestStep3CompletionReturnsToStep1(t *testing.T) {
	h := newHarness(t, false)
	h.scan(t, workflow.FieldOperator, "op1")
	h.scan(t, workflow.FieldSerial, "SN1")
	testsupport.SeedSession(t, h.imageDir, testDate, "SN1", 7)
	if err := h.ctrl.RequestStep(workflow.Step3); err != nil {
		t.Fatalf("RequestStep: %v", err)
	}

	conn, _ := h.connect(t)
	write(t, conn, "HELLO;3\nIMAGE;3;1\nx")

	waitFor(t, "session complete", func() bool {
		s := h.ctrl.Snapshot()
		return s.Step == workflow.Step1 && s.Serial == ""
	})
	waitFor(t, "complete notification", func() bool {
		return h.notifier.has(notifications.EventSessionComplete)
	})
	if s := h.ctrl.Snapshot(); s.Focus != workflow.FieldSerial || len(s.Previews) != 0 {
		t.Fatalf("session not reset: %+v", s.State)
	}
}

func TestStep3IncompleteHoldsNoticeThenResets(t *testing.T) {
	h := newHarness(t, false)
	h.scan(t, workflow.FieldSerial, "SN2")
	if err := h.ctrl.RequestStep(workflow.Step3); err != nil {
		t.Fatalf("RequestStep: %v", err)
	}

	conn, _ := h.connect(t)
	write(t, conn, "HELLO;4\nIMAGE;4;1\nx")

	waitFor(t, "incomplete notice", func() bool {
		for _, n := range h.ctrl.Snapshot().Notices {
			if n.Kind == workflow.NoticeIncomplete {
				return true
			}
		}
		return false
	})
	waitFor(t, "return to step1", func() bool {
		s := h.ctrl.Snapshot()
		return s.Step == workflow.Step1 && len(s.Notices) == 0
	})
	if got := h.ctrl.Snapshot().Serial; got != "SN2" {
		t.Fatalf("serial = %q, want SN2 kept after incomplete", got)
	}
	waitFor(t, "incomplete notification", func() bool {
		return h.notifier.has(notifications.EventSessionIncomplete)
	})
}

func TestStep2RefusedWhileDisabled(t *testing.T) {
	h := newHarness(t, false)
	err := h.ctrl.RequestStep(workflow.Step2)
	if !errors.Is(err, workflow.ErrStepDisabled) {
		t.Fatalf("RequestStep(Step2) error = %v", err)
	}
	snap := h.ctrl.Snapshot()
	if snap.Step != workflow.Step1 || len(snap.Notices) != 1 || snap.Notices[0].Kind != workflow.NoticeStep2Disabled {
		t.Fatalf("unexpected state after refusal: %+v", snap.State)
	}
	waitFor(t, "notice expiry", func() bool { return len(h.ctrl.Snapshot().Notices) == 0 })
}

func TestShutterAtStep2ReachesOnlyCameraFour(t *testing.T) {
	h := newHarness(t, true)
	conn2, lines2 := h.connect(t)
	conn4, lines4 := h.connect(t)
	write(t, conn2, "HELLO;2\n")
	write(t, conn4, "HELLO;4\n")
	waitFor(t, "both online", func() bool {
		p := h.ctrl.Snapshot().Presence
		return p[2] && p[4]
	})

	h.scan(t, workflow.FieldCode, "STEP2")
	h.scan(t, workflow.FieldCode, " Shutter ")

	select {
	case line := <-lines4:
		if line != protocol.CommandShutter {
			t.Fatalf("camera 4 got %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("camera 4 never received shutter")
	}
	select {
	case line := <-lines2:
		t.Fatalf("camera 2 unexpectedly got %q", line)
	case <-time.After(30 * time.Millisecond):
	}

	if err := h.ctrl.RequestStep(workflow.Step1); err != nil {
		t.Fatalf("RequestStep: %v", err)
	}
	report, err := h.ctrl.BroadcastShutter(h.ctx)
	if err != nil {
		t.Fatalf("BroadcastShutter: %v", err)
	}
	if len(report.Targets) != 2 {
		t.Fatalf("targets = %v, want both online cameras", report.Targets)
	}
	for _, ch := range []<-chan string{lines2, lines4} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("station missed step1 shutter")
		}
	}
}

func TestInvalidCodeRaisesNotice(t *testing.T) {
	h := newHarness(t, false)
	err := h.ctrl.Scan(h.ctx, workflow.FieldCode, "focus")
	if !errors.Is(err, workflow.ErrInvalidCommand) {
		t.Fatalf("Scan error = %v", err)
	}
	snap := h.ctrl.Snapshot()
	if len(snap.Notices) != 1 || snap.Notices[0].Kind != workflow.NoticeInvalidCommand {
		t.Fatalf("notices = %+v", snap.Notices)
	}
}

func TestDisconnectClearsPresence(t *testing.T) {
	h := newHarness(t, false)
	conn, _ := h.connect(t)
	write(t, conn, "HELLO;3\n")
	waitFor(t, "camera 3 online", func() bool { return h.ctrl.Snapshot().Presence[3] })

	_ = conn.Close()
	waitFor(t, "camera 3 offline", func() bool {
		s := h.ctrl.Snapshot()
		return !s.Presence[3] && len(s.Stations) == 0
	})
}

func TestIdentityUpdateMovesPresence(t *testing.T) {
	h := newHarness(t, false)
	conn, _ := h.connect(t)
	write(t, conn, "HELLO;1\n")
	waitFor(t, "camera 1 online", func() bool { return h.ctrl.Snapshot().Presence[1] })

	write(t, conn, "CAM_ID;9\n", "CAM_ID;3\n")
	waitFor(t, "camera 3 online", func() bool {
		p := h.ctrl.Snapshot().Presence
		return p[3] && !p[1]
	})
}

func TestWriteFailureRaisesNotice(t *testing.T) {
	h := newHarness(t, false)
	// A regular file where the date directory belongs makes every save fail.
	testsupport.WriteFile(t, filepath.Join(h.imageDir, testDate), 1)
	h.scan(t, workflow.FieldSerial, "SN3")

	conn, _ := h.connect(t)
	write(t, conn, "HELLO;1\nIMAGE;1;1\nx")

	waitFor(t, "write failed notice", func() bool {
		for _, n := range h.ctrl.Snapshot().Notices {
			if n.Kind == workflow.NoticeWriteFailed {
				return true
			}
		}
		return false
	})
	waitFor(t, "write failure notification", func() bool {
		return h.notifier.has(notifications.EventWriteFailed)
	})
}

func TestSubscribersSeeOrderedSnapshots(t *testing.T) {
	h := newHarness(t, false)
	var (
		mu   sync.Mutex
		seqs []uint64
	)
	cancel := h.ctrl.Subscribe(PresenterFunc(func(s Snapshot) {
		mu.Lock()
		seqs = append(seqs, s.Seq)
		mu.Unlock()
	}))
	h.ctrl.ToggleStep2()
	h.ctrl.ToggleStep2()
	cancel()
	h.ctrl.ToggleStep2()

	mu.Lock()
	defer mu.Unlock()
	if len(seqs) != 3 {
		t.Fatalf("presented %d snapshots, want 3", len(seqs))
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("snapshot seqs not increasing: %v", seqs)
		}
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	h := newHarness(t, false)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	write(t, conn, "HELLO;2\n")
	waitFor(t, "camera 2 online", func() bool { return h.ctrl.Snapshot().Presence[2] })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if h.ctrl.Snapshot().Presence[2] {
		t.Fatal("presence not cleared after shutdown")
	}
}

func TestSlowNotifierDoesNotDelayWrites(t *testing.T) {
	notifier := &blockingNotifier{
		started: make(chan notifications.Event, 1),
		release: make(chan struct{}),
	}
	h := newHarnessWithNotifier(t, false, notifier)
	t.Cleanup(func() { close(notifier.release) })

	h.scan(t, workflow.FieldOperator, "op1")
	h.scan(t, workflow.FieldSerial, "SN1")
	testsupport.SeedSession(t, h.imageDir, testDate, "SN1", 7)
	if err := h.ctrl.RequestStep(workflow.Step3); err != nil {
		t.Fatalf("RequestStep: %v", err)
	}
	conn, _ := h.connect(t)
	write(t, conn, "HELLO;3\nIMAGE;3;1\nx")

	select {
	case event := <-notifier.started:
		if event != notifications.EventSessionComplete {
			t.Fatalf("first notification = %s", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session complete notification never started")
	}

	// The notification is still in flight; the next session must save anyway.
	h.scan(t, workflow.FieldSerial, "SN2")
	write(t, conn, "IMAGE;3;1\ny")
	sessionDir := filepath.Join(h.imageDir, testDate, "SN2")
	waitFor(t, "SN2 image on disk", func() bool {
		entries, err := os.ReadDir(sessionDir)
		return err == nil && len(entries) == 1
	})
}

func TestConnectionRefusedAfterServeStops(t *testing.T) {
	h := newHarness(t, false)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Serve(ctx, ln) }()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}

	// A connection that slipped past the accept loop during shutdown must be
	// closed instead of reading forever.
	server, client := net.Pipe()
	defer client.Close()
	returned := make(chan struct{})
	go func() {
		h.ctrl.HandleConn(h.ctx, server)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleConn kept a connection open after shutdown")
	}
	if _, err := client.Write([]byte("HELLO;1\n")); err == nil {
		t.Fatal("expected write to a refused connection to fail")
	}
	if h.ctrl.Snapshot().Presence[1] {
		t.Fatal("refused connection became present")
	}
}
