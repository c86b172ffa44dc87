package scanner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"aoi/internal/logging"
	"aoi/internal/workflow"
)

// NoticeSink shows operator notices.
type NoticeSink interface {
	RaiseNotice(kind workflow.NoticeKind, message string)
}

// HotplugMonitor listens for udev input-device events and raises a scanner
// notice when a keyboard-class device, which is how barcode scanners enumerate,
// appears or disappears.
type HotplugMonitor struct {
	sink   NoticeSink
	logger *slog.Logger

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func NewHotplugMonitor(sink NoticeSink, logger *slog.Logger) *HotplugMonitor {
	return &HotplugMonitor{
		sink:   sink,
		logger: logging.NewComponentLogger(logger, "scanner-hotplug"),
	}
}

// Start begins listening. Failing to open the netlink socket is logged and
// not returned; scanning keeps working without hotplug notices.
func (m *HotplugMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(m.logger, "failed to connect to netlink socket", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the controller may open netlink sockets"),
			logging.String(logging.FieldImpact, "scanner unplug notices unavailable"),
		)
		return nil
	}
	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.loop(ctx, conn, quit)
	m.logger.Info("scanner hotplug monitor started")
	return nil
}

// Stop shuts the monitor down.
func (m *HotplugMonitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.quit)
	m.quit = nil
	_ = m.conn.Close()
	m.conn = nil
	m.running = false
}

// Running reports whether the monitor is active.
func (m *HotplugMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *HotplugMonitor) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, matcher())
	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case ev := <-queue:
			m.handle(ev)
		case err := <-errs:
			m.logger.Debug("netlink monitor error", logging.Error(err))
		}
	}
}

func matcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM":         "input",
			"ID_INPUT_KEYBOARD": "1",
		},
	})
	return rules
}

// handle reacts once per physical device: only the event node carrying
// DEVNAME is considered.
func (m *HotplugMonitor) handle(ev netlink.UEvent) {
	devname := ev.Env["DEVNAME"]
	if devname == "" {
		return
	}
	name := ev.Env["ID_MODEL"]
	if name == "" {
		name = devname
	}

	var message string
	switch ev.Action {
	case netlink.REMOVE:
		message = "Barcode scanner disconnected: " + name
	case netlink.ADD:
		message = "Barcode scanner connected: " + name
	default:
		return
	}
	m.logger.Info(message,
		logging.String(logging.FieldEventType, "scanner_"+string(ev.Action)),
		logging.String("device", devname),
	)
	if m.sink != nil {
		m.sink.RaiseNotice(workflow.NoticeScanner, message)
	}
}
