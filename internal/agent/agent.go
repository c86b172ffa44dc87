// Package agent is the station side of the link: it finds the controller,
// announces its camera ID, and answers shutter commands with a captured image.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"aoi/internal/capture"
	"aoi/internal/discovery"
	"aoi/internal/logging"
	"aoi/internal/protocol"
)

// State is the agent's connection lifecycle position.
type State string

const (
	StateDisconnected State = "disconnected"
	StateResolving    State = "resolving"
	StateConnected    State = "connected"
	StateIdle         State = "idle"
	StateCapturing    State = "capturing"
)

var (
	ErrNotConnected    = errors.New("station is not connected to a controller")
	ErrInvalidCameraID = errors.New("camera id must be between 1 and 4")
)

const readBufferSize = 4 * 1024

// Status is a point-in-time view of the agent.
type Status struct {
	State       State             `json:"state"`
	CameraID    protocol.CameraID `json:"camera_id"`
	Controller  string            `json:"controller,omitempty"`
	ConnectedAt time.Time         `json:"connected_at,omitzero"`
	Captures    int               `json:"captures"`
	LastError   string            `json:"last_error,omitempty"`
}

// Options configures an Agent.
type Options struct {
	Resolver discovery.Resolver
	Capturer capture.Capturer
	Identity IdentityStore
	Redial   time.Duration
	Logger   *slog.Logger
}

// session is one live controller connection. Writes are serialized so an
// image header and its body are never interleaved with a CAM_ID line.
type session struct {
	conn net.Conn
	addr string

	mu sync.Mutex
}

func (s *session) write(f protocol.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return protocol.WriteFrame(s.conn, f)
}

// Agent runs the station's connection loop.
type Agent struct {
	resolver discovery.Resolver
	capturer capture.Capturer
	identity IdentityStore
	redial   time.Duration
	logger   *slog.Logger
	dialer   net.Dialer

	mu          sync.Mutex
	state       State
	camera      protocol.CameraID
	sess        *session
	connectedAt time.Time
	captures    int
	lastErr     string
	abort       context.CancelFunc
	immediate   bool

	wake chan struct{}
}

// New loads the persisted camera ID and returns an idle agent.
func New(opts Options) (*Agent, error) {
	if opts.Resolver == nil {
		return nil, errors.New("agent: resolver is required")
	}
	if opts.Capturer == nil {
		return nil, errors.New("agent: capturer is required")
	}
	if opts.Redial <= 0 {
		opts.Redial = 5 * time.Second
	}
	id, err := opts.Identity.Load()
	if err != nil {
		return nil, err
	}
	// One capture at a time, whatever the caller passed in.
	capturer := opts.Capturer
	if _, ok := capturer.(*capture.Exclusive); !ok {
		capturer = capture.NewExclusive(capturer)
	}
	a := &Agent{
		resolver: opts.Resolver,
		capturer: capturer,
		identity: opts.Identity,
		redial:   opts.Redial,
		logger:   logging.NewComponentLogger(opts.Logger, "station"),
		state:    StateDisconnected,
		camera:   id,
		wake:     make(chan struct{}, 1),
	}
	if !id.Valid() {
		a.logger.Warn("camera id not set; controller will ignore this station until one is assigned",
			logging.Int(logging.FieldCameraID, int(id)),
		)
	}
	return a, nil
}

// Status reports the current state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := Status{
		State:       a.state,
		CameraID:    a.camera,
		ConnectedAt: a.connectedAt,
		Captures:    a.captures,
		LastError:   a.lastErr,
	}
	if a.sess != nil {
		st.Controller = a.sess.addr
	}
	return st
}

// CameraID returns the identity the agent announces.
func (a *Agent) CameraID() protocol.CameraID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.camera
}

// Run keeps a controller connection alive until ctx ends. Failed attempts
// and dropped connections are retried after the redial interval.
func (a *Agent) Run(ctx context.Context) error {
	for {
		select {
		case <-a.wake:
		default:
		}
		attemptCtx, cancel := context.WithCancel(ctx)
		a.mu.Lock()
		a.abort = cancel
		a.immediate = false
		a.mu.Unlock()

		err := a.attempt(attemptCtx)
		cancel()

		if ctx.Err() != nil {
			a.setState(StateDisconnected)
			return nil
		}

		a.mu.Lock()
		a.abort = nil
		immediate := a.immediate
		if err != nil {
			a.lastErr = err.Error()
		}
		a.mu.Unlock()

		if err != nil {
			logging.WarnWithContext(a.logger, "controller connection failed", "connect_failed",
				logging.Error(err),
				logging.Duration("retry_in", a.redial),
				logging.String(logging.FieldErrorHint, "check the controller is running and reachable"),
				logging.String(logging.FieldImpact, "this camera will not capture until reconnected"),
			)
		}
		if immediate {
			continue
		}
		select {
		case <-ctx.Done():
			a.setState(StateDisconnected)
			return nil
		case <-a.wake:
		case <-time.After(a.redial):
		}
	}
}

// attempt resolves, dials, handshakes and then serves one connection until it
// drops. A nil error means the connection was established and later closed.
func (a *Agent) attempt(ctx context.Context) error {
	a.setState(StateResolving)
	addr, err := a.resolver.Resolve(ctx)
	if err != nil {
		a.setState(StateDisconnected)
		return fmt.Errorf("resolve controller: %w", err)
	}
	conn, err := a.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		a.setState(StateDisconnected)
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sess := &session{conn: conn, addr: addr}
	a.mu.Lock()
	a.sess = sess
	a.state = StateConnected
	a.connectedAt = time.Now()
	id := a.camera
	a.mu.Unlock()

	if err := sess.write(protocol.Handshake{CameraID: id}); err != nil {
		a.drop(sess)
		return fmt.Errorf("handshake: %w", err)
	}
	a.setState(StateIdle)
	a.logger.Info("connected to controller",
		logging.String("addr", addr),
		logging.Int(logging.FieldCameraID, int(id)),
	)

	a.serve(ctx, sess)
	a.drop(sess)
	a.logger.Info("controller connection closed", logging.String("addr", addr))
	return nil
}

func (a *Agent) serve(ctx context.Context, sess *session) {
	reasm := protocol.NewReassembler(0)
	reasm.OnMalformed = func(line string, err error) {
		a.logger.Debug("ignoring controller line", logging.String("line", line), logging.Error(err))
	}
	buf := make([]byte, readBufferSize)
	for {
		n, err := sess.conn.Read(buf)
		for _, frame := range reasm.Feed(buf[:n]) {
			cmd, ok := frame.(protocol.Command)
			if !ok {
				continue
			}
			if cmd.Name != protocol.CommandShutter {
				a.logger.Debug("ignoring unknown command", logging.String("command", cmd.Name))
				continue
			}
			go a.shoot(ctx, sess)
		}
		if err != nil {
			return
		}
	}
}

// drop tears down sess if it is still the current session.
func (a *Agent) drop(sess *session) {
	_ = sess.conn.Close()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess == sess {
		a.sess = nil
		a.state = StateDisconnected
		a.connectedAt = time.Time{}
	}
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// shoot captures and sends the image on sess. A shutter arriving while a
// capture runs is rejected by the capturer and logged.
func (a *Agent) shoot(ctx context.Context, sess *session) {
	if err := a.captureAndSend(ctx, sess); err != nil {
		if errors.Is(err, capture.ErrBusy) {
			a.logger.Info("shutter ignored: capture already running")
			return
		}
		logging.WarnWithContext(a.logger, "capture failed", "capture_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the camera and capture command"),
		)
	}
}

func (a *Agent) captureAndSend(ctx context.Context, sess *session) error {
	a.mu.Lock()
	if a.sess == sess && a.state == StateIdle {
		a.state = StateCapturing
	}
	a.mu.Unlock()

	data, err := a.capturer.Capture(ctx)

	busy := errors.Is(err, capture.ErrBusy)
	a.mu.Lock()
	if !busy && a.sess == sess && a.state == StateCapturing {
		a.state = StateIdle
	}
	if err != nil && !busy {
		a.lastErr = err.Error()
	}
	id := a.camera
	a.mu.Unlock()
	if err != nil {
		return err
	}

	// The image goes out on the connection that asked for it. If Reconnect
	// replaced that connection, the write fails and the image is abandoned.
	if err := sess.write(protocol.ImageBody{CameraID: id, Data: data}); err != nil {
		return fmt.Errorf("send image: %w", err)
	}
	a.mu.Lock()
	a.captures++
	a.mu.Unlock()
	a.logger.Info("image sent",
		logging.Int(logging.FieldCameraID, int(id)),
		logging.Int("bytes", len(data)),
	)
	return nil
}

// Capture takes a picture and sends it as if the controller had asked.
func (a *Agent) Capture(ctx context.Context) error {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	return a.captureAndSend(ctx, sess)
}

// SetCameraID persists id and, when connected, announces it with CAM_ID on
// the current connection. The connection is not restarted.
func (a *Agent) SetCameraID(id protocol.CameraID) error {
	if !id.Valid() {
		return ErrInvalidCameraID
	}
	if err := a.identity.Save(id); err != nil {
		return fmt.Errorf("persist camera id: %w", err)
	}
	a.mu.Lock()
	a.camera = id
	sess := a.sess
	a.mu.Unlock()

	a.logger.Info("camera id set", logging.Int(logging.FieldCameraID, int(id)))
	if sess == nil {
		return nil
	}
	if err := sess.write(protocol.IdentityUpdate{CameraID: id}); err != nil {
		return fmt.Errorf("announce camera id: %w", err)
	}
	return nil
}

// Reconnect abandons the current connection or attempt and starts resolving
// again without waiting for the redial interval.
func (a *Agent) Reconnect() {
	a.mu.Lock()
	a.immediate = true
	abort := a.abort
	a.mu.Unlock()
	if abort != nil {
		abort()
	}
	select {
	case a.wake <- struct{}{}:
	default:
	}
	a.logger.Info("reconnect requested")
}
