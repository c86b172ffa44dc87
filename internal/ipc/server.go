package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"aoi/internal/agent"
	"aoi/internal/daemon"
	"aoi/internal/logging"
	"aoi/internal/protocol"
	"aoi/internal/workflow"
)

// Server exposes one service via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewControllerServer serves d at path.
func NewControllerServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	return newServer(ctx, path, controllerService, &controllerRPC{daemon: d, ctx: ctx}, logger)
}

// NewStationServer serves a at path.
func NewStationServer(ctx context.Context, path string, a *agent.Agent, logger *slog.Logger) (*Server, error) {
	if a == nil {
		return nil, errors.New("ipc server requires station agent")
	}
	return newServer(ctx, path, stationService, &stationRPC{agent: a, ctx: ctx}, logger)
}

func newServer(ctx context.Context, path, name string, rcvr any, logger *slog.Logger) (*Server, error) {
	logger = logging.NewComponentLogger(logger, "ipc")
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(name, rcvr); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}
	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type controllerRPC struct {
	daemon *daemon.Daemon
	ctx    context.Context
}

func (s *controllerRPC) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.Status()
	return nil
}

func (s *controllerRPC) Step(req StepRequest, resp *StepResponse) error {
	step, err := workflow.ParseStep(req.Step)
	if err != nil {
		return fmt.Errorf("%w: %q", err, req.Step)
	}
	if err := s.daemon.Controller().RequestStep(step); err != nil {
		return err
	}
	resp.Step = string(s.daemon.Controller().Snapshot().Step)
	return nil
}

func (s *controllerRPC) Toggle(_ ToggleRequest, resp *ToggleResponse) error {
	ctrl := s.daemon.Controller()
	resp.Step2Enabled = ctrl.ToggleStep2()
	resp.Step = string(ctrl.Snapshot().Step)
	return nil
}

func (s *controllerRPC) Shutter(_ ShutterRequest, resp *ShutterResponse) error {
	report, err := s.daemon.Controller().BroadcastShutter(s.ctx)
	if err != nil {
		return err
	}
	for _, id := range report.Targets {
		resp.Targets = append(resp.Targets, int(id))
	}
	resp.Delivered = len(report.Delivered)
	if len(report.Failed) > 0 {
		resp.Failed = make(map[string]string, len(report.Failed))
		for conn, ferr := range report.Failed {
			resp.Failed[string(conn)] = ferr.Error()
		}
	}
	return nil
}

func (s *controllerRPC) Scan(req ScanRequest, resp *ScanResponse) error {
	field := workflow.Field(strings.ToLower(strings.TrimSpace(req.Field)))
	ctrl := s.daemon.Controller()
	err := ctrl.Scan(s.ctx, field, req.Text)
	resp.State = ctrl.Snapshot().State
	return err
}

func (s *controllerRPC) Sessions(req SessionsRequest, resp *SessionsResponse) error {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	sessions, err := s.daemon.Sessions(s.ctx, limit)
	if err != nil {
		return err
	}
	resp.Sessions = sessions
	return nil
}

func (s *controllerRPC) SessionImages(req SessionImagesRequest, resp *SessionImagesResponse) error {
	images, err := s.daemon.SessionImages(s.ctx, req.Serial, req.Date)
	if err != nil {
		return err
	}
	resp.Images = images
	return nil
}

func (s *controllerRPC) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, msg, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = msg
	return err
}

type stationRPC struct {
	agent *agent.Agent
	ctx   context.Context
}

func (s *stationRPC) Status(_ StationStatusRequest, resp *StationStatusResponse) error {
	resp.Status = s.agent.Status()
	return nil
}

func (s *stationRPC) SetCameraID(req SetCameraIDRequest, resp *SetCameraIDResponse) error {
	if err := s.agent.SetCameraID(protocol.CameraID(req.CameraID)); err != nil {
		return err
	}
	resp.CameraID = int(s.agent.CameraID())
	return nil
}

func (s *stationRPC) Reconnect(_ ReconnectRequest, _ *ReconnectResponse) error {
	s.agent.Reconnect()
	return nil
}

func (s *stationRPC) Capture(_ CaptureRequest, resp *CaptureResponse) error {
	if err := s.agent.Capture(s.ctx); err != nil {
		return err
	}
	resp.Captures = s.agent.Status().Captures
	return nil
}
