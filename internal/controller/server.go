package controller

import (
	"context"
	"errors"
	"net"

	"github.com/google/uuid"

	"aoi/internal/logging"
	"aoi/internal/protocol"
	"aoi/internal/station"
)

const readBufferSize = 64 * 1024

// Serve accepts station connections on ln until ctx ends, then closes every
// open connection and waits for their readers to exit. The controller never
// dials stations; a dropped station must reconnect on its own.
func (c *Controller) Serve(ctx context.Context, ln net.Listener) error {
	c.logger.Info("listening for stations", logging.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		c.closeLinks()
	})
	defer stop()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				c.closeLinks()
				c.conns.Wait()
				return nil
			}
			logging.WarnWithContext(c.logger, "accept failed", "accept_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "station connection dropped before handshake"),
			)
			continue
		}
		c.conns.Add(1)
		go func() {
			defer c.conns.Done()
			c.HandleConn(ctx, nc)
		}()
	}
}

// closeLinks closes every attached connection and refuses new ones, so a
// connection accepted during shutdown cannot outlive Serve.
func (c *Controller) closeLinks() {
	c.mu.Lock()
	c.draining = true
	links := make([]*link, 0, len(c.links))
	for _, l := range c.links {
		links = append(links, l)
	}
	c.mu.Unlock()
	for _, l := range links {
		_ = l.Close()
	}
}

// HandleConn reads frames from nc until it fails or is closed, then purges
// the connection's registry entry. It blocks without a read deadline.
func (c *Controller) HandleConn(ctx context.Context, nc net.Conn) {
	l := newLink(station.ConnID(uuid.NewString()), nc)
	logger := c.logger.With(
		logging.String(logging.FieldConnID, string(l.id)),
		logging.String(logging.FieldRemote, l.remote),
	)

	if !c.attach(ctx, l) {
		_ = nc.Close()
		logger.Debug("connection refused during shutdown")
		return
	}
	logger.Info("station connected")

	reasm := protocol.NewReassembler(c.maxImage)
	reasm.OnMalformed = func(line string, err error) {
		logger.Debug("malformed frame dropped", logging.String("line", line), logging.Error(err))
		if c.metrics != nil {
			c.metrics.MalformedLines.WithLabelValues(malformedReason(err)).Inc()
		}
	}

	buf := make([]byte, readBufferSize)
	var readErr error
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			for _, frame := range reasm.Feed(buf[:n]) {
				c.handleFrame(ctx, l, frame)
			}
		}
		if err != nil {
			readErr = err
			break
		}
	}

	reasm.Reset()
	_ = nc.Close()
	c.detach(l)
	logger.Info("station disconnected", logging.String("reason", readErr.Error()))
}

func malformedReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrLineTooLong):
		return "line_too_long"
	case errors.Is(err, protocol.ErrImageTooLarge):
		return "image_too_large"
	case errors.Is(err, protocol.ErrUnknownHeader):
		return "unknown_header"
	default:
		return "malformed_header"
	}
}

func (c *Controller) attach(ctx context.Context, l *link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining || ctx.Err() != nil {
		return false
	}
	c.links[l.id] = l
	c.registry.Attach(l)
	if c.metrics != nil {
		c.metrics.Connections.Set(float64(len(c.links)))
	}
	c.commitLocked()
	return true
}

func (c *Controller) detach(l *link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.links, l.id)
	changes := c.registry.Disconnect(l.id)
	c.presenceChangedLocked(changes)
	if c.metrics != nil {
		c.metrics.Connections.Set(float64(len(c.links)))
	}
	c.commitLocked()
}

func (c *Controller) presenceChangedLocked(changes []station.PresenceChange) {
	for _, ch := range changes {
		msg := "camera offline"
		if ch.Online {
			msg = "camera online"
		}
		c.logger.Info(msg, logging.Int(logging.FieldCameraID, int(ch.CameraID)))
		c.metrics.SetOnline(ch.CameraID.String(), ch.Online)
	}
}
