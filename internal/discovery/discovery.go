// Package discovery lets stations find the controller on the local network.
// The controller advertises a DNS-SD service; stations browse for it unless
// configured with a fixed address.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"aoi/internal/config"
	"aoi/internal/logging"
)

const (
	ServiceType = "_aoicontrol._tcp"
	Domain      = "local."

	defaultBrowseTimeout = 5 * time.Second
)

// ErrNotFound is returned when browsing ends without a usable controller.
var ErrNotFound = errors.New("controller not found")

// Resolver yields the host:port a station should dial.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// Static always resolves to a configured address.
type Static struct {
	Addr string
}

func (s Static) Resolve(context.Context) (string, error) {
	if strings.TrimSpace(s.Addr) == "" {
		return "", ErrNotFound
	}
	return s.Addr, nil
}

// Browser resolves the controller via mDNS.
type Browser struct {
	Service string
	Domain  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewBrowser returns a Browser for the default service type.
func NewBrowser(logger *slog.Logger) *Browser {
	return &Browser{
		Service: ServiceType,
		Domain:  Domain,
		Timeout: defaultBrowseTimeout,
		Logger:  logging.NewComponentLogger(logger, "discovery"),
	}
}

// Resolve browses until the first entry with an address arrives or the
// timeout passes.
func (b *Browser) Resolve(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("create mdns resolver: %w", err)
	}
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = defaultBrowseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, b.Service, b.Domain, entries); err != nil {
		return "", fmt.Errorf("browse %s: %w", b.Service, err)
	}
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNotFound
			}
			if addr, ok := entryAddr(entry); ok {
				if b.Logger != nil {
					b.Logger.Info("controller discovered",
						logging.String("instance", entry.Instance),
						logging.String("addr", addr),
					)
				}
				return addr, nil
			}
		case <-ctx.Done():
			return "", ErrNotFound
		}
	}
}

// entryAddr prefers IPv4, matching how the controller binds by default.
func entryAddr(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || entry.Port == 0 {
		return "", false
	}
	port := strconv.Itoa(entry.Port)
	if len(entry.AddrIPv4) > 0 {
		return net.JoinHostPort(entry.AddrIPv4[0].String(), port), true
	}
	if len(entry.AddrIPv6) > 0 {
		return net.JoinHostPort(entry.AddrIPv6[0].String(), port), true
	}
	return "", false
}

// ResolverFromConfig returns a Static resolver when a controller address is
// configured and a Browser otherwise.
func ResolverFromConfig(cfg *config.Config, logger *slog.Logger) Resolver {
	if addr := strings.TrimSpace(cfg.Station.ControllerAddr); addr != "" {
		return Static{Addr: addr}
	}
	return NewBrowser(logger)
}

// Advertisement is a running DNS-SD registration.
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise registers instance for the controller's TCP port.
func Advertise(instance string, port int) (*Advertisement, error) {
	if instance == "" {
		instance = "aoi-controller"
	}
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, []string{"proto=aoi1"}, nil)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", ServiceType, err)
	}
	return &Advertisement{server: server}, nil
}

// Shutdown withdraws the registration.
func (a *Advertisement) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// ListenPort extracts the numeric port from a listener address such as
// ":8080" or "0.0.0.0:8080".
func ListenPort(addr string) (int, error) {
	_, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port in %q", addr)
	}
	return port, nil
}
