package discovery

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/grandcat/zeroconf"

	"aoi/internal/testsupport"
)

func TestStaticResolver(t *testing.T) {
	addr, err := Static{Addr: "10.0.0.5:8080"}.Resolve(context.Background())
	if err != nil || addr != "10.0.0.5:8080" {
		t.Fatalf("Resolve = %q, %v", addr, err)
	}
	if _, err := (Static{}).Resolve(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty static error = %v", err)
	}
}

func TestResolverFromConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithControllerAddr("127.0.0.1:9000"))
	if r, ok := ResolverFromConfig(cfg, nil).(Static); !ok || r.Addr != "127.0.0.1:9000" {
		t.Fatalf("expected static resolver, got %#v", r)
	}
	cfg.Station.ControllerAddr = ""
	if _, ok := ResolverFromConfig(cfg, nil).(*Browser); !ok {
		t.Fatal("expected mdns browser without a fixed address")
	}
}

func TestEntryAddrPrefersIPv4(t *testing.T) {
	entry := zeroconf.NewServiceEntry("ctrl", ServiceType, Domain)
	entry.Port = 8080
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	addr, ok := entryAddr(entry)
	if !ok || addr != "192.168.1.20:8080" {
		t.Fatalf("entryAddr = %q, %v", addr, ok)
	}

	entry.AddrIPv4 = nil
	if addr, _ := entryAddr(entry); addr != "[fe80::1]:8080" {
		t.Fatalf("ipv6 addr = %q", addr)
	}
	entry.Port = 0
	if _, ok := entryAddr(entry); ok {
		t.Fatal("entry without port accepted")
	}
}

func TestListenPort(t *testing.T) {
	cases := map[string]int{":8080": 8080, "0.0.0.0:9001": 9001}
	for in, want := range cases {
		got, err := ListenPort(in)
		if err != nil || got != want {
			t.Fatalf("ListenPort(%q) = %d, %v", in, got, err)
		}
	}
	for _, bad := range []string{"8080", ":0", ":http"} {
		if _, err := ListenPort(bad); err == nil {
			t.Fatalf("ListenPort(%q) accepted", bad)
		}
	}
}
