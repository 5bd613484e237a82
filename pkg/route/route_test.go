package route

import (
	"net/netip"
	"testing"
)

func TestGet(t *testing.T) {
	tests := []struct {
		name string
		ip   netip.Addr
	}{
		{"IPv4", netip.MustParseAddr("8.8.8.8")},
		{"IPv6", netip.MustParseAddr("2001:4860:4860::8888")},
		{"IPv4-mapped", netip.MustParseAddr("::ffff:8.8.8.8")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Smoke test, the result depends on the system routing table
			r, err := Get(tt.ip)
			if err == nil && r.Destination != tt.ip.Unmap() {
				t.Errorf("Get(%s) destination = %s", tt.ip, r.Destination)
			}
		})
	}
}

func TestGetLoopback(t *testing.T) {
	r, err := Get(netip.MustParseAddr("127.0.0.1"))
	if err != nil {
		t.Skipf("no loopback route: %v", err)
	}
	if !r.Source.IsLoopback() {
		t.Errorf("source = %s, want a loopback address", r.Source)
	}
}

func TestNextHop(t *testing.T) {
	dst := netip.MustParseAddr("192.0.2.100")
	gw := netip.MustParseAddr("192.0.2.1")

	if got := (Route{Destination: dst, Gateway: gw}).NextHop(); got != gw {
		t.Errorf("NextHop = %s, want gateway %s", got, gw)
	}
	if got := (Route{Destination: dst}).NextHop(); got != dst {
		t.Errorf("NextHop = %s, want destination %s for a connected route", got, dst)
	}
}
