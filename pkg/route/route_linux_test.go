//go:build linux

package route

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"testing"

	"github.com/jsimonetti/rtnetlink"
	"golang.org/x/sys/unix"
)

func fakeInterfaces(t *testing.T) {
	t.Helper()
	orig := interfaceByIndex
	interfaceByIndex = func(index int) (*net.Interface, error) {
		switch index {
		case 1:
			return &net.Interface{Index: 1, Name: "eth0", Flags: net.FlagUp}, nil
		case 2:
			return &net.Interface{Index: 2, Name: "eth1"}, nil
		}
		return nil, fmt.Errorf("no interface %d", index)
	}
	t.Cleanup(func() { interfaceByIndex = orig })
}

func TestGetMostSpecificRoute_Linux(t *testing.T) {
	fakeInterfaces(t)
	ipv4 := netip.MustParseAddr("192.0.2.100")
	ipv6 := netip.MustParseAddr("2001:db8::100")

	tests := []struct {
		name      string
		ip        netip.Addr
		msgs      []rtnetlink.RouteMessage
		want      Route
		wantErr   bool
		wantNoRte bool
	}{
		{
			name: "IPv4 route found",
			ip:   ipv4,
			msgs: []rtnetlink.RouteMessage{
				{
					Family: unix.AF_INET,
					Type:   unix.RTN_UNICAST,
					Attributes: rtnetlink.RouteAttributes{
						Dst:      ipv4.AsSlice(),
						Gateway:  netip.MustParseAddr("192.0.2.1").AsSlice(),
						Src:      netip.MustParseAddr("192.0.2.10").AsSlice(),
						OutIface: 1,
					},
				},
			},
			want: Route{
				Destination: ipv4,
				Gateway:     netip.MustParseAddr("192.0.2.1"),
				Source:      netip.MustParseAddr("192.0.2.10"),
			},
		},
		{
			name: "IPv6 connected route",
			ip:   ipv6,
			msgs: []rtnetlink.RouteMessage{
				{
					Family: unix.AF_INET6,
					Type:   unix.RTN_UNICAST,
					Attributes: rtnetlink.RouteAttributes{
						Dst:      ipv6.AsSlice(),
						Src:      netip.MustParseAddr("2001:db8::10").AsSlice(),
						OutIface: 1,
					},
				},
			},
			want: Route{
				Destination: ipv6,
				Source:      netip.MustParseAddr("2001:db8::10"),
			},
		},
		{
			name:      "no routes",
			ip:        ipv4,
			wantErr:   true,
			wantNoRte: true,
		},
		{
			name: "unreachable route type",
			ip:   ipv4,
			msgs: []rtnetlink.RouteMessage{
				{
					Family: unix.AF_INET,
					Type:   unix.RTN_UNREACHABLE,
					Attributes: rtnetlink.RouteAttributes{
						Dst: ipv4.AsSlice(),
					},
				},
			},
			wantErr:   true,
			wantNoRte: true,
		},
		{
			name: "blackhole route type",
			ip:   ipv4,
			msgs: []rtnetlink.RouteMessage{
				{Family: unix.AF_INET, Type: unix.RTN_BLACKHOLE},
			},
			wantErr:   true,
			wantNoRte: true,
		},
		{
			name: "interface down",
			ip:   ipv4,
			msgs: []rtnetlink.RouteMessage{
				{
					Family: unix.AF_INET,
					Type:   unix.RTN_UNICAST,
					Attributes: rtnetlink.RouteAttributes{
						Dst:      ipv4.AsSlice(),
						Src:      netip.MustParseAddr("192.0.2.10").AsSlice(),
						OutIface: 2,
					},
				},
			},
			wantErr:   true,
			wantNoRte: true,
		},
		{
			name: "multiple routes error",
			ip:   ipv4,
			msgs: []rtnetlink.RouteMessage{
				{
					Family: unix.AF_INET,
					Attributes: rtnetlink.RouteAttributes{
						Dst:      ipv4.AsSlice(),
						Src:      netip.MustParseAddr("192.0.2.10").AsSlice(),
						OutIface: 1,
					},
				},
				{
					Family: unix.AF_INET,
					Attributes: rtnetlink.RouteAttributes{
						Dst:      ipv4.AsSlice(),
						Src:      netip.MustParseAddr("192.0.2.20").AsSlice(),
						OutIface: 1,
					},
				},
			},
			wantErr: true,
		},
		{
			name: "invalid destination",
			ip:   ipv4,
			msgs: []rtnetlink.RouteMessage{
				{
					Family: unix.AF_INET,
					Attributes: rtnetlink.RouteAttributes{
						Dst:      []byte{}, // Invalid
						Src:      ipv4.AsSlice(),
						OutIface: 1,
					},
				},
			},
			wantErr: true,
		},
		{
			name: "invalid source",
			ip:   ipv4,
			msgs: []rtnetlink.RouteMessage{
				{
					Family: unix.AF_INET,
					Attributes: rtnetlink.RouteAttributes{
						Dst:      ipv4.AsSlice(),
						Src:      []byte{}, // Invalid
						OutIface: 1,
					},
				},
			},
			wantErr: true,
		},
		{
			name: "unknown interface",
			ip:   ipv4,
			msgs: []rtnetlink.RouteMessage{
				{
					Family: unix.AF_INET,
					Attributes: rtnetlink.RouteAttributes{
						Dst:      ipv4.AsSlice(),
						Src:      netip.MustParseAddr("192.0.2.10").AsSlice(),
						OutIface: 99,
					},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := getMostSpecificRoute(tt.ip, tt.msgs)

			if (err != nil) != tt.wantErr {
				t.Fatalf("getMostSpecificRoute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrNoRoute) != tt.wantNoRte {
				t.Errorf("errors.Is(err, ErrNoRoute) = %v, want %v (err: %v)", !tt.wantNoRte, tt.wantNoRte, err)
			}
			if err != nil {
				return
			}
			if got.Destination != tt.want.Destination || got.Gateway != tt.want.Gateway || got.Source != tt.want.Source {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if got.Interface == nil || got.Interface.Name != "eth0" {
				t.Errorf("interface = %v", got.Interface)
			}
		})
	}
}

func Test_get_Linux(t *testing.T) {
	fakeInterfaces(t)
	ipv4 := netip.MustParseAddr("192.0.2.1")

	tests := []struct {
		name      string
		ip        netip.Addr
		msgs      []rtnetlink.RouteMessage
		err       error
		wantErr   bool
		wantNoRte bool
	}{
		{
			name: "successful fetch",
			ip:   ipv4,
			msgs: []rtnetlink.RouteMessage{
				{
					Family: unix.AF_INET,
					Attributes: rtnetlink.RouteAttributes{
						Dst:      ipv4.AsSlice(),
						Src:      netip.MustParseAddr("192.0.2.10").AsSlice(),
						OutIface: 1,
					},
				},
			},
		},
		{
			name:    "fetch error",
			ip:      ipv4,
			err:     errors.New("dial failed"),
			wantErr: true,
		},
		{
			name:      "network unreachable",
			ip:        ipv4,
			err:       fmt.Errorf("netlink receive: %w", unix.ENETUNREACH),
			wantErr:   true,
			wantNoRte: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := fetchRIBMessagesForIP
			fetchRIBMessagesForIP = func(ip netip.Addr) ([]rtnetlink.RouteMessage, error) { return tt.msgs, tt.err }
			defer func() { fetchRIBMessagesForIP = orig }()

			_, err := get(tt.ip)

			if (err != nil) != tt.wantErr {
				t.Errorf("get() error = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrNoRoute) != tt.wantNoRte {
				t.Errorf("get() error = %v, want ErrNoRoute: %v", err, tt.wantNoRte)
			}
		})
	}
}
