package probe

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"golang.org/x/net/icmp"
)

// echoConn is the part of an ICMP socket the prober uses.
type echoConn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, dst net.Addr) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// socketNetwork returns the icmp.ListenPacket network and wildcard address.
// Unprivileged sockets are datagram ICMP endpoints; the kernel owns the
// echo identifier there.
func socketNetwork(v6, privileged bool) (network, address string) {
	switch {
	case v6 && privileged:
		return "ip6:ipv6-icmp", "::"
	case v6:
		return "udp6", "::"
	case privileged:
		return "ip4:icmp", "0.0.0.0"
	default:
		return "udp4", "0.0.0.0"
	}
}

// listenICMP opens an ICMP socket. Variable for mocking in tests.
var listenICMP = func(network, address string) (echoConn, error) {
	c, err := icmp.ListenPacket(network, address)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w (run with --privileged as root, or allow unprivileged ping via net.ipv4.ping_group_range)", err)
		}
		return nil, err
	}
	return c, nil
}

// destination returns the address type WriteTo expects for the socket kind.
func destination(target netip.Addr, privileged bool) net.Addr {
	if privileged {
		return &net.IPAddr{IP: target.AsSlice(), Zone: target.Zone()}
	}
	return &net.UDPAddr{IP: target.AsSlice(), Zone: target.Zone()}
}

// peerAddr extracts the sender of a received message.
func peerAddr(a net.Addr) netip.Addr {
	var ip netip.Addr
	switch a := a.(type) {
	case *net.IPAddr:
		ip, _ = netip.AddrFromSlice(a.IP)
	case *net.UDPAddr:
		ip, _ = netip.AddrFromSlice(a.IP)
	}
	return ip.Unmap()
}

func sameHost(a, b netip.Addr) bool {
	return a.WithZone("") == b.WithZone("")
}
