//go:build !linux

package route

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"
)

// dialUDP is a variable for mocking in tests.
var dialUDP = func(ip netip.Addr) (netip.Addr, error) {
	// Connecting a UDP socket makes the kernel pick a route without sending anything.
	c, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(netip.AddrPortFrom(ip, 9)))
	if err != nil {
		return netip.Addr{}, err
	}
	defer c.Close()
	return c.LocalAddr().(*net.UDPAddr).AddrPort().Addr(), nil
}

// get asks the kernel for a source address towards ip. Gateway and interface
// are not reported on these platforms.
func get(ip netip.Addr) (Route, error) {
	src, err := dialUDP(ip)
	if err != nil {
		if errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
			return Route{}, fmt.Errorf("%w: %s", ErrNoRoute, ip)
		}
		return Route{}, err
	}
	return Route{Destination: ip, Source: src.Unmap()}, nil
}
