package route

import (
	"errors"
	"net"
	"net/netip"
)

// ErrNoRoute is returned when the kernel has no usable route to an address.
var ErrNoRoute = errors.New("no route to host")

// Route represents a network route with its destination, gateway, source address, and the associated network interface.
type Route struct {
	Destination netip.Addr
	Gateway     netip.Addr
	Source      netip.Addr
	Interface   *net.Interface
}

// NextHop returns the gateway, or the destination itself for directly
// connected routes.
func (r Route) NextHop() netip.Addr {
	if r.Gateway.IsValid() {
		return r.Gateway
	}
	return r.Destination
}

// Get retrieves the route the kernel would use to reach ip. Unroutable
// addresses yield an error wrapping ErrNoRoute.
func Get(ip netip.Addr) (Route, error) {
	return get(ip.Unmap())
}
