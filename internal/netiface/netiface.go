// Package netiface resolves the named OS network interface main.yml points
// at into the server identifier (its IPv4 address) and the fallback subnet
// mask carried in its address's network. main.yml names only the
// interface; both values are derived from it.
package netiface

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoIPv4Address is returned when a named interface exists but carries no
// usable IPv4 address.
var ErrNoIPv4Address = errors.New("netiface: interface has no IPv4 address")

// Identity is the server identifier and fallback subnet mask derived from
// one network interface.
type Identity struct {
	Name        string
	ServerID    net.IP
	DefaultMask net.IPMask
}

// Resolve looks up name among the host's network interfaces and returns its
// first IPv4 address as the server identifier, and that address's network
// mask as the fallback subnet mask.
func Resolve(name string) (*Identity, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("netiface: looking up interface %q: %w", name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("netiface: reading addresses for %q: %w", name, err)
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		return &Identity{
			Name:        name,
			ServerID:    ip4,
			DefaultMask: ipNet.Mask,
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrNoIPv4Address, name)
}
