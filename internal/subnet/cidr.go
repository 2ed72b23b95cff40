// Package subnet implements per-subnet address bookkeeping (C3) and the
// prefix-sorted registry of subnets that the allocators look clients up
// against (C4).
package subnet

import (
	"encoding/binary"
	"fmt"
	"net"
)

// CIDR identifies a subnet by its network address and prefix length. It is
// the stable key allocators and the lease store use to refer to a subnet
// without holding a pointer to it.
type CIDR struct {
	Network uint32
	Prefix  uint8
}

// NewCIDR builds a CIDR from an IPv4 network address and prefix length,
// masking the address down to its canonical network form.
func NewCIDR(network net.IP, prefix uint8) (CIDR, error) {
	if prefix > 32 {
		return CIDR{}, fmt.Errorf("subnet: invalid prefix length %d", prefix)
	}
	ip4 := network.To4()
	if ip4 == nil {
		return CIDR{}, fmt.Errorf("subnet: not an IPv4 address: %v", network)
	}
	addr := binary.BigEndian.Uint32(ip4)
	c := CIDR{Network: addr & mask(prefix), Prefix: prefix}
	return c, nil
}

// mask returns the prefix-length network mask, e.g. mask(24) = 0xFFFFFF00.
func mask(prefix uint8) uint32 {
	if prefix == 0 {
		return 0
	}
	return ^uint32(0) << (32 - prefix)
}

// Count is the number of addresses in the subnet, 2^(32-prefix).
func (c CIDR) Count() uint64 {
	return uint64(1) << (32 - c.Prefix)
}

// Broadcast is the highest address in the subnet.
func (c CIDR) Broadcast() uint32 {
	return c.Network | uint32(c.Count()-1)
}

// Contains reports whether addr falls within [Network, Broadcast].
func (c CIDR) Contains(addr uint32) bool {
	return addr >= c.Network && addr <= c.Broadcast()
}

// Overlaps reports whether c and other share any address.
func (c CIDR) Overlaps(other CIDR) bool {
	return c.Network <= other.Broadcast() && other.Network <= c.Broadcast()
}

// Less orders CIDRs by network address ascending, matching the Subnet
// Map's sorted-registry invariant.
func (c CIDR) Less(other CIDR) bool {
	return c.Network < other.Network
}

func (c CIDR) IP() net.IP {
	b := make(net.IP, 4)
	binary.BigEndian.PutUint32(b, c.Network)
	return b
}

func (c CIDR) String() string {
	return fmt.Sprintf("%s/%d", c.IP(), c.Prefix)
}

// IPToUint32 converts an IPv4 address to its big-endian uint32 form.
func IPToUint32(ip net.IP) (uint32, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0, fmt.Errorf("subnet: not an IPv4 address: %v", ip)
	}
	return binary.BigEndian.Uint32(ip4), nil
}

// Uint32ToIP is the inverse of IPToUint32.
func Uint32ToIP(addr uint32) net.IP {
	b := make(net.IP, 4)
	binary.BigEndian.PutUint32(b, addr)
	return b
}
