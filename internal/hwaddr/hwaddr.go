// Package hwaddr implements the fixed-width client identifier used to key
// static allocations and transaction lookups.
package hwaddr

import (
	"encoding/hex"
	"net"
)

// Size is the fixed width of an Address, matching the widest DHCP client
// identifier this server keys allocations by.
const Size = 16

// Address is a 16-byte client identifier. It is produced either from a
// chaddr field (padded with zeros) or from option 61 (truncated or padded
// to Size). Equality and use as a map key are over the full 16 bytes.
type Address [Size]byte

// New builds an Address from raw bytes, truncating anything past Size and
// zero-padding anything shorter.
func New(raw []byte) Address {
	var a Address
	copy(a[:], raw)
	return a
}

// Broadcast is the conventional all-ones MAC used by some test fixtures and
// administrative tooling to mean "no specific hardware address".
func Broadcast() Address {
	return New([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
}

// IsMAC reports whether the address looks like a 6-byte MAC address padded
// with zeros, i.e. whether bytes [6:16) are all zero.
func (a Address) IsMAC() bool {
	for _, b := range a[6:] {
		if b != 0 {
			return false
		}
	}
	return true
}

// MAC returns the leading 6 bytes interpreted as a hardware address. It is
// only meaningful when IsMAC reports true; callers that don't care can call
// it unconditionally since it never panics.
func (a Address) MAC() net.HardwareAddr {
	mac := make(net.HardwareAddr, 6)
	copy(mac, a[:6])
	return mac
}

// FromMAC builds an Address from a standard hardware address, padding the
// remaining bytes with zero.
func FromMAC(mac net.HardwareAddr) Address {
	return New(mac)
}

func (a Address) String() string {
	if a.IsMAC() {
		return a.MAC().String()
	}
	return hex.EncodeToString(a[:])
}
