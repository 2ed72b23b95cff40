// Package alloc implements the two allocator layers the Responder composes:
// a Static Allocator that honors administrative reservations keyed by
// client identifier, and a Dynamic Allocator that draws addresses from the
// Subnet Map (C5/C6).
package alloc

import (
	"net"

	"github.com/lion7/dhcpd/internal/dhcp4"
	"github.com/lion7/dhcpd/internal/hwaddr"
)

// AllocationDraft is a proposed address/options pairing. Its address is
// already taken in its subnet when the draft is returned (the Dynamic
// Allocator allocates it; a static address was force-allocated at
// registration). The Responder attaches it to a pending lease, which
// becomes a confirmed lease only when the transaction manager commits it.
type AllocationDraft struct {
	IPAddr  net.IP
	Options *dhcp4.Options
}

// Allocator is the capability the Responder drives: propose an address for
// a request, and seal a previously proposed draft once it has been
// accepted (REQUEST confirmed with ACK).
type Allocator interface {
	Allocate(req *dhcp4.Message) (*AllocationDraft, error)
	Seal(draft *AllocationDraft) error
}

// ClientID derives the fixed-width key allocators and the transaction
// manager index clients by: option 61 if the client sent one, otherwise the
// chaddr field. chaddr is exactly 16 bytes; option 61 can be any length,
// and hwaddr.New pads or truncates it to the fixed width.
func ClientID(req *dhcp4.Message) hwaddr.Address {
	if id, ok := req.Options.ClientID(); ok {
		return hwaddr.New(id)
	}
	return hwaddr.New(req.CHAddr[:])
}
