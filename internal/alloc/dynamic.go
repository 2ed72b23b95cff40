package alloc

import (
	"errors"
	"net"

	"go.uber.org/zap"

	"github.com/lion7/dhcpd/internal/dhcp4"
	"github.com/lion7/dhcpd/internal/subnet"
)

// ErrNoSubnet is returned when neither giaddr nor the requested-IP option
// identify a subnet this server is authoritative for.
var ErrNoSubnet = errors.New("alloc: request does not match any registered subnet")

// DynamicAllocator draws addresses from the Subnet Map (C6). Subnet
// selection prefers giaddr (the relay's own interface address, when the
// request came through a relay) and falls back to the client's requested
// IP (option 50) for directly-attached clients broadcasting on an
// interface with no relay agent.
type DynamicAllocator struct {
	subnets *subnet.Map
	logger  *zap.Logger
}

// NewDynamicAllocator creates a dynamic allocator over the given subnet
// registry, shared with the Static Allocator.
func NewDynamicAllocator(subnets *subnet.Map, logger *zap.Logger) *DynamicAllocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamicAllocator{subnets: subnets, logger: logger}
}

func (a *DynamicAllocator) clientSubnet(req *dhcp4.Message) (*subnet.Subnet, bool) {
	if req.GIAddr != nil && !req.GIAddr.Equal(net.IPv4zero) {
		return a.subnets.GetMatching(req.GIAddr)
	}
	if reqIP, ok := req.Options.RequestedIP(); ok {
		return a.subnets.GetMatching(reqIP)
	}
	return nil, false
}

// Allocate proposes an address for req: the client's requested IP (option
// 50) if it is currently free in the matching subnet, otherwise the next
// address the subnet hands out. A requested IP is force-allocated; any
// other address comes from the subnet's Allocate. Either way the address is
// no longer free when the draft is returned, and it stays allocated if the
// offer is never confirmed: neither this allocator nor the Responder frees
// it again.
func (a *DynamicAllocator) Allocate(req *dhcp4.Message) (*AllocationDraft, error) {
	sn, ok := a.clientSubnet(req)
	if !ok {
		a.logger.Debug("no matching subnet for request", zap.Uint32("xid", req.Xid))
		return nil, ErrNoSubnet
	}

	options := sn.Defaults().Clone()

	if reqIP, ok := req.Options.RequestedIP(); ok && sn.IsFree(reqIP) {
		if err := sn.ForceAllocate(reqIP); err != nil {
			return nil, err
		}
		negotiateLeaseTime(req, options)
		return &AllocationDraft{IPAddr: reqIP, Options: options}, nil
	}

	ip, err := sn.Allocate()
	if err != nil {
		return nil, err
	}
	negotiateLeaseTime(req, options)
	return &AllocationDraft{IPAddr: ip, Options: options}, nil
}

// negotiateLeaseTime applies the §4.6 lease-time negotiation rule: honor
// the client's requested lease time R (option 51) only if D/5 < R < 3D,
// where D is the subnet's default; otherwise the default stands untouched.
func negotiateLeaseTime(req *dhcp4.Message, options *dhcp4.Options) {
	d, ok := options.LeaseTime()
	if !ok {
		return
	}
	r, ok := req.Options.LeaseTime()
	if !ok {
		return
	}
	if uint64(r)*5 > uint64(d) && uint64(r) < uint64(d)*3 {
		options.SetLeaseTime(r)
	}
}

// Seal is a no-op for the dynamic allocator: the address is already
// allocated by the time Allocate returns the draft, so accepting the
// offer (REQUEST confirmed with ACK) changes nothing at the subnet level.
// Rejection (a different OFFER chosen, or timeout) does not free the
// address either.
func (a *DynamicAllocator) Seal(*AllocationDraft) error {
	return nil
}

var _ Allocator = (*DynamicAllocator)(nil)
