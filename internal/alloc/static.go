package alloc

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/lion7/dhcpd/internal/dhcp4"
	"github.com/lion7/dhcpd/internal/hwaddr"
	"github.com/lion7/dhcpd/internal/subnet"
)

var (
	// ErrNoStaticAllocation is returned by StaticAllocator.Allocate when no
	// reservation is registered for the requesting client. It is not an
	// error condition for the Responder: it just means fall through to the
	// Dynamic Allocator.
	ErrNoStaticAllocation = errors.New("alloc: no static allocation for this client")
	ErrUnknownClient      = errors.New("alloc: no static allocation registered for this client")
	ErrNoMatchingSubnet   = errors.New("alloc: no registered subnet contains this address")
)

// StaticAllocation is one administrative reservation: a client identifier
// bound permanently to an address, with its own option overlay.
type StaticAllocation struct {
	CID     hwaddr.Address
	IPAddr  net.IP
	Options *dhcp4.Options
}

// StaticAllocator answers allocation requests from a registry of
// administrative reservations keyed by client identifier (C5). Unlike the
// Dynamic Allocator it never consults alloc_ptr: a static allocation's
// address is force-allocated into its subnet the moment it is registered,
// and Allocate only ever looks the reservation up.
type StaticAllocator struct {
	mu       sync.RWMutex
	subnets  *subnet.Map
	registry map[hwaddr.Address]*StaticAllocation
}

// NewStaticAllocator creates a static allocator backed by the given subnet
// registry. The registry is shared with the Dynamic Allocator: both layers
// force-allocate into, and read defaults from, the same Subnet instances.
func NewStaticAllocator(subnets *subnet.Map) *StaticAllocator {
	return &StaticAllocator{
		subnets:  subnets,
		registry: make(map[hwaddr.Address]*StaticAllocation),
	}
}

// Register adds alloc, force-allocating its address in the subnet that
// contains it. It fails if no registered subnet contains the address, or
// if the address is already allocated there.
func (a *StaticAllocator) Register(alloc *StaticAllocation) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	sn, ok := a.subnets.GetMatching(alloc.IPAddr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoMatchingSubnet, alloc.IPAddr)
	}
	if err := sn.ForceAllocate(alloc.IPAddr); err != nil {
		return fmt.Errorf("alloc: registering static allocation for %s: %w", alloc.CID, err)
	}
	a.registry[alloc.CID] = alloc
	return nil
}

// Remove undoes a previously registered reservation, freeing its address.
func (a *StaticAllocator) Remove(cid hwaddr.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing, ok := a.registry[cid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, cid)
	}
	sn, ok := a.subnets.GetMatching(existing.IPAddr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoMatchingSubnet, existing.IPAddr)
	}
	if err := sn.FreeStatic(existing.IPAddr); err != nil {
		return err
	}
	delete(a.registry, cid)
	return nil
}

// ReplaceAll atomically swaps the full set of reservations, used by the
// config loader on a successful hot reload of subnets.yml. Reservations no
// longer present are freed; new ones are force-allocated; unchanged ones
// are left alone.
func (a *StaticAllocator) ReplaceAll(allocations []*StaticAllocation) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := make(map[hwaddr.Address]*StaticAllocation, len(allocations))
	for _, alloc := range allocations {
		next[alloc.CID] = alloc
	}

	for cid, existing := range a.registry {
		if kept, keep := next[cid]; keep && kept.IPAddr.Equal(existing.IPAddr) {
			continue
		}
		if sn, ok := a.subnets.GetMatching(existing.IPAddr); ok {
			_ = sn.FreeStatic(existing.IPAddr)
		}
	}

	for cid, alloc := range next {
		if existing, already := a.registry[cid]; already && existing.IPAddr.Equal(alloc.IPAddr) {
			continue
		}
		sn, ok := a.subnets.GetMatching(alloc.IPAddr)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoMatchingSubnet, alloc.IPAddr)
		}
		if err := sn.ForceAllocate(alloc.IPAddr); err != nil {
			return fmt.Errorf("alloc: reloading static allocation for %s: %w", alloc.CID, err)
		}
	}

	a.registry = next
	return nil
}

// Allocate returns the draft for req's client, if one is registered.
func (a *StaticAllocator) Allocate(req *dhcp4.Message) (*AllocationDraft, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cid := ClientID(req)
	record, ok := a.registry[cid]
	if !ok {
		return nil, ErrNoStaticAllocation
	}
	return &AllocationDraft{IPAddr: record.IPAddr, Options: record.Options}, nil
}

// Seal is a no-op: a static allocation is already force-allocated into its
// subnet at registration time, not at draft-acceptance time.
func (a *StaticAllocator) Seal(*AllocationDraft) error {
	return nil
}

var _ Allocator = (*StaticAllocator)(nil)
