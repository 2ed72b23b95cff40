package subnet

import (
	"errors"
	"net"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/lion7/dhcpd/internal/dhcp4"
)

var (
	ErrNotInSubnet     = errors.New("subnet: address not in subnet")
	ErrNotAllocated    = errors.New("subnet: address is not currently allocated")
	ErrAlreadyAllocated = errors.New("subnet: address is already allocated")
	ErrNotReserved     = errors.New("subnet: address is not reserved")
	ErrOutOfAddresses  = errors.New("subnet: no addresses left to allocate")
)

// Subnet tracks the free/allocated/reserved state of one IPv4 range (C3).
// All methods are safe for concurrent use; each holds the subnet's own
// lock for the duration of the check-then-mutate sequence it performs.
type Subnet struct {
	mu sync.Mutex

	cidr     CIDR
	defaults *dhcp4.Options

	allocPtr uint32
	released []uint32 // LIFO stack of previously-issued, now-freed offsets
	reserved *bitset.BitSet
}

// New creates a Subnet over the given CIDR with the supplied default
// options, applied to every reply drawn from it unless overridden.
func New(cidr CIDR, defaults *dhcp4.Options) *Subnet {
	if defaults == nil {
		defaults = dhcp4.NewOptions()
	}
	return &Subnet{
		cidr:     cidr,
		defaults: defaults,
		allocPtr: 1,
		reserved: bitset.New(uint(cidr.Count())),
	}
}

func (s *Subnet) CIDR() CIDR                    { return s.cidr }
func (s *Subnet) Defaults() *dhcp4.Options      { s.mu.Lock(); defer s.mu.Unlock(); return s.defaults }
func (s *Subnet) SetDefaults(o *dhcp4.Options)  { s.mu.Lock(); defer s.mu.Unlock(); s.defaults = o }

// Broadcast returns the subnet's broadcast address.
func (s *Subnet) Broadcast() net.IP {
	return Uint32ToIP(s.cidr.Broadcast())
}

// Contains reports whether ip falls within the subnet's range.
func (s *Subnet) Contains(ip net.IP) bool {
	addr, err := IPToUint32(ip)
	if err != nil {
		return false
	}
	return s.cidr.Contains(addr)
}

// Count is the total number of addresses in the subnet.
func (s *Subnet) Count() uint64 {
	return s.cidr.Count()
}

// usableLimit is the last offset eligible for dynamic allocation: the
// network address (offset 0) and the broadcast address (offset count-1)
// are never handed out, leaving offsets [1, count-2] as usable hosts. A
// /30 therefore has exactly two usable hosts (1, 2) and a /32 has none,
// matching the documented boundary behavior.
func (s *Subnet) usableLimit() (uint32, bool) {
	count := s.cidr.Count()
	if count < 3 {
		return 0, false
	}
	return uint32(count - 2), true
}

func (s *Subnet) offset(ip net.IP) (uint32, error) {
	addr, err := IPToUint32(ip)
	if err != nil {
		return 0, err
	}
	if !s.cidr.Contains(addr) {
		return 0, ErrNotInSubnet
	}
	return addr - s.cidr.Network, nil
}

// isFreeOffset implements the §3 is_free invariant under the caller's
// lock. The network address (offset 0) and the broadcast address
// (offset count-1) are excluded unconditionally: neither is ever free,
// so neither dynamic nor static allocation can claim them.
func (s *Subnet) isFreeOffset(off uint32) bool {
	if off == 0 || uint64(off) == s.cidr.Count()-1 {
		return false
	}
	if s.reserved.Test(uint(off)) {
		return false
	}
	if off >= s.allocPtr {
		return true
	}
	for _, r := range s.released {
		if r == off {
			return true
		}
	}
	return false
}

// IsFree reports whether ip is currently available for allocation.
func (s *Subnet) IsFree(ip net.IP) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	off, err := s.offset(ip)
	if err != nil {
		return false
	}
	return s.isFreeOffset(off)
}

// Allocate draws the next address: a released offset by LIFO preference,
// otherwise the next never-issued offset.
func (s *Subnet) Allocate() (net.IP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.released); n > 0 {
		off := s.released[n-1]
		s.released = s.released[:n-1]
		return Uint32ToIP(s.cidr.Network + off), nil
	}

	limit, ok := s.usableLimit()
	if !ok || s.allocPtr > limit {
		return nil, ErrOutOfAddresses
	}
	off := s.allocPtr
	s.allocPtr++
	return Uint32ToIP(s.cidr.Network + off), nil
}

// Free returns a dynamically allocated address to the pool. It refuses
// addresses that are already free or that are under a static/forced
// reservation — reserved addresses are only ever released via FreeStatic.
func (s *Subnet) Free(ip net.IP) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	off, err := s.offset(ip)
	if err != nil {
		return err
	}
	if s.reserved.Test(uint(off)) || s.isFreeOffset(off) {
		return ErrNotAllocated
	}
	s.released = append(s.released, off)
	return nil
}

// ForceAllocate reserves ip administratively. It fails if ip is not
// currently free (i.e. already dynamically allocated or already
// reserved); it succeeds for an offset that hasn't been issued yet,
// recording it in reserved without advancing the allocation pointer.
func (s *Subnet) ForceAllocate(ip net.IP) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	off, err := s.offset(ip)
	if err != nil {
		return err
	}
	if !s.isFreeOffset(off) {
		return ErrAlreadyAllocated
	}
	for i, r := range s.released {
		if r == off {
			s.released = append(s.released[:i], s.released[i+1:]...)
			break
		}
	}
	s.reserved.Set(uint(off))
	return nil
}

// FreeStatic removes an administrative reservation.
func (s *Subnet) FreeStatic(ip net.IP) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	off, err := s.offset(ip)
	if err != nil {
		return err
	}
	if !s.reserved.Test(uint(off)) {
		return ErrNotReserved
	}
	s.reserved.Clear(uint(off))
	return nil
}

// AllocatedCount is the number of addresses currently handed out, using
// the corrected formula: (alloc_ptr-1) - |released| + |reserved|, never
// allowed to underflow.
func (s *Subnet) AllocatedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	issued := int64(s.allocPtr) - 1
	total := issued - int64(len(s.released)) + int64(s.reserved.Count())
	if total < 0 {
		return 0
	}
	return uint64(total)
}
