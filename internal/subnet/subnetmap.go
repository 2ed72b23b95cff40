package subnet

import (
	"fmt"
	"net"
	"sort"
	"sync"
)

// Map is the prefix-sorted registry of subnets (C4). Lookups by address
// use a binary search over the sorted keys; when subnets overlap the
// longest-prefix match wins, though Insert itself refuses overlapping
// subnets so that case can only arise from subnets that were never meant
// to coexist in the first place.
type Map struct {
	mu      sync.RWMutex
	entries []*Subnet // kept sorted by CIDR.Network ascending
}

// NewMap returns an empty subnet registry.
func NewMap() *Map {
	return &Map{}
}

// Insert adds s to the registry. It returns an error if s overlaps any
// already-registered subnet.
func (m *Map) Insert(s *Subnet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.entries {
		if existing.cidr.Overlaps(s.cidr) {
			return fmt.Errorf("subnet: %s overlaps already-registered subnet %s", s.cidr, existing.cidr)
		}
	}

	i := sort.Search(len(m.entries), func(i int) bool {
		return !m.entries[i].cidr.Less(s.cidr)
	})
	m.entries = append(m.entries, nil)
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = s
	return nil
}

// Get performs an exact-match lookup by CIDR.
func (m *Map) Get(c CIDR) (*Subnet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := sort.Search(len(m.entries), func(i int) bool {
		return !m.entries[i].cidr.Less(c)
	})
	if i < len(m.entries) && m.entries[i].cidr == c {
		return m.entries[i], true
	}
	return nil, false
}

// GetMatching finds the subnet containing ip, preferring the longest
// prefix match when more than one subnet contains it. Average cost is
// O(log N) to find a containing candidate via binary search, followed by
// a bounded scan of neighbors for the longest-prefix tie-break.
func (m *Map) GetMatching(ip net.IP) (*Subnet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr, err := IPToUint32(ip)
	if err != nil {
		return nil, false
	}

	// binary search for the rightmost entry whose network address is
	// <= addr; subnets are sorted by network address ascending, so any
	// containing subnet must start at or before addr.
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].cidr.Network > addr
	})

	var best *Subnet
	for j := i - 1; j >= 0; j-- {
		c := m.entries[j].cidr
		if !c.Contains(addr) {
			// subnets are sorted by network address; once an entry's
			// range no longer reaches addr, no earlier entry can either,
			// since earlier entries have an even smaller network address
			// and, if they don't overlap (enforced by Insert), a smaller
			// or equal broadcast address too.
			break
		}
		if best == nil || c.Prefix > best.cidr.Prefix {
			best = m.entries[j]
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// Remove deletes the subnet with the given CIDR, if present.
func (m *Map) Remove(c CIDR) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.entries {
		if s.cidr == c {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

// All returns a snapshot slice of every registered subnet.
func (m *Map) All() []*Subnet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Subnet, len(m.entries))
	copy(out, m.entries)
	return out
}
