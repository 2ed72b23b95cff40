package subnet

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cidr(t *testing.T, network string, prefix uint8) CIDR {
	t.Helper()
	c, err := NewCIDR(net.ParseIP(network), prefix)
	require.NoError(t, err)
	return c
}

func TestBroadcastAndCount(t *testing.T) {
	s := New(cidr(t, "192.168.0.0", 24), nil)
	assert.Equal(t, "192.168.0.255", s.Broadcast().String())
	assert.Equal(t, uint64(256), s.Count())
}

func TestContains(t *testing.T) {
	s := New(cidr(t, "192.168.0.0", 24), nil)
	assert.True(t, s.Contains(net.ParseIP("192.168.0.3")))
	assert.False(t, s.Contains(net.ParseIP("192.168.1.0")))
}

func TestAllocateThenFreeIsFree(t *testing.T) {
	s := New(cidr(t, "192.168.0.0", 24), nil)
	ip, err := s.Allocate()
	require.NoError(t, err)
	assert.False(t, s.IsFree(ip))

	require.NoError(t, s.Free(ip))
	assert.True(t, s.IsFree(ip))
}

func TestAllocationIsDeterministicCount(t *testing.T) {
	s := New(cidr(t, "192.168.0.0", 24), nil)
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		ip, err := s.Allocate()
		require.NoError(t, err)
		seen[ip.String()] = true
	}
	assert.Len(t, seen, 10)
}

func TestFreeRefusesAlreadyFree(t *testing.T) {
	s := New(cidr(t, "192.168.0.0", 24), nil)
	err := s.Free(net.ParseIP("192.168.0.50"))
	assert.ErrorIs(t, err, ErrNotAllocated)
}

func TestForceAllocateThenIsFree(t *testing.T) {
	s := New(cidr(t, "192.168.0.0", 24), nil)
	ip := net.ParseIP("192.168.0.5")
	require.NoError(t, s.ForceAllocate(ip))
	assert.False(t, s.IsFree(ip))

	err := s.ForceAllocate(ip)
	assert.ErrorIs(t, err, ErrAlreadyAllocated)

	require.NoError(t, s.FreeStatic(ip))
	assert.True(t, s.IsFree(ip))
}

func TestFreeStaticRefusesUnreserved(t *testing.T) {
	s := New(cidr(t, "192.168.0.0", 24), nil)
	err := s.FreeStatic(net.ParseIP("192.168.0.5"))
	assert.ErrorIs(t, err, ErrNotReserved)
}

func TestLIFOReuseOnFree(t *testing.T) {
	s := New(cidr(t, "192.168.0.0", 24), nil)
	first, err := s.Allocate()
	require.NoError(t, err)
	_, err = s.Allocate()
	require.NoError(t, err)

	require.NoError(t, s.Free(first))
	reused, err := s.Allocate()
	require.NoError(t, err)
	assert.Equal(t, first.String(), reused.String())
}

func TestSlash32HasNoAllocatableAddress(t *testing.T) {
	s := New(cidr(t, "192.168.0.1", 32), nil)
	_, err := s.Allocate()
	assert.ErrorIs(t, err, ErrOutOfAddresses)
}

func TestSlash30HasExactlyTwoAllocatableHosts(t *testing.T) {
	s := New(cidr(t, "192.168.0.0", 30), nil)
	first, err := s.Allocate()
	require.NoError(t, err)
	second, err := s.Allocate()
	require.NoError(t, err)
	assert.NotEqual(t, first.String(), second.String())

	_, err = s.Allocate()
	assert.ErrorIs(t, err, ErrOutOfAddresses)

	// the broadcast address was never handed out
	assert.NotEqual(t, s.Broadcast().String(), first.String())
	assert.NotEqual(t, s.Broadcast().String(), second.String())
}

func TestStaticAllocationOfNetworkOrBroadcastFails(t *testing.T) {
	s := New(cidr(t, "192.168.0.0", 24), nil)
	// offset 0 (network) and offset 255 (broadcast) are never free, so a
	// static reservation attempt on either must fail
	err := s.ForceAllocate(net.ParseIP("192.168.0.0"))
	assert.ErrorIs(t, err, ErrAlreadyAllocated)

	err = s.ForceAllocate(s.Broadcast())
	assert.ErrorIs(t, err, ErrAlreadyAllocated)
}

func TestAllocatedCountFormula(t *testing.T) {
	s := New(cidr(t, "192.168.0.0", 24), nil)
	ip, err := s.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.AllocatedCount())

	require.NoError(t, s.Free(ip))
	assert.Equal(t, uint64(0), s.AllocatedCount())

	require.NoError(t, s.ForceAllocate(net.ParseIP("192.168.0.99")))
	assert.Equal(t, uint64(1), s.AllocatedCount())
}
