package subnet

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapInsertAndGet(t *testing.T) {
	m := NewMap()
	c := cidr(t, "192.168.0.0", 24)
	s := New(c, nil)
	require.NoError(t, m.Insert(s))

	got, ok := m.Get(c)
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestMapInsertRejectsOverlap(t *testing.T) {
	m := NewMap()
	require.NoError(t, m.Insert(New(cidr(t, "192.168.0.0", 24), nil)))

	err := m.Insert(New(cidr(t, "192.168.0.128", 25), nil))
	assert.Error(t, err)

	err = m.Insert(New(cidr(t, "192.168.0.0", 23), nil))
	assert.Error(t, err)
}

func TestMapInsertAllowsDisjointSubnets(t *testing.T) {
	m := NewMap()
	require.NoError(t, m.Insert(New(cidr(t, "192.168.0.0", 24), nil)))
	require.NoError(t, m.Insert(New(cidr(t, "192.168.1.0", 24), nil)))
	require.NoError(t, m.Insert(New(cidr(t, "10.0.0.0", 8), nil)))
}

func TestMapGetMatchingFindsContainingSubnet(t *testing.T) {
	m := NewMap()
	a := New(cidr(t, "192.168.0.0", 24), nil)
	b := New(cidr(t, "10.0.0.0", 8), nil)
	require.NoError(t, m.Insert(a))
	require.NoError(t, m.Insert(b))

	got, ok := m.GetMatching(net.ParseIP("192.168.0.42"))
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = m.GetMatching(net.ParseIP("10.1.2.3"))
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = m.GetMatching(net.ParseIP("172.16.0.1"))
	assert.False(t, ok)
}

func TestMapGetMatchingManySubnetsBinarySearch(t *testing.T) {
	m := NewMap()
	var subnets []*Subnet
	for i := 0; i < 50; i++ {
		s := New(cidr(t, "10."+itoa(i)+".0.0", 16), nil)
		subnets = append(subnets, s)
		require.NoError(t, m.Insert(s))
	}

	for i, s := range subnets {
		ip := net.ParseIP("10." + itoa(i) + ".5.5")
		got, ok := m.GetMatching(ip)
		require.True(t, ok)
		assert.Same(t, s, got)
	}
}

func TestMapRemove(t *testing.T) {
	m := NewMap()
	c := cidr(t, "192.168.0.0", 24)
	require.NoError(t, m.Insert(New(c, nil)))
	m.Remove(c)

	_, ok := m.Get(c)
	assert.False(t, ok)
}

func TestMapAllReturnsSnapshot(t *testing.T) {
	m := NewMap()
	require.NoError(t, m.Insert(New(cidr(t, "192.168.0.0", 24), nil)))
	require.NoError(t, m.Insert(New(cidr(t, "10.0.0.0", 8), nil)))
	assert.Len(t, m.All(), 2)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := ""
	for i > 0 {
		digits = string(rune('0'+i%10)) + digits
		i /= 10
	}
	return digits
}
