package hwaddr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTruncatesAndPads(t *testing.T) {
	a := New([]byte{1, 2, 3})
	assert.Equal(t, byte(1), a[0])
	assert.Equal(t, byte(0), a[15])

	long := make([]byte, 32)
	for i := range long {
		long[i] = byte(i + 1)
	}
	b := New(long)
	assert.Equal(t, byte(1), b[0])
	assert.Equal(t, byte(16), b[15])
}

func TestIsMAC(t *testing.T) {
	mac, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	a := FromMAC(mac)
	assert.True(t, a.IsMAC())
	assert.Equal(t, mac.String(), a.MAC().String())

	notMAC := New([]byte{1, 2, 3, 4, 5, 6, 7})
	assert.False(t, notMAC.IsMAC())
}

func TestBroadcast(t *testing.T) {
	b := Broadcast()
	assert.True(t, b.IsMAC())
	assert.Equal(t, "ff:ff:ff:ff:ff:ff", b.MAC().String())
}

func TestEquality(t *testing.T) {
	a := New([]byte{1, 2, 3})
	b := New([]byte{1, 2, 3})
	c := New([]byte{1, 2, 4})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	m := map[Address]int{a: 1}
	_, ok := m[b]
	assert.True(t, ok)
}
