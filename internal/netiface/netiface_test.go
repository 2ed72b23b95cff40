package netiface

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackName returns the name of an interface carrying an IPv4 address,
// skipping the test if none can be found (e.g. a network-isolated sandbox).
func loopbackName(t *testing.T) string {
	t.Helper()
	ifaces, err := net.Interfaces()
	require.NoError(t, err)
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if ok && ipNet.IP.To4() != nil {
				return iface.Name
			}
		}
	}
	t.Skip("no interface with an IPv4 address available in this environment")
	return ""
}

func TestResolveFindsIPv4Address(t *testing.T) {
	name := loopbackName(t)
	id, err := Resolve(name)
	require.NoError(t, err)
	assert.Equal(t, name, id.Name)
	assert.NotNil(t, id.ServerID.To4())
	assert.NotNil(t, id.DefaultMask)
}

func TestResolveUnknownInterface(t *testing.T) {
	_, err := Resolve("no-such-interface-xyz")
	assert.Error(t, err)
}
