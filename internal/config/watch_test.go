package config

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lion7/dhcpd/internal/alloc"
	"github.com/lion7/dhcpd/internal/subnet"
)

func TestNewWatcherLoadsAndRegistersAllocations(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "subnets.yml", sampleSubnetsYAML)

	subnets := subnet.NewMap()
	static := alloc.NewStaticAllocator(subnets)
	w, err := NewWatcher(path, subnets, static, nil)
	require.NoError(t, err)

	rt := w.Current()
	require.Len(t, rt.Allocations, 1)
	_, ok := rt.Subnets.GetMatching(net.ParseIP("192.168.0.50"))
	assert.True(t, ok)
}

func TestWatcherReloadKeepsOldConfigOnParseFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "subnets.yml", sampleSubnetsYAML)

	subnets := subnet.NewMap()
	static := alloc.NewStaticAllocator(subnets)
	w, err := NewWatcher(path, subnets, static, nil)
	require.NoError(t, err)
	before := w.Current()

	require.NoError(t, os.WriteFile(path, []byte("not: [valid, subnets"), 0o644))
	err = w.reload()
	assert.Error(t, err)

	after := w.Current()
	assert.Same(t, before, after)
}

func TestWatcherReloadUpdatesSubnetsInPlace(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "subnets.yml", sampleSubnetsYAML)

	subnets := subnet.NewMap()
	static := alloc.NewStaticAllocator(subnets)
	w, err := NewWatcher(path, subnets, static, nil)
	require.NoError(t, err)

	original, ok := w.Current().Subnets.GetMatching(net.ParseIP("192.168.0.50"))
	require.True(t, ok)

	updated := `
defaults:
  lease_time: 120
subnets:
  - - network: 192.168.0.0
      prefix: 24
      options:
        routers: ["192.168.0.9"]
    - only_static: false
      allocations: []
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, w.reload())

	rt := w.Current()
	same, ok := rt.Subnets.GetMatching(net.ParseIP("192.168.0.50"))
	require.True(t, ok)
	assert.Same(t, original, same)
	assert.Empty(t, rt.Allocations)

	routers, ok := same.Defaults().Routers()
	require.True(t, ok)
	assert.True(t, routers[0].Equal(net.ParseIP("192.168.0.9")))
}

